package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
)

// DefaultAPIBase is the production Helix host.
const DefaultAPIBase = "https://api.twitch.tv"

// User is the Helix user profile snapshot captured when a channel connects.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	BroadcasterType string `json:"broadcaster_type"`
}

// ChannelInfo is the subset of channel information the dashboard reads.
type ChannelInfo struct {
	Title    string `json:"title"`
	GameName string `json:"game_name"`
	GameID   string `json:"game_id"`
}

// Stream describes a live stream, if any.
type Stream struct {
	StartedAt string `json:"started_at"`
}

// HelixClient performs the Helix calls the dashboard proxies. Moderation and
// channel-management calls act on behalf of the broadcaster and take the
// channel's user token explicitly; login lookups use the cached app token.
type HelixClient struct {
	ClientID   string
	AppTokens  oauth2.TokenSource
	HTTPClient *http.Client
	APIBase    string
}

func (hc *HelixClient) base() string {
	if hc.APIBase != "" {
		return hc.APIBase
	}
	return DefaultAPIBase
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// do performs an authorized Helix request and decodes the response into out
// when non-nil. Non-2xx statuses return an error wrapping ErrProvider.
func (hc *HelixClient) do(ctx context.Context, method, path, token string, query url.Values, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	u := hc.base() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: %s: %s", ErrProvider, method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (hc *HelixClient) appToken(ctx context.Context) (string, error) {
	tok, err := hc.AppTokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: app token: %v", ErrProvider, err)
	}
	_ = ctx
	return tok.AccessToken, nil
}

// GetSelf resolves the user the token belongs to. Called once at connect
// time to capture channel metadata.
func (hc *HelixClient) GetSelf(ctx context.Context, token string) (*User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/users", token, nil, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: no user data returned", ErrProvider)
	}
	return &body.Data[0], nil
}

// GetUserIDByLogin resolves a login name to its user ID using the app token.
func (hc *HelixClient) GetUserIDByLogin(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.appToken(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/users", tok, q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}

func modQuery(broadcasterID string) url.Values {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", broadcasterID)
	return q
}

// BanUser permanently bans a user from the broadcaster's channel.
func (hc *HelixClient) BanUser(ctx context.Context, token, broadcasterID, targetID, reason string) error {
	body := map[string]any{"data": map[string]any{"user_id": targetID, "reason": reason}}
	return hc.do(ctx, http.MethodPost, "/helix/moderation/bans", token, modQuery(broadcasterID), body, nil)
}

// TimeoutUser bans a user for duration seconds.
func (hc *HelixClient) TimeoutUser(ctx context.Context, token, broadcasterID, targetID string, duration int, reason string) error {
	body := map[string]any{"data": map[string]any{"user_id": targetID, "duration": duration, "reason": reason}}
	return hc.do(ctx, http.MethodPost, "/helix/moderation/bans", token, modQuery(broadcasterID), body, nil)
}

// UnbanUser lifts a ban or timeout.
func (hc *HelixClient) UnbanUser(ctx context.Context, token, broadcasterID, targetID string) error {
	q := modQuery(broadcasterID)
	q.Set("user_id", targetID)
	return hc.do(ctx, http.MethodDelete, "/helix/moderation/bans", token, q, nil, nil)
}

// AddModerator grants moderator status.
func (hc *HelixClient) AddModerator(ctx context.Context, token, broadcasterID, targetID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", targetID)
	return hc.do(ctx, http.MethodPost, "/helix/moderation/moderators", token, q, nil, nil)
}

// RemoveModerator revokes moderator status.
func (hc *HelixClient) RemoveModerator(ctx context.Context, token, broadcasterID, targetID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", targetID)
	return hc.do(ctx, http.MethodDelete, "/helix/moderation/moderators", token, q, nil, nil)
}

// AddVIP grants VIP status.
func (hc *HelixClient) AddVIP(ctx context.Context, token, broadcasterID, targetID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", targetID)
	return hc.do(ctx, http.MethodPost, "/helix/channels/vips", token, q, nil, nil)
}

// RemoveVIP revokes VIP status.
func (hc *HelixClient) RemoveVIP(ctx context.Context, token, broadcasterID, targetID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("user_id", targetID)
	return hc.do(ctx, http.MethodDelete, "/helix/channels/vips", token, q, nil, nil)
}

// StartCommercial runs an ad break of length seconds on the channel.
func (hc *HelixClient) StartCommercial(ctx context.Context, token, broadcasterID string, length int) error {
	body := map[string]any{"broadcaster_id": broadcasterID, "length": strconv.Itoa(length)}
	return hc.do(ctx, http.MethodPost, "/helix/channels/commercial", token, nil, body, nil)
}

// GetChannelInfo reads the channel's current title and category.
func (hc *HelixClient) GetChannelInfo(ctx context.Context, token, broadcasterID string) (*ChannelInfo, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []ChannelInfo `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/channels", token, q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: no channel data returned", ErrProvider)
	}
	return &body.Data[0], nil
}

// ModifyChannel patches the channel title and/or category. Empty fields are
// left unchanged.
func (hc *HelixClient) ModifyChannel(ctx context.Context, token, broadcasterID, title, gameID string) error {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	if gameID != "" {
		body["game_id"] = gameID
	}
	if len(body) == 0 {
		return fmt.Errorf("nothing to modify")
	}
	return hc.do(ctx, http.MethodPatch, "/helix/channels", token, q, body, nil)
}

// GetStream returns the live stream for the broadcaster, or nil when offline.
func (hc *HelixClient) GetStream(ctx context.Context, token, broadcasterID string) (*Stream, error) {
	q := url.Values{}
	q.Set("user_id", broadcasterID)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/streams", token, q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}
