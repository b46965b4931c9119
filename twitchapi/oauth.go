// Package twitchapi contains the Twitch OAuth and Helix API clients used by
// the credential subsystem: authorization-code exchange, refresh-token
// exchange, and the small set of Helix calls the dashboard proxies.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAuthBase is the production Twitch OAuth host.
const DefaultAuthBase = "https://id.twitch.tv"

var (
	// ErrInvalidGrant indicates the provider rejected the grant itself
	// (revoked or consumed refresh token, expired code). The channel must
	// reconnect; retrying will not help.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrProvider covers all other provider-side failures: network errors,
	// 5xx responses, malformed bodies. These degrade the channel's status
	// rather than crash the caller.
	ErrProvider = errors.New("provider request failed")
)

// TokenResponse is the body of a successful token-endpoint exchange, for both
// authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// OAuthClient talks to the Twitch OAuth endpoints. AuthBase and HTTPClient
// are overridable for tests; zero values hit production Twitch.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthBase     string
	HTTPClient   *http.Client
}

func (c *OAuthClient) base() string {
	if c.AuthBase != "" {
		return c.AuthBase
	}
	return DefaultAuthBase
}

func (c *OAuthClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// AuthorizeURL constructs the user authorization URL for the OAuth code grant.
func (c *OAuthClient) AuthorizeURL(state string, scopes string) (string, error) {
	if c.ClientID == "" || c.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", c.ClientID)
	v.Set("redirect_uri", c.RedirectURI)
	v.Set("force_verify", "true")
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return c.base() + "/oauth2/authorize?" + v.Encode(), nil
}

// Exchange exchanges an authorization code for access and refresh tokens.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || c.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.RedirectURI)
	return c.tokenRequest(ctx, form)
}

// Refresh exchanges a refresh token for a new token pair. A rejected grant
// returns an error wrapping ErrInvalidGrant so the caller can mark the
// channel revoked rather than merely expired.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, form)
}

func (c *OAuthClient) tokenRequest(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isInvalidGrant(resp.StatusCode, b) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, resp.Status)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrProvider, resp.Status, string(b))
	}
	var res TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrProvider, err)
	}
	if res.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token in response", ErrProvider)
	}
	return &res, nil
}

// isInvalidGrant detects grant rejection from the token endpoint. Twitch
// reports it as 400/401 with "invalid refresh token" or an error field of
// invalid_grant in the JSON body.
func isInvalidGrant(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	s := strings.ToLower(string(body))
	return strings.Contains(s, "invalid_grant") ||
		strings.Contains(s, "invalid refresh token") ||
		strings.Contains(s, "invalid authorization code")
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
