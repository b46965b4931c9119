package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/streamgate/session"
	"github.com/onnwee/streamgate/telemetry"
	"github.com/onnwee/streamgate/tokenstore"
)

// HandleLogin authenticates the operator against the configured admin
// credentials and issues an admin session token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminUsername == "" || h.cfg.AdminPassword == "" {
		writeError(w, http.StatusServiceUnavailable, "admin login not configured")
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userMatch := subtle.ConstantTimeCompare([]byte(body.Username), []byte(h.cfg.AdminUsername)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(body.Password), []byte(h.cfg.AdminPassword)) == 1
	if !userMatch || !passMatch {
		telemetry.CountAuthFailure()
		slog.Warn("admin login failed", slog.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	tok, err := h.auth.Issue(session.Admin())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	h.setSessionCookie(w, tok)
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

// HandleTwitchOAuthStart redirects the browser into the Twitch authorize
// flow with a fresh state value.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state gen error")
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(stateTTL))
	authURL, err := h.oauthc.AuthorizeURL(st, h.cfg.TwitchScopes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "oauth not configured")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback completes the connect flow: validates state,
// exchanges the code, captures channel metadata with the fresh token, writes
// the credential record, and issues a streamer session bound to the channel
// that Twitch resolved (never to anything client-supplied).
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		writeError(w, http.StatusBadRequest, "missing code/state")
		return
	}
	if !h.takeOAuthState(st) {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	ctx := r.Context()
	res, err := h.oauthc.Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("auth code exchange failed", slog.Any("err", err))
		http.Redirect(w, r, "/hub?error=auth_failed", http.StatusFound)
		return
	}
	user, err := h.helix.GetSelf(ctx, res.AccessToken)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("channel lookup failed after exchange", slog.Any("err", err))
		http.Redirect(w, r, "/hub?error=auth_failed", http.StatusFound)
		return
	}
	login := strings.ToLower(user.Login)
	_, err = h.store.Upsert(ctx, login, tokenstore.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		Scope:        res.Scope,
		TokenType:    res.TokenType,
	}, tokenstore.ChannelMetadata{
		TwitchID:        user.ID,
		DisplayName:     user.DisplayName,
		ProfileImageURL: user.ProfileImageURL,
		BroadcasterType: user.BroadcasterType,
	})
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("failed to save channel credentials", slog.String("channel", login), slog.Any("err", err))
		http.Redirect(w, r, "/hub?error=auth_failed", http.StatusFound)
		return
	}

	tok, err := h.auth.Issue(session.Streamer(login))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	h.setSessionCookie(w, tok)
	slog.Info("channel connected", slog.String("channel", login))
	http.Redirect(w, r, "/c/"+login, http.StatusFound)
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.SessionTTL / time.Second),
	})
}
