// Package server exposes the HTTP API in front of the credential subsystem:
// admin login, the Twitch connect flow, channel enumeration, and the
// channel-scoped moderation and stream-management proxies.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/streamgate/config"
	"github.com/onnwee/streamgate/ledger"
	"github.com/onnwee/streamgate/oauth"
	"github.com/onnwee/streamgate/session"
	"github.com/onnwee/streamgate/tokenstore"
	"github.com/onnwee/streamgate/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000

	// stateTTL bounds how long an in-flight authorize redirect stays valid.
	stateTTL = 10 * time.Minute
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg     *config.Config
	store   tokenstore.Store
	manager *oauth.Manager
	oauthc  *twitchapi.OAuthClient
	helix   *twitchapi.HelixClient
	auth    *session.Authenticator
	ledger  ledger.Ledger

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// Deps bundles the collaborators the HTTP layer fronts.
type Deps struct {
	Cfg     *config.Config
	Store   tokenstore.Store
	Manager *oauth.Manager
	OAuth   *twitchapi.OAuthClient
	Helix   *twitchapi.HelixClient
	Auth    *session.Authenticator
	Ledger  ledger.Ledger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		cfg:        d.Cfg,
		store:      d.Store,
		manager:    d.Manager,
		oauthc:     d.OAuth,
		helix:      d.Helix,
		auth:       d.Auth,
		ledger:     d.Ledger,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// Caller must hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	// Over the cap, refuse to add more.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

// takeOAuthState consumes a state, reporting whether it was valid.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// writeJSON encodes v with the right content type, logging encode failures.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// writeError emits a JSON error body. Messages are deliberately generic;
// provider error bodies never pass through here.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// recordAction appends to the audit log best-effort: a failed write is
// logged and counted but never fails the action it records.
func (h *Handlers) recordAction(ctx context.Context, e ledger.Entry) {
	if err := h.ledger.Record(ctx, e); err != nil {
		telemetryLedgerFailure(ctx, e, err)
	}
}
