// Package oauth orchestrates the per-channel token lifecycle: reading a live
// access token, lazily refreshing it inside the near-expiry window, and
// degrading the stored record's status when the provider rejects a refresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/streamgate/crypto"
	"github.com/onnwee/streamgate/telemetry"
	"github.com/onnwee/streamgate/tokenstore"
	"github.com/onnwee/streamgate/twitchapi"
)

// RefreshWindow is the lead time before absolute expiry inside which a
// refresh is attempted pre-emptively.
const RefreshWindow = 5 * time.Minute

// refreshTimeout bounds the provider call plus persistence. Detached from
// the caller's context so a cancelled request cannot leave a half-applied
// refresh.
const refreshTimeout = 15 * time.Second

// ErrNeedsReconnect is returned when a channel's tokens cannot be made live:
// the refresh token is unusable or the provider rejected the refresh. The
// stored record is retained (with a downgraded status) so the channel can be
// shown as needing reconnection.
var ErrNeedsReconnect = errors.New("channel needs reconnect")

// RefreshFunc performs the provider-side refresh-token exchange.
type RefreshFunc func(ctx context.Context, refreshToken string) (*twitchapi.TokenResponse, error)

// Manager supplies live access tokens for channels. All reads and refreshes
// for a given channel serialize on a per-channel mutex, guaranteeing at most
// one in-flight provider refresh per channel.
type Manager struct {
	Store     tokenstore.Store
	Cipher    crypto.Cipher
	RefreshFn RefreshFunc

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a Manager over a store, cipher, and provider refresh call.
func NewManager(store tokenstore.Store, cipher crypto.Cipher, fn RefreshFunc) *Manager {
	return &Manager{
		Store:     store,
		Cipher:    cipher,
		RefreshFn: fn,
		Now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// channelLock returns the mutex for a channel, creating it on first use.
// Entries are never removed; the set of connected channels is small and
// bounded by tenancy, not by traffic.
func (m *Manager) channelLock(login string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	l, ok := m.locks[login]
	if !ok {
		l = &sync.Mutex{}
		m.locks[login] = l
	}
	return l
}

// GetAccessToken returns a live plaintext access token for the channel.
// Inside the near-expiry window (or past expiry) it refreshes first; outside
// it, the stored token is decrypted and returned without any provider call.
// Returns tokenstore.ErrNotFound when the channel has no record and
// ErrNeedsReconnect when a required refresh failed.
func (m *Manager) GetAccessToken(ctx context.Context, login string) (string, error) {
	l := m.channelLock(login)
	l.Lock()
	defer l.Unlock()

	rec, err := m.Store.Find(ctx, login)
	if err != nil {
		return "", err
	}

	if !m.now().Before(rec.ExpiresAt.Add(-RefreshWindow)) {
		if err := m.refreshLocked(ctx, rec); err != nil {
			return "", err
		}
		rec, err = m.Store.Find(ctx, login)
		if err != nil {
			return "", err
		}
	}

	token, err := m.Cipher.Decrypt(rec.AccessTokenCipher)
	if err != nil {
		return "", fmt.Errorf("decrypt access token for %s: %w", login, err)
	}
	return token, nil
}

// Refresh forces a provider refresh for the channel regardless of expiry.
func (m *Manager) Refresh(ctx context.Context, login string) error {
	l := m.channelLock(login)
	l.Lock()
	defer l.Unlock()

	rec, err := m.Store.Find(ctx, login)
	if err != nil {
		return err
	}
	return m.refreshLocked(ctx, rec)
}

// refreshLocked exchanges the stored refresh token for a new pair and
// persists it merged with the previous channel metadata. Caller must hold
// the channel lock.
func (m *Manager) refreshLocked(ctx context.Context, rec *tokenstore.Record) error {
	login := rec.ChannelLogin

	if rec.RefreshTokenCipher == "" {
		slog.Warn("no refresh token available", slog.String("channel", login))
		return fmt.Errorf("%w: no refresh token", ErrNeedsReconnect)
	}
	refreshToken, err := m.Cipher.Decrypt(rec.RefreshTokenCipher)
	if err != nil {
		return fmt.Errorf("decrypt refresh token for %s: %w", login, err)
	}

	// Detach from the caller: once a refresh is in flight it must either
	// commit the new pair fully or leave the old record untouched.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	start := time.Now()
	res, err := m.RefreshFn(rctx, refreshToken)
	telemetry.ObserveRefreshDuration(time.Since(start))
	if err != nil {
		status := tokenstore.StatusExpired
		if errors.Is(err, twitchapi.ErrInvalidGrant) {
			status = tokenstore.StatusRevoked
		}
		if markErr := m.Store.MarkStatus(rctx, login, status); markErr != nil {
			slog.Warn("failed to downgrade channel status", slog.String("channel", login), slog.Any("err", markErr))
		}
		telemetry.CountRefresh(false)
		slog.Warn("token refresh failed", slog.String("channel", login), slog.String("status", string(status)), slog.Any("err", err))
		return fmt.Errorf("%w: %v", ErrNeedsReconnect, err)
	}

	// Provider may omit rotation of the refresh token or restate the scope;
	// fall back to the previous values.
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	scope := res.Scope
	if len(scope) == 0 {
		scope = rec.Scope
	}
	tokenType := res.TokenType
	if tokenType == "" {
		tokenType = rec.TokenType
	}

	_, err = m.Store.Upsert(rctx, login, tokenstore.Tokens{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		Scope:        scope,
		TokenType:    tokenType,
	}, rec.Metadata)
	if err != nil {
		telemetry.CountRefresh(false)
		return fmt.Errorf("persist refreshed tokens for %s: %w", login, err)
	}
	telemetry.CountRefresh(true)
	slog.Info("token refreshed", slog.String("channel", login))
	return nil
}

// Disconnect removes the channel's credential record entirely.
func (m *Manager) Disconnect(ctx context.Context, login string) (bool, error) {
	l := m.channelLock(login)
	l.Lock()
	defer l.Unlock()
	return m.Store.Remove(ctx, login)
}
