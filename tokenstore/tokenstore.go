// Package tokenstore persists per-channel OAuth credential records. Tokens are
// encrypted before they reach the backend and stay encrypted at rest; the
// store never hands out plaintext. At most one record exists per channel
// login, enforced by the storage layer.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/onnwee/streamgate/crypto"
)

// Status tags a credential record's usability.
type Status string

const (
	StatusConnected Status = "connected"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

var (
	// ErrNotFound is returned by Find and MarkStatus when no record exists
	// for the requested channel.
	ErrNotFound = errors.New("channel not connected")

	// ErrValidation wraps all pre-persistence validation failures: malformed
	// channel login, missing tokens, non-positive expiry.
	ErrValidation = errors.New("validation failed")
)

var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,25}$`)

// ValidLogin reports whether s is an acceptable channel login.
func ValidLogin(s string) bool { return loginPattern.MatchString(s) }

// Tokens is the plaintext token set returned by a provider exchange. It only
// lives in memory; the store encrypts before writing.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds until access token expiry
	Scope        []string
	TokenType    string
}

// ChannelMetadata is the provider-supplied profile snapshot captured at
// connect time. It is not re-fetched on refresh.
type ChannelMetadata struct {
	TwitchID        string
	DisplayName     string
	ProfileImageURL string
	BroadcasterType string
}

// Record is one stored credential record. AccessTokenCipher and
// RefreshTokenCipher hold cipher tokens, never plaintext; listing projections
// blank them unless secrets are explicitly requested.
type Record struct {
	ChannelLogin       string
	AccessTokenCipher  string
	RefreshTokenCipher string
	ExpiresAt          time.Time
	Scope              []string
	TokenType          string
	Metadata           ChannelMetadata
	ConnectedAt        time.Time
	Status             Status
}

// EffectiveStatus resolves the listed status against the clock: a nominally
// connected record whose access token is past expiry shows as expired, so the
// UI can surface "needs reconnect" without a write having happened yet.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusConnected && !r.ExpiresAt.After(now) {
		return StatusExpired
	}
	return r.Status
}

// Store is the credential store contract. Implementations must provide
// atomic upsert-by-login (no read-then-write) so concurrent refreshes cannot
// lose updates.
type Store interface {
	// Upsert validates, encrypts, and writes the credential record for a
	// channel, replacing any existing record. ConnectedAt is set to now and
	// status to connected.
	Upsert(ctx context.Context, login string, tok Tokens, meta ChannelMetadata) (*Record, error)

	// Find returns the stored record including ciphertext fields, or
	// ErrNotFound.
	Find(ctx context.Context, login string) (*Record, error)

	// MarkStatus updates the status tag in place, used when a refresh fails
	// irrecoverably. The record itself is retained.
	MarkStatus(ctx context.Context, login string, status Status) error

	// Remove deletes the record on channel disconnect and reports whether
	// one existed.
	Remove(ctx context.Context, login string) (bool, error)

	// ListAll enumerates records newest-connected first. Ciphertext fields
	// are blanked unless includeSecrets is set.
	ListAll(ctx context.Context, includeSecrets bool) ([]Record, error)
}

// validate checks a prospective upsert before any encryption or I/O.
func validate(login string, tok Tokens) error {
	if !ValidLogin(login) {
		return fmt.Errorf("%w: invalid channel login %q", ErrValidation, login)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", ErrValidation)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("%w: missing refresh token", ErrValidation)
	}
	if tok.ExpiresIn <= 0 {
		return fmt.Errorf("%w: non-positive expires_in %d", ErrValidation, tok.ExpiresIn)
	}
	if len(tok.Scope) == 0 {
		return fmt.Errorf("%w: empty scope", ErrValidation)
	}
	return nil
}

// encryptTokens runs both tokens through the cipher.
func encryptTokens(c crypto.Cipher, tok Tokens) (accessCipher, refreshCipher string, err error) {
	accessCipher, err = c.Encrypt(tok.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refreshCipher, err = c.Encrypt(tok.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return accessCipher, refreshCipher, nil
}
