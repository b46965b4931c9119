// Package session issues and verifies signed session credentials for the two
// caller roles: the operator (admin) and individually connected streamers.
// Credentials are stateless JWTs (HS256); validity is fully determined by
// signature and expiry at verification time.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onnwee/streamgate/tokenstore"
)

// Role discriminates the identity union.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStreamer Role = "streamer"
)

var (
	// ErrNoCredential means no credential was presented at all.
	ErrNoCredential = errors.New("no session credential")

	// ErrInvalidCredential means a credential was presented but failed
	// signature, expiry, or claim validation.
	ErrInvalidCredential = errors.New("invalid session credential")
)

// Identity is a verified caller identity. Channel is set only for streamers,
// bound at issuance to the channel resolved from the OAuth exchange.
type Identity struct {
	Role    Role
	Channel string
}

// Admin returns the operator identity.
func Admin() Identity { return Identity{Role: RoleAdmin} }

// Streamer returns a streamer identity bound to one channel.
func Streamer(channel string) Identity { return Identity{Role: RoleStreamer, Channel: channel} }

type claims struct {
	Role    string `json:"role"`
	Channel string `json:"chan,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies session credentials with a process-wide
// secret initialized once at startup.
type Authenticator struct {
	secret []byte
	ttl    time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// New creates an Authenticator. The signing secret is mandatory; the session
// layer must not start without it.
func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("session signing secret is empty")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, Now: time.Now}, nil
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Issue signs a credential for the identity with the default TTL.
func (a *Authenticator) Issue(id Identity) (string, error) {
	return a.IssueWithTTL(id, a.ttl)
}

// IssueWithTTL signs a credential with an explicit time bound. Streamer
// identities must carry a valid channel login; admin identities carry none.
func (a *Authenticator) IssueWithTTL(id Identity, ttl time.Duration) (string, error) {
	switch id.Role {
	case RoleAdmin:
		id.Channel = ""
	case RoleStreamer:
		if !tokenstore.ValidLogin(id.Channel) {
			return "", fmt.Errorf("streamer credential requires a valid channel login, got %q", id.Channel)
		}
	default:
		return "", fmt.Errorf("unknown role %q", id.Role)
	}
	now := a.now()
	sub := "admin"
	if id.Role == RoleStreamer {
		sub = id.Channel
	}
	c := claims{
		Role:    string(id.Role),
		Channel: id.Channel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(a.secret)
}

// Verify checks signature and expiry and returns the embedded identity.
// An empty token returns ErrNoCredential; anything that parses but fails
// validation returns an error wrapping ErrInvalidCredential.
func (a *Authenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoCredential
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	switch Role(c.Role) {
	case RoleAdmin:
		return Admin(), nil
	case RoleStreamer:
		if !tokenstore.ValidLogin(c.Channel) {
			return Identity{}, fmt.Errorf("%w: streamer credential without channel", ErrInvalidCredential)
		}
		return Streamer(c.Channel), nil
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidCredential, c.Role)
	}
}

// AuthorizeChannelAccess is the single predicate gating every channel-scoped
// operation: admins may act on any channel, streamers only on their own.
func AuthorizeChannelAccess(id Identity, channel string) bool {
	switch id.Role {
	case RoleAdmin:
		return true
	case RoleStreamer:
		return id.Channel != "" && id.Channel == channel
	default:
		return false
	}
}
