package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New("test-secret", time.Hour)
	require.NoError(t, err)
	return a
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("", time.Hour)
	require.Error(t, err)

	a, err := New("s", 0)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, a.ttl)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := newTestAuth(t)

	cases := []struct {
		name string
		id   Identity
	}{
		{"admin", Admin()},
		{"streamer", Streamer("alice")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, err := a.Issue(tc.id)
			require.NoError(t, err)

			got, err := a.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, tc.id, got)
		})
	}
}

func TestIssueStreamerRequiresValidChannel(t *testing.T) {
	a := newTestAuth(t)
	for _, channel := range []string{"", "bad name", "way_too_long_login_name_over_25"} {
		_, err := a.Issue(Streamer(channel))
		assert.Error(t, err, "channel %q", channel)
	}
}

func TestIssueAdminDropsChannel(t *testing.T) {
	a := newTestAuth(t)
	tok, err := a.Issue(Identity{Role: RoleAdmin, Channel: "smuggled"})
	require.NoError(t, err)

	got, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Empty(t, got.Channel)
}

func TestVerifyEmptyToken(t *testing.T) {
	a := newTestAuth(t)
	_, err := a.Verify("")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestVerifyGarbageToken(t *testing.T) {
	a := newTestAuth(t)
	_, err := a.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyWrongSecret(t *testing.T) {
	a := newTestAuth(t)
	other, err := New("different-secret", time.Hour)
	require.NoError(t, err)

	tok, err := other.Issue(Streamer("alice"))
	require.NoError(t, err)

	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyExpiredToken(t *testing.T) {
	a := newTestAuth(t)
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a.Now = func() time.Time { return issued }

	tok, err := a.IssueWithTTL(Streamer("alice"), time.Minute)
	require.NoError(t, err)

	// Still valid just before expiry.
	a.Now = func() time.Time { return issued.Add(59 * time.Second) }
	_, err = a.Verify(tok)
	require.NoError(t, err)

	a.Now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthorizeChannelAccess(t *testing.T) {
	cases := []struct {
		name    string
		id      Identity
		channel string
		want    bool
	}{
		{"admin any channel", Admin(), "alice", true},
		{"admin another channel", Admin(), "bob", true},
		{"streamer own channel", Streamer("alice"), "alice", true},
		{"streamer other channel", Streamer("alice"), "bob", false},
		{"streamer empty channel claim", Identity{Role: RoleStreamer}, "", false},
		{"unknown role", Identity{Role: "intern"}, "alice", false},
		{"zero identity", Identity{}, "alice", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AuthorizeChannelAccess(tc.id, tc.channel))
		})
	}
}
