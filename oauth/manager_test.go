package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/streamgate/crypto"
	"github.com/onnwee/streamgate/tokenstore"
	"github.com/onnwee/streamgate/twitchapi"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fixture struct {
	store   *tokenstore.Memory
	manager *Manager
	calls   *atomic.Int64
	clock   *time.Time
}

// newFixture wires a Manager over the in-memory store with a controllable
// clock and a provider stub. refresh may be nil when the test must not reach
// the provider at all.
func newFixture(t *testing.T, refresh RefreshFunc) *fixture {
	t.Helper()
	cipher, err := crypto.NewAESCipher(testKey)
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &now

	store := tokenstore.NewMemory(cipher)
	store.Now = func() time.Time { return *clock }

	calls := &atomic.Int64{}
	m := NewManager(store, cipher, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		calls.Add(1)
		if refresh == nil {
			return nil, errors.New("unexpected provider call")
		}
		return refresh(ctx, rt)
	})
	m.Now = func() time.Time { return *clock }
	return &fixture{store: store, manager: m, calls: calls, clock: clock}
}

func (f *fixture) connect(t *testing.T, login string, expiresIn int) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), login, tokenstore.Tokens{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresIn:    expiresIn,
		Scope:        []string{"moderation:read"},
		TokenType:    "bearer",
	}, tokenstore.ChannelMetadata{TwitchID: "42", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("connect %s: %v", login, err)
	}
}

func TestGetAccessTokenFreshTokenSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, "alice", 3600)

	tok, err := f.manager.GetAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "access-0" {
		t.Fatalf("token = %q, want access-0", tok)
	}
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("provider calls = %d, want 0", n)
	}
}

func TestGetAccessTokenNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.GetAccessToken(context.Background(), "ghost")
	if !errors.Is(err, tokenstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetAccessTokenRefreshesInsideWindow(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		if rt != "refresh-0" {
			return nil, fmt.Errorf("unexpected refresh token %q", rt)
		}
		return &twitchapi.TokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
			Scope:        []string{"moderation:read"},
			TokenType:    "bearer",
		}, nil
	})
	f.connect(t, "alice", 3600)

	// Move to 4 minutes before expiry, inside the refresh window.
	*f.clock = f.clock.Add(3600*time.Second - 4*time.Minute)

	tok, err := f.manager.GetAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "access-1" {
		t.Fatalf("token = %q, want refreshed access-1", tok)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}

	// The new pair is live; the next read must not refresh again.
	tok, err = f.manager.GetAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("second GetAccessToken: %v", err)
	}
	if tok != "access-1" || f.calls.Load() != 1 {
		t.Fatalf("token = %q, calls = %d", tok, f.calls.Load())
	}
}

func TestGetAccessTokenRefreshesPastExpiry(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		return &twitchapi.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
	})
	f.connect(t, "alice", 3600)
	*f.clock = f.clock.Add(2 * time.Hour)

	tok, err := f.manager.GetAccessToken(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != "access-1" {
		t.Fatalf("token = %q", tok)
	}
}

func TestRefreshPreservesMetadataAndFallsBack(t *testing.T) {
	// Provider omits refresh token rotation, scope, and token type.
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		return &twitchapi.TokenResponse{AccessToken: "access-1", ExpiresIn: 1800}, nil
	})
	f.connect(t, "alice", 3600)

	if err := f.manager.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	rec, err := f.store.Find(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.Metadata.TwitchID != "42" || rec.Metadata.DisplayName != "Alice" {
		t.Fatalf("metadata lost across refresh: %+v", rec.Metadata)
	}
	if len(rec.Scope) != 1 || rec.Scope[0] != "moderation:read" {
		t.Fatalf("scope not carried over: %v", rec.Scope)
	}
	if rec.TokenType != "bearer" {
		t.Fatalf("token type not carried over: %q", rec.TokenType)
	}

	rt, err := f.manager.Cipher.Decrypt(rec.RefreshTokenCipher)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if rt != "refresh-0" {
		t.Fatalf("refresh token = %q, want prior refresh-0", rt)
	}
}

func TestRefreshFailureMarksExpired(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		return nil, fmt.Errorf("%w: 502 Bad Gateway", twitchapi.ErrProvider)
	})
	f.connect(t, "alice", 3600)

	err := f.manager.Refresh(context.Background(), "alice")
	if !errors.Is(err, ErrNeedsReconnect) {
		t.Fatalf("err = %v, want ErrNeedsReconnect", err)
	}
	rec, findErr := f.store.Find(context.Background(), "alice")
	if findErr != nil {
		t.Fatalf("Find: %v", findErr)
	}
	if rec.Status != tokenstore.StatusExpired {
		t.Fatalf("status = %q, want expired", rec.Status)
	}
	// The old ciphertext is retained for the reconnect flow.
	if rec.AccessTokenCipher == "" || rec.RefreshTokenCipher == "" {
		t.Fatal("record lost its ciphertext on failed refresh")
	}
}

func TestRefreshInvalidGrantMarksRevoked(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		return nil, fmt.Errorf("%w: 400 Bad Request", twitchapi.ErrInvalidGrant)
	})
	f.connect(t, "alice", 3600)

	err := f.manager.Refresh(context.Background(), "alice")
	if !errors.Is(err, ErrNeedsReconnect) {
		t.Fatalf("err = %v, want ErrNeedsReconnect", err)
	}
	rec, findErr := f.store.Find(context.Background(), "alice")
	if findErr != nil {
		t.Fatalf("Find: %v", findErr)
	}
	if rec.Status != tokenstore.StatusRevoked {
		t.Fatalf("status = %q, want revoked", rec.Status)
	}
}

func TestGetAccessTokenFailedRefreshSurfacesReconnect(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		return nil, fmt.Errorf("%w: down", twitchapi.ErrProvider)
	})
	f.connect(t, "alice", 3600)
	*f.clock = f.clock.Add(2 * time.Hour)

	_, err := f.manager.GetAccessToken(context.Background(), "alice")
	if !errors.Is(err, ErrNeedsReconnect) {
		t.Fatalf("err = %v, want ErrNeedsReconnect", err)
	}
}

func TestConcurrentGetsSingleRefresh(t *testing.T) {
	var inFlight atomic.Int64
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		if inFlight.Add(1) > 1 {
			return nil, errors.New("concurrent refresh observed")
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &twitchapi.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
	})
	f.connect(t, "alice", 3600)
	*f.clock = f.clock.Add(3600*time.Second - time.Minute)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	toks := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = f.manager.GetAccessToken(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if toks[i] != "access-1" {
			t.Fatalf("goroutine %d token = %q", i, toks[i])
		}
	}
	if calls := f.calls.Load(); calls != 1 {
		t.Fatalf("provider calls = %d, want exactly 1", calls)
	}
}

func TestRefreshSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		// The refresh context must outlive the caller's cancellation.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return &twitchapi.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
	})
	f.connect(t, "alice", 3600)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.manager.Refresh(ctx, "alice"); err != nil {
		t.Fatalf("Refresh with cancelled caller: %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, "alice", 3600)

	existed, err := f.manager.Disconnect(context.Background(), "alice")
	if err != nil || !existed {
		t.Fatalf("Disconnect = (%v, %v)", existed, err)
	}
	existed, err = f.manager.Disconnect(context.Background(), "alice")
	if err != nil || existed {
		t.Fatalf("second Disconnect = (%v, %v)", existed, err)
	}
	if _, err := f.manager.GetAccessToken(context.Background(), "alice"); !errors.Is(err, tokenstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestLifecycleClockAdvance walks one channel through several refresh cycles,
// checking that each cycle performs exactly one provider call and rotates the
// pair it was handed.
func TestLifecycleClockAdvance(t *testing.T) {
	gen := 0
	f := newFixture(t, nil)
	f.manager.RefreshFn = func(ctx context.Context, rt string) (*twitchapi.TokenResponse, error) {
		f.calls.Add(1)
		want := fmt.Sprintf("refresh-%d", gen)
		if rt != want {
			return nil, fmt.Errorf("refresh token = %q, want %q", rt, want)
		}
		gen++
		return &twitchapi.TokenResponse{
			AccessToken:  fmt.Sprintf("access-%d", gen),
			RefreshToken: fmt.Sprintf("refresh-%d", gen),
			ExpiresIn:    3600,
		}, nil
	}
	f.connect(t, "alice", 3600)

	for cycle := 1; cycle <= 3; cycle++ {
		*f.clock = f.clock.Add(time.Hour)
		tok, err := f.manager.GetAccessToken(context.Background(), "alice")
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		want := fmt.Sprintf("access-%d", cycle)
		if tok != want {
			t.Fatalf("cycle %d token = %q, want %q", cycle, tok, want)
		}
		if calls := f.calls.Load(); calls != int64(cycle) {
			t.Fatalf("cycle %d provider calls = %d", cycle, calls)
		}
	}
}
