package tokenstore_test

import (
	"context"
	"testing"

	"github.com/onnwee/streamgate/crypto"
	"github.com/onnwee/streamgate/testutil"
	"github.com/onnwee/streamgate/tokenstore"
)

func pgStore(t *testing.T) *tokenstore.Postgres {
	t.Helper()
	database := testutil.SetupTestDB(t)
	cipher, err := crypto.NewAESCipher("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM channels`)
	})
	return tokenstore.NewPostgres(database, cipher)
}

func pgTokens() tokenstore.Tokens {
	return tokenstore.Tokens{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		ExpiresIn:    3600,
		Scope:        []string{"moderation:read", "channel:read:ads"},
		TokenType:    "bearer",
	}
}

func TestPostgresUpsertRoundTrip(t *testing.T) {
	store := pgStore(t)
	ctx := context.Background()

	meta := tokenstore.ChannelMetadata{
		TwitchID:        "42",
		DisplayName:     "Alice",
		ProfileImageURL: "https://example.com/a.png",
		BroadcasterType: "affiliate",
	}
	if _, err := store.Upsert(ctx, "alice", pgTokens(), meta); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := store.Find(ctx, "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.Metadata != meta {
		t.Fatalf("metadata = %+v, want %+v", rec.Metadata, meta)
	}
	if len(rec.Scope) != 2 {
		t.Fatalf("scope = %v", rec.Scope)
	}
	if rec.Status != tokenstore.StatusConnected {
		t.Fatalf("status = %q", rec.Status)
	}
}

func TestPostgresUpsertIsAtomicReplace(t *testing.T) {
	store := pgStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, "alice", pgTokens(), tokenstore.ChannelMetadata{TwitchID: "42"}); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	tok := pgTokens()
	tok.AccessToken = "access-new"
	if _, err := store.Upsert(ctx, "alice", tok, tokenstore.ChannelMetadata{TwitchID: "42"}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	all, err := store.ListAll(ctx, false)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
}

func TestPostgresMarkStatusAndRemove(t *testing.T) {
	store := pgStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, "alice", pgTokens(), tokenstore.ChannelMetadata{TwitchID: "42"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.MarkStatus(ctx, "alice", tokenstore.StatusRevoked); err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}
	rec, err := store.Find(ctx, "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.Status != tokenstore.StatusRevoked {
		t.Fatalf("status = %q, want revoked", rec.Status)
	}
	if err := store.MarkStatus(ctx, "ghost", tokenstore.StatusExpired); err != tokenstore.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	existed, err := store.Remove(ctx, "alice")
	if err != nil || !existed {
		t.Fatalf("Remove = (%v, %v)", existed, err)
	}
	if _, err := store.Find(ctx, "alice"); err != tokenstore.ErrNotFound {
		t.Fatalf("Find after remove = %v, want ErrNotFound", err)
	}
}
