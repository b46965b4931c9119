package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/streamgate/crypto"
)

// Postgres is the production Store backed by the channels table. Uniqueness
// is the table's primary key; upserts go through a single
// INSERT ... ON CONFLICT statement so there is no read-then-write window.
type Postgres struct {
	DB     *sql.DB
	Cipher crypto.Cipher

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewPostgres wires a Postgres store over an open connection.
func NewPostgres(db *sql.DB, c crypto.Cipher) *Postgres {
	return &Postgres{DB: db, Cipher: c, Now: time.Now}
}

func (s *Postgres) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Postgres) Upsert(ctx context.Context, login string, tok Tokens, meta ChannelMetadata) (*Record, error) {
	if err := validate(login, tok); err != nil {
		return nil, err
	}
	accessCipher, refreshCipher, err := encryptTokens(s.Cipher, tok)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &Record{
		ChannelLogin:       login,
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          now.Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scope:              tok.Scope,
		TokenType:          tok.TokenType,
		Metadata:           meta,
		ConnectedAt:        now,
		Status:             StatusConnected,
	}
	q := `INSERT INTO channels(channel_login, access_token_cipher, refresh_token_cipher, expires_at, scope, token_type,
	        twitch_id, display_name, profile_image_url, broadcaster_type, connected_at, status, updated_at)
	      VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
	      ON CONFLICT(channel_login) DO UPDATE SET
	        access_token_cipher=EXCLUDED.access_token_cipher,
	        refresh_token_cipher=EXCLUDED.refresh_token_cipher,
	        expires_at=EXCLUDED.expires_at,
	        scope=EXCLUDED.scope,
	        token_type=EXCLUDED.token_type,
	        twitch_id=EXCLUDED.twitch_id,
	        display_name=EXCLUDED.display_name,
	        profile_image_url=EXCLUDED.profile_image_url,
	        broadcaster_type=EXCLUDED.broadcaster_type,
	        connected_at=EXCLUDED.connected_at,
	        status=EXCLUDED.status,
	        updated_at=NOW()`
	_, err = s.DB.ExecContext(ctx, q,
		rec.ChannelLogin, rec.AccessTokenCipher, rec.RefreshTokenCipher, rec.ExpiresAt,
		strings.Join(rec.Scope, " "), rec.TokenType,
		meta.TwitchID, meta.DisplayName, meta.ProfileImageURL, meta.BroadcasterType,
		rec.ConnectedAt, string(rec.Status))
	if err != nil {
		return nil, fmt.Errorf("upsert channel %s: %w", login, err)
	}
	return rec, nil
}

func (s *Postgres) Find(ctx context.Context, login string) (*Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT channel_login, access_token_cipher, refresh_token_cipher, expires_at, scope, token_type,
		        COALESCE(twitch_id,''), COALESCE(display_name,''), COALESCE(profile_image_url,''), COALESCE(broadcaster_type,''),
		        connected_at, status
		 FROM channels WHERE channel_login=$1`, login)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel %s: %w", login, err)
	}
	return rec, nil
}

func (s *Postgres) MarkStatus(ctx context.Context, login string, status Status) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE channels SET status=$1, updated_at=NOW() WHERE channel_login=$2`, string(status), login)
	if err != nil {
		return fmt.Errorf("mark channel %s %s: %w", login, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Remove(ctx context.Context, login string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM channels WHERE channel_login=$1`, login)
	if err != nil {
		return false, fmt.Errorf("remove channel %s: %w", login, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Postgres) ListAll(ctx context.Context, includeSecrets bool) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT channel_login, access_token_cipher, refresh_token_cipher, expires_at, scope, token_type,
		        COALESCE(twitch_id,''), COALESCE(display_name,''), COALESCE(profile_image_url,''), COALESCE(broadcaster_type,''),
		        connected_at, status
		 FROM channels ORDER BY connected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if !includeSecrets {
			rec.AccessTokenCipher = ""
			rec.RefreshTokenCipher = ""
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var scope, status string
	err := s.Scan(&rec.ChannelLogin, &rec.AccessTokenCipher, &rec.RefreshTokenCipher, &rec.ExpiresAt,
		&scope, &rec.TokenType,
		&rec.Metadata.TwitchID, &rec.Metadata.DisplayName, &rec.Metadata.ProfileImageURL, &rec.Metadata.BroadcasterType,
		&rec.ConnectedAt, &status)
	if err != nil {
		return nil, err
	}
	rec.Scope = strings.Fields(scope)
	rec.Status = Status(status)
	return &rec, nil
}
