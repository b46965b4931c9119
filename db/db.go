// Package db provides the Postgres connection helper and idempotent schema
// migration for the credential store and moderation ledger tables.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
// Channel identity uniqueness is enforced here, at the storage layer, so
// concurrent first-connects cannot create duplicate credential records.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_login TEXT PRIMARY KEY,
			access_token_cipher TEXT NOT NULL,
			refresh_token_cipher TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			scope TEXT NOT NULL,
			token_type TEXT NOT NULL,
			twitch_id TEXT,
			display_name TEXT,
			profile_image_url TEXT,
			broadcaster_type TEXT,
			connected_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'connected',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS mod_actions (
			id BIGSERIAL PRIMARY KEY,
			channel_id TEXT NOT NULL,
			moderator_id TEXT NOT NULL,
			moderator_name TEXT NOT NULL,
			action_type TEXT NOT NULL,
			target_user TEXT,
			duration INTEGER,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_status ON channels(status)`,
		`CREATE INDEX IF NOT EXISTS idx_mod_actions_channel_created ON mod_actions(channel_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_mod_actions_channel_type ON mod_actions(channel_id, action_type)`,
		`CREATE INDEX IF NOT EXISTS idx_mod_actions_moderator ON mod_actions(channel_id, moderator_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
