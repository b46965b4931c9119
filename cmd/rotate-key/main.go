// Command rotate-key re-encrypts stored channel tokens under a new key.
//
// Every access and refresh token ciphertext is decrypted with the old key and
// written back under the new one, per channel, inside a transaction. Rows that
// fail to decrypt (wrong old key, corrupted ciphertext) are reported and left
// untouched.
//
// Usage:
//
//	rotate-key [--dry-run] [--channel CHANNEL]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: current key, 64 hex chars (required)
//	NEW_ENCRYPTION_KEY: replacement key, 64 hex chars (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/onnwee/streamgate/crypto"
)

type tokenRow struct {
	Channel       string
	AccessCipher  string
	RefreshCipher string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be rotated without making changes")
	channel := flag.String("channel", "", "Rotate a single channel only (default: all channels)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	oldCipher, err := crypto.NewAESCipher(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("error", err))
		os.Exit(1)
	}
	newCipher, err := crypto.NewAESCipher(os.Getenv("NEW_ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("invalid NEW_ENCRYPTION_KEY", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := rotate(ctx, database, oldCipher, newCipher, *dryRun, *channel); err != nil {
		slog.Error("rotation failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("rotation completed successfully")
}

func rotate(ctx context.Context, database *sql.DB, oldCipher, newCipher crypto.Cipher, dryRun bool, channelFilter string) error {
	query := `SELECT channel_login, access_token_cipher, refresh_token_cipher FROM channels`
	args := []any{}
	if channelFilter != "" {
		query += " WHERE channel_login = $1"
		args = append(args, channelFilter)
	}
	query += " ORDER BY channel_login"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var tokens []tokenRow
	for rows.Next() {
		var t tokenRow
		if err := rows.Scan(&t.Channel, &t.AccessCipher, &t.RefreshCipher); err != nil {
			return fmt.Errorf("failed to scan channel row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating channel rows: %w", err)
	}

	if len(tokens) == 0 {
		slog.Info("no channels found to rotate")
		return nil
	}
	slog.Info("found channels to rotate",
		slog.Int("count", len(tokens)),
		slog.Bool("dry_run", dryRun))

	rotatedCount := 0
	errorCount := 0
	for i, t := range tokens {
		logger := slog.With(
			slog.String("channel", t.Channel),
			slog.Int("index", i+1),
			slog.Int("total", len(tokens)))

		if dryRun {
			// Confirm the old key can actually read this row.
			if _, err := oldCipher.Decrypt(t.AccessCipher); err != nil {
				logger.Error("access token unreadable with current key", slog.Any("error", err))
				errorCount++
				continue
			}
			logger.Info("would rotate channel (dry-run)")
			rotatedCount++
			continue
		}

		if err := rotateChannel(ctx, database, oldCipher, newCipher, t); err != nil {
			logger.Error("failed to rotate channel", slog.Any("error", err))
			errorCount++
			continue
		}
		logger.Info("rotated channel successfully")
		rotatedCount++
	}

	slog.Info("rotation summary",
		slog.Int("total", len(tokens)),
		slog.Int("rotated", rotatedCount),
		slog.Int("errors", errorCount),
		slog.Bool("dry_run", dryRun))

	if errorCount > 0 {
		return fmt.Errorf("rotation completed with %d errors", errorCount)
	}
	return nil
}

func rotateChannel(ctx context.Context, database *sql.DB, oldCipher, newCipher crypto.Cipher, t tokenRow) error {
	access, err := oldCipher.Decrypt(t.AccessCipher)
	if err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := oldCipher.Decrypt(t.RefreshCipher)
	if err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}
	newAccess, err := newCipher.Encrypt(access)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	newRefresh, err := newCipher.Encrypt(refresh)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is best effort

	result, err := tx.ExecContext(ctx, `
		UPDATE channels
		SET access_token_cipher = $1,
		    refresh_token_cipher = $2,
		    updated_at = NOW()
		WHERE channel_login = $3 AND access_token_cipher = $4
	`, newAccess, newRefresh, t.Channel, t.AccessCipher)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token may have been refreshed concurrently)", rowsAffected)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
