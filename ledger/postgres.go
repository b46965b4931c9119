package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Postgres is the production Ledger backed by the mod_actions table.
type Postgres struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewPostgres wires a Postgres ledger over an open connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db, Now: time.Now}
}

func (l *Postgres) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Postgres) Record(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	var duration any
	if e.Duration > 0 {
		duration = e.Duration
	}
	_, err := l.DB.ExecContext(ctx,
		`INSERT INTO mod_actions(channel_id, moderator_id, moderator_name, action_type, target_user, duration, reason, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ChannelID, e.ModeratorID, e.ModeratorName, string(e.Action), e.TargetUser, duration, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record mod action: %w", err)
	}
	return nil
}

func (l *Postgres) AggregateStats(ctx context.Context, channelID string, windowDays int) ([]ModeratorStats, error) {
	start := l.now().AddDate(0, 0, -windowDays)
	rows, err := l.DB.QueryContext(ctx,
		`SELECT moderator_id,
		        MAX(moderator_name) AS moderator_name,
		        COUNT(*) AS total_actions,
		        COUNT(*) FILTER (WHERE action_type='ban') AS bans,
		        COUNT(*) FILTER (WHERE action_type='timeout') AS timeouts,
		        MAX(created_at) AS last_action
		 FROM mod_actions
		 WHERE channel_id=$1 AND created_at >= $2 AND action_type IN ('ban','timeout')
		 GROUP BY moderator_id
		 ORDER BY total_actions DESC, moderator_id ASC
		 LIMIT $3`,
		channelID, start, StatsLimit)
	if err != nil {
		return nil, fmt.Errorf("aggregate mod stats: %w", err)
	}
	defer rows.Close()
	out := []ModeratorStats{}
	for rows.Next() {
		var s ModeratorStats
		if err := rows.Scan(&s.ModeratorID, &s.ModeratorName, &s.TotalActions, &s.Bans, &s.Timeouts, &s.LastActionAt); err != nil {
			return nil, fmt.Errorf("scan mod stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
