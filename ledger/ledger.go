// Package ledger is the append-only audit log of privileged moderation
// actions. Writes are best-effort from the caller's point of view: a failed
// audit insert is logged and counted, never allowed to fail the action it
// records. Entries are validated before any I/O and never mutated or deleted
// by this package.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionType enumerates the privileged actions worth auditing.
type ActionType string

const (
	ActionBan       ActionType = "ban"
	ActionUnban     ActionType = "unban"
	ActionTimeout   ActionType = "timeout"
	ActionUntimeout ActionType = "untimeout"
	ActionMod       ActionType = "mod"
	ActionUnmod     ActionType = "unmod"
	ActionVIP       ActionType = "vip"
	ActionUnvip     ActionType = "unvip"
)

const (
	// MaxTimeoutSeconds is the provider's timeout ceiling (two weeks).
	MaxTimeoutSeconds = 1209600

	// MaxReasonLength bounds the free-text reason field.
	MaxReasonLength = 500

	// StatsLimit caps the moderators returned by AggregateStats.
	StatsLimit = 50
)

// ErrInvalidEntry wraps all entry validation failures.
var ErrInvalidEntry = errors.New("invalid ledger entry")

var validActions = map[ActionType]bool{
	ActionBan: true, ActionUnban: true, ActionTimeout: true, ActionUntimeout: true,
	ActionMod: true, ActionUnmod: true, ActionVIP: true, ActionUnvip: true,
}

// Entry is one recorded moderation action against a broadcaster's channel.
type Entry struct {
	ChannelID     string
	ModeratorID   string
	ModeratorName string
	Action        ActionType
	TargetUser    string
	Duration      int // seconds; required and bounded for timeouts
	Reason        string
	CreatedAt     time.Time
}

// Validate checks the entry before persistence. Timeout entries must carry a
// positive duration no greater than the provider ceiling.
func (e *Entry) Validate() error {
	if e.ChannelID == "" {
		return fmt.Errorf("%w: missing channel id", ErrInvalidEntry)
	}
	if e.ModeratorID == "" || e.ModeratorName == "" {
		return fmt.Errorf("%w: missing moderator identity", ErrInvalidEntry)
	}
	if !validActions[e.Action] {
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidEntry, e.Action)
	}
	if e.Action == ActionTimeout {
		if e.Duration <= 0 {
			return fmt.Errorf("%w: timeout requires a positive duration", ErrInvalidEntry)
		}
		if e.Duration > MaxTimeoutSeconds {
			return fmt.Errorf("%w: timeout duration %d exceeds %d", ErrInvalidEntry, e.Duration, MaxTimeoutSeconds)
		}
	}
	if len(e.Reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidEntry, MaxReasonLength)
	}
	return nil
}

// ModeratorStats is one row of the per-moderator aggregate report.
type ModeratorStats struct {
	ModeratorID   string    `json:"moderatorId"`
	ModeratorName string    `json:"moderatorName"`
	TotalActions  int       `json:"totalActions"`
	Bans          int       `json:"bans"`
	Timeouts      int       `json:"timeouts"`
	LastActionAt  time.Time `json:"lastAction"`
}

// Ledger records privileged actions and reports per-moderator aggregates.
type Ledger interface {
	// Record validates and appends an entry. A zero CreatedAt is stamped
	// with the current time.
	Record(ctx context.Context, e Entry) error

	// AggregateStats groups ban and timeout actions within the last
	// windowDays by moderator, ordered by total actions descending with
	// moderator id as the deterministic tie-break, capped at StatsLimit.
	AggregateStats(ctx context.Context, channelID string, windowDays int) ([]ModeratorStats, error)
}
