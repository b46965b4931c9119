package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Ledger used in tests and single-node development.
// It applies the same validation and aggregation semantics as Postgres.
type Memory struct {
	Now func() time.Time

	mu      sync.RWMutex
	entries []Entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{Now: time.Now}
}

func (l *Memory) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Memory) Record(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

func (l *Memory) AggregateStats(ctx context.Context, channelID string, windowDays int) ([]ModeratorStats, error) {
	start := l.now().AddDate(0, 0, -windowDays)
	agg := make(map[string]*ModeratorStats)

	l.mu.RLock()
	for _, e := range l.entries {
		if e.ChannelID != channelID || e.CreatedAt.Before(start) {
			continue
		}
		if e.Action != ActionBan && e.Action != ActionTimeout {
			continue
		}
		s, ok := agg[e.ModeratorID]
		if !ok {
			s = &ModeratorStats{ModeratorID: e.ModeratorID, ModeratorName: e.ModeratorName}
			agg[e.ModeratorID] = s
		}
		s.TotalActions++
		if e.Action == ActionBan {
			s.Bans++
		} else {
			s.Timeouts++
		}
		if e.CreatedAt.After(s.LastActionAt) {
			s.LastActionAt = e.CreatedAt
		}
	}
	l.mu.RUnlock()

	out := make([]ModeratorStats, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalActions != out[j].TotalActions {
			return out[i].TotalActions > out[j].TotalActions
		}
		return out[i].ModeratorID < out[j].ModeratorID
	})
	if len(out) > StatsLimit {
		out = out[:StatsLimit]
	}
	return out, nil
}
