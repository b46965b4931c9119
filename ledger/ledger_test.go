package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() Entry {
	return Entry{
		ChannelID:     "42",
		ModeratorID:   "42",
		ModeratorName: "alice",
		Action:        ActionBan,
		TargetUser:    "123",
		Reason:        "spam",
	}
}

func TestEntryValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Entry)
		wantErr bool
	}{
		{"valid ban", func(*Entry) {}, false},
		{"missing channel", func(e *Entry) { e.ChannelID = "" }, true},
		{"missing moderator id", func(e *Entry) { e.ModeratorID = "" }, true},
		{"missing moderator name", func(e *Entry) { e.ModeratorName = "" }, true},
		{"unknown action", func(e *Entry) { e.Action = "purge" }, true},
		{"timeout one second", func(e *Entry) { e.Action = ActionTimeout; e.Duration = 1 }, false},
		{"timeout at ceiling", func(e *Entry) { e.Action = ActionTimeout; e.Duration = MaxTimeoutSeconds }, false},
		{"timeout zero duration", func(e *Entry) { e.Action = ActionTimeout; e.Duration = 0 }, true},
		{"timeout negative duration", func(e *Entry) { e.Action = ActionTimeout; e.Duration = -1 }, true},
		{"timeout over ceiling", func(e *Entry) { e.Action = ActionTimeout; e.Duration = MaxTimeoutSeconds + 1 }, true},
		{"reason at limit", func(e *Entry) { e.Reason = strings.Repeat("r", MaxReasonLength) }, false},
		{"reason over limit", func(e *Entry) { e.Reason = strings.Repeat("r", MaxReasonLength+1) }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEntry()
			tc.mutate(&e)
			err := e.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEntry)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryRecordRejectsInvalid(t *testing.T) {
	l := NewMemory()
	e := validEntry()
	e.Action = "purge"
	err := l.Record(context.Background(), e)
	require.ErrorIs(t, err, ErrInvalidEntry)

	stats, err := l.AggregateStats(context.Background(), "42", 30)
	require.NoError(t, err)
	assert.Empty(t, stats, "rejected entries must not persist")
}

func TestMemoryRecordStampsCreatedAt(t *testing.T) {
	l := NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }

	require.NoError(t, l.Record(context.Background(), validEntry()))

	stats, err := l.AggregateStats(context.Background(), "42", 30)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, now, stats[0].LastActionAt)
}

func TestAggregateStatsSemantics(t *testing.T) {
	l := NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	record := func(mod, name string, action ActionType, age time.Duration) {
		t.Helper()
		e := Entry{
			ChannelID:     "42",
			ModeratorID:   mod,
			ModeratorName: name,
			Action:        action,
			TargetUser:    "123",
			CreatedAt:     now.Add(-age),
		}
		if action == ActionTimeout {
			e.Duration = 600
		}
		require.NoError(t, l.Record(ctx, e))
	}

	// mod-a: 2 bans + 1 timeout; mod-b: 1 ban; mod-c only outside the window;
	// unban and vip actions never count; other channels never count.
	record("a", "mod-a", ActionBan, time.Hour)
	record("a", "mod-a", ActionBan, 2*time.Hour)
	record("a", "mod-a", ActionTimeout, 3*time.Hour)
	record("b", "mod-b", ActionBan, time.Hour)
	record("b", "mod-b", ActionUnban, time.Hour)
	record("b", "mod-b", ActionVIP, time.Hour)
	record("c", "mod-c", ActionBan, 40*24*time.Hour)
	require.NoError(t, l.Record(ctx, Entry{
		ChannelID: "99", ModeratorID: "a", ModeratorName: "mod-a",
		Action: ActionBan, TargetUser: "123", CreatedAt: now.Add(-time.Hour),
	}))

	stats, err := l.AggregateStats(ctx, "42", 30)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "a", stats[0].ModeratorID)
	assert.Equal(t, "mod-a", stats[0].ModeratorName)
	assert.Equal(t, 3, stats[0].TotalActions)
	assert.Equal(t, 2, stats[0].Bans)
	assert.Equal(t, 1, stats[0].Timeouts)
	assert.Equal(t, now.Add(-time.Hour), stats[0].LastActionAt)

	assert.Equal(t, "b", stats[1].ModeratorID)
	assert.Equal(t, 1, stats[1].TotalActions)
}

func TestAggregateStatsTieBreakAndLimit(t *testing.T) {
	l := NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < StatsLimit+10; i++ {
		e := Entry{
			ChannelID:     "42",
			ModeratorID:   fmt.Sprintf("mod-%03d", i),
			ModeratorName: fmt.Sprintf("name-%03d", i),
			Action:        ActionBan,
			TargetUser:    "123",
			CreatedAt:     now.Add(-time.Hour),
		}
		require.NoError(t, l.Record(ctx, e))
	}

	stats, err := l.AggregateStats(ctx, "42", 30)
	require.NoError(t, err)
	require.Len(t, stats, StatsLimit)

	// Equal totals fall back to moderator id ascending.
	for i := 1; i < len(stats); i++ {
		assert.Less(t, stats[i-1].ModeratorID, stats[i].ModeratorID)
	}
	assert.Equal(t, "mod-000", stats[0].ModeratorID)
}

func TestAggregateStatsZeroDayWindow(t *testing.T) {
	l := NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return now }
	ctx := context.Background()

	e := validEntry()
	e.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, l.Record(ctx, e))

	stats, err := l.AggregateStats(ctx, "42", 0)
	require.NoError(t, err)
	assert.Empty(t, stats)
}
