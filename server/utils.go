package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streamgate/ledger"
	"github.com/onnwee/streamgate/session"
	"github.com/onnwee/streamgate/telemetry"
)

// authorizeOrCount applies the channel-access predicate and counts denials.
func authorizeOrCount(id session.Identity, channel string) bool {
	if session.AuthorizeChannelAccess(id, channel) {
		return true
	}
	telemetry.CountAuthFailure()
	return false
}

// contextWithTimeout derives a bounded context from the request.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// telemetryLedgerFailure logs and counts a swallowed audit write error.
func telemetryLedgerFailure(ctx context.Context, e ledger.Entry, err error) {
	telemetry.CountLedgerWriteFailure()
	telemetry.LoggerWithCorr(ctx).Warn("failed to record mod action",
		slog.String("channel", e.ChannelID),
		slog.String("action", string(e.Action)),
		slog.Any("err", err))
}
