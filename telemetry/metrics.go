// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RefreshSucceeded prometheus.Counter
	RefreshFailed    prometheus.Counter
	AuthFailures     prometheus.Counter
	ModActions       *prometheus.CounterVec
	LedgerWriteFails prometheus.Counter

	// Histograms (seconds)
	RefreshDuration prometheus.Observer

	// Gauges
	ConnectedChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RefreshSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "streamgate_token_refreshes_succeeded_total", Help: "Number of OAuth token refreshes that succeeded"})
		RefreshFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "streamgate_token_refreshes_failed_total", Help: "Number of OAuth token refreshes that failed"})
		AuthFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streamgate_auth_failures_total", Help: "Number of rejected session credentials or channel-access denials"})
		ModActions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamgate_mod_actions_total", Help: "Number of moderation actions proxied, by type"}, []string{"action"})
		LedgerWriteFails = promauto.NewCounter(prometheus.CounterOpts{Name: "streamgate_ledger_write_failures_total", Help: "Number of best-effort audit log writes that failed"})
		RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamgate_token_refresh_duration_seconds", Help: "Provider refresh exchange duration seconds", Buckets: prometheus.DefBuckets})
		ConnectedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamgate_connected_channels", Help: "Current number of connected channel credential records"})
	})
}

// CountRefresh records a refresh outcome. Safe before Init.
func CountRefresh(ok bool) {
	if ok {
		if RefreshSucceeded != nil {
			RefreshSucceeded.Inc()
		}
		return
	}
	if RefreshFailed != nil {
		RefreshFailed.Inc()
	}
}

// ObserveRefreshDuration records a provider exchange duration. Safe before Init.
func ObserveRefreshDuration(d time.Duration) {
	if RefreshDuration != nil {
		RefreshDuration.Observe(d.Seconds())
	}
}

// CountAuthFailure records a rejected credential or denied channel access.
func CountAuthFailure() {
	if AuthFailures != nil {
		AuthFailures.Inc()
	}
}

// CountModAction records a proxied moderation action by type.
func CountModAction(action string) {
	if ModActions != nil {
		ModActions.WithLabelValues(action).Inc()
	}
}

// CountLedgerWriteFailure records a swallowed audit log write error.
func CountLedgerWriteFailure() {
	if LedgerWriteFails != nil {
		LedgerWriteFails.Inc()
	}
}

// SetConnectedChannels records the current credential record count.
func SetConnectedChannels(n int) {
	if ConnectedChannelsGauge != nil {
		ConnectedChannelsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
