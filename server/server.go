package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/streamgate/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for the rate limiter cleanup goroutine lifecycle.
func NewMux(ctx context.Context, db *sql.DB, deps Deps) http.Handler {
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()
	limiter := newIPRateLimiter(ctx, rateLimiterCfg)

	handlers := NewHandlers(deps)

	// protected routes require a verified session; admin routes additionally
	// require the operator role.
	protected := func(h http.HandlerFunc) http.Handler {
		return requireSession(h, deps.Auth)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return requireSession(requireAdmin(h), deps.Auth)
	}
	limited := func(h http.Handler) http.Handler {
		return rateLimitMiddleware(h, limiter)
	}

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.Handle("/readyz", newReadyzHandler(db))

	// Auth endpoints. Login and the OAuth entry points are rate limited; they
	// are the only unauthenticated surfaces that touch credentials.
	mux.Handle("POST /api/login", limited(http.HandlerFunc(handlers.HandleLogin)))
	mux.Handle("GET /auth/twitch", limited(http.HandlerFunc(handlers.HandleTwitchOAuthStart)))
	mux.Handle("GET /auth/twitch/callback", limited(http.HandlerFunc(handlers.HandleTwitchOAuthCallback)))

	// Channel management
	mux.Handle("GET /api/channels", admin(handlers.HandleChannelsList))
	mux.Handle("DELETE /api/channels/{channel}", protected(handlers.HandleChannelDisconnect))

	// Channel-scoped dashboard proxies
	mux.Handle("GET /api/{channel}/user-id", protected(handlers.HandleUserID))
	mux.Handle("POST /api/{channel}/ban", protected(handlers.HandleBan))
	mux.Handle("POST /api/{channel}/unban", protected(handlers.HandleUnban))
	mux.Handle("POST /api/{channel}/timeout", protected(handlers.HandleTimeout))
	mux.Handle("POST /api/{channel}/untimeout", protected(handlers.HandleUntimeout))
	mux.Handle("POST /api/{channel}/mod", protected(handlers.HandleMod))
	mux.Handle("POST /api/{channel}/unmod", protected(handlers.HandleUnmod))
	mux.Handle("POST /api/{channel}/vip", protected(handlers.HandleVIP))
	mux.Handle("POST /api/{channel}/unvip", protected(handlers.HandleUnvip))
	mux.Handle("POST /api/{channel}/commercial", protected(handlers.HandleCommercial))
	mux.Handle("GET /api/{channel}/stream-info", protected(handlers.HandleStreamInfoGet))
	mux.Handle("PATCH /api/{channel}/stream-info", protected(handlers.HandleStreamInfoPatch))
	mux.Handle("GET /api/{channel}/mod-stats", protected(handlers.HandleModStats))

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, db, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
