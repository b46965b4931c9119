// Command streamgate is the entrypoint for the dashboard credential API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the encrypted token store, the refresh manager, the session
//     authenticator, and the moderation ledger.
//   - Exposes the HTTP API with /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/onnwee/streamgate/config"
	"github.com/onnwee/streamgate/crypto"
	"github.com/onnwee/streamgate/db"
	"github.com/onnwee/streamgate/ledger"
	"github.com/onnwee/streamgate/oauth"
	"github.com/onnwee/streamgate/server"
	"github.com/onnwee/streamgate/session"
	"github.com/onnwee/streamgate/telemetry"
	"github.com/onnwee/streamgate/tokenstore"
	"github.com/onnwee/streamgate/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateCredentialReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamgate", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Token ciphertext key
	cipher, err := crypto.NewAESCipher(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
		os.Exit(1)
	}

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Twitch clients. The app token source backs Helix lookups that are not
	// tied to a connected channel (user id resolution).
	oauthClient := &twitchapi.OAuthClient{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
	}
	helix := &twitchapi.HelixClient{
		ClientID:  cfg.TwitchClientID,
		AppTokens: twitchapi.NewAppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, ""),
	}

	// Credential subsystem
	store := tokenstore.NewPostgres(database, cipher)
	manager := oauth.NewManager(store, cipher, oauthClient.Refresh)
	auth, err := session.New(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		slog.Error("session authenticator init failed", slog.Any("err", err))
		os.Exit(1)
	}
	actions := ledger.NewPostgres(database)

	deps := server.Deps{
		Cfg:     cfg,
		Store:   store,
		Manager: manager,
		OAuth:   oauthClient,
		Helix:   helix,
		Auth:    auth,
		Ledger:  actions,
	}

	slog.Info("http server starting", slog.String("addr", cfg.ListenAddr))
	if err := server.Start(ctx, database, cfg.ListenAddr, deps); err != nil {
		slog.Error("http server exited", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
