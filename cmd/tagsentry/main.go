package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/config"
	"github.com/tagsentry/tagsentry/internal/consent"
	"github.com/tagsentry/tagsentry/internal/engine"
	"github.com/tagsentry/tagsentry/internal/interact"
	"github.com/tagsentry/tagsentry/internal/server"
	"github.com/tagsentry/tagsentry/internal/storage"
	"github.com/tagsentry/tagsentry/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TAGSENTRY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("tagsentry starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the report archive.
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	factory := browser.NewChromeFactory(browser.FactoryConfig{
		ExecPath:           cfg.ChromePath,
		Headless:           cfg.Headless,
		NavTimeout:         cfg.NavTimeout,
		NavFallbackTimeout: cfg.NavFallbackTimeout,
	}, logger)

	eng := engine.New(factory, engine.Config{
		SettleWait: cfg.SettleWait,
		Consent: consent.Config{
			BeaconWait: cfg.ConsentWait,
		},
		Interact: interact.Config{
			LinkObserveWait: cfg.LinkObserveWait,
			FormObserveWait: cfg.FormObserveWait,
		},
	}, logger)

	srv := server.New(server.ServerConfig{
		Verifier:            eng,
		Store:               db,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxConcurrentRuns:   cfg.MaxConcurrentRuns,
		VerifyTimeout:       cfg.VerifyTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		Version:             version,
	})

	// Start report retention loop.
	if cfg.ReportRetention > 0 {
		go retentionLoop(ctx, db, logger, cfg.ReportRetention)
	}

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new requests and drain in-flight
	// runs. The drain budget covers a full verification.
	slog.Info("tagsentry shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.VerifyTimeout+10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("tagsentry stopped")
	return nil
}

// retentionLoop prunes reports older than the retention window once a day,
// with an initial pass shortly after startup.
func retentionLoop(ctx context.Context, db *storage.DB, logger *slog.Logger, retention time.Duration) {
	prune := func() {
		n, err := db.PruneBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("report prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("reports pruned", "count", n)
		}
	}

	timer := time.NewTimer(time.Minute)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		prune()
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
