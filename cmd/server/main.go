package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/kromer/service/auth"
	"github.com/brojonat/kromer/service/config"
	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/events"
	"github.com/brojonat/kromer/service/metrics"
	"github.com/brojonat/kromer/service/sched"
	"github.com/brojonat/kromer/service/server"
	"github.com/brojonat/kromer/service/ws"
)

// vacuumInterval is how often expired bearer sessions are swept. The
// sweep also feeds the live-session gauge, so it doubles as the gauge's
// refresh cadence.
const vacuumInterval = 5 * time.Minute

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerURL,
		"public_url", cfg.PublicURL,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply schema migrations before anything touches the pool
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("schema migrations applied")

	// Initialize database connection pool with decimal codecs
	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// In-memory state: bearer sessions, one-shot gateway tokens, and
	// the websocket fan-out hub
	sessions := auth.NewSessions()
	tokens := ws.NewTokens()
	hub := ws.NewHub(logger, metricsCollector)

	// Wake-up channel between mutating handlers and the scheduler
	signals := sched.NewNotifier()
	defer signals.Close()

	// Optional NATS event relay
	var relay events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err, "url", cfg.NATSURL)
			os.Exit(1)
		}
		defer pub.Close()
		relay = pub
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerURL, cfg, store, sessions, tokens, hub, signals, relay, metricsCollector, logger)

	// Subscription scheduler: renewal charges announce themselves the
	// same way API-driven transfers do
	scheduler := sched.New(store, signals, logger, metricsCollector)
	scheduler.OnLapse(func(outcome *db.LapseOutcome) {
		if outcome.Transaction != nil {
			httpServer.Broadcaster().Transaction(ctx, outcome.Transaction)
		}
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	// Sweep expired bearer sessions and refresh the session gauge
	go func() {
		ticker := time.NewTicker(vacuumInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := sessions.Vacuum(); evicted > 0 {
					logger.Debug("vacuumed expired sessions", "evicted", evicted)
				}
				metricsCollector.SetAuthSessions(float64(sessions.Len()))
			}
		}
	}()

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
