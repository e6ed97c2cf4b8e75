package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/error-ingest/internal/api"
	"github.com/Priya8975/error-ingest/internal/auth"
	"github.com/Priya8975/error-ingest/internal/blob"
	"github.com/Priya8975/error-ingest/internal/config"
	"github.com/Priya8975/error-ingest/internal/engine"
	"github.com/Priya8975/error-ingest/internal/ingest"
	"github.com/Priya8975/error-ingest/internal/metrics"
	"github.com/Priya8975/error-ingest/internal/sanitize"
	"github.com/Priya8975/error-ingest/internal/store"
	"github.com/Priya8975/error-ingest/internal/symbolicate"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	pgStore.WithSnapshotTTL(cfg.SnapshotTTL)
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	var blobs blob.Store
	blobs, err = blob.New(ctx, cfg.Blob())
	if err != nil {
		logger.Error("failed to initialize blob store", "error", err, "backend", cfg.BlobBackend)
		os.Exit(1)
	}
	if breaker, ok := cfg.Breaker(); ok {
		blobs = blob.NewBreakerStore(blobs, redisStore.Client(), breaker, logger)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error("failed to initialize token verifier", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector("errors")

	limiter := engine.NewRateLimiter(redisStore.Client(), cfg.RateWindow)
	gate := engine.NewGate(limiter, pgStore, cfg.Gate(), logger)

	orchestrator := ingest.NewOrchestrator(
		pgStore,
		pgStore,
		pgStore,
		gate,
		sanitize.New(cfg.Scrub()),
		collector,
		cfg.Ingest(),
		logger,
	)

	symbolicator := symbolicate.NewEngine(pgStore, pgStore, blobs, collector, cfg.Symbolication(), logger)

	// Setup router
	router := api.NewRouter(api.Deps{
		Ingester:     orchestrator,
		Symbolicator: symbolicator,
		Store:        pgStore,
		Verifier:     verifier,
		Metrics:      collector,
		Health: map[string]api.Pinger{
			"postgres": pgStore,
			"redis":    redisStore,
		},
		Version: version,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "blob_backend", cfg.BlobBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
