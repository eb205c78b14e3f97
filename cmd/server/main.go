package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/server/api"
	"relay/internal/server/config"
	"relay/internal/server/database"
	"relay/internal/server/pipeline"
	"relay/internal/server/ratelimit"
	"relay/internal/server/registry"
	"relay/internal/server/service"
	"relay/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"chunk_size", cfg.ChunkSize,
		"default_ttl", cfg.DefaultTTL,
		"max_downloads", cfg.MaxDownloads,
		"max_upload_size", cfg.MaxUploadSize,
	)

	ctx := context.Background()

	// Select the registry backend: postgres when configured, in-memory
	// otherwise.
	var reg registry.Registry
	var db *database.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database migrations complete")

		reg = database.NewRegistry(db)
	} else {
		reg = registry.NewMemory()
		slog.Info("using in-memory registry")
	}

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "path", cfg.StoragePath)

	// Initialize pipeline and service
	pipe := pipeline.New(store, cfg.ChunkSize, cfg.MaxUploadSize)
	svc := service.NewTransferService(reg, store, pipe, cfg)

	// Start the sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(reg, store, cfg.SweepInterval)
	sweeper.Start(sweepCtx)

	// Code lookups are the guessing surface; only they are gated.
	lookupGate := ratelimit.New(cfg.RateLimitAttempts, cfg.RateLimitWindow)

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, cfg, lookupGate)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweeper and the limiter's eviction loop
	sweepCancel()
	sweeper.Wait()
	lookupGate.Close()

	slog.Info("server exited cleanly")
}
