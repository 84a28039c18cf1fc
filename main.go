package main

import (
	"context"
	"log"

	"ai-hotline/internal/bootstrap"
	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/server"
)

func main() {
	// Load configuration; env.local is read outside production
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := observability.NewLoggerWithConfig(observability.LogConfig{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	ctx := context.Background()

	logger.Info(ctx, "Starting "+cfg.Server.Title,
		observability.Field{Key: "version", Value: cfg.Server.Version},
		observability.Field{Key: "environment", Value: cfg.Server.Environment},
	)

	deps, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize dependencies", err)
	}

	srv := server.New(cfg, deps, logger)
	srv.Setup()
	if err := srv.Start(ctx); err != nil {
		logger.Fatal(ctx, "failed to start server", err)
	}

	if err := srv.WaitForShutdown(ctx); err != nil {
		logger.Fatal(ctx, "shutdown failed", err)
	}
}
