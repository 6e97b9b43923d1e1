package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kgrag/internal/app"
	"kgrag/internal/config"
	"kgrag/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 2. Clients, stores and schema
	deps, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 3. Knowledge graph and server loops
	a, err := app.New(cfg, deps, logger)
	if err != nil {
		return err
	}

	// 4. Serve until SIGINT/SIGTERM
	return a.Run(ctx)
}
