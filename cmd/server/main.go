// Package main is the entry point of the restock service.
// It plans and dispatches inter-warehouse stock transfers on a schedule and
// exposes run history, quota and in-transit state over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/restock/internal/config"
	"github.com/aristath/restock/internal/di"
	"github.com/aristath/restock/internal/modules/transfer/handlers"
	"github.com/aristath/restock/internal/server"
	"github.com/aristath/restock/internal/version"
	"github.com/aristath/restock/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Bool("dry_run", cfg.DryRun).
		Msg("Starting restock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// drains the in-transit recorder before the database closes
	defer container.Close()

	transferHandler := handlers.NewHandler(container.TransferService, container.Reconciler, container.InTransitRepo, log)

	srv := server.New(server.Config{
		Log:       log,
		DB:        container.DB,
		DataDir:   cfg.DataDir,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Bus:       container.EventBus,
		Metrics:   container.Metrics,
		Scheduler: container.Scheduler,
		Jobs:      jobs.All(),
		Modules:   []server.RouteRegistrar{transferHandler},
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// waits for a running cycle to finish
	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}
