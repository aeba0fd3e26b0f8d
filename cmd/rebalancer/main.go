// Package main provides the rebalancer entry point: it wires the
// observation store, optimizer, execution coordinator, and run ledger
// into the cycle worker and serves the ops HTTP surface.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/api"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/config"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/execution"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/storage"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/strategy"
	"github.com/ethanbabel/crypto-yield-farming-bot/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithField("mode", cfg.Execution.Mode).Info("Rebalancer starting")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer func() {
		_ = clickhouse.Close() // nolint:errcheck // shutdown path
	}()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() {
		_ = redis.Close() // nolint:errcheck // shutdown path
	}()

	logger.Info("Database connections established")

	// Repositories
	obsRepo := storage.NewObservationRepository(clickhouse.Conn(), redis)
	refRepo := storage.NewReferenceRepository(postgres.Pool())
	runRepo := storage.NewRunRepository(postgres.Pool())
	tradeRepo := storage.NewTradeRepository(postgres.Pool())
	snapRepo := storage.NewSnapshotRepository(postgres.Pool())

	// The live venue is an execution collaborator; only paper mode ships
	// in-process
	var venue execution.Venue
	switch strings.ToLower(cfg.Execution.Mode) {
	case "paper":
		venue = execution.NewPaperVenue()
	default:
		logger.WithField("mode", cfg.Execution.Mode).Fatal("No venue available for execution mode")
	}

	optimizer := strategy.NewOptimizer(cfg.Strategy, logger)
	coordinator := execution.NewCoordinator(venue, tradeRepo, snapRepo, cfg.Execution, logger)

	cycleWorker, err := worker.NewCycleWorker(&worker.CycleWorkerConfig{
		Source:      obsRepo,
		History:     obsRepo,
		RefRepo:     refRepo,
		RunRepo:     runRepo,
		SnapRepo:    snapRepo,
		Optimizer:   optimizer,
		Coordinator: coordinator,
		Config:      cfg,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create cycle worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycleWorker.Start(ctx)
	logger.WithField("interval", cfg.Worker.CycleInterval.String()).Info("Cycle worker started")

	opsServer := api.NewServer(&api.ServerConfig{
		Host:            cfg.Ops.Host,
		Port:            cfg.Ops.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}, runRepo, tradeRepo, snapRepo, cycleWorker, logger)

	go func() {
		if err := opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server stopped")
		}
	}()

	// Graceful shutdown: let the in-flight cycle settle before exiting
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Ops server shutdown failed")
	}

	cycleWorker.Stop()
	cancel()
	logger.Info("Rebalancer stopped")
}
