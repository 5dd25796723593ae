// Command server runs the batch processing core's long-lived process: the
// cron-scheduled daily batch invocation plus the read-only operational HTTP
// surface (status, run history, snapshot reads, event stream).
//
// Grounded in the teacher's cmd/server/main.go startup sequence (load
// config, init logger, wire dependencies, start server, wait for signal,
// graceful shutdown), collapsed from Sentinel's 7-database/work-processor/
// display-manager/deployment-manager startup down to this module's single
// pool, single orchestrator, single scheduler shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigmasight/batch-core/internal/batchscheduler"
	"github.com/sigmasight/batch-core/internal/config"
	"github.com/sigmasight/batch-core/internal/di"
	"github.com/sigmasight/batch-core/internal/server"
	"github.com/sigmasight/batch-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting sigmasight batch processing core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	// A prior process killed mid-run leaves batch_run_history rows stuck
	// "running" (spec.md §4.H); reap them before the scheduler's first tick.
	reaped, err := container.Runs.ReapStaleRunning(ctx, 6*time.Hour)
	if err != nil {
		log.Warn().Err(err).Msg("failed to reap stale batch run history rows")
	} else if reaped > 0 {
		log.Warn().Int("count", reaped).Msg("reaped stale running batch run history rows from a prior process")
	}

	sched, err := batchscheduler.New(container.Orch, cfg.BatchScheduleCron, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build batch scheduler")
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DB:           container.DB,
		Orchestrator: container.Orch,
		Runs:         container.Runs,
		Tracker:      container.Track,
		Snapshots:    container.Snapshots,
		Events:       container.Events,
		Calendar:     container.Calendar,
		Config:       cfg,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("http server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}
	log.Info().Msg("batch processing core stopped")
}
