// Package batchscheduler wraps the orchestrator's scheduled invocation
// (spec.md §4.G) in a cron trigger. Grounded in the teacher's
// internal/queue.Scheduler start/stop/mutex shape, adapted from a ticker
// loop driving a job queue to a single robfig/cron entry driving the
// orchestrator directly - this module has one scheduled job, not a queue
// of many.
package batchscheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
	"github.com/sigmasight/batch-core/internal/orchestrator"
)

// Scheduler fires RunDailyBatchWithBackfill on a cron schedule.
type Scheduler struct {
	orch *orchestrator.Orchestrator
	log  zerolog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// New creates a Scheduler for spec string cronExpr (standard 5-field cron,
// interpreted in UTC).
func New(orch *orchestrator.Orchestrator, cronExpr string, log zerolog.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	s := &Scheduler{orch: orch, log: log.With().Str("component", "batch_scheduler").Logger(), cron: c}

	_, err := c.AddFunc(cronExpr, s.fire)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule. Safe to call once; a second call is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn().Msg("scheduler already running, ignoring start")
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info().Msg("batch scheduler started")
}

// Stop halts the cron schedule and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.log.Info().Msg("batch scheduler stopped")
}

func (s *Scheduler) fire() {
	ctx := context.Background()
	result, err := s.orch.RunDailyBatchWithBackfill(ctx, domain.SourceCron, "cron")
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled batch run failed")
		return
	}
	s.log.Info().
		Str("batch_run_id", result.BatchRunID.String()).
		Int("trading_days", result.TradingDays).
		Int("portfolios_ok", result.PortfolioJobsOK).
		Int("portfolios_failed", result.PortfolioJobsFail).
		Msg("scheduled batch run complete")
}
