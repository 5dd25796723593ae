// Command batch invokes the orchestrator directly for operator-triggered
// runs and backfills (SPEC_FULL.md §C.2), separate from the cron-scheduled
// path owned by cmd/server. Grounded in the teacher's cmd/server/main.go
// startup sequence (config load, logger init, dependency wiring), trimmed
// to a one-shot CLI rather than a long-lived process.
//
// Usage:
//
//	batch run                       # run_daily_batch_with_backfill
//	batch onboard <portfolio-uuid>   # run_portfolio_onboarding_backfill
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/sigmasight/batch-core/internal/config"
	"github.com/sigmasight/batch-core/internal/di"
	"github.com/sigmasight/batch-core/internal/domain"
	"github.com/sigmasight/batch-core/pkg/logger"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: batch run | batch onboard <portfolio-uuid>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx := context.Background()
	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	switch args[0] {
	case "run":
		result, err := container.Orch.RunDailyBatchWithBackfill(ctx, domain.SourceAdmin, "cmd/batch")
		if err != nil {
			log.Fatal().Err(err).Msg("daily batch run failed")
		}
		log.Info().
			Str("batch_run_id", result.BatchRunID.String()).
			Int("trading_days", result.TradingDays).
			Int("portfolios_ok", result.PortfolioJobsOK).
			Int("portfolios_failed", result.PortfolioJobsFail).
			Msg("daily batch run complete")

	case "onboard":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: batch onboard <portfolio-uuid>")
			os.Exit(2)
		}
		portfolioID, err := uuid.Parse(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid portfolio id %q: %v\n", args[1], err)
			os.Exit(2)
		}
		result, err := container.Orch.RunPortfolioOnboardingBackfill(ctx, portfolioID, "cmd/batch")
		if err != nil {
			log.Fatal().Err(err).Msg("portfolio onboarding backfill failed")
		}
		log.Info().
			Str("batch_run_id", result.BatchRunID.String()).
			Int("trading_days", result.TradingDays).
			Msg("portfolio onboarding backfill complete")

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; usage: batch run | batch onboard <portfolio-uuid>\n", args[0])
		os.Exit(2)
	}
}
