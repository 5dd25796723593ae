// Package snapshot implements the Snapshots engine (spec.md §4.E.7): the
// durable "date D is done" marker for a portfolio. Every other engine in
// the ordering invariant must have written its output before this runs.
package snapshot

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// Engine builds PortfolioSnapshot rows from the outputs of the engines that
// ran earlier in the ordering invariant.
type Engine struct {
	log zerolog.Logger
}

// New creates a Snapshots engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "snapshot_engine").Logger()}
}

// Build assembles one PortfolioSnapshot from the Market Values engine's
// exposure buckets and position count, plus cash balance and the prior
// snapshot's total value (used to derive daily_return).
func (e *Engine) Build(
	portfolioID uuid.UUID,
	snapshotDate time.Time,
	cashBalance float64,
	positionValues []domain.PositionMarketValue,
	longExposure, shortExposure, grossExposure, netExposure float64,
	priorTotalValue *float64,
) domain.PortfolioSnapshot {
	var gross float64
	for _, v := range positionValues {
		gross += v.MarketValue
	}
	totalValue := gross + cashBalance

	var dailyReturn *float64
	if priorTotalValue != nil && *priorTotalValue != 0 {
		r := (totalValue - *priorTotalValue) / *priorTotalValue
		dailyReturn = &r
	}

	return domain.PortfolioSnapshot{
		PortfolioID:   portfolioID,
		SnapshotDate:  snapshotDate,
		TotalValue:    totalValue,
		CashBalance:   cashBalance,
		LongExposure:  longExposure,
		ShortExposure: shortExposure,
		GrossExposure: grossExposure,
		NetExposure:   netExposure,
		DailyReturn:   dailyReturn,
		PositionCount: len(positionValues),
	}
}
