// Package marketvalues implements the Market Values engine (spec.md §4.E.2):
// per-position market value, unrealized P&L, day change, and portfolio-level
// exposure buckets.
//
// Grounded in internal/modules/portfolio/service.go's fallback-pricing idiom
// (calculatePositionValue's "no market_value_eur -> fall back and log a
// warning" pattern), adapted from EUR-currency fallback to cache-miss
// entry-price fallback.
package marketvalues

import (
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// PriceLookup resolves a position's current price for the calculation date.
// ok is false when the Market Data Cache has no row for the symbol on that
// date, triggering the entry-price fallback.
type PriceLookup func(position domain.Position) (price float64, ok bool)

// PriorCloseLookup resolves the prior trading day's close, used to derive
// day change. ok is false when no prior close is cached.
type PriorCloseLookup func(position domain.Position) (price float64, ok bool)

// Engine computes Market Values for a batch of positions.
type Engine struct {
	log zerolog.Logger
}

// New creates a Market Values engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "market_values_engine").Logger()}
}

// PortfolioExposure holds the long/short/gross/net exposure buckets for one
// portfolio on the calculation date (spec.md §4.E.2).
type PortfolioExposure struct {
	Long  float64
	Short float64
	Gross float64
	Net   float64
}

// Compute returns one PositionMarketValue per position, plus the
// portfolio-level exposure buckets aggregated from them.
func (e *Engine) Compute(positions []domain.Position, currentPrice PriceLookup, priorClose PriorCloseLookup) ([]domain.PositionMarketValue, PortfolioExposure) {
	values := make([]domain.PositionMarketValue, 0, len(positions))
	var exposure PortfolioExposure

	for _, pos := range positions {
		v := e.computeOne(pos, currentPrice, priorClose)
		values = append(values, v)

		if v.MarketValue > 0 {
			exposure.Long += v.MarketValue
		} else {
			exposure.Short += -v.MarketValue
		}
	}

	exposure.Gross = exposure.Long + exposure.Short
	exposure.Net = exposure.Long - exposure.Short

	return values, exposure
}

func (e *Engine) computeOne(pos domain.Position, currentPrice PriceLookup, priorClose PriorCloseLookup) domain.PositionMarketValue {
	price, ok := currentPrice(pos)
	usedFallback := !ok
	if !ok {
		price = pos.EntryPrice
		e.log.Warn().
			Str("position_id", pos.ID.String()).
			Str("symbol", pos.Symbol).
			Msg("no cached price for position; falling back to entry price")
	}

	marketValue := pos.Quantity * price
	unrealizedPL := pos.Quantity * (price - pos.EntryPrice)

	var dayChange float64
	if prior, ok := priorClose(pos); ok {
		dayChange = pos.Quantity * (price - prior)
	}

	return domain.PositionMarketValue{
		PositionID:   pos.ID,
		CurrentPrice: price,
		UsedFallback: usedFallback,
		MarketValue:  marketValue,
		UnrealizedPL: unrealizedPL,
		DayChange:    dayChange,
	}
}
