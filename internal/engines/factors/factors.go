// Package factors implements the Symbol-Level Factors (Phase 1.5) and Factor
// Aggregation (Phase 2) engines (spec.md §4.E.3, §4.E.4).
//
// Grounded in internal/modules/optimization/risk.go's gonum/stat usage
// (stat.Covariance over parallel return slices) for the regression math, and
// in security_repository.go's "batch mode for efficiency" override idiom
// for the symbol-then-position fan-out shape.
package factors

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/sigmasight/batch-core/internal/domain"
)

// DefaultLookbackDays is the default regression window (spec.md §4.E.3).
const DefaultLookbackDays = 252

// MinimumLookbackDays is the minimum history required to emit a beta;
// below this the symbol is skipped and marked insufficient_history.
const MinimumLookbackDays = 60

// ReturnSeries is a symbol's or factor ETF's aligned daily return history.
// Dates and Returns are parallel, ascending by date.
type ReturnSeries struct {
	Dates   []time.Time
	Returns []float64
}

// SymbolEngine computes per-symbol, per-factor betas (Phase 1.5).
type SymbolEngine struct {
	log zerolog.Logger
}

// NewSymbolEngine creates a Symbol-Level Factors engine.
func NewSymbolEngine(log zerolog.Logger) *SymbolEngine {
	return &SymbolEngine{log: log.With().Str("component", "symbol_factors_engine").Logger()}
}

// Compute regresses symbolReturns against each factor's ETF returns
// (aligned on the overlapping trading days) and emits one
// SymbolFactorExposure per factor. When fewer than MinimumLookbackDays
// overlapping observations exist, it returns no exposures and insufficient=true
// (spec.md §4.E.3's insufficient_history skip).
func (e *SymbolEngine) Compute(symbol string, calculationDate time.Time, symbolReturns ReturnSeries, factors map[uuid.UUID]ReturnSeries) (exposures []domain.SymbolFactorExposure, insufficient bool) {
	for factorID, factorReturns := range factors {
		symVals, facVals, overlap := alignReturns(symbolReturns, factorReturns)
		if overlap < MinimumLookbackDays {
			continue
		}

		beta := beta(symVals, facVals)
		exposures = append(exposures, domain.SymbolFactorExposure{
			Symbol:          symbol,
			CalculationDate: calculationDate,
			FactorID:        factorID,
			Beta:            beta,
			DataDays:        overlap,
		})
	}

	if len(exposures) == 0 {
		e.log.Debug().
			Str("symbol", symbol).
			Msg("insufficient history for symbol-level factor regression")
		return nil, true
	}
	return exposures, false
}

// beta is the univariate OLS slope of y regressed on x: Cov(x,y)/Var(x).
// Each factor ETF is regressed independently, matching spec.md §4.E.3's
// "per-factor betas" (a CAPM-style single-factor beta per factor, not a
// joint multi-factor OLS).
func beta(symbolReturns, factorReturns []float64) float64 {
	covariance := stat.Covariance(symbolReturns, factorReturns, nil)
	variance := stat.Variance(factorReturns, nil)
	if variance == 0 {
		return 0
	}
	return covariance / variance
}

// alignReturns restricts both series to dates present in both, returning
// parallel value slices and the overlap count.
func alignReturns(a, b ReturnSeries) (aVals, bVals []float64, overlap int) {
	bByDate := make(map[time.Time]float64, len(b.Dates))
	for i, d := range b.Dates {
		bByDate[d] = b.Returns[i]
	}

	for i, d := range a.Dates {
		if v, ok := bByDate[d]; ok {
			aVals = append(aVals, a.Returns[i])
			bVals = append(bVals, v)
		}
	}
	return aVals, bVals, len(aVals)
}

// PositionInput is one position's weight into Factor Aggregation: its
// symbol's betas (from Phase 1.5) and its signed dollar exposure.
type PositionInput struct {
	PositionID      uuid.UUID
	Symbol          string
	InvestmentClass domain.InvestmentClass
	SignedExposure  float64 // positive for long, negative for short
	Betas           map[uuid.UUID]float64
	DataDays        int
}

// AggregationEngine produces portfolio-level factor exposures (Phase 2).
type AggregationEngine struct {
	log zerolog.Logger
}

// NewAggregationEngine creates a Factor Aggregation engine.
func NewAggregationEngine(log zerolog.Logger) *AggregationEngine {
	return &AggregationEngine{log: log.With().Str("component", "factor_aggregation_engine").Logger()}
}

// Compute aggregates position betas weighted by signed dollar exposure into
// portfolio-level factor exposures (spec.md §4.E.4). PRIVATE positions are
// excluded before weighting. A position whose symbol carries no usable beta
// (Phase 1.5 skipped it) is also excluded and counted as skipped.
func (e *AggregationEngine) Compute(portfolioID uuid.UUID, calculationDate time.Time, positions []PositionInput, factors []domain.FactorDefinition) ([]domain.FactorExposure, *domain.DataQuality) {
	analyzable := make([]PositionInput, 0, len(positions))
	for _, p := range positions {
		if p.InvestmentClass == domain.ClassPrivate {
			continue
		}
		analyzable = append(analyzable, p)
	}

	total := len(positions)
	usable := make([]PositionInput, 0, len(analyzable))
	for _, p := range analyzable {
		if len(p.Betas) > 0 {
			usable = append(usable, p)
		}
	}

	skipped := total - len(usable)

	if len(usable) == 0 {
		analyzed := 0
		return nil, &domain.DataQuality{
			Flag:              domain.FlagNoPublicPositions,
			Message:           "no positions with usable factor betas",
			PositionsAnalyzed: &analyzed,
			PositionsTotal:    &total,
			PositionsSkipped:  &skipped,
		}
	}

	totalAbsExposure := 0.0
	for _, p := range usable {
		totalAbsExposure += absFloat(p.SignedExposure)
	}

	exposures := make([]domain.FactorExposure, 0, len(factors))
	minDataDays := minDataDaysOf(usable)

	for _, factor := range factors {
		var weighted float64
		for _, p := range usable {
			b, ok := p.Betas[factor.ID]
			if !ok {
				continue
			}
			weighted += b * p.SignedExposure
		}

		var exposureValue float64
		if totalAbsExposure > 0 {
			exposureValue = weighted / totalAbsExposure
		}

		exposures = append(exposures, domain.FactorExposure{
			PortfolioID:     portfolioID,
			CalculationDate: calculationDate,
			FactorID:        factor.ID,
			ExposureValue:   exposureValue,
			ExposureDollar:  weighted,
		})
	}

	flag := domain.FlagFullHistory
	if minDataDays < DefaultLookbackDays {
		flag = domain.FlagLimitedHistory
	}

	analyzed := len(usable)
	quality := &domain.DataQuality{
		Flag:              flag,
		Message:           "factor aggregation computed",
		PositionsAnalyzed: &analyzed,
		PositionsTotal:    &total,
		PositionsSkipped:  &skipped,
		DataDays:          &minDataDays,
	}

	for i := range exposures {
		exposures[i].DataQuality = quality
	}

	return exposures, quality
}

func minDataDaysOf(positions []PositionInput) int {
	min := -1
	for _, p := range positions {
		if min == -1 || p.DataDays < min {
			min = p.DataDays
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
