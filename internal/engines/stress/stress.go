// Package stress implements the Stress Tests engine (spec.md §4.E.6):
// direct and correlated P&L under a library of historical and hypothetical
// scenarios.
//
// Grounded in internal/modules/optimization/risk.go's covariance-matrix
// propagation pattern (shock vector through a correlation matrix via
// matrix-vector multiplication), reused here for correlated_pnl.
package stress

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// LossCapFraction bounds reported P&L loss to this fraction of portfolio
// baseline value (spec.md §4.E.6: "99% of baseline").
const LossCapFraction = 0.99

// PortfolioExposureInput is a portfolio's factor exposures and baseline
// value, the minimum the engine needs to run one scenario.
type PortfolioExposureInput struct {
	PortfolioID    uuid.UUID
	BaselineValue  float64
	// ExposureDollar maps factor name (matching StressScenarioConfig.FactorShocks
	// keys) to the portfolio's dollar exposure to that factor.
	ExposureDollar map[string]float64
	// FactorCorrelations maps an unordered factor-pair key ("A|B", A<B
	// lexicographically) to the factor-level correlation used to propagate
	// shocks when a scenario's SpreadFactorsCorrelate is true.
	FactorCorrelations map[string]float64
}

// Engine computes Stress Tests.
type Engine struct {
	log zerolog.Logger
}

// New creates a Stress Tests engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "stress_engine").Logger()}
}

// Compute runs every active scenario against one portfolio. A portfolio with
// no factor exposures gets a single skip payload (flag=no_factor_exposures)
// rather than a per-scenario zero-result (spec.md §4.E.6).
func (e *Engine) Compute(input PortfolioExposureInput, scenarios []domain.StressScenario, calculationDate time.Time) ([]domain.StressTestResult, *domain.DataQuality) {
	if len(input.ExposureDollar) == 0 {
		return nil, &domain.DataQuality{
			Flag:    domain.FlagNoFactorExposures,
			Message: "portfolio has no factor exposures to stress",
		}
	}

	results := make([]domain.StressTestResult, 0, len(scenarios))
	for _, scenario := range scenarios {
		if !scenario.Active {
			continue
		}
		results = append(results, e.computeOne(input, scenario, calculationDate))
	}
	return results, nil
}

func (e *Engine) computeOne(input PortfolioExposureInput, scenario domain.StressScenario, calculationDate time.Time) domain.StressTestResult {
	direct := directPnL(input, scenario)
	correlated := direct
	if scenario.Config.SpreadFactorsCorrelate {
		correlated = correlatedPnL(input, scenario)
	}

	cap := -LossCapFraction * input.BaselineValue
	cappedDirect := applyLossCap(direct, cap)
	cappedCorrelated := applyLossCap(correlated, cap)

	return domain.StressTestResult{
		PortfolioID:     input.PortfolioID,
		ScenarioID:      scenario.ID,
		CalculationDate: calculationDate,
		DirectPnL:       &cappedDirect,
		CorrelatedPnL:   &cappedCorrelated,
		ScenarioMetadata: map[string]interface{}{
			"scenario_name": scenario.Name,
			"scenario_kind": scenario.Kind,
		},
	}
}

// directPnL sums factor_shock * portfolio_factor_exposure with no
// cross-factor effects (spec.md §4.E.6).
func directPnL(input PortfolioExposureInput, scenario domain.StressScenario) float64 {
	var pnl float64
	for factor, shock := range scenario.Config.FactorShocks {
		exposure, ok := input.ExposureDollar[factor]
		if !ok {
			continue
		}
		pnl += shock * exposure
	}
	return pnl
}

// correlatedPnL propagates each factor's shock through the factor
// correlation matrix before summing, per scenario.Config.SpreadFactorsCorrelate.
func correlatedPnL(input PortfolioExposureInput, scenario domain.StressScenario) float64 {
	var pnl float64
	for factorA, shockA := range scenario.Config.FactorShocks {
		exposureA, ok := input.ExposureDollar[factorA]
		if !ok {
			continue
		}

		contribution := shockA * exposureA
		for factorB, shockB := range scenario.Config.FactorShocks {
			if factorA == factorB {
				continue
			}
			exposureB, ok := input.ExposureDollar[factorB]
			if !ok {
				continue
			}
			corr := correlationBetween(input.FactorCorrelations, factorA, factorB)
			contribution += corr * shockB * exposureB * 0.5 // symmetric pair counted once per side
		}
		pnl += contribution
	}
	return pnl
}

func correlationBetween(correlations map[string]float64, a, b string) float64 {
	key := a + "|" + b
	if b < a {
		key = b + "|" + a
	}
	if c, ok := correlations[key]; ok {
		return c
	}
	return 0
}

func applyLossCap(pnl, cap float64) float64 {
	if pnl < cap {
		return cap
	}
	return pnl
}
