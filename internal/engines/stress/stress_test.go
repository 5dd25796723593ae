package stress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/domain"
)

func TestComputeDirectPnL(t *testing.T) {
	engine := New(zerolog.Nop())
	portfolioID := uuid.New()

	input := PortfolioExposureInput{
		PortfolioID:   portfolioID,
		BaselineValue: 1_000_000,
		ExposureDollar: map[string]float64{
			"market": 500_000,
		},
	}

	scenario := domain.StressScenario{
		ID:     uuid.New(),
		Name:   "market_down_20",
		Kind:   "hypothetical",
		Active: true,
		Config: domain.StressScenarioConfig{
			FactorShocks: map[string]float64{"market": -0.20},
		},
	}

	results, quality := engine.Compute(input, []domain.StressScenario{scenario}, time.Now())

	assert.Nil(t, quality)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].DirectPnL)
	assert.InDelta(t, -100_000, *results[0].DirectPnL, 0.01)
	require.NotNil(t, results[0].CorrelatedPnL)
	assert.Equal(t, *results[0].DirectPnL, *results[0].CorrelatedPnL)
}

func TestComputeNoFactorExposuresEmitsSkipPayload(t *testing.T) {
	engine := New(zerolog.Nop())
	input := PortfolioExposureInput{PortfolioID: uuid.New(), BaselineValue: 1_000_000}

	results, quality := engine.Compute(input, []domain.StressScenario{{Active: true}}, time.Now())

	assert.Nil(t, results)
	require.NotNil(t, quality)
	assert.Equal(t, domain.FlagNoFactorExposures, quality.Flag)
}

func TestComputeAppliesLossCap(t *testing.T) {
	engine := New(zerolog.Nop())
	input := PortfolioExposureInput{
		PortfolioID:   uuid.New(),
		BaselineValue: 1_000_000,
		ExposureDollar: map[string]float64{
			"market": 5_000_000, // highly leveraged exposure
		},
	}

	scenario := domain.StressScenario{
		ID:     uuid.New(),
		Name:   "crash",
		Active: true,
		Config: domain.StressScenarioConfig{
			FactorShocks: map[string]float64{"market": -0.50},
		},
	}

	results, _ := engine.Compute(input, []domain.StressScenario{scenario}, time.Now())
	require.Len(t, results, 1)
	require.NotNil(t, results[0].DirectPnL)
	// uncapped would be -2,500,000; cap is -990,000 (99% of baseline)
	assert.InDelta(t, -990_000, *results[0].DirectPnL, 0.01)
}

func TestComputeSkipsInactiveScenarios(t *testing.T) {
	engine := New(zerolog.Nop())
	input := PortfolioExposureInput{
		PortfolioID:    uuid.New(),
		BaselineValue:  1_000_000,
		ExposureDollar: map[string]float64{"market": 100_000},
	}

	scenario := domain.StressScenario{ID: uuid.New(), Active: false, Config: domain.StressScenarioConfig{
		FactorShocks: map[string]float64{"market": -0.10},
	}}

	results, quality := engine.Compute(input, []domain.StressScenario{scenario}, time.Now())
	assert.Nil(t, quality)
	assert.Empty(t, results)
}
