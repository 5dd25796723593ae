package factors

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/domain"
)

func datesFrom(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestSymbolEngineComputeBeta(t *testing.T) {
	engine := NewSymbolEngine(zerolog.Nop())
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	dates := datesFrom(start, 80)

	factorReturns := make([]float64, 80)
	symbolReturns := make([]float64, 80)
	for i := range dates {
		factorReturns[i] = 0.001 * float64(i%5-2)
		symbolReturns[i] = 2.0 * factorReturns[i] // symbol moves 2x the factor
	}

	factorID := uuid.New()
	exposures, insufficient := engine.Compute(
		"AAPL",
		start.AddDate(0, 0, 80),
		ReturnSeries{Dates: dates, Returns: symbolReturns},
		map[uuid.UUID]ReturnSeries{factorID: {Dates: dates, Returns: factorReturns}},
	)

	require.False(t, insufficient)
	require.Len(t, exposures, 1)
	assert.InDelta(t, 2.0, exposures[0].Beta, 0.01)
	assert.Equal(t, 80, exposures[0].DataDays)
}

func TestSymbolEngineInsufficientHistory(t *testing.T) {
	engine := NewSymbolEngine(zerolog.Nop())
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	dates := datesFrom(start, 10)

	factorID := uuid.New()
	exposures, insufficient := engine.Compute(
		"NEWCO",
		start.AddDate(0, 0, 10),
		ReturnSeries{Dates: dates, Returns: make([]float64, 10)},
		map[uuid.UUID]ReturnSeries{factorID: {Dates: dates, Returns: make([]float64, 10)}},
	)

	assert.True(t, insufficient)
	assert.Empty(t, exposures)
}

func TestAggregationEngineWeightsBySignedExposure(t *testing.T) {
	engine := NewAggregationEngine(zerolog.Nop())
	factorID := uuid.New()
	factors := []domain.FactorDefinition{{ID: factorID, Name: "Market", ETFSymbol: "SPY"}}

	positions := []PositionInput{
		{PositionID: uuid.New(), Symbol: "AAPL", InvestmentClass: domain.ClassPublic, SignedExposure: 10000, Betas: map[uuid.UUID]float64{factorID: 1.2}, DataDays: 252},
		{PositionID: uuid.New(), Symbol: "TSLA", InvestmentClass: domain.ClassPublic, SignedExposure: -5000, Betas: map[uuid.UUID]float64{factorID: 1.8}, DataDays: 252},
	}

	exposures, quality := engine.Compute(uuid.New(), time.Now(), positions, factors)

	require.Len(t, exposures, 1)
	require.NotNil(t, quality)
	assert.Equal(t, domain.FlagFullHistory, quality.Flag)
	assert.Equal(t, 2, *quality.PositionsAnalyzed)
	assert.Equal(t, 0, *quality.PositionsSkipped)

	// weighted = 1.2*10000 + 1.8*(-5000) = 12000 - 9000 = 3000
	assert.InDelta(t, 3000.0, exposures[0].ExposureDollar, 0.01)
}

func TestAggregationEngineExcludesPrivatePositions(t *testing.T) {
	engine := NewAggregationEngine(zerolog.Nop())
	factorID := uuid.New()
	factors := []domain.FactorDefinition{{ID: factorID, Name: "Market", ETFSymbol: "SPY"}}

	positions := []PositionInput{
		{PositionID: uuid.New(), Symbol: "PRIVCO", InvestmentClass: domain.ClassPrivate, SignedExposure: 50000, Betas: map[uuid.UUID]float64{factorID: 1.0}, DataDays: 252},
	}

	exposures, quality := engine.Compute(uuid.New(), time.Now(), positions, factors)

	assert.Nil(t, exposures)
	require.NotNil(t, quality)
	assert.Equal(t, domain.FlagNoPublicPositions, quality.Flag)
	assert.Equal(t, 0, *quality.PositionsAnalyzed)
}

func TestAggregationEngineNoPositionsIsSuccessNotFailure(t *testing.T) {
	engine := NewAggregationEngine(zerolog.Nop())
	exposures, quality := engine.Compute(uuid.New(), time.Now(), nil, nil)

	assert.Nil(t, exposures)
	require.NotNil(t, quality)
	assert.Equal(t, domain.FlagNoPublicPositions, quality.Flag)
}
