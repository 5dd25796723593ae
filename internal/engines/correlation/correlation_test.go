package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesOf(start time.Time, n int, gen func(i int) float64) ([]time.Time, []float64) {
	dates := make([]time.Time, n)
	returns := make([]float64, n)
	for i := 0; i < n; i++ {
		dates[i] = start.AddDate(0, 0, i)
		returns[i] = gen(i)
	}
	return dates, returns
}

func TestComputePerfectlyCorrelatedPair(t *testing.T) {
	engine := New(zerolog.Nop())
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	dates, aReturns := seriesOf(start, 90, func(i int) float64 { return 0.01 * float64(i%7-3) })
	_, bReturns := seriesOf(start, 90, func(i int) float64 { return 0.02 * float64(i%7-3) })

	inputs := []SymbolInput{
		{Symbol: "AAPL", Dates: dates, Returns: aReturns, GrossMarketValue: 10000},
		{Symbol: "MSFT", Dates: dates, Returns: bReturns, GrossMarketValue: 8000},
	}

	result := engine.Compute(uuid.New(), start.AddDate(0, 0, 90), 90, inputs)

	require.Len(t, result.Pairwise, 1)
	require.NotNil(t, result.AverageCorrelation)
	assert.InDelta(t, 0.95, result.Pairwise[0].Correlation, 0.01) // capped
}

func TestComputeSymbolOrderingIsLexicographic(t *testing.T) {
	engine := New(zerolog.Nop())
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	dates, returns := seriesOf(start, 90, func(i int) float64 { return 0.01 * float64(i%5-2) })

	inputs := []SymbolInput{
		{Symbol: "TSLA", Dates: dates, Returns: returns, GrossMarketValue: 5000},
		{Symbol: "AAPL", Dates: dates, Returns: returns, GrossMarketValue: 5000},
	}

	result := engine.Compute(uuid.New(), start.AddDate(0, 0, 90), 90, inputs)
	require.Len(t, result.Pairwise, 1)
	assert.Equal(t, "AAPL", result.Pairwise[0].SymbolA)
	assert.Equal(t, "TSLA", result.Pairwise[0].SymbolB)
}

func TestComputeInsufficientOverlapSkipsPair(t *testing.T) {
	engine := New(zerolog.Nop())
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	dates, returns := seriesOf(start, 5, func(i int) float64 { return 0.01 })
	inputs := []SymbolInput{
		{Symbol: "AAPL", Dates: dates, Returns: returns, GrossMarketValue: 1000},
		{Symbol: "MSFT", Dates: dates, Returns: returns, GrossMarketValue: 1000},
	}

	result := engine.Compute(uuid.New(), start.AddDate(0, 0, 5), 90, inputs)
	assert.Empty(t, result.Pairwise)
	assert.Nil(t, result.AverageCorrelation)
}

func TestSelectByGrossValueCapsToMaxSymbols(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	dates, returns := seriesOf(start, 90, func(i int) float64 { return 0.01 * float64(i%3) })

	var inputs []SymbolInput
	for i := 0; i < 30; i++ {
		inputs = append(inputs, SymbolInput{
			Symbol:           string(rune('A' + i)),
			Dates:            dates,
			Returns:          returns,
			GrossMarketValue: float64(30 - i),
		})
	}

	selected := selectByGrossValue(inputs, MaxSymbols)
	assert.Len(t, selected, MaxSymbols)
	assert.Equal(t, float64(30), selected[0].GrossMarketValue)
}
