package marketvalues

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/domain"
)

func TestComputeUsesCachedPrice(t *testing.T) {
	engine := New(zerolog.Nop())
	pos := domain.Position{ID: uuid.New(), Symbol: "AAPL", Quantity: 10, EntryPrice: 180.0}

	values, exposure := engine.Compute(
		[]domain.Position{pos},
		func(domain.Position) (float64, bool) { return 200.0, true },
		func(domain.Position) (float64, bool) { return 195.0, true },
	)

	require.Len(t, values, 1)
	v := values[0]
	assert.False(t, v.UsedFallback)
	assert.Equal(t, 200.0, v.CurrentPrice)
	assert.Equal(t, 2000.0, v.MarketValue)
	assert.Equal(t, 200.0, v.UnrealizedPL) // 10 * (200-180)
	assert.Equal(t, 50.0, v.DayChange)     // 10 * (200-195)

	assert.Equal(t, 2000.0, exposure.Long)
	assert.Equal(t, 0.0, exposure.Short)
	assert.Equal(t, 2000.0, exposure.Gross)
	assert.Equal(t, 2000.0, exposure.Net)
}

func TestComputeFallsBackToEntryPriceOnCacheMiss(t *testing.T) {
	engine := New(zerolog.Nop())
	pos := domain.Position{ID: uuid.New(), Symbol: "XYZ", Quantity: 5, EntryPrice: 50.0}

	values, _ := engine.Compute(
		[]domain.Position{pos},
		func(domain.Position) (float64, bool) { return 0, false },
		func(domain.Position) (float64, bool) { return 0, false },
	)

	require.Len(t, values, 1)
	v := values[0]
	assert.True(t, v.UsedFallback)
	assert.Equal(t, 50.0, v.CurrentPrice)
	assert.Equal(t, 250.0, v.MarketValue)
	assert.Equal(t, 0.0, v.UnrealizedPL)
	assert.Equal(t, 0.0, v.DayChange)
}

func TestComputeShortPositionExposure(t *testing.T) {
	engine := New(zerolog.Nop())
	pos := domain.Position{ID: uuid.New(), Symbol: "TSLA", Quantity: -10, EntryPrice: 250.0}

	_, exposure := engine.Compute(
		[]domain.Position{pos},
		func(domain.Position) (float64, bool) { return 240.0, true },
		func(domain.Position) (float64, bool) { return 240.0, true },
	)

	assert.Equal(t, 0.0, exposure.Long)
	assert.Equal(t, 2400.0, exposure.Short)
	assert.Equal(t, 2400.0, exposure.Gross)
	assert.Equal(t, -2400.0, exposure.Net)
}

func TestComputeLongShortNetting(t *testing.T) {
	engine := New(zerolog.Nop())
	long := domain.Position{ID: uuid.New(), Symbol: "AAPL", Quantity: 10, EntryPrice: 180.0}
	short := domain.Position{ID: uuid.New(), Symbol: "TSLA", Quantity: -5, EntryPrice: 250.0}

	_, exposure := engine.Compute(
		[]domain.Position{long, short},
		func(p domain.Position) (float64, bool) {
			if p.Symbol == "AAPL" {
				return 200.0, true
			}
			return 240.0, true
		},
		func(p domain.Position) (float64, bool) { return 0, false },
	)

	assert.Equal(t, 2000.0, exposure.Long)
	assert.Equal(t, 1200.0, exposure.Short)
	assert.Equal(t, 3200.0, exposure.Gross)
	assert.Equal(t, 800.0, exposure.Net)
}
