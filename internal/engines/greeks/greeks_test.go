package greeks

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/domain"
)

func callPosition(strike float64, expiration time.Time) domain.Position {
	underlying := "AAPL"
	optType := domain.OptionCall
	return domain.Position{
		ID:                uuid.New(),
		Symbol:            "AAPL260116C00200000",
		Quantity:          10,
		InvestmentClass:   domain.ClassOptions,
		UnderlyingSymbol:  &underlying,
		StrikePrice:       &strike,
		ExpirationDate:    &expiration,
		OptionType:        &optType,
	}
}

func TestComputeATMCall(t *testing.T) {
	engine := New(zerolog.Nop())
	calcDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	expiration := calcDate.AddDate(0, 1, 0)

	spot := 200.0
	iv := 0.25

	results := engine.Compute([]Inputs{{
		Position:          callPosition(200.0, expiration),
		CalculationDate:   calcDate,
		UnderlyingSpot:    &spot,
		ImpliedVolatility: &iv,
		RiskFreeRate:      0.04,
	}})

	require.Len(t, results, 1)
	g := results[0]
	require.NotNil(t, g.Delta)
	require.NotNil(t, g.Gamma)
	require.NotNil(t, g.Theta)
	require.NotNil(t, g.Vega)
	require.NotNil(t, g.Rho)

	// An at-the-money call delta should sit near 0.5-0.6.
	assert.InDelta(t, 0.55, *g.Delta, 0.15)
	assert.Greater(t, *g.Gamma, 0.0)
	assert.Greater(t, *g.Vega, 0.0)
	assert.Less(t, *g.Theta, 0.0)
}

func TestComputePutDeltaIsNegative(t *testing.T) {
	engine := New(zerolog.Nop())
	calcDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	expiration := calcDate.AddDate(0, 1, 0)

	spot := 200.0
	iv := 0.25
	optType := domain.OptionPut
	underlying := "AAPL"
	pos := domain.Position{
		ID:               uuid.New(),
		InvestmentClass:  domain.ClassOptions,
		UnderlyingSymbol: &underlying,
		StrikePrice:      floatPtr(200.0),
		ExpirationDate:   &expiration,
		OptionType:       &optType,
	}

	results := engine.Compute([]Inputs{{
		Position:          pos,
		CalculationDate:   calcDate,
		UnderlyingSpot:    &spot,
		ImpliedVolatility: &iv,
		RiskFreeRate:      0.04,
	}})

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Delta)
	assert.Less(t, *results[0].Delta, 0.0)
}

func TestComputeMissingSpotFailsSoft(t *testing.T) {
	engine := New(zerolog.Nop())
	calcDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	expiration := calcDate.AddDate(0, 1, 0)
	iv := 0.25

	results := engine.Compute([]Inputs{{
		Position:          callPosition(200.0, expiration),
		CalculationDate:   calcDate,
		UnderlyingSpot:    nil,
		ImpliedVolatility: &iv,
		RiskFreeRate:      0.04,
	}})

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Delta)
	assert.Nil(t, results[0].Gamma)
	assert.Nil(t, results[0].Theta)
	assert.Nil(t, results[0].Vega)
	assert.Nil(t, results[0].Rho)
}

func TestComputeExpiredContractFailsSoft(t *testing.T) {
	engine := New(zerolog.Nop())
	calcDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	expiration := calcDate.AddDate(0, 0, -1) // already expired

	spot := 200.0
	iv := 0.25

	results := engine.Compute([]Inputs{{
		Position:          callPosition(200.0, expiration),
		CalculationDate:   calcDate,
		UnderlyingSpot:    &spot,
		ImpliedVolatility: &iv,
		RiskFreeRate:      0.04,
	}})

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Delta)
}

func TestComputeNonOptionsPositionSkipped(t *testing.T) {
	engine := New(zerolog.Nop())
	pos := domain.Position{ID: uuid.New(), InvestmentClass: domain.ClassPublic, Symbol: "AAPL"}

	results := engine.Compute([]Inputs{{
		Position:        pos,
		CalculationDate: time.Now(),
		RiskFreeRate:    0.04,
	}})

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Delta)
}

func floatPtr(f float64) *float64 { return &f }
