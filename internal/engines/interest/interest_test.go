package interest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAccruesSimpleInterest(t *testing.T) {
	engine := New(zerolog.Nop())
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 365)

	results := engine.Compute([]AccrualInput{{
		PositionID:   uuid.New(),
		FaceValue:    100_000,
		CouponRate:   0.05,
		AccrualStart: start,
		AsOf:         asOf,
	}})

	require.Len(t, results, 1)
	assert.InDelta(t, 5_000, results[0].AccruedInterest, 1.0)
	assert.Equal(t, 365, results[0].DaysAccrued)
}

func TestComputeAsOfBeforeStartSkipsSoft(t *testing.T) {
	engine := New(zerolog.Nop())
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	results := engine.Compute([]AccrualInput{{
		PositionID:   uuid.New(),
		FaceValue:    100_000,
		CouponRate:   0.05,
		AccrualStart: start,
		AsOf:         start.AddDate(0, 0, -1),
	}})

	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].AccruedInterest)
}
