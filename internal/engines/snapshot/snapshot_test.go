package snapshot

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/domain"
)

func TestBuildComputesDailyReturn(t *testing.T) {
	engine := New(zerolog.Nop())
	prior := 100_000.0

	snap := engine.Build(
		uuid.New(),
		time.Now(),
		5_000,
		[]domain.PositionMarketValue{{MarketValue: 95_000}},
		95_000, 0, 95_000, 95_000,
		&prior,
	)

	assert.Equal(t, 100_000.0, snap.TotalValue)
	require.NotNil(t, snap.DailyReturn)
	assert.InDelta(t, 0.0, *snap.DailyReturn, 0.0001)
	assert.Equal(t, 1, snap.PositionCount)
}

func TestBuildNoDailyReturnOnColdStart(t *testing.T) {
	engine := New(zerolog.Nop())

	snap := engine.Build(
		uuid.New(),
		time.Now(),
		0,
		nil,
		0, 0, 0, 0,
		nil,
	)

	assert.Nil(t, snap.DailyReturn)
	assert.Equal(t, 0.0, snap.TotalValue)
	assert.Equal(t, 0, snap.PositionCount)
}
