package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmasight/batch-core/internal/providers"
)

func TestFromProviderRows(t *testing.T) {
	ingestedAt := time.Date(2026, time.July, 30, 21, 5, 0, 0, time.UTC)
	date := time.Date(2026, time.July, 29, 0, 0, 0, 0, time.UTC)

	rows := map[string][]providers.OHLCVRow{
		"AAPL": {
			{
				Symbol:         "AAPL",
				Date:           date,
				Open:           200.1,
				High:           201.5,
				Low:            199.0,
				Close:          200.8,
				AdjustedClose:  200.8,
				Volume:         1000000,
				SourceProvider: "alphavantage",
			},
		},
	}

	out := FromProviderRows(rows, ingestedAt)
	require.Len(t, out, 1)

	row := out[0]
	assert.Equal(t, "AAPL", row.Symbol)
	assert.True(t, row.Date.Equal(date))
	require.NotNil(t, row.Open)
	assert.Equal(t, 200.1, *row.Open)
	require.NotNil(t, row.High)
	assert.Equal(t, 201.5, *row.High)
	assert.Equal(t, 200.8, row.Close)
	require.NotNil(t, row.Volume)
	assert.Equal(t, int64(1000000), *row.Volume)
	assert.Equal(t, "alphavantage", row.SourceProvider)
	assert.True(t, row.IngestedAt.Equal(ingestedAt))
}

func TestFromProviderRowsEmpty(t *testing.T) {
	out := FromProviderRows(map[string][]providers.OHLCVRow{}, time.Now().UTC())
	assert.Empty(t, out)
}

func TestFromProviderRowsMultipleSymbols(t *testing.T) {
	date := time.Date(2026, time.July, 28, 0, 0, 0, 0, time.UTC)
	rows := map[string][]providers.OHLCVRow{
		"AAPL": {{Symbol: "AAPL", Date: date, Close: 200.0, SourceProvider: "alphavantage"}},
		"MSFT": {{Symbol: "MSFT", Date: date, Close: 410.0, SourceProvider: "alphavantage"}},
	}

	out := FromProviderRows(rows, time.Now().UTC())
	assert.Len(t, out, 2)
}
