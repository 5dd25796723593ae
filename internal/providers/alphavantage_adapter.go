package providers

import (
	"context"
	"time"

	"github.com/sigmasight/batch-core/internal/clients/alphavantage"
)

// AlphaVantageProvider adapts alphavantage.Client to the Provider interface.
type AlphaVantageProvider struct {
	client *alphavantage.Client
}

// NewAlphaVantageProvider wraps client as a Provider Chain member.
func NewAlphaVantageProvider(client *alphavantage.Client) *AlphaVantageProvider {
	return &AlphaVantageProvider{client: client}
}

// Name identifies this provider in logs and cache rows.
func (p *AlphaVantageProvider) Name() string {
	return "alphavantage"
}

// FetchOHLCV fetches the full daily series per symbol and filters to
// [start, end]. Alpha Vantage's free tier has no batch OHLCV endpoint, so
// each symbol is fetched individually within the batch.
func (p *AlphaVantageProvider) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (map[string][]OHLCVRow, error) {
	out := make(map[string][]OHLCVRow)

	for _, symbol := range symbols {
		series, err := p.client.FetchDailySeries(ctx, symbol)
		if err != nil {
			// Per-symbol failure within a provider: leave this symbol
			// unsatisfied by this provider and let the chain fall through.
			continue
		}

		var rows []OHLCVRow
		for _, price := range series {
			if price.Date.Before(start) || price.Date.After(end) {
				continue
			}
			rows = append(rows, OHLCVRow{
				Symbol:        symbol,
				Date:          price.Date,
				Open:          price.Open,
				High:          price.High,
				Low:           price.Low,
				Close:         price.Close,
				AdjustedClose: price.Close,
				Volume:        price.Volume,
			})
		}
		if len(rows) > 0 {
			out[symbol] = rows
		}
	}

	return out, nil
}
