// Package marketdata implements the Market Data Cache (spec.md §4.D): a
// content-addressed store of (symbol, date) OHLCV rows, upsert-idempotent,
// read by every downstream calculation engine.
//
// Grounded in internal/modules/universe/history_db.go's repository shape
// (constructor-injected *sql.DB / zerolog.Logger, narrow query methods)
// adapted to pgx and to the cache's upsert-idempotence requirement.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sigmasight/batch-core/internal/domain"
	"github.com/sigmasight/batch-core/internal/providers"
)

// rawPayload is the full OHLCV row as received from the provider, encoded
// with msgpack into the cache's raw_payload column. The typed columns
// alongside it are what every engine actually reads; this blob exists so a
// provider discrepancy can be diagnosed without re-fetching, without making
// every calculation path pay for schema changes to the provider shape.
type rawPayload struct {
	Open           float64 `msgpack:"open"`
	High           float64 `msgpack:"high"`
	Low            float64 `msgpack:"low"`
	Close          float64 `msgpack:"close"`
	AdjustedClose  float64 `msgpack:"adjusted_close"`
	Volume         int64   `msgpack:"volume"`
	SourceProvider string  `msgpack:"source_provider"`
}

// FromProviderRows converts Provider Chain output into persistable
// MarketDataRow values, stamping ingestedAt uniformly for the batch.
func FromProviderRows(rows map[string][]providers.OHLCVRow, ingestedAt time.Time) []domain.MarketDataRow {
	var out []domain.MarketDataRow
	for _, symRows := range rows {
		for _, r := range symRows {
			open, high, low, adjClose, volume := r.Open, r.High, r.Low, r.AdjustedClose, r.Volume
			out = append(out, domain.MarketDataRow{
				Symbol:         r.Symbol,
				Date:           r.Date,
				Open:           &open,
				High:           &high,
				Low:            &low,
				Close:          r.Close,
				AdjustedClose:  &adjClose,
				Volume:         &volume,
				SourceProvider: r.SourceProvider,
				IngestedAt:     ingestedAt,
			})
		}
	}
	return out
}

// Cache provides read/write access to the market_data_cache table.
type Cache struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a Market Data Cache repository.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Cache {
	return &Cache{pool: pool, log: log.With().Str("component", "market_data_cache").Logger()}
}

// UpsertRows writes rows idempotently: a (symbol, date) pair already present
// is left untouched (ON CONFLICT DO NOTHING), matching spec.md §4.D's
// "last-writer-wins... rows are authoritative closes" invariant via
// first-writer-wins, which is safe because providers are tried in priority
// order and only the highest-priority successful write for a given
// (symbol, date) should ever occur in a single batch.
func (c *Cache) UpsertRows(ctx context.Context, rows []domain.MarketDataRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		blob, err := encodeRawPayload(r)
		if err != nil {
			return fmt.Errorf("failed to encode raw payload for %s on %s: %w", r.Symbol, r.Date.Format("2006-01-02"), err)
		}
		batch.Queue(`
			INSERT INTO market_data_cache
				(symbol, date, open, high, low, close, adjusted_close, volume, source_provider, ingested_at, raw_payload)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (symbol, date) DO NOTHING
		`, r.Symbol, r.Date, r.Open, r.High, r.Low, r.Close, r.AdjustedClose, r.Volume, r.SourceProvider, r.IngestedAt, blob)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert market data row: %w", err)
		}
	}

	return nil
}

func encodeRawPayload(r domain.MarketDataRow) ([]byte, error) {
	p := rawPayload{Close: r.Close, SourceProvider: r.SourceProvider}
	if r.Open != nil {
		p.Open = *r.Open
	}
	if r.High != nil {
		p.High = *r.High
	}
	if r.Low != nil {
		p.Low = *r.Low
	}
	if r.AdjustedClose != nil {
		p.AdjustedClose = *r.AdjustedClose
	}
	if r.Volume != nil {
		p.Volume = *r.Volume
	}
	return msgpack.Marshal(p)
}

// RawPayload returns the msgpack-encoded provider payload for (symbol,
// date), for operator diagnostics when the typed columns look suspect.
func (c *Cache) RawPayload(ctx context.Context, symbol string, date time.Time) ([]byte, error) {
	var blob []byte
	err := c.pool.QueryRow(ctx, `
		SELECT raw_payload FROM market_data_cache WHERE symbol = $1 AND date = $2
	`, symbol, date).Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch raw payload for %s on %s: %w", symbol, date.Format("2006-01-02"), err)
	}
	return blob, nil
}

// PricesOn returns the cached row for symbol on date, if any.
func (c *Cache) PricesOn(ctx context.Context, symbol string, date time.Time) (*domain.MarketDataRow, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT symbol, date, open, high, low, close, adjusted_close, volume, source_provider, ingested_at
		FROM market_data_cache WHERE symbol = $1 AND date = $2
	`, symbol, date)

	r, err := scanRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s on %s: %w", symbol, date.Format("2006-01-02"), err)
	}
	return r, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*domain.MarketDataRow, error) {
	var r domain.MarketDataRow
	err := row.Scan(&r.Symbol, &r.Date, &r.Open, &r.High, &r.Low, &r.Close, &r.AdjustedClose, &r.Volume, &r.SourceProvider, &r.IngestedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Range returns all cached rows for symbol within [start, end], ascending by date.
func (c *Cache) Range(ctx context.Context, symbol string, start, end time.Time) ([]domain.MarketDataRow, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT symbol, date, open, high, low, close, adjusted_close, volume, source_provider, ingested_at
		FROM market_data_cache
		WHERE symbol = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query price range for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.MarketDataRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}
	return out, nil
}

// DailyReturns computes simple daily returns from Range's close prices,
// used by the Symbol-Level Factors and Correlations engines.
func (c *Cache) DailyReturns(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, []float64, error) {
	rows, err := c.Range(ctx, symbol, start, end)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, nil
	}

	dates := make([]time.Time, 0, len(rows)-1)
	returns := make([]float64, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		prev := rows[i-1].Close
		if prev == 0 {
			continue
		}
		dates = append(dates, rows[i].Date)
		returns = append(returns, (rows[i].Close-prev)/prev)
	}
	return dates, returns, nil
}
