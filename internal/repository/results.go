// Package repository's results.go persists the per-date calculation outputs
// (spec.md §4.C-§4.E): symbol- and portfolio-level factor exposures,
// correlation calculations, stress test results, and portfolio snapshots. Every write
// here is an idempotent upsert keyed by (entity, calculation_date, ...),
// mirroring internal/marketdata/cache.go's ON CONFLICT DO NOTHING /
// DO UPDATE pattern so a retried or resumed batch run never double-counts.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// FactorExposureRepository persists symbol-level and portfolio-level factor
// exposures (Phase 1.5 and Phase 2).
type FactorExposureRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewFactorExposureRepository creates a FactorExposure repository.
func NewFactorExposureRepository(pool *pgxpool.Pool, log zerolog.Logger) *FactorExposureRepository {
	return &FactorExposureRepository{pool: pool, log: log.With().Str("repo", "factor_exposure").Logger()}
}

// UpsertSymbolExposures persists Phase 1.5's per-symbol betas.
func (r *FactorExposureRepository) UpsertSymbolExposures(ctx context.Context, exposures []domain.SymbolFactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range exposures {
		batch.Queue(`
			INSERT INTO symbol_factor_exposures (symbol, calculation_date, factor_id, beta, data_days)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (symbol, calculation_date, factor_id) DO UPDATE SET beta = EXCLUDED.beta, data_days = EXCLUDED.data_days
		`, e.Symbol, e.CalculationDate, e.FactorID, e.Beta, e.DataDays)
	}
	return runBatch(ctx, r.pool, batch, "upsert symbol factor exposures")
}

// SymbolExposuresOn loads every symbol's factor betas for calculationDate,
// the aggregation engine's per-date input, plus each symbol's data_days
// (the minimum across its factor rows, matching the aggregation engine's
// own conservative "weakest link" reading of data sufficiency).
func (r *FactorExposureRepository) SymbolExposuresOn(ctx context.Context, calculationDate time.Time) (betas map[string]map[uuid.UUID]float64, dataDays map[string]int, err error) {
	rows, err := r.pool.Query(ctx, `
		SELECT symbol, factor_id, beta, data_days FROM symbol_factor_exposures WHERE calculation_date = $1
	`, calculationDate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query symbol factor exposures for %s: %w", calculationDate.Format("2006-01-02"), err)
	}
	defer rows.Close()

	betas = make(map[string]map[uuid.UUID]float64)
	dataDays = make(map[string]int)
	for rows.Next() {
		var symbol string
		var factorID uuid.UUID
		var beta float64
		var days int
		if err := rows.Scan(&symbol, &factorID, &beta, &days); err != nil {
			return nil, nil, fmt.Errorf("failed to scan symbol factor exposure: %w", err)
		}
		if betas[symbol] == nil {
			betas[symbol] = make(map[uuid.UUID]float64)
		}
		betas[symbol][factorID] = beta
		if existing, ok := dataDays[symbol]; !ok || days < existing {
			dataDays[symbol] = days
		}
	}
	return betas, dataDays, rows.Err()
}

// UpsertPositionExposures persists the per-position betas derived from their
// owning symbol's exposure.
func (r *FactorExposureRepository) UpsertPositionExposures(ctx context.Context, exposures []domain.PositionFactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range exposures {
		batch.Queue(`
			INSERT INTO position_factor_exposures (position_id, calculation_date, factor_id, beta)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (position_id, calculation_date, factor_id) DO UPDATE SET beta = EXCLUDED.beta
		`, e.PositionID, e.CalculationDate, e.FactorID, e.Beta)
	}
	return runBatch(ctx, r.pool, batch, "upsert position factor exposures")
}

// UpsertPortfolioExposures persists Phase 2's portfolio-level aggregates.
func (r *FactorExposureRepository) UpsertPortfolioExposures(ctx context.Context, exposures []domain.FactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range exposures {
		dq, err := encodeDataQuality(e.DataQuality)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO factor_exposures (portfolio_id, calculation_date, factor_id, exposure_value, exposure_dollar, data_quality)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (portfolio_id, calculation_date, factor_id) DO UPDATE SET
				exposure_value = EXCLUDED.exposure_value, exposure_dollar = EXCLUDED.exposure_dollar, data_quality = EXCLUDED.data_quality
		`, e.PortfolioID, e.CalculationDate, e.FactorID, e.ExposureValue, e.ExposureDollar, dq)
	}
	return runBatch(ctx, r.pool, batch, "upsert portfolio factor exposures")
}

// CorrelationRepository persists correlation calculations and their
// constituent pairwise rows (Phase 2.5).
type CorrelationRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewCorrelationRepository creates a CorrelationCalculation repository.
func NewCorrelationRepository(pool *pgxpool.Pool, log zerolog.Logger) *CorrelationRepository {
	return &CorrelationRepository{pool: pool, log: log.With().Str("repo", "correlation").Logger()}
}

// Upsert persists a CorrelationCalculation and replaces its pairwise rows
// transactionally, since the pairwise set is only meaningful as a whole.
func (r *CorrelationRepository) Upsert(ctx context.Context, calc domain.CorrelationCalculation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin correlation upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dq, err := encodeDataQuality(calc.DataQuality)
	if err != nil {
		return err
	}

	if calc.ID == uuid.Nil {
		calc.ID = uuid.New()
	}
	id := calc.ID

	_, err = tx.Exec(ctx, `
		INSERT INTO correlation_calculations (id, portfolio_id, calculation_date, duration_days, average_correlation, data_quality)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (portfolio_id, calculation_date, duration_days) DO UPDATE SET
			average_correlation = EXCLUDED.average_correlation, data_quality = EXCLUDED.data_quality
		RETURNING id
	`, id, calc.PortfolioID, calc.CalculationDate, calc.DurationDays, calc.AverageCorrelation, dq).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert correlation calculation for portfolio %s: %w", calc.PortfolioID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pairwise_correlations WHERE correlation_calculation_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear prior pairwise correlations: %w", err)
	}

	batch := &pgx.Batch{}
	for _, pc := range calc.Pairwise {
		batch.Queue(`
			INSERT INTO pairwise_correlations (correlation_calculation_id, symbol_a, symbol_b, correlation)
			VALUES ($1, $2, $3, $4)
		`, id, pc.SymbolA, pc.SymbolB, pc.Correlation)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert pairwise correlation row %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close pairwise correlation batch: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// StressResultRepository persists per-scenario P&L outcomes (Phase 3).
type StressResultRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStressResultRepository creates a StressTestResult repository.
func NewStressResultRepository(pool *pgxpool.Pool, log zerolog.Logger) *StressResultRepository {
	return &StressResultRepository{pool: pool, log: log.With().Str("repo", "stress_result").Logger()}
}

// UpsertAll persists a portfolio's stress results for one calculation date.
func (r *StressResultRepository) UpsertAll(ctx context.Context, results []domain.StressTestResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, res := range results {
		meta, err := json.Marshal(res.ScenarioMetadata)
		if err != nil {
			return fmt.Errorf("failed to encode scenario metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO stress_test_results (portfolio_id, scenario_id, calculation_date, direct_pnl, correlated_pnl, scenario_metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (portfolio_id, scenario_id, calculation_date) DO UPDATE SET
				direct_pnl = EXCLUDED.direct_pnl, correlated_pnl = EXCLUDED.correlated_pnl,
				scenario_metadata = EXCLUDED.scenario_metadata
		`, res.PortfolioID, res.ScenarioID, res.CalculationDate, res.DirectPnL, res.CorrelatedPnL, meta)
	}
	return runBatch(ctx, r.pool, batch, "upsert stress test results")
}

// SnapshotRepository persists the durable per-date snapshot marker (Phase 4).
type SnapshotRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewSnapshotRepository creates a PortfolioSnapshot repository.
func NewSnapshotRepository(pool *pgxpool.Pool, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, log: log.With().Str("repo", "snapshot").Logger()}
}

// Upsert persists the snapshot that marks portfolioID's date D as done.
func (r *SnapshotRepository) Upsert(ctx context.Context, s domain.PortfolioSnapshot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO portfolio_snapshots (
			portfolio_id, snapshot_date, total_value, cash_balance,
			long_exposure, short_exposure, gross_exposure, net_exposure,
			daily_return, position_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (portfolio_id, snapshot_date) DO UPDATE SET
			total_value = EXCLUDED.total_value, cash_balance = EXCLUDED.cash_balance,
			long_exposure = EXCLUDED.long_exposure, short_exposure = EXCLUDED.short_exposure,
			gross_exposure = EXCLUDED.gross_exposure, net_exposure = EXCLUDED.net_exposure,
			daily_return = EXCLUDED.daily_return, position_count = EXCLUDED.position_count
	`, s.PortfolioID, s.SnapshotDate, s.TotalValue, s.CashBalance,
		s.LongExposure, s.ShortExposure, s.GrossExposure, s.NetExposure,
		s.DailyReturn, s.PositionCount)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for portfolio %s on %s: %w", s.PortfolioID, s.SnapshotDate.Format("2006-01-02"), err)
	}
	return nil
}

// PriorTotalValue returns the most recent snapshot's total_value strictly
// before date, used to compute daily_return. Returns nil when none exists.
func (r *SnapshotRepository) PriorTotalValue(ctx context.Context, portfolioID uuid.UUID, date time.Time) (*float64, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT total_value FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND snapshot_date < $2
		ORDER BY snapshot_date DESC LIMIT 1
	`, portfolioID, date)

	var v float64
	err := row.Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prior snapshot for portfolio %s: %w", portfolioID, err)
	}
	return &v, nil
}

// Latest returns the most recent snapshot on or before asOf for portfolioID,
// or nil if none exists yet (serves GET /api/portfolios/{id}/snapshot).
func (r *SnapshotRepository) Latest(ctx context.Context, portfolioID uuid.UUID, asOf time.Time) (*domain.PortfolioSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT portfolio_id, snapshot_date, total_value, cash_balance,
			long_exposure, short_exposure, gross_exposure, net_exposure,
			daily_return, position_count
		FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND snapshot_date <= $2
		ORDER BY snapshot_date DESC LIMIT 1
	`, portfolioID, asOf)

	var s domain.PortfolioSnapshot
	err := row.Scan(&s.PortfolioID, &s.SnapshotDate, &s.TotalValue, &s.CashBalance,
		&s.LongExposure, &s.ShortExposure, &s.GrossExposure, &s.NetExposure,
		&s.DailyReturn, &s.PositionCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest snapshot for portfolio %s: %w", portfolioID, err)
	}
	return &s, nil
}

func encodeDataQuality(dq *domain.DataQuality) ([]byte, error) {
	if dq == nil {
		return nil, nil
	}
	raw, err := json.Marshal(dq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data quality payload: %w", err)
	}
	return raw, nil
}

func runBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch, what string) error {
	br := pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to %s (row %d): %w", what, i, err)
		}
	}
	return nil
}
