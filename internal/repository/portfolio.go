// Package repository provides the Postgres-backed data access layer for
// Portfolio and Position aggregates and every calculation engine's output
// (spec.md §3's ownership model: each portfolio exclusively owns its
// positions, snapshots, factor exposures, correlations, and stress results).
//
// Grounded in internal/modules/portfolio/position_repository.go's repository
// shape - constructor-injected connection plus logger, narrow per-table
// methods, a "Faithful translation" comment convention replaced here with a
// spec.md section reference - adapted from SQLite/ISIN-keyed portfolio.db to
// symbol-keyed Postgres tables.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// PortfolioRepository handles portfolio CRUD operations backing the
// orchestrator's two run modes (spec.md §4.G).
type PortfolioRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPortfolioRepository creates a Portfolio repository.
func NewPortfolioRepository(pool *pgxpool.Pool, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{pool: pool, log: log.With().Str("repo", "portfolio").Logger()}
}

// GetByID loads a single portfolio.
func (r *PortfolioRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, account_name, account_type, equity_balance, created_at
		FROM portfolios WHERE id = $1
	`, id)

	p, err := scanPortfolio(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("portfolio %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch portfolio %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every active portfolio, the Global-mode orchestrator's
// default scope (spec.md §4.G "run_daily_batch_with_backfill").
func (r *PortfolioRepository) ListActive(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, account_name, account_type, equity_balance, created_at
		FROM portfolios WHERE active ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPortfolio(row rowScanner) (*domain.Portfolio, error) {
	var p domain.Portfolio
	err := row.Scan(&p.ID, &p.UserID, &p.AccountName, &p.AccountType, &p.EquityBalance, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PositionRepository handles position reads used by the calculation engines.
// Positions are immutable once created (spec.md §3), so this repository is
// read-only from the batch core's perspective - writes happen via the CSV
// onboarding path, which is out of scope (spec.md §1).
type PositionRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPositionRepository creates a Position repository.
func NewPositionRepository(pool *pgxpool.Pool, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{pool: pool, log: log.With().Str("repo", "position").Logger()}
}

const positionColumns = `
	id, portfolio_id, symbol, quantity, entry_price, entry_date,
	investment_class, investment_subtype,
	underlying_symbol, strike_price, expiration_date, option_type,
	exit_date, exit_price
`

// ActiveOn returns portfolioID's positions active on date d: entry_date <= d
// and (exit_date IS NULL OR exit_date > d), matching domain.Position.IsActive.
func (r *PositionRepository) ActiveOn(ctx context.Context, portfolioID uuid.UUID, d time.Time) ([]domain.Position, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE portfolio_id = $1 AND entry_date <= $2 AND (exit_date IS NULL OR exit_date > $2)
		ORDER BY symbol
	`, portfolioID, d)
	if err != nil {
		return nil, fmt.Errorf("failed to query active positions for portfolio %s on %s: %w", portfolioID, d.Format("2006-01-02"), err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// EarliestEntryDate returns the earliest entry_date across portfolioID's
// positions, the start date for scoped onboarding backfill (spec.md §4.G).
func (r *PositionRepository) EarliestEntryDate(ctx context.Context, portfolioID uuid.UUID) (time.Time, error) {
	row := r.pool.QueryRow(ctx, `SELECT MIN(entry_date) FROM positions WHERE portfolio_id = $1`, portfolioID)
	var earliest *time.Time
	if err := row.Scan(&earliest); err != nil {
		return time.Time{}, fmt.Errorf("failed to compute earliest entry date for portfolio %s: %w", portfolioID, err)
	}
	if earliest == nil {
		return time.Time{}, fmt.Errorf("portfolio %s has no positions", portfolioID)
	}
	return *earliest, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		err := rows.Scan(
			&p.ID, &p.PortfolioID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.EntryDate,
			&p.InvestmentClass, &p.InvestmentSubtype,
			&p.UnderlyingSymbol, &p.StrikePrice, &p.ExpirationDate, &p.OptionType,
			&p.ExitDate, &p.ExitPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
