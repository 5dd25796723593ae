// Package watermark implements the Watermark Service (spec.md §4.F): the
// "most-lagging portfolio" algorithm that determines how far the system has
// durably progressed, and the per-date cohort queries the orchestrator uses
// to avoid redoing completed work.
//
// Grounded in internal/modules/calculations/sync_processor.go's
// interval/expiry-cache idiom (a narrow service wrapping a handful of date
// queries, constructor-injected pool/logger) adapted from an in-memory
// interval cache to direct SQL aggregates, since the watermark must reflect
// durable snapshot state rather than cached state.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Service answers watermark and per-date cohort questions against the
// durable portfolio_snapshots and positions tables.
type Service struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a Watermark Service.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Service {
	return &Service{pool: pool, log: log.With().Str("component", "watermark_service").Logger()}
}

// SystemWatermark returns min(max(snapshot_date)) across active portfolios:
// the "most-lagging portfolio" policy (spec.md §4.F). When no portfolio has
// any snapshot yet (cold system), it falls back to the earliest entry_date
// across all active positions, and ok is false to signal the caller this is
// a cold-start value rather than a true watermark.
func (s *Service) SystemWatermark(ctx context.Context) (date time.Time, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT MIN(portfolio_max) FROM (
			SELECT ps.portfolio_id, MAX(ps.snapshot_date) AS portfolio_max
			FROM portfolio_snapshots ps
			JOIN portfolios p ON p.id = ps.portfolio_id
			WHERE p.active
			GROUP BY ps.portfolio_id
		) per_portfolio
	`)

	var watermark *time.Time
	if err := row.Scan(&watermark); err != nil && err != pgx.ErrNoRows {
		return time.Time{}, false, fmt.Errorf("failed to compute system watermark: %w", err)
	}
	if watermark != nil {
		return *watermark, true, nil
	}

	fallback, err := s.earliestActiveEntryDate(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	return fallback, false, nil
}

// earliestActiveEntryDate returns the earliest entry_date across all active
// positions, used as the cold-start fallback start date.
func (s *Service) earliestActiveEntryDate(ctx context.Context) (time.Time, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT MIN(entry_date) FROM positions WHERE exit_date IS NULL
	`)

	var earliest *time.Time
	if err := row.Scan(&earliest); err != nil {
		return time.Time{}, fmt.Errorf("failed to compute earliest entry date: %w", err)
	}
	if earliest == nil {
		return time.Time{}, fmt.Errorf("no active positions exist; cannot determine a start date")
	}
	return *earliest, nil
}

// PortfoliosWithSnapshot returns the portfolio IDs that already have a
// PortfolioSnapshot for date - the orchestrator's per-date "already done"
// set (spec.md §4.F).
func (s *Service) PortfoliosWithSnapshot(ctx context.Context, date time.Time) (map[uuid.UUID]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT portfolio_id FROM portfolio_snapshots WHERE snapshot_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios with snapshot for %s: %w", date.Format("2006-01-02"), err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ActivePortfolios returns every active portfolio ID, the Global-mode
// orchestrator's scope.
func (s *Service) ActivePortfolios(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM portfolios WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active portfolios: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Cohort returns the subset of candidates lacking a snapshot for date -
// the complement the orchestrator must still process (spec.md §4.F's
// "per-date filtering").
func Cohort(candidates []uuid.UUID, haveSnapshot map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if !haveSnapshot[id] {
			out = append(out, id)
		}
	}
	return out
}
