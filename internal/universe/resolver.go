// Package universe implements the Symbol Universe Resolver (spec.md §4.C):
// the set of symbols a batch run needs priced, in one of two modes, plus the
// side effect of keeping the persisted Symbol Universe table in sync.
//
// Grounded in internal/modules/universe/security_repository.go's repository
// shape (constructor-injected pool/logger, narrow upsert/lookup methods,
// normalized-identifier lookups) adapted from ISIN-keyed SQLite to
// symbol-keyed Postgres.
package universe

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// Scope selects which resolution mode to run.
type Scope struct {
	// PortfolioID, when non-empty, requests Scoped mode for that single
	// portfolio. Empty requests Global mode.
	PortfolioID string
}

// Resolver computes the symbol universe for a batch run and keeps the
// persisted symbol_universe table current.
type Resolver struct {
	pool         *pgxpool.Pool
	factorETFs   []string
	log          zerolog.Logger
}

// New creates a Symbol Universe Resolver. factorETFs is the configured list
// of factor proxy ETFs (SPY, IWM, ...) always included in the universe.
func New(pool *pgxpool.Pool, factorETFs []string, log zerolog.Logger) *Resolver {
	return &Resolver{
		pool:       pool,
		factorETFs: factorETFs,
		log:        log.With().Str("component", "symbol_universe").Logger(),
	}
}

// Resolve computes the symbol set for scope and ensures every resolved
// symbol is present in the symbol_universe table (spec.md §4.C).
//
// Scoped mode (scope.PortfolioID set): that portfolio's active positions
// union the factor ETFs. MUST NOT widen to the cached universe - this is
// what keeps single-portfolio onboarding O(position count) (spec.md §9).
//
// Global mode (scope.PortfolioID empty): all active positions across all
// portfolios, union the factor ETFs, union every symbol already cached in
// market_data_cache.
func (r *Resolver) Resolve(ctx context.Context, scope Scope) ([]string, error) {
	set := make(map[string]bool)
	for _, etf := range r.factorETFs {
		set[strings.ToUpper(etf)] = true
	}

	if scope.PortfolioID != "" {
		symbols, err := r.activePositionSymbols(ctx, scope.PortfolioID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve scoped universe for portfolio %s: %w", scope.PortfolioID, err)
		}
		for _, s := range symbols {
			set[s] = true
		}
	} else {
		symbols, err := r.activePositionSymbols(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve global universe positions: %w", err)
		}
		for _, s := range symbols {
			set[s] = true
		}

		cached, err := r.cachedSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve global universe cached symbols: %w", err)
		}
		for _, s := range cached {
			set[s] = true
		}
	}

	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}

	if err := r.ensureSymbolsInUniverse(ctx, symbols); err != nil {
		return nil, fmt.Errorf("failed to ensure symbols in universe: %w", err)
	}

	return symbols, nil
}

// activePositionSymbols returns distinct uppercased symbols held by
// currently-active positions. When portfolioID is empty, it spans all
// portfolios (Global mode); otherwise it is scoped to one portfolio.
func (r *Resolver) activePositionSymbols(ctx context.Context, portfolioID string) ([]string, error) {
	query := `
		SELECT DISTINCT UPPER(symbol) FROM positions
		WHERE exit_date IS NULL
	`
	args := []any{}
	if portfolioID != "" {
		query += ` AND portfolio_id = $1`
		args = append(args, portfolioID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active position symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// cachedSymbols returns every distinct symbol already present in the Market
// Data Cache, used only in Global mode.
func (r *Resolver) cachedSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT symbol FROM market_data_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan cached symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// ensureSymbolsInUniverse upserts symbols into symbol_universe so the table
// stays authoritative for every symbol any batch run has ever needed. A
// symbol already present is left with its existing earliest/latest/sector
// metadata untouched - this only guarantees presence, enrichment is a
// separate concern (company profile lookups).
func (r *Resolver) ensureSymbolsInUniverse(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	for _, s := range symbols {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO symbol_universe (symbol)
			VALUES ($1)
			ON CONFLICT (symbol) DO UPDATE SET updated_at = now()
		`, s)
		if err != nil {
			return fmt.Errorf("failed to upsert symbol %s into universe: %w", s, err)
		}
	}
	return nil
}

// Entries returns the full persisted Symbol Universe table, ordered by
// symbol. No batch step or HTTP route in this module calls it.
func (r *Resolver) Entries(ctx context.Context) ([]domain.SymbolUniverseEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT symbol, earliest_date, latest_date, sector, industry, country
		FROM symbol_universe ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol universe: %w", err)
	}
	defer rows.Close()

	var out []domain.SymbolUniverseEntry
	for rows.Next() {
		var e domain.SymbolUniverseEntry
		var sector, industry, country *string
		if err := rows.Scan(&e.Symbol, &e.EarliestDate, &e.LatestDate, &sector, &industry, &country); err != nil {
			return nil, fmt.Errorf("failed to scan symbol universe entry: %w", err)
		}
		if sector != nil {
			e.Sector = *sector
		}
		if industry != nil {
			e.Industry = *industry
		}
		if country != nil {
			e.Country = *country
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
