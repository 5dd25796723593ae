package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// FactorDefinitionRepository reads the global factor configuration seeded by
// the schema's 002_seed.sql (spec.md §6).
type FactorDefinitionRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewFactorDefinitionRepository creates a FactorDefinition repository.
func NewFactorDefinitionRepository(pool *pgxpool.Pool, log zerolog.Logger) *FactorDefinitionRepository {
	return &FactorDefinitionRepository{pool: pool, log: log.With().Str("repo", "factor_definition").Logger()}
}

// ListActive returns every active factor, loaded once per batch run as the
// shared input of symbol-level factors, aggregation and stress tests.
func (r *FactorDefinitionRepository) ListActive(ctx context.Context) ([]domain.FactorDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, etf_symbol, active FROM factor_definitions WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active factor definitions: %w", err)
	}
	defer rows.Close()

	var out []domain.FactorDefinition
	for rows.Next() {
		var f domain.FactorDefinition
		if err := rows.Scan(&f.ID, &f.Name, &f.ETFSymbol, &f.Active); err != nil {
			return nil, fmt.Errorf("failed to scan factor definition: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a factor definition by name. Nothing in this
// module calls it; factor definitions come from the seed migration.
func (r *FactorDefinitionRepository) Upsert(ctx context.Context, name, etfSymbol string, active bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO factor_definitions (id, name, etf_symbol, active)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET etf_symbol = EXCLUDED.etf_symbol, active = EXCLUDED.active
	`, name, etfSymbol, active)
	if err != nil {
		return fmt.Errorf("failed to upsert factor definition %q: %w", name, err)
	}
	return nil
}

// StressScenarioRepository reads/writes the named shock scenarios used by the
// Stress Test engine (spec.md §4.E).
type StressScenarioRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStressScenarioRepository creates a StressScenario repository.
func NewStressScenarioRepository(pool *pgxpool.Pool, log zerolog.Logger) *StressScenarioRepository {
	return &StressScenarioRepository{pool: pool, log: log.With().Str("repo", "stress_scenario").Logger()}
}

// ListActive returns every active stress scenario.
func (r *StressScenarioRepository) ListActive(ctx context.Context) ([]domain.StressScenario, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, kind, config, active FROM stress_test_scenarios WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active stress scenarios: %w", err)
	}
	defer rows.Close()

	var out []domain.StressScenario
	for rows.Next() {
		var s domain.StressScenario
		var raw []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Kind, &raw, &s.Active); err != nil {
			return nil, fmt.Errorf("failed to scan stress scenario: %w", err)
		}
		if err := json.Unmarshal(raw, &s.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for stress scenario %q: %w", s.Name, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts or updates a stress scenario by name, used by the JSON
// scenario loader at startup (spec.md §6, STRESS_SCENARIOS_PATH).
func (r *StressScenarioRepository) Upsert(ctx context.Context, name, kind string, cfg domain.StressScenarioConfig, active bool) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config for stress scenario %q: %w", name, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO stress_test_scenarios (id, name, kind, config, active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET kind = EXCLUDED.kind, config = EXCLUDED.config, active = EXCLUDED.active
	`, name, kind, raw, active)
	if err != nil {
		return fmt.Errorf("failed to upsert stress scenario %q: %w", name, err)
	}
	return nil
}

// CompanyProfileRepository reads/writes cached company metadata (sector,
// industry, country) in the company_profiles table. The sector, industry
// and country columns of symbol_universe are not filled from it.
type CompanyProfileRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewCompanyProfileRepository creates a CompanyProfile repository.
func NewCompanyProfileRepository(pool *pgxpool.Pool, log zerolog.Logger) *CompanyProfileRepository {
	return &CompanyProfileRepository{pool: pool, log: log.With().Str("repo", "company_profile").Logger()}
}

// Upsert stores or refreshes a symbol's company profile fields.
func (r *CompanyProfileRepository) Upsert(ctx context.Context, symbol, name, sector, industry, country string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO company_profiles (symbol, name, sector, industry, country, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name, sector = EXCLUDED.sector,
			industry = EXCLUDED.industry, country = EXCLUDED.country, updated_at = now()
	`, symbol, name, sector, industry, country)
	if err != nil {
		return fmt.Errorf("failed to upsert company profile for %s: %w", symbol, err)
	}
	return nil
}

// MissingProfiles filters symbols down to those with no company_profiles row
// yet, so a batch run only spends provider calls enriching new symbols.
func (r *CompanyProfileRepository) MissingProfiles(ctx context.Context, symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT s FROM unnest($1::text[]) AS s
		WHERE NOT EXISTS (SELECT 1 FROM company_profiles WHERE symbol = s)
	`, symbols)
	if err != nil {
		return nil, fmt.Errorf("failed to filter missing company profiles: %w", err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan missing profile symbol: %w", err)
		}
		missing = append(missing, s)
	}
	return missing, rows.Err()
}
