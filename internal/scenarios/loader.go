// Package scenarios loads the optional external stress-scenario JSON file
// named by STRESS_SCENARIOS_PATH (spec.md §6), upserting it over the
// schema's seeded default library. Grounded in internal/config's env-driven
// loading idiom, adapted to a JSON-file input rather than environment
// variables.
package scenarios

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// ScenarioRepository is the subset of repository.StressScenarioRepository
// the loader needs, kept narrow so tests can fake it.
type ScenarioRepository interface {
	Upsert(ctx context.Context, name, kind string, cfg domain.StressScenarioConfig, active bool) error
}

// fileScenario mirrors one entry in the STRESS_SCENARIOS_PATH JSON array.
type fileScenario struct {
	Name                   string             `json:"name"`
	Kind                   string             `json:"kind"`
	FactorShocks           map[string]float64 `json:"factor_shocks"`
	SpreadFactorsCorrelate bool               `json:"spread_factors_correlate"`
	Active                 *bool              `json:"active"`
}

// LoadFromFile reads path as a JSON array of scenarios and upserts each into
// repo. A missing path is not an error: the schema's seeded defaults
// (002_seed.sql) stand alone in that case.
func LoadFromFile(ctx context.Context, path string, repo ScenarioRepository, log zerolog.Logger) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("stress scenarios file not found; using seeded defaults only")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read stress scenarios file %s: %w", path, err)
	}

	var entries []fileScenario
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("failed to decode stress scenarios file %s: %w", path, err)
	}

	for _, e := range entries {
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		cfg := domain.StressScenarioConfig{
			FactorShocks:           e.FactorShocks,
			SpreadFactorsCorrelate: e.SpreadFactorsCorrelate,
		}
		if err := repo.Upsert(ctx, e.Name, e.Kind, cfg, active); err != nil {
			return fmt.Errorf("failed to upsert stress scenario %q from %s: %w", e.Name, path, err)
		}
	}

	log.Info().Str("path", path).Int("count", len(entries)).Msg("loaded stress scenarios from file")
	return nil
}
