// Package di wires the batch processing core's dependencies: one Postgres
// pool, the provider chain, the calculation engines, the repository layer,
// and the orchestrator that ties them together. Grounded in the teacher's
// internal/di package (constructor-injected Container, single Wire entry
// point), collapsed from its 7-database/dozens-of-services shape down to
// this module's single-pool, single-orchestrator shape.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/calendar"
	"github.com/sigmasight/batch-core/internal/clients/alphavantage"
	"github.com/sigmasight/batch-core/internal/config"
	"github.com/sigmasight/batch-core/internal/database"
	"github.com/sigmasight/batch-core/internal/engines/correlation"
	"github.com/sigmasight/batch-core/internal/engines/factors"
	"github.com/sigmasight/batch-core/internal/engines/greeks"
	"github.com/sigmasight/batch-core/internal/engines/interest"
	"github.com/sigmasight/batch-core/internal/engines/marketvalues"
	"github.com/sigmasight/batch-core/internal/engines/snapshot"
	"github.com/sigmasight/batch-core/internal/engines/stress"
	"github.com/sigmasight/batch-core/internal/events"
	"github.com/sigmasight/batch-core/internal/history"
	"github.com/sigmasight/batch-core/internal/marketdata"
	"github.com/sigmasight/batch-core/internal/orchestrator"
	"github.com/sigmasight/batch-core/internal/providers"
	"github.com/sigmasight/batch-core/internal/repository"
	"github.com/sigmasight/batch-core/internal/scenarios"
	"github.com/sigmasight/batch-core/internal/universe"
	"github.com/sigmasight/batch-core/internal/watermark"
)

// Container holds every wired component cmd/server and cmd/batch need:
// the orchestrator itself, plus the pieces the HTTP surface and CLI reach
// around it for (run history, tracker, raw pool for health checks).
type Container struct {
	DB        *database.DB
	Orch      *orchestrator.Orchestrator
	Runs      *history.Repository
	Track     *history.Tracker
	Events    *events.Bus
	Snapshots *repository.SnapshotRepository
	Calendar  *calendar.NYSE
}

// Close releases the underlying connection pool.
func (c *Container) Close() {
	c.DB.Close()
}

// Wire builds the Container from cfg. It opens the database, applies
// schema migrations, loads the stress-scenario seed file (if configured),
// and constructs the orchestrator's full dependency graph.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(ctx, database.Config{DSN: cfg.DatabaseURL, Name: "batch-core"})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema migrations: %w", err)
	}
	pool := db.Pool()

	portfolioRepo := repository.NewPortfolioRepository(pool, log)
	positionRepo := repository.NewPositionRepository(pool, log)
	factorDefRepo := repository.NewFactorDefinitionRepository(pool, log)
	scenarioRepo := repository.NewStressScenarioRepository(pool, log)
	factorExposureRepo := repository.NewFactorExposureRepository(pool, log)
	correlationRepo := repository.NewCorrelationRepository(pool, log)
	stressResultRepo := repository.NewStressResultRepository(pool, log)
	snapshotRepo := repository.NewSnapshotRepository(pool, log)
	companyProfileRepo := repository.NewCompanyProfileRepository(pool, log)

	if err := scenarios.LoadFromFile(ctx, cfg.StressScenariosPath, scenarioRepo, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load stress scenarios file: %w", err)
	}

	runHistory := history.NewRepository(pool, log)
	tracker := history.NewTracker()
	eventBus := events.NewBus()

	cal := calendar.New()
	cache := marketdata.New(pool, log)
	resolver := universe.New(pool, cfg.FactorETFList, log)
	wm := watermark.New(pool, log)
	chain := buildProviderChain(cfg, log)

	var profileClient *alphavantage.Client
	if key := cfg.ProviderAPIKeys["alphavantage"]; key != "" {
		profileClient = alphavantage.NewClient(key, log)
	}

	deps := orchestrator.Deps{
		Calendar:  cal,
		Resolver:  resolver,
		Cache:     cache,
		Chain:     chain,
		Watermark: wm,

		Portfolios:      portfolioRepo,
		Positions:       positionRepo,
		FactorDefs:      factorDefRepo,
		Scenarios:       scenarioRepo,
		FactorExposures: factorExposureRepo,
		Correlations:    correlationRepo,
		StressResults:   stressResultRepo,
		Snapshots:       snapshotRepo,

		RunHistory: runHistory,
		Tracker:    tracker,
		Events:     eventBus,

		CompanyProfiles: companyProfileRepo,
		ProfileClient:   profileClient,

		GreeksEngine:       greeks.New(log),
		MarketValuesEngine: marketvalues.New(log),
		SymbolFactorEngine: factors.NewSymbolEngine(log),
		AggregationEngine:  factors.NewAggregationEngine(log),
		CorrelationEngine:  correlation.New(log),
		StressEngine:       stress.New(log),
		SnapshotEngine:     snapshot.New(log),
		InterestEngine:     interest.New(log),

		Config: cfg,
	}

	orch := orchestrator.New(deps, log)

	return &Container{DB: db, Orch: orch, Runs: runHistory, Track: tracker, Events: eventBus, Snapshots: snapshotRepo, Calendar: cal}, nil
}

// buildProviderChain constructs one Provider per configured, recognized
// name in cfg.ProviderChainOrder, each rate-limited per
// cfg.ProviderRateLimits. Unrecognized provider names are skipped with a
// warning: only Alpha Vantage has a concrete client in this build (see
// DESIGN.md for the others' status).
func buildProviderChain(cfg *config.Config, log zerolog.Logger) *providers.Chain {
	var chainMembers []providers.Provider
	limiters := make(map[string]*providers.RateLimiter)

	for _, name := range cfg.ProviderChainOrder {
		rate := cfg.ProviderRateLimits[name]
		if rate <= 0 {
			rate = 5
		}
		limiters[name] = providers.NewRateLimiter(rate, rate)

		switch name {
		case "alphavantage":
			client := alphavantage.NewClient(cfg.ProviderAPIKeys["alphavantage"], log)
			chainMembers = append(chainMembers, providers.NewAlphaVantageProvider(client))
		default:
			log.Warn().Str("provider", name).Msg("no client implementation for configured provider; skipping")
		}
	}

	return providers.New(chainMembers, limiters, cfg.MaxProviderConcurrency, log)
}
