// Package orchestrator implements the Batch Orchestrator (spec.md §4.G):
// the two run modes (run_daily_batch_with_backfill, global; and
// run_portfolio_onboarding_backfill, scoped to one portfolio), the strict
// per-date phase ordering invariant, per-portfolio error isolation, and the
// batch_run_history lifecycle (spec.md §4.H) that is never left "running"
// once a run observes its own completion.
//
// Grounded in internal/modules/portfolio/service.go's top-level service
// composition (a single struct holding every collaborator it needs,
// constructor-injected) and internal/providers/chain.go's bounded
// worker-pool shape, reused here to bound per-portfolio concurrency instead
// of per-symbol provider concurrency.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/batcherrors"
	"github.com/sigmasight/batch-core/internal/calendar"
	"github.com/sigmasight/batch-core/internal/clients/alphavantage"
	"github.com/sigmasight/batch-core/internal/config"
	"github.com/sigmasight/batch-core/internal/domain"
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
	"github.com/sigmasight/batch-core/internal/providers"
	"github.com/sigmasight/batch-core/internal/repository"
	"github.com/sigmasight/batch-core/internal/universe"
	"github.com/sigmasight/batch-core/internal/watermark"
)

// Orchestrator composes every collaborator a batch run needs: the trading
// calendar, symbol universe resolver, market data cache and provider chain,
// watermark service, every repository, every calculation engine, and the
// run-history ledger.
type Orchestrator struct {
	cfg *config.Config
	log zerolog.Logger

	calendar   *calendar.NYSE
	resolver   *universe.Resolver
	cache      *marketdata.Cache
	chain      *providers.Chain
	watermark  *watermark.Service

	portfolios       *repository.PortfolioRepository
	positions        *repository.PositionRepository
	factorDefs       *repository.FactorDefinitionRepository
	scenarios        *repository.StressScenarioRepository
	factorExposures  *repository.FactorExposureRepository
	correlations     *repository.CorrelationRepository
	stressResults    *repository.StressResultRepository
	snapshots        *repository.SnapshotRepository

	runHistory      *history.Repository
	tracker         *history.Tracker
	events          *events.Bus
	companyProfiles *repository.CompanyProfileRepository
	profileClient   *alphavantage.Client

	greeksEngine       *greeks.Engine
	marketValuesEngine *marketvalues.Engine
	symbolFactorEngine *factors.SymbolEngine
	aggregationEngine  *factors.AggregationEngine
	correlationEngine  *correlation.Engine
	stressEngine       *stress.Engine
	snapshotEngine     *snapshot.Engine
	interestEngine     *interest.Engine
}

// Deps bundles every collaborator New needs, kept as a struct since the
// orchestrator genuinely depends on the whole stack (spec.md §4.G composes
// every other component).
type Deps struct {
	Config *config.Config

	Calendar  *calendar.NYSE
	Resolver  *universe.Resolver
	Cache     *marketdata.Cache
	Chain     *providers.Chain
	Watermark *watermark.Service

	Portfolios      *repository.PortfolioRepository
	Positions       *repository.PositionRepository
	FactorDefs      *repository.FactorDefinitionRepository
	Scenarios       *repository.StressScenarioRepository
	FactorExposures *repository.FactorExposureRepository
	Correlations    *repository.CorrelationRepository
	StressResults   *repository.StressResultRepository
	Snapshots       *repository.SnapshotRepository

	RunHistory *history.Repository
	Tracker    *history.Tracker
	// Events is optional: a nil bus simply means no SSE subscriber observes
	// this run's lifecycle.
	Events *events.Bus
	// CompanyProfiles and ProfileClient are optional: a nil ProfileClient
	// (no Alpha Vantage API key configured) simply skips company metadata
	// enrichment, which has no bearing on any calculation engine.
	CompanyProfiles *repository.CompanyProfileRepository
	ProfileClient   *alphavantage.Client

	GreeksEngine       *greeks.Engine
	MarketValuesEngine *marketvalues.Engine
	SymbolFactorEngine *factors.SymbolEngine
	AggregationEngine  *factors.AggregationEngine
	CorrelationEngine  *correlation.Engine
	StressEngine       *stress.Engine
	SnapshotEngine     *snapshot.Engine
	InterestEngine     *interest.Engine
}

// New builds an Orchestrator from Deps.
func New(d Deps, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg: d.Config,
		log: log.With().Str("component", "orchestrator").Logger(),

		calendar:  d.Calendar,
		resolver:  d.Resolver,
		cache:     d.Cache,
		chain:     d.Chain,
		watermark: d.Watermark,

		portfolios:      d.Portfolios,
		positions:       d.Positions,
		factorDefs:      d.FactorDefs,
		scenarios:       d.Scenarios,
		factorExposures: d.FactorExposures,
		correlations:    d.Correlations,
		stressResults:   d.StressResults,
		snapshots:       d.Snapshots,

		runHistory:      d.RunHistory,
		tracker:         d.Tracker,
		events:          d.Events,
		companyProfiles: d.CompanyProfiles,
		profileClient:   d.ProfileClient,

		greeksEngine:       d.GreeksEngine,
		marketValuesEngine: d.MarketValuesEngine,
		symbolFactorEngine: d.SymbolFactorEngine,
		aggregationEngine:  d.AggregationEngine,
		correlationEngine:  d.CorrelationEngine,
		stressEngine:       d.StressEngine,
		snapshotEngine:     d.SnapshotEngine,
		interestEngine:     d.InterestEngine,
	}
}

// RunResult summarizes one orchestrator invocation for the caller (CLI,
// cron wrapper, or HTTP trigger).
type RunResult struct {
	BatchRunID        uuid.UUID
	TradingDays       int
	PortfolioJobsOK   int
	PortfolioJobsFail int
}

// RunDailyBatchWithBackfill is the Global-mode entry point (spec.md §4.G):
// it processes every trading day between the system watermark and the most
// recently closed trading day, across every active portfolio lacking a
// snapshot for that day. A gap of any size - one missed day or a month of
// downtime - is closed in the same call, which is what "with_backfill"
// names.
func (o *Orchestrator) RunDailyBatchWithBackfill(ctx context.Context, source domain.BatchRunSource, triggeredBy string) (*RunResult, error) {
	return o.run(ctx, source, triggeredBy, universe.Scope{}, nil)
}

// RunPortfolioOnboardingBackfill is the Scoped-mode entry point (spec.md
// §4.G): it processes one newly onboarded portfolio from its earliest
// position's entry date through the most recently closed trading day,
// without touching any other portfolio's cohort.
func (o *Orchestrator) RunPortfolioOnboardingBackfill(ctx context.Context, portfolioID uuid.UUID, triggeredBy string) (*RunResult, error) {
	return o.run(ctx, domain.SourceOnboarding, triggeredBy, universe.Scope{PortfolioID: portfolioID.String()}, &portfolioID)
}

func (o *Orchestrator) run(ctx context.Context, source domain.BatchRunSource, triggeredBy string, scope universe.Scope, onlyPortfolio *uuid.UUID) (result *RunResult, runErr error) {
	if o.tracker.Snapshot() != nil {
		return nil, batcherrors.ErrRunAlreadyInProgress
	}

	batchRunID := uuid.New()
	o.tracker.Start(batchRunID, 0)
	startedAt := time.Now()
	runLog := o.log.With().Str("batch_run_id", batchRunID.String()).Str("source", string(source)).Logger()

	if err := o.runHistory.Start(ctx, domain.BatchRunHistory{
		BatchRunID:  batchRunID,
		TriggeredBy: triggeredBy,
		Source:      source,
		StartedAt:   startedAt,
	}); err != nil {
		o.tracker.Finish()
		return nil, fmt.Errorf("failed to record batch run start: %w", err)
	}
	o.publish(events.RunStartedData{BatchRunID: batchRunID.String(), Source: string(source)})

	successful, failed := 0, 0
	var finalErr error

	defer func() {
		status := domain.BatchCompleted
		summary := ""
		if finalErr != nil {
			status = domain.BatchFailed
			summary = finalErr.Error()
		}
		if err := o.runHistory.Finish(ctx, batchRunID, status, successful, failed, summary); err != nil {
			runLog.Error().Err(err).Msg("failed to record batch run completion; run history row left stale")
		}
		o.tracker.Finish()
		o.publish(events.RunCompletedData{BatchRunID: batchRunID.String(), Status: string(status), Successful: successful, Failed: failed})
	}()

	start, end, err := o.resolveDateRange(ctx, onlyPortfolio)
	if err != nil {
		finalErr = err
		return nil, err
	}

	tradingDays := o.calendar.EnumerateTradingDays(start, end)
	if len(tradingDays) == 0 {
		runLog.Info().Msg("no trading days to process; watermark already current")
		return &RunResult{BatchRunID: batchRunID}, nil
	}

	symbols, err := o.resolver.Resolve(ctx, scope)
	if err != nil {
		finalErr = fmt.Errorf("failed to resolve symbol universe: %w", err)
		return nil, finalErr
	}

	o.enrichCompanyProfiles(ctx, runLog, symbols)

	ingestStart := tradingDays[0].AddDate(0, 0, -o.cfg.FactorLookbackDays*2)
	if err := o.ingestMarketData(ctx, symbols, ingestStart, end); err != nil {
		runLog.Warn().Err(err).Msg("market data ingestion encountered errors; continuing with whatever is cached")
	}

	factorDefs, err := o.factorDefs.ListActive(ctx)
	if err != nil {
		finalErr = fmt.Errorf("failed to load factor definitions: %w", err)
		return nil, finalErr
	}
	activeScenarios, err := o.scenarios.ListActive(ctx)
	if err != nil {
		finalErr = fmt.Errorf("failed to load stress scenarios: %w", err)
		return nil, finalErr
	}

	var allCandidates []uuid.UUID
	if onlyPortfolio != nil {
		allCandidates = []uuid.UUID{*onlyPortfolio}
	} else {
		allCandidates, err = o.watermark.ActivePortfolios(ctx)
		if err != nil {
			finalErr = fmt.Errorf("failed to list active portfolios: %w", err)
			return nil, finalErr
		}
	}

	o.tracker.Start(batchRunID, len(allCandidates)*len(tradingDays))
	runLog.Info().Int("trading_days", len(tradingDays)).Int("candidate_portfolios", len(allCandidates)).Msg("starting batch run")

	for _, date := range tradingDays {
		select {
		case <-ctx.Done():
			finalErr = ctx.Err()
			return nil, finalErr
		default:
		}

		haveSnapshot, err := o.watermark.PortfoliosWithSnapshot(ctx, date)
		if err != nil {
			runLog.Error().Err(err).Time("date", date).Msg("failed to compute per-date cohort; skipping date")
			continue
		}
		cohort := watermark.Cohort(allCandidates, haveSnapshot)
		if len(cohort) == 0 {
			continue
		}

		phase := fmt.Sprintf("date:%s", date.Format("2006-01-02"))
		o.tracker.AdvancePhase(phase)
		o.publish(events.PhaseStartedData{BatchRunID: batchRunID.String(), Phase: phase})
		ok, fail := o.runDate(ctx, runLog, batchRunID, date, cohort, factorDefs, activeScenarios)
		successful += ok
		failed += fail
	}

	runLog.Info().Int("successful", successful).Int("failed", failed).Msg("batch run complete")
	return &RunResult{BatchRunID: batchRunID, TradingDays: len(tradingDays), PortfolioJobsOK: successful, PortfolioJobsFail: failed}, nil
}

// resolveDateRange computes [start, end] for the run: end is the most
// recently closed trading day. In Global mode start is the day after the
// system watermark, or on a cold system the earliest active entry date
// itself; in Scoped mode start is that portfolio's earliest position entry
// date, inclusive, whatever snapshots the portfolio already has.
func (o *Orchestrator) resolveDateRange(ctx context.Context, onlyPortfolio *uuid.UUID) (start, end time.Time, err error) {
	end = lastClosedTradingDay(o.calendar, time.Now())

	if onlyPortfolio != nil {
		earliest, err := o.positions.EarliestEntryDate(ctx, *onlyPortfolio)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to resolve onboarding start date: %w", err)
		}
		return earliest, end, nil
	}

	watermarkDate, ok, err := o.watermark.SystemWatermark(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to compute system watermark: %w", err)
	}
	if !ok {
		// Cold start: no portfolio has a snapshot yet, so the watermark
		// value is the earliest active entry date itself, inclusive.
		return watermarkDate, end, nil
	}
	return watermarkDate.AddDate(0, 0, 1), end, nil
}

// lastClosedTradingDay returns the most recent trading day on or before asOf.
func lastClosedTradingDay(cal *calendar.NYSE, asOf time.Time) time.Time {
	d := asOf
	for i := 0; i < 14; i++ {
		if cal.IsTradingDay(d) {
			return truncateToDate(d)
		}
		d = d.AddDate(0, 0, -1)
	}
	return truncateToDate(asOf)
}

// previousTradingDay returns the trading day strictly before d.
func previousTradingDay(cal *calendar.NYSE, d time.Time) time.Time {
	c := d.AddDate(0, 0, -1)
	for i := 0; i < 14; i++ {
		if cal.IsTradingDay(c) {
			return truncateToDate(c)
		}
		c = c.AddDate(0, 0, -1)
	}
	return truncateToDate(c)
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// publish is a nil-safe wrapper: most deployments (and all tests) run
// without an events.Bus wired in.
func (o *Orchestrator) publish(data events.EventData) {
	if o.events == nil {
		return
	}
	o.events.Publish(data, time.Now())
}

// enrichCompanyProfiles fetches sector/industry/country metadata for every
// universe symbol without a cached profile yet. This is a diagnostic
// side effect, not a batch dependency: no calculation engine reads
// company_profiles, so a fetch failure here is logged and otherwise
// ignored rather than failing the run.
func (o *Orchestrator) enrichCompanyProfiles(ctx context.Context, log zerolog.Logger, symbols []string) {
	if o.companyProfiles == nil || o.profileClient == nil {
		return
	}
	missing, err := o.companyProfiles.MissingProfiles(ctx, symbols)
	if err != nil {
		log.Warn().Err(err).Msg("failed to determine symbols needing company profile enrichment")
		return
	}
	for _, symbol := range missing {
		overview, err := o.profileClient.FetchCompanyOverview(ctx, symbol)
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("company overview unavailable")
			continue
		}
		if err := o.companyProfiles.Upsert(ctx, symbol, overview.Name, overview.Sector, overview.Industry, overview.Country); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("failed to persist company profile")
		}
	}
}

func (o *Orchestrator) ingestMarketData(ctx context.Context, symbols []string, start, end time.Time) error {
	if len(symbols) == 0 {
		return nil
	}
	result, err := o.chain.FetchOHLCV(ctx, symbols, start, end)
	if err != nil {
		return fmt.Errorf("provider chain fetch failed: %w", err)
	}
	rows := marketdata.FromProviderRows(result.RowsBySymbol, time.Now())
	if err := o.cache.UpsertRows(ctx, rows); err != nil {
		return fmt.Errorf("failed to persist ingested market data: %w", err)
	}
	if len(result.UnavailableSymbols) > 0 {
		o.log.Warn().Strs("unavailable", result.UnavailableSymbols).Msg("some universe symbols unavailable from every provider")
		if missing := intersect(result.UnavailableSymbols, o.cfg.FactorETFList); len(missing) > 0 {
			// A missing factor ETF degrades every downstream phase that
			// regresses against it (symbol factors, factor correlations,
			// stress), not just one position - worth a distinct sentinel
			// even though the caller still treats this as a soft failure.
			return fmt.Errorf("factor ETFs %v: %w", missing, batcherrors.ErrProviderExhausted)
		}
	}
	return nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
