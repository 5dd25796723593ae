package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/batcherrors"
	"github.com/sigmasight/batch-core/internal/domain"
	"github.com/sigmasight/batch-core/internal/engines/correlation"
	"github.com/sigmasight/batch-core/internal/events"
	"github.com/sigmasight/batch-core/internal/engines/factors"
	"github.com/sigmasight/batch-core/internal/engines/greeks"
	"github.com/sigmasight/batch-core/internal/engines/interest"
	"github.com/sigmasight/batch-core/internal/engines/marketvalues"
	"github.com/sigmasight/batch-core/internal/engines/stress"
)

// symbolFactorCache holds this date's computed-or-loaded per-symbol betas,
// shared read/write across the portfolios processed concurrently for one
// date so a symbol held by several portfolios is normally regressed once.
// The lock is not held during a regression, so two portfolios processed at
// the same moment can both regress a symbol that neither found cached.
type symbolFactorCache struct {
	mu       sync.Mutex
	betas    map[string]map[uuid.UUID]float64
	dataDays map[string]int
}

// runDate processes every portfolio in cohort for one calculation date,
// following the strict phase ordering invariant (spec.md §4.G): Greeks,
// Market Values, Symbol-Level Factors, Factor Aggregation, Correlations,
// Stress Tests, Position Interest, then the Snapshot that durably marks the
// date done. Each portfolio is isolated from its siblings' failures.
func (o *Orchestrator) runDate(ctx context.Context, log zerolog.Logger, batchRunID uuid.UUID, date time.Time, cohort []uuid.UUID, factorDefs []domain.FactorDefinition, scenarios []domain.StressScenario) (ok, fail int) {
	factorReturns := o.loadFactorReturns(ctx, factorDefs, date)
	factorCorrelations := o.computeFactorCorrelations(date, factorDefs, factorReturns)

	existingBetas, existingDataDays, err := o.factorExposures.SymbolExposuresOn(ctx, date)
	if err != nil {
		log.Warn().Err(err).Time("date", date).Msg("failed to preload existing symbol factor exposures; will recompute")
		existingBetas, existingDataDays = map[string]map[uuid.UUID]float64{}, map[string]int{}
	}
	cache := &symbolFactorCache{betas: existingBetas, dataDays: existingDataDays}

	concurrency := o.cfg.MaxPortfolioConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobs := make(chan uuid.UUID, len(cohort))
	results := make(chan bool, len(cohort))

	worker := func() {
		for portfolioID := range jobs {
			err := o.processPortfolio(ctx, portfolioID, date, factorDefs, scenarios, factorReturns, factorCorrelations, cache)
			if err != nil {
				log.Error().Err(err).Str("portfolio_id", portfolioID.String()).Time("date", date).Msg("portfolio batch job failed; isolated from the rest of the cohort")
				o.tracker.RecordPortfolioDone(true)
				o.publish(events.PortfolioProcessedData{BatchRunID: batchRunID.String(), PortfolioID: portfolioID.String(), Failed: true})
				results <- false
				continue
			}
			o.tracker.RecordPortfolioDone(false)
			o.publish(events.PortfolioProcessedData{BatchRunID: batchRunID.String(), PortfolioID: portfolioID.String(), Failed: false})
			results <- true
		}
	}

	for i := 0; i < concurrency; i++ {
		go worker()
	}
	for _, id := range cohort {
		jobs <- id
	}
	close(jobs)

	for range cohort {
		if <-results {
			ok++
		} else {
			fail++
		}
	}
	return ok, fail
}

// processPortfolio runs the full per-date phase pipeline for one portfolio.
func (o *Orchestrator) processPortfolio(
	ctx context.Context,
	portfolioID uuid.UUID,
	date time.Time,
	factorDefs []domain.FactorDefinition,
	scenarios []domain.StressScenario,
	factorReturns map[uuid.UUID]factors.ReturnSeries,
	factorCorrelations map[string]float64,
	cache *symbolFactorCache,
) error {
	portfolio, err := o.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}

	positions, err := o.positions.ActiveOn(ctx, portfolioID, date)
	if err != nil {
		return fmt.Errorf("failed to load active positions: %w", err)
	}

	o.runGreeks(ctx, portfolioID, date, positions)

	values, exposure := o.runMarketValues(ctx, date, positions)

	factorValuesByPosition := o.runSymbolFactors(ctx, date, positions, factorReturns, cache)

	positionInputs := make([]factors.PositionInput, 0, len(positions))
	valueByPosition := make(map[uuid.UUID]float64, len(values))
	for _, v := range values {
		valueByPosition[v.PositionID] = v.MarketValue
	}
	for _, pos := range positions {
		betas := factorValuesByPosition[pos.Symbol]
		positionInputs = append(positionInputs, factors.PositionInput{
			PositionID:      pos.ID,
			Symbol:          pos.Symbol,
			InvestmentClass: pos.InvestmentClass,
			SignedExposure:  valueByPosition[pos.ID],
			Betas:           betas,
			DataDays:        cache.dataDaysFor(pos.Symbol),
		})
	}

	portfolioExposures, _ := o.aggregationEngine.Compute(portfolioID, date, positionInputs, factorDefs)
	if len(portfolioExposures) > 0 {
		if err := o.factorExposures.UpsertPortfolioExposures(ctx, portfolioExposures); err != nil {
			return fmt.Errorf("failed to persist portfolio factor exposures: %w", err)
		}
		if err := o.persistPositionFactorExposures(ctx, date, positions, factorValuesByPosition); err != nil {
			return fmt.Errorf("failed to persist position factor exposures: %w", err)
		}
	}

	if err := o.runCorrelations(ctx, portfolioID, date, positions, values); err != nil {
		return fmt.Errorf("failed to compute correlations: %w", err)
	}

	if err := o.runStressTests(ctx, portfolioID, date, portfolio, positions, values, portfolioExposures, factorDefs, factorCorrelations, scenarios); err != nil {
		return fmt.Errorf("failed to run stress tests: %w", err)
	}

	o.runInterestAccrual(date, positions)

	return o.runSnapshot(ctx, portfolioID, date, portfolio, values, exposure)
}

// runGreeks computes Black-Scholes greeks for OPTIONS positions. Results are
// diagnostic only: spec.md's data model has no per-position greeks table, so
// this phase logs a portfolio-level delta exposure summary rather than
// persisting individual rows (see DESIGN.md).
func (o *Orchestrator) runGreeks(ctx context.Context, portfolioID uuid.UUID, date time.Time, positions []domain.Position) {
	var inputs []greeks.Inputs
	for _, pos := range positions {
		if pos.InvestmentClass != domain.ClassOptions || pos.UnderlyingSymbol == nil {
			continue
		}
		in := greeks.Inputs{Position: pos, CalculationDate: date, RiskFreeRate: o.cfg.RiskFreeRate}
		if row, err := o.cache.PricesOn(ctx, *pos.UnderlyingSymbol, date); err == nil && row != nil {
			spot := row.Close
			in.UnderlyingSpot = &spot
		}
		if iv, err := o.realizedVolatility(ctx, *pos.UnderlyingSymbol, date); err == nil {
			in.ImpliedVolatility = &iv
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		return
	}

	results := o.greeksEngine.Compute(inputs)
	var totalDelta float64
	for _, r := range results {
		if r.Delta != nil {
			totalDelta += *r.Delta
		}
	}
	o.log.Debug().Str("portfolio_id", portfolioID.String()).Float64("aggregate_delta", totalDelta).Int("options_positions", len(inputs)).Msg("computed greeks")
}

// realizedVolatility estimates annualized volatility from daily returns over
// VolatilityLookbackDays trading days, used as the Greeks engine's implied
// volatility proxy (see DESIGN.md: no options-chain IV feed exists here).
func (o *Orchestrator) realizedVolatility(ctx context.Context, symbol string, date time.Time) (float64, error) {
	start := date.AddDate(0, 0, -calendarDaysFor(o.cfg.VolatilityLookbackDays))
	_, returns, err := o.cache.DailyReturns(ctx, symbol, start, date)
	if err != nil {
		return 0, err
	}
	if len(returns) > o.cfg.VolatilityLookbackDays {
		returns = returns[len(returns)-o.cfg.VolatilityLookbackDays:]
	}
	if len(returns) < 2 {
		return 0, fmt.Errorf("%s: %w", symbol, batcherrors.ErrInsufficientHistory)
	}
	return annualizedStdDev(returns), nil
}

func annualizedStdDev(returns []float64) float64 {
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(252)
}

func (o *Orchestrator) runMarketValues(ctx context.Context, date time.Time, positions []domain.Position) ([]domain.PositionMarketValue, marketvalues.PortfolioExposure) {
	prior := previousTradingDay(o.calendar, date)

	currentPrice := func(pos domain.Position) (float64, bool) {
		row, err := o.cache.PricesOn(ctx, pos.Symbol, date)
		if err != nil || row == nil {
			return 0, false
		}
		return row.Close, true
	}
	priorClose := func(pos domain.Position) (float64, bool) {
		row, err := o.cache.PricesOn(ctx, pos.Symbol, prior)
		if err != nil || row == nil {
			return 0, false
		}
		return row.Close, true
	}

	return o.marketValuesEngine.Compute(positions, currentPrice, priorClose)
}

// runSymbolFactors computes (or reuses, via cache) the symbol-level factor
// betas for every distinct PUBLIC symbol held in positions, and returns a
// per-symbol beta map for the aggregation phase. Betas for a symbol already
// computed earlier in this date's run (by another portfolio sharing the
// symbol, or already persisted from a prior attempt) are reused rather than
// recomputed.
func (o *Orchestrator) runSymbolFactors(ctx context.Context, date time.Time, positions []domain.Position, factorReturns map[uuid.UUID]factors.ReturnSeries, cache *symbolFactorCache) map[string]map[uuid.UUID]float64 {
	out := make(map[string]map[uuid.UUID]float64)

	seen := make(map[string]bool)
	var toPersist []domain.SymbolFactorExposure

	for _, pos := range positions {
		if pos.InvestmentClass != domain.ClassPublic || seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true

		if betas, ok := cache.get(pos.Symbol); ok {
			out[pos.Symbol] = betas
			continue
		}

		lookbackCalendarDays := calendarDaysFor(o.cfg.FactorLookbackDays)
		dates, returns, err := o.cache.DailyReturns(ctx, pos.Symbol, date.AddDate(0, 0, -lookbackCalendarDays), date)
		if err != nil {
			o.log.Debug().Err(err).Str("symbol", pos.Symbol).Msg("failed to load return history for symbol factor regression")
			continue
		}

		exposures, insufficient := o.symbolFactorEngine.Compute(pos.Symbol, date, factors.ReturnSeries{Dates: dates, Returns: returns}, factorReturns)
		if insufficient {
			continue
		}

		betas := make(map[uuid.UUID]float64, len(exposures))
		minDays := exposures[0].DataDays
		for _, e := range exposures {
			betas[e.FactorID] = e.Beta
			if e.DataDays < minDays {
				minDays = e.DataDays
			}
		}
		cache.set(pos.Symbol, betas, minDays)
		out[pos.Symbol] = betas
		toPersist = append(toPersist, exposures...)
	}

	if len(toPersist) > 0 {
		if err := o.factorExposures.UpsertSymbolExposures(ctx, toPersist); err != nil {
			o.log.Error().Err(err).Msg("failed to persist newly computed symbol factor exposures")
		}
	}

	return out
}

func (o *Orchestrator) persistPositionFactorExposures(ctx context.Context, date time.Time, positions []domain.Position, betasBySymbol map[string]map[uuid.UUID]float64) error {
	var out []domain.PositionFactorExposure
	for _, pos := range positions {
		betas, ok := betasBySymbol[pos.Symbol]
		if !ok {
			continue
		}
		for factorID, beta := range betas {
			out = append(out, domain.PositionFactorExposure{
				PositionID:      pos.ID,
				CalculationDate: date,
				FactorID:        factorID,
				Beta:            beta,
			})
		}
	}
	return o.factorExposures.UpsertPositionExposures(ctx, out)
}

func (o *Orchestrator) runCorrelations(ctx context.Context, portfolioID uuid.UUID, date time.Time, positions []domain.Position, values []domain.PositionMarketValue) error {
	valueBySymbol := make(map[string]float64)
	for i, pos := range positions {
		if pos.InvestmentClass != domain.ClassPublic {
			continue
		}
		valueBySymbol[pos.Symbol] += math.Abs(values[i].MarketValue)
	}

	lookbackCalendarDays := calendarDaysFor(o.cfg.CorrelationWindowDays)
	var inputs []correlation.SymbolInput
	for symbol, gross := range valueBySymbol {
		dates, returns, err := o.cache.DailyReturns(ctx, symbol, date.AddDate(0, 0, -lookbackCalendarDays), date)
		if err != nil || len(returns) == 0 {
			continue
		}
		inputs = append(inputs, correlation.SymbolInput{Symbol: symbol, Dates: dates, Returns: returns, GrossMarketValue: gross})
	}

	calc := o.correlationEngine.Compute(portfolioID, date, o.cfg.CorrelationWindowDays, inputs)
	return o.correlations.Upsert(ctx, calc)
}

func (o *Orchestrator) runStressTests(
	ctx context.Context,
	portfolioID uuid.UUID,
	date time.Time,
	portfolio *domain.Portfolio,
	positions []domain.Position,
	values []domain.PositionMarketValue,
	portfolioExposures []domain.FactorExposure,
	factorDefs []domain.FactorDefinition,
	factorCorrelations map[string]float64,
	scenarios []domain.StressScenario,
) error {
	factorNameByID := make(map[uuid.UUID]string, len(factorDefs))
	for _, fd := range factorDefs {
		factorNameByID[fd.ID] = fd.Name
	}

	exposureDollar := make(map[string]float64, len(portfolioExposures))
	for _, e := range portfolioExposures {
		if name, ok := factorNameByID[e.FactorID]; ok {
			exposureDollar[name] = e.ExposureDollar
		}
	}

	var baseline float64
	for _, v := range values {
		baseline += v.MarketValue
	}
	baseline += portfolio.EquityBalance

	input := stress.PortfolioExposureInput{
		PortfolioID:        portfolioID,
		BaselineValue:      baseline,
		ExposureDollar:      exposureDollar,
		FactorCorrelations: factorCorrelations,
	}

	results, _ := o.stressEngine.Compute(input, scenarios, date)
	if len(results) == 0 {
		return nil
	}
	return o.stressResults.UpsertAll(ctx, results)
}

// runInterestAccrual accrues simple interest for BOND positions. Like
// Greeks, this is logged only: spec.md's data model carries no accrued
// interest column (see DESIGN.md), and the domain model itself lacks
// explicit coupon-rate/face-value fields, so a configured default coupon
// rate stands in for real bond terms.
func (o *Orchestrator) runInterestAccrual(date time.Time, positions []domain.Position) {
	var inputs []interest.AccrualInput
	for _, pos := range positions {
		if pos.InvestmentClass != domain.ClassPublic || pos.InvestmentSubtype != "BOND" {
			continue
		}
		inputs = append(inputs, interest.AccrualInput{
			PositionID:   pos.ID,
			FaceValue:    math.Abs(pos.Quantity) * pos.EntryPrice,
			CouponRate:   o.cfg.DefaultBondCouponRate,
			AccrualStart: pos.EntryDate,
			AsOf:         date,
		})
	}
	if len(inputs) == 0 {
		return
	}

	results := o.interestEngine.Compute(inputs)
	var total float64
	for _, r := range results {
		total += r.AccruedInterest
	}
	o.log.Debug().Int("bond_positions", len(inputs)).Float64("total_accrued_interest", total).Msg("computed position interest accrual")
}

func (o *Orchestrator) runSnapshot(ctx context.Context, portfolioID uuid.UUID, date time.Time, portfolio *domain.Portfolio, values []domain.PositionMarketValue, exposure marketvalues.PortfolioExposure) error {
	priorTotal, err := o.snapshots.PriorTotalValue(ctx, portfolioID, date)
	if err != nil {
		return err
	}

	s := o.snapshotEngine.Build(portfolioID, date, portfolio.EquityBalance, values, exposure.Long, exposure.Short, exposure.Gross, exposure.Net, priorTotal)
	return o.snapshots.Upsert(ctx, s)
}

// loadFactorReturns fetches each active factor's ETF daily return history
// for the configured lookback window ending on date.
func (o *Orchestrator) loadFactorReturns(ctx context.Context, factorDefs []domain.FactorDefinition, date time.Time) map[uuid.UUID]factors.ReturnSeries {
	lookbackCalendarDays := calendarDaysFor(o.cfg.FactorLookbackDays)
	out := make(map[uuid.UUID]factors.ReturnSeries, len(factorDefs))
	for _, fd := range factorDefs {
		dates, returns, err := o.cache.DailyReturns(ctx, fd.ETFSymbol, date.AddDate(0, 0, -lookbackCalendarDays), date)
		if err != nil || len(returns) == 0 {
			continue
		}
		out[fd.ID] = factors.ReturnSeries{Dates: dates, Returns: returns}
	}
	return out
}

// computeFactorCorrelations runs the Correlations engine over factor ETF
// returns instead of position returns, producing the factor-pair
// correlation map the Stress Tests engine uses to propagate shocks when a
// scenario's SpreadFactorsCorrelate is true.
func (o *Orchestrator) computeFactorCorrelations(date time.Time, factorDefs []domain.FactorDefinition, factorReturns map[uuid.UUID]factors.ReturnSeries) map[string]float64 {
	var inputs []correlation.SymbolInput
	for _, fd := range factorDefs {
		series, ok := factorReturns[fd.ID]
		if !ok {
			continue
		}
		inputs = append(inputs, correlation.SymbolInput{Symbol: fd.Name, Dates: series.Dates, Returns: series.Returns, GrossMarketValue: 1})
	}

	calc := o.correlationEngine.Compute(uuid.Nil, date, o.cfg.CorrelationWindowDays, inputs)

	out := make(map[string]float64, len(calc.Pairwise))
	for _, pc := range calc.Pairwise {
		out[pc.SymbolA+"|"+pc.SymbolB] = pc.Correlation
	}
	return out
}

func calendarDaysFor(tradingDays int) int {
	return int(float64(tradingDays)*1.6) + 30
}

func (c *symbolFactorCache) get(symbol string) (map[uuid.UUID]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	betas, ok := c.betas[symbol]
	return betas, ok
}

func (c *symbolFactorCache) set(symbol string, betas map[uuid.UUID]float64, dataDays int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.betas == nil {
		c.betas = make(map[string]map[uuid.UUID]float64)
	}
	if c.dataDays == nil {
		c.dataDays = make(map[string]int)
	}
	c.betas[symbol] = betas
	c.dataDays[symbol] = dataDays
}

func (c *symbolFactorCache) dataDaysFor(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataDays[symbol]
}
