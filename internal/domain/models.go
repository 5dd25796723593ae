// Package domain holds the core data types shared across the batch processing
// core: portfolios, positions, market data, and the calculation outputs each
// engine produces.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates the kinds of account a Portfolio can represent.
type AccountType string

const (
	AccountTaxable AccountType = "taxable"
	AccountIRA     AccountType = "ira"
	AccountRothIRA AccountType = "roth_ira"
	Account401k    AccountType = "401k"
	Account403b    AccountType = "403b"
	Account529     AccountType = "529"
	AccountHSA     AccountType = "hsa"
	AccountTrust   AccountType = "trust"
	AccountOther   AccountType = "other"
)

// InvestmentClass constrains what fields a Position carries and which
// engines may analyze it.
type InvestmentClass string

const (
	ClassPublic  InvestmentClass = "PUBLIC"
	ClassOptions InvestmentClass = "OPTIONS"
	ClassPrivate InvestmentClass = "PRIVATE"
)

// OptionType distinguishes calls from puts for OPTIONS positions.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Portfolio is owned by exactly one user and holds a set of Positions.
type Portfolio struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountName   string
	AccountType   AccountType
	EquityBalance float64
	CreatedAt     time.Time
}

// Position is immutable once created except for its optional exit fields.
// (portfolio_id, symbol, entry_date) is unique; the sign of Quantity
// determines long (positive) vs short (negative).
type Position struct {
	ID                uuid.UUID
	PortfolioID       uuid.UUID
	Symbol            string
	Quantity          float64
	EntryPrice        float64
	EntryDate         time.Time
	InvestmentClass   InvestmentClass
	InvestmentSubtype string

	// OPTIONS-only fields; all four are present together or none are (per
	// spec.md §3's "carry the four option fields atomically" invariant).
	UnderlyingSymbol *string
	StrikePrice      *float64
	ExpirationDate    *time.Time
	OptionType        *OptionType

	ExitDate  *time.Time
	ExitPrice *float64
}

// IsActive reports whether the position is still open on date d.
func (p *Position) IsActive(d time.Time) bool {
	if p.ExitDate == nil {
		return !p.EntryDate.After(d)
	}
	return !p.EntryDate.After(d) && p.ExitDate.After(d)
}

// IsLong reports whether the position is a long (vs short) holding.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// SymbolUniverseEntry is a symbol the system has committed to tracking.
// Never deleted once inserted.
type SymbolUniverseEntry struct {
	Symbol       string
	EarliestDate *time.Time
	LatestDate   *time.Time
	Sector       string
	Industry     string
	Country      string
}

// MarketDataRow is a single (symbol, date) OHLCV observation. Its presence
// means "we believe this is the authoritative close for that symbol on that
// date" (spec.md §3).
type MarketDataRow struct {
	Symbol         string
	Date           time.Time
	Open           *float64
	High           *float64
	Low            *float64
	Close          float64
	AdjustedClose  *float64
	Volume         *int64
	SourceProvider string
	IngestedAt     time.Time
}

// DataQualityFlag names why, or how completely, a calculation ran.
type DataQualityFlag string

const (
	FlagFullHistory        DataQualityFlag = "full_history"
	FlagLimitedHistory     DataQualityFlag = "limited_history"
	FlagNoPublicPositions  DataQualityFlag = "no_public_positions"
	FlagNoFactorExposures  DataQualityFlag = "no_factor_exposures"
	FlagInsufficientData   DataQualityFlag = "insufficient_data"
	FlagNoCalculations     DataQualityFlag = "NO_CALCULATIONS"
	FlagInsufficientHist   DataQualityFlag = "insufficient_history"
)

// DataQuality accompanies skip payloads and, optionally, successful
// calculations (spec.md §6's HTTP response shape and §9's eager-vs-null
// open question).
type DataQuality struct {
	Flag               DataQualityFlag `json:"flag"`
	Message            string          `json:"message"`
	PositionsAnalyzed  *int            `json:"positions_analyzed,omitempty"`
	PositionsTotal     *int            `json:"positions_total,omitempty"`
	PositionsSkipped   *int            `json:"positions_skipped,omitempty"`
	DataDays           *int            `json:"data_days,omitempty"`
}

// FactorDefinition is global configuration: a factor and the ETF used as its
// return proxy. Loaded once, treated as immutable input.
type FactorDefinition struct {
	ID        uuid.UUID
	Name      string
	ETFSymbol string
	Active    bool
}

// SymbolFactorExposure is the per-symbol beta produced by Phase 1.5.
type SymbolFactorExposure struct {
	Symbol           string
	CalculationDate  time.Time
	FactorID         uuid.UUID
	Beta             float64
	DataDays         int
}

// PositionFactorExposure is the per-position beta derived from the owning
// symbol's SymbolFactorExposure.
type PositionFactorExposure struct {
	PositionID      uuid.UUID
	CalculationDate time.Time
	FactorID        uuid.UUID
	Beta            float64
}

// FactorExposure is the portfolio-level aggregate produced by Phase 2.
type FactorExposure struct {
	PortfolioID     uuid.UUID
	CalculationDate time.Time
	FactorID        uuid.UUID
	ExposureValue   float64
	ExposureDollar  float64
	DataQuality     *DataQuality
}

// PairwiseCorrelation is a single symbol-pair row within a
// CorrelationCalculation. SymbolA < SymbolB lexicographically; self
// correlation is never stored here (it is always exactly 1.0 by definition).
type PairwiseCorrelation struct {
	SymbolA     string
	SymbolB     string
	Correlation float64
}

// CorrelationCalculation is the per-portfolio, per-duration correlation
// matrix summary.
type CorrelationCalculation struct {
	ID                  uuid.UUID
	PortfolioID         uuid.UUID
	CalculationDate     time.Time
	DurationDays        int
	AverageCorrelation  *float64
	Pairwise            []PairwiseCorrelation
	DataQuality         *DataQuality
}

// StressScenario is a named shock definition, loaded from the stress
// scenario JSON config (spec.md §6).
type StressScenario struct {
	ID     uuid.UUID
	Name   string
	Kind   string // "historical" | "hypothetical"
	Config StressScenarioConfig
	Active bool
}

// StressScenarioConfig carries the per-factor shocks (as fractional moves)
// that define a scenario, plus the spread-factor-correlation toggle left as
// an open question in spec.md §9.
type StressScenarioConfig struct {
	FactorShocks          map[string]float64 `json:"factor_shocks"`
	SpreadFactorsCorrelate bool               `json:"spread_factors_correlate"`
}

// StressTestResult is the per-portfolio, per-scenario P&L outcome.
// CorrelatedPnL is the authoritative field for reporting (spec.md §4.E.6).
type StressTestResult struct {
	PortfolioID      uuid.UUID
	ScenarioID       uuid.UUID
	CalculationDate  time.Time
	DirectPnL        *float64
	CorrelatedPnL    *float64
	ScenarioMetadata map[string]interface{}
	DataQuality      *DataQuality
}

// PortfolioSnapshot is the durable "date D is done" marker for a portfolio.
type PortfolioSnapshot struct {
	PortfolioID    uuid.UUID
	SnapshotDate   time.Time
	TotalValue     float64
	CashBalance    float64
	LongExposure   float64
	ShortExposure  float64
	GrossExposure  float64
	NetExposure    float64
	DailyReturn    *float64
	PositionCount  int
}

// PositionGreeks holds the Black-Scholes outputs for one OPTIONS position on
// one date. A nil field set (all pointers nil) represents a fails-soft skip.
type PositionGreeks struct {
	PositionID uuid.UUID
	Delta      *float64
	Gamma      *float64
	Theta      *float64
	Vega       *float64
	Rho        *float64
}

// PositionMarketValue is the per-position output of the Market Values engine.
type PositionMarketValue struct {
	PositionID      uuid.UUID
	CurrentPrice    float64
	UsedFallback    bool // true when CurrentPrice came from EntryPrice, not the cache
	MarketValue     float64
	UnrealizedPL    float64
	DayChange       float64
}

// BatchRunStatus enumerates the lifecycle states of a batch invocation.
type BatchRunStatus string

const (
	BatchRunning   BatchRunStatus = "running"
	BatchCompleted BatchRunStatus = "completed"
	BatchFailed    BatchRunStatus = "failed"
	BatchCancelled BatchRunStatus = "cancelled"
)

// BatchRunSource enumerates who triggered a batch invocation.
type BatchRunSource string

const (
	SourceCron       BatchRunSource = "cron"
	SourceOnboarding BatchRunSource = "onboarding"
	SourceAdmin      BatchRunSource = "admin"
	SourceSettings   BatchRunSource = "settings"
)

// BatchRunHistory is the persisted lifecycle record for one orchestrator
// invocation. Never left in BatchRunning state once the orchestrator's
// finally block has run (spec.md §3, §4.H).
type BatchRunHistory struct {
	BatchRunID   uuid.UUID
	Status       BatchRunStatus
	TriggeredBy  string
	Source       BatchRunSource
	StartedAt    time.Time
	CompletedAt  *time.Time
	TotalJobs    int
	Successful   int
	Failed       int
	ErrorSummary string
}
