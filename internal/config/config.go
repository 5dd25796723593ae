// Package config provides configuration management functionality.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sigmasight/batch-core/internal/utils"
)

// Config holds application configuration for the batch processing core.
type Config struct {
	DatabaseURL string // Postgres DSN (required)
	LogLevel    string // debug, info, warn, error
	LogPretty   bool
	Port        int
	DevMode     bool

	// ProviderAPIKeys maps provider name (lowercase) to API key, e.g. "alphavantage" -> key.
	ProviderAPIKeys map[string]string
	// ProviderChainOrder lists provider names in priority order, highest first.
	ProviderChainOrder []string
	// ProviderRateLimits maps provider name (lowercase) to its per-minute
	// request budget, feeding each provider's token bucket.
	ProviderRateLimits map[string]int

	RiskFreeRate  float64
	FactorETFList []string

	// FactorLookbackDays bounds the Symbol-Level Factors regression window
	// (spec.md §4.E.3).
	FactorLookbackDays int
	// CorrelationWindowDays bounds the Correlations engine's return window
	// (spec.md §4.E.5 leaves the exact window to configuration).
	CorrelationWindowDays int
	// VolatilityLookbackDays bounds the realized-volatility window used as
	// the Greeks engine's implied-volatility proxy (spec.md §4.E.1; no
	// options-chain IV feed exists in this build, see DESIGN.md).
	VolatilityLookbackDays int
	// DefaultBondCouponRate is the fallback annualized coupon rate used by
	// Position Interest accrual when a BOND position carries no explicit
	// rate (the domain model has no coupon-rate field; see DESIGN.md).
	DefaultBondCouponRate float64

	StressScenariosPath string

	BetaInviteCode string

	BatchScheduleCron       string
	MaxPortfolioConcurrency int
	MaxProviderConcurrency  int
}

// Load reads configuration from environment variables.
//
// godotenv.Load() returns an error if .env doesn't exist, which is fine and
// silently ignored - env vars set directly in the process environment always
// work without a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvAsBool("LOG_PRETTY", false),
		Port:        getEnvAsInt("PORT", 8001),
		DevMode:     getEnvAsBool("DEV_MODE", false),

		ProviderAPIKeys:    loadProviderAPIKeys(),
		ProviderChainOrder: utils.ParseCSV(getEnv("PROVIDER_CHAIN_ORDER", "alphavantage")),
		ProviderRateLimits: loadProviderRateLimits(),

		RiskFreeRate:  getEnvAsFloat("RISK_FREE_RATE", 0.05),
		FactorETFList: utils.ParseCSV(getEnv("FACTOR_ETF_LIST", "SPY,IWM,EFA,AGG,GLD,VTV,VUG,MTUM")),

		FactorLookbackDays:     getEnvAsInt("FACTOR_LOOKBACK_DAYS", 252),
		CorrelationWindowDays:  getEnvAsInt("CORRELATION_WINDOW_DAYS", 90),
		VolatilityLookbackDays: getEnvAsInt("VOLATILITY_LOOKBACK_DAYS", 30),
		DefaultBondCouponRate:  getEnvAsFloat("DEFAULT_BOND_COUPON_RATE", 0.0),

		StressScenariosPath: getEnv("STRESS_SCENARIOS_PATH", ""),

		BetaInviteCode: getEnv("BETA_INVITE_CODE", ""),

		BatchScheduleCron:       getEnv("BATCH_SCHEDULE_CRON", "0 21 * * 1-5"),
		MaxPortfolioConcurrency: getEnvAsInt("MAX_PORTFOLIO_CONCURRENCY", 4),
		MaxProviderConcurrency:  getEnvAsInt("MAX_PROVIDER_CONCURRENCY", 2),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration is present and internally consistent.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate > 1 {
		return fmt.Errorf("RISK_FREE_RATE must be between 0 and 1, got %f", c.RiskFreeRate)
	}
	if len(c.ProviderChainOrder) == 0 {
		return fmt.Errorf("PROVIDER_CHAIN_ORDER must name at least one provider")
	}
	return nil
}

func loadProviderAPIKeys() map[string]string {
	keys := make(map[string]string)
	for _, name := range []string{"alphavantage", "fmp", "polygon", "tiingo"} {
		envKey := "PROVIDER_" + strings.ToUpper(name) + "_API_KEY"
		if v := getEnv(envKey, ""); v != "" {
			keys[name] = v
		}
	}
	return keys
}

// defaultProviderRatesPerMinute are each provider's documented free-tier
// per-minute request budget, used when no PROVIDER_<NAME>_RATE_PER_MINUTE
// override is set.
var defaultProviderRatesPerMinute = map[string]int{
	"alphavantage": 5,
	"fmp":          10,
	"polygon":      5,
	"tiingo":       50,
}

func loadProviderRateLimits() map[string]int {
	limits := make(map[string]int)
	for name, def := range defaultProviderRatesPerMinute {
		envKey := "PROVIDER_" + strings.ToUpper(name) + "_RATE_PER_MINUTE"
		limits[name] = getEnvAsInt(envKey, def)
	}
	return limits
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
