// Package providers implements the Provider Chain (spec.md §4.B): an ordered
// list of external market-data providers tried in priority order, with
// per-provider rate limiting, a bounded worker pool isolating synchronous
// provider calls from the rest of the process, batching, and retry with
// exponential backoff.
//
// The worker-pool-isolates-blocking-calls shape is grounded in
// internal/work/processor.go's dependency-resolved execution loop; the
// per-provider rate limiter is grounded in the token-bucket-per-request
// pattern the alphavantage client uses for its own daily budget.
package providers

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// BatchSize is the typical number of symbols dispatched to a provider per
// worker-pool task (spec.md §4.B: "typical batch size 10-20").
const BatchSize = 15

// DefaultConcurrency is the bounded worker-pool size used when a Chain is
// built without an explicit concurrency override (spec.md §4.B: "typical
// concurrency 3").
const DefaultConcurrency = 3

// SymbolTimeout bounds a single provider call for one symbol batch
// (spec.md §4.B: "per-symbol timeout (~10s)").
const SymbolTimeout = 10 * time.Second

// MaxRetries is the number of additional attempts after the first failure
// (spec.md §4.B: "up to 2 retries with exponential backoff").
const MaxRetries = 2

// OHLCVRow is one (symbol, date) observation returned by a provider.
type OHLCVRow struct {
	Symbol         string
	Date           time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	AdjustedClose  float64
	Volume         int64
	SourceProvider string
}

// Provider is one member of the chain: a single external market-data source.
type Provider interface {
	// Name identifies the provider in logs and in OHLCVRow.SourceProvider.
	Name() string
	// FetchOHLCV fetches rows for the given symbols in [start, end]. A
	// symbol absent from the returned map is treated as unavailable from
	// this provider, not as an error - callers fall through to the next
	// provider in the chain for that symbol alone.
	FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (map[string][]OHLCVRow, error)
}

// FetchResult is the outcome of one Chain.FetchOHLCV invocation.
type FetchResult struct {
	RowsBySymbol       map[string][]OHLCVRow
	ProviderCounts     map[string]int // provider name -> symbols satisfied
	UnavailableSymbols []string
}

// Chain tries providers in priority order for whatever symbols remain
// unsatisfied by earlier providers, dispatching each provider call through a
// bounded worker pool so synchronous provider libraries never block the
// caller's own scheduling loop (spec.md §4.B, §5).
type Chain struct {
	providers   []Provider
	limiters    map[string]*RateLimiter // provider name -> token bucket; nil entry means unlimited
	concurrency int
	log         zerolog.Logger
}

// New builds a Provider Chain from providers, tried in the given order.
// limiters is optional (may be nil); a provider with no entry is unlimited.
// Worker-pool concurrency defaults to DefaultConcurrency when concurrency <= 0.
func New(providers []Provider, limiters map[string]*RateLimiter, concurrency int, log zerolog.Logger) *Chain {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Chain{
		providers:   providers,
		limiters:    limiters,
		concurrency: concurrency,
		log:         log.With().Str("component", "provider_chain").Logger(),
	}
}

// FetchOHLCV fetches OHLCV rows for symbols over [start, end]. The chain
// always returns successfully (per spec.md §4.B): providers that fail or
// return nothing for a symbol leave that symbol for the next provider, and
// symbols no provider satisfies are reported in UnavailableSymbols rather
// than raised as an error.
func (c *Chain) FetchOHLCV(ctx context.Context, symbols []string, start, end time.Time) (*FetchResult, error) {
	remaining := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		remaining[s] = true
	}

	result := &FetchResult{
		RowsBySymbol:   make(map[string][]OHLCVRow),
		ProviderCounts: make(map[string]int),
	}

	for _, provider := range c.providers {
		if len(remaining) == 0 {
			break
		}

		pending := symbolsOf(remaining)
		satisfied := c.fetchFromProvider(ctx, provider, pending, start, end, result)
		for _, s := range satisfied {
			delete(remaining, s)
		}
	}

	result.UnavailableSymbols = symbolsOf(remaining)
	sort.Strings(result.UnavailableSymbols)

	if len(result.UnavailableSymbols) > 0 {
		logged := result.UnavailableSymbols
		truncated := false
		if len(logged) > 20 {
			logged = logged[:20]
			truncated = true
		}
		c.log.Warn().
			Strs("unavailable_symbols", logged).
			Bool("truncated", truncated).
			Int("total_unavailable", len(result.UnavailableSymbols)).
			Msg("provider chain exhausted for some symbols")
	}

	return result, nil
}

// fetchFromProvider dispatches pending symbols to provider in batches across
// a bounded worker pool, and returns the symbols it successfully satisfied.
func (c *Chain) fetchFromProvider(ctx context.Context, provider Provider, pending []string, start, end time.Time, result *FetchResult) []string {
	batches := batch(pending, BatchSize)

	type batchOutcome struct {
		rows      map[string][]OHLCVRow
		satisfied []string
	}

	jobs := make(chan []string, len(batches))
	outcomes := make(chan batchOutcome, len(batches))

	worker := func() {
		for symbols := range jobs {
			rows := c.fetchBatchWithRetry(ctx, provider, symbols, start, end)
			var satisfied []string
			for sym, symRows := range rows {
				if len(symRows) == 0 {
					continue
				}
				satisfied = append(satisfied, sym)
			}
			outcomes <- batchOutcome{rows: rows, satisfied: satisfied}
		}
	}

	for i := 0; i < c.concurrency; i++ {
		go worker()
	}
	for _, b := range batches {
		jobs <- b
	}
	close(jobs)

	// result.RowsBySymbol and result.ProviderCounts are only ever written
	// here, in the single goroutine draining outcomes - workers hand back
	// their rows instead of writing the shared map themselves.
	var satisfied []string
	for range batches {
		out := <-outcomes
		for sym, symRows := range out.rows {
			if len(symRows) == 0 {
				continue
			}
			result.RowsBySymbol[sym] = append(result.RowsBySymbol[sym], symRows...)
		}
		satisfied = append(satisfied, out.satisfied...)
		result.ProviderCounts[provider.Name()] += len(out.satisfied)
	}

	return satisfied
}

// fetchBatchWithRetry calls provider.FetchOHLCV for one batch, retrying up
// to MaxRetries times with exponential backoff (1s, 2s) on error. A failure
// of this batch never propagates beyond an empty result for these symbols -
// the caller falls through to the next provider.
func (c *Chain) fetchBatchWithRetry(ctx context.Context, provider Provider, symbols []string, start, end time.Time) map[string][]OHLCVRow {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if limiter := c.limiters[provider.Name()]; limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, SymbolTimeout)
		rows, err := provider.FetchOHLCV(callCtx, symbols, start, end)
		cancel()

		if err == nil {
			for sym := range rows {
				for i := range rows[sym] {
					rows[sym][i].SourceProvider = provider.Name()
				}
			}
			return rows
		}

		c.log.Warn().
			Err(err).
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Int("symbols", len(symbols)).
			Msg("provider batch fetch failed")

		if attempt < MaxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
		}
	}

	return nil
}

func symbolsOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func batch(symbols []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[i:end])
	}
	return batches
}
