// Package correlation implements the Correlations engine (spec.md §4.E.5):
// the EWMA-weighted pairwise correlation matrix of position returns.
//
// Grounded in internal/modules/optimization/risk.go's covariance-matrix
// construction (symbol-to-index mapping, iterate upper triangle), with the
// sums and products written directly over the standard math package rather
// than gonum/mat, adapted from Ledoit-Wolf-shrinkage,
// regime-blended covariance to a fixed EWMA decay factor per spec.md §4.E.5.
package correlation

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// DefaultDecay is the exponential decay factor weighting recent observations
// more heavily (spec.md §4.E.5).
const DefaultDecay = 0.94

// MinOverlap is the minimum number of overlapping observations required to
// compute a pair's correlation.
const MinOverlap = 20

// MaxSymbols caps how many symbols enter the matrix, selected by gross
// market value (spec.md §4.E.5).
const MaxSymbols = 25

// CorrelationCap bounds reported correlations to [-CorrelationCap, +CorrelationCap] by
// policy (spec.md §9: extreme correlations from thin history are judged
// more likely to be noise than genuine near-collinearity).
const CorrelationCap = 0.95

// SymbolInput is one position's symbol, its aligned return series, and its
// gross market value (used only for MaxSymbols selection).
type SymbolInput struct {
	Symbol      string
	Dates       []time.Time
	Returns     []float64
	GrossMarketValue float64
}

// Engine computes the Correlations engine output.
type Engine struct {
	log zerolog.Logger
}

// New creates a Correlations engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "correlation_engine").Logger()}
}

// Compute builds the pairwise correlation matrix for a portfolio's
// positions over durationDays, selecting up to MaxSymbols by gross market
// value. Self-correlation is always 1.0 and is never stored as a pairwise
// row (domain.PairwiseCorrelation's invariant).
func (e *Engine) Compute(portfolioID uuid.UUID, calculationDate time.Time, durationDays int, inputs []SymbolInput) domain.CorrelationCalculation {
	selected := selectByGrossValue(inputs, MaxSymbols)

	var pairwise []domain.PairwiseCorrelation
	var sum float64
	var count int

	for i := 0; i < len(selected); i++ {
		for j := i + 1; j < len(selected); j++ {
			a, b := selected[i], selected[j]
			corr, overlap := e.weightedCorrelation(a, b)
			if overlap < MinOverlap {
				continue
			}

			symA, symB := a.Symbol, b.Symbol
			if symB < symA {
				symA, symB = symB, symA
			}

			capped := capCorrelation(corr)
			pairwise = append(pairwise, domain.PairwiseCorrelation{
				SymbolA:     symA,
				SymbolB:     symB,
				Correlation: capped,
			})
			sum += capped
			count++
		}
	}

	result := domain.CorrelationCalculation{
		PortfolioID:     portfolioID,
		CalculationDate: calculationDate,
		DurationDays:    durationDays,
		Pairwise:        pairwise,
	}

	if count > 0 {
		avg := sum / float64(count)
		result.AverageCorrelation = &avg
	}

	return result
}

// weightedCorrelation computes the EWMA-weighted Pearson correlation
// between two aligned return series, restricted to dates present in both.
func (e *Engine) weightedCorrelation(a, b SymbolInput) (float64, int) {
	bByDate := make(map[time.Time]float64, len(b.Dates))
	for i, d := range b.Dates {
		bByDate[d] = b.Returns[i]
	}

	var aVals, bVals []float64
	for i, d := range a.Dates {
		if v, ok := bByDate[d]; ok {
			aVals = append(aVals, a.Returns[i])
			bVals = append(bVals, v)
		}
	}

	overlap := len(aVals)
	if overlap == 0 {
		return 0, 0
	}

	weights := ewmaWeights(overlap, DefaultDecay)

	meanA := weightedMean(aVals, weights)
	meanB := weightedMean(bVals, weights)

	var cov, varA, varB float64
	for i := range aVals {
		da := aVals[i] - meanA
		db := bVals[i] - meanB
		cov += weights[i] * da * db
		varA += weights[i] * da * da
		varB += weights[i] * db * db
	}

	if varA == 0 || varB == 0 {
		return 0, overlap
	}
	return cov / math.Sqrt(varA*varB), overlap
}

// ewmaWeights returns n normalized weights where the most recent observation
// (last index) carries the highest weight.
func ewmaWeights(n int, decay float64) []float64 {
	weights := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		// i=n-1 (most recent) gets exponent 0, i=0 (oldest) gets exponent n-1.
		age := n - 1 - i
		w := math.Pow(decay, float64(age))
		weights[i] = w
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func weightedMean(values, weights []float64) float64 {
	var sum float64
	for i, v := range values {
		sum += v * weights[i]
	}
	return sum
}

func capCorrelation(c float64) float64 {
	if c > CorrelationCap {
		return CorrelationCap
	}
	if c < -CorrelationCap {
		return -CorrelationCap
	}
	return c
}

// selectByGrossValue returns up to max inputs, sorted descending by gross
// market value.
func selectByGrossValue(inputs []SymbolInput, max int) []SymbolInput {
	sorted := make([]SymbolInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GrossMarketValue > sorted[j].GrossMarketValue
	})
	if len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}
