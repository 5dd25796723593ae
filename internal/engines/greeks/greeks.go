// Package greeks implements the Greeks calculation engine (spec.md §4.E.1):
// Black-Scholes delta/gamma/theta/vega/rho for OPTIONS positions.
//
// No options-pricing library exists anywhere across the example pack (see
// DESIGN.md) - this is a deliberate, unavoidable stdlib-only component, in
// the same category as the NYSE trading calendar.
package greeks

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// Inputs bundles what Black-Scholes needs for one OPTIONS position on one
// calculation date. A missing optional field means the caller could not
// resolve it (no cached price, no IV estimate) - Compute fails soft on any
// such gap rather than erroring.
type Inputs struct {
	Position          domain.Position
	CalculationDate   time.Time
	UnderlyingSpot     *float64
	ImpliedVolatility  *float64
	RiskFreeRate       float64
}

// Engine computes Greeks for a batch of positions.
type Engine struct {
	log zerolog.Logger
}

// New creates a Greeks engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "greeks_engine").Logger()}
}

// Compute returns one PositionGreeks per input, in order. A position with
// missing spot, volatility, or an already-expired contract gets a
// null-fielded result (fails-soft per position; spec.md §4.E.1) rather than
// aborting the batch.
func (e *Engine) Compute(inputs []Inputs) []domain.PositionGreeks {
	out := make([]domain.PositionGreeks, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, e.computeOne(in))
	}
	return out
}

func (e *Engine) computeOne(in Inputs) domain.PositionGreeks {
	result := domain.PositionGreeks{PositionID: in.Position.ID}

	if in.Position.InvestmentClass != domain.ClassOptions {
		return result
	}
	if in.Position.StrikePrice == nil || in.Position.ExpirationDate == nil || in.Position.OptionType == nil {
		return result
	}
	if in.UnderlyingSpot == nil || in.ImpliedVolatility == nil {
		e.log.Debug().
			Str("position_id", in.Position.ID.String()).
			Msg("skipping greeks: missing spot or implied volatility")
		return result
	}

	spot := *in.UnderlyingSpot
	strike := *in.Position.StrikePrice
	sigma := *in.ImpliedVolatility
	r := in.RiskFreeRate

	tau := yearsUntil(in.CalculationDate, *in.Position.ExpirationDate)
	if tau <= 0 || spot <= 0 || strike <= 0 || sigma <= 0 {
		e.log.Debug().
			Str("position_id", in.Position.ID.String()).
			Float64("tau", tau).
			Msg("skipping greeks: non-positive input to black-scholes")
		return result
	}

	isCall := *in.Position.OptionType == domain.OptionCall

	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*tau) / (sigma * math.Sqrt(tau))
	d2 := d1 - sigma*math.Sqrt(tau)

	nD1 := normCDF(d1)
	nD2 := normCDF(d2)
	pdfD1 := normPDF(d1)

	var delta, theta, rho float64
	if isCall {
		delta = nD1
		theta = -(spot*pdfD1*sigma)/(2*math.Sqrt(tau)) - r*strike*math.Exp(-r*tau)*nD2
		rho = strike * tau * math.Exp(-r*tau) * nD2
	} else {
		delta = nD1 - 1
		theta = -(spot*pdfD1*sigma)/(2*math.Sqrt(tau)) + r*strike*math.Exp(-r*tau)*normCDF(-d2)
		rho = -strike * tau * math.Exp(-r*tau) * normCDF(-d2)
	}

	gamma := pdfD1 / (spot * sigma * math.Sqrt(tau))
	vega := spot * pdfD1 * math.Sqrt(tau)

	// theta is conventionally expressed per calendar day.
	thetaPerDay := theta / 365.0
	// vega and rho are conventionally expressed per 1 percentage point move.
	vegaPerPoint := vega / 100.0
	rhoPerPoint := rho / 100.0

	result.Delta = &delta
	result.Gamma = &gamma
	result.Theta = &thetaPerDay
	result.Vega = &vegaPerPoint
	result.Rho = &rhoPerPoint
	return result
}

func yearsUntil(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 365.0
}

// normCDF is the standard normal cumulative distribution function, computed
// via the stdlib's math.Erf rather than a hand-rolled approximation.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
