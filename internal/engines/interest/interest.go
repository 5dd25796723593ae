// Package interest implements Position Interest / Ancillary (spec.md
// §4.E.8): interest accrual for fixed-income positions and any other
// per-position update that depends on the calculation date closing.
package interest

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DayCountBasis is the day-count convention used for simple accrual.
// Actual/365 fixed is used here as the uncontroversial default; instruments
// with a different convention are out of scope until the bond-analytics
// surface grows beyond simple accrual.
const DayCountBasis = 365.0

// AccrualInput is one fixed-income position's accrual inputs for one day.
type AccrualInput struct {
	PositionID   uuid.UUID
	FaceValue    float64
	CouponRate   float64 // annualized, e.g. 0.045 for 4.5%
	AccrualStart time.Time
	AsOf         time.Time
}

// AccrualResult is the accrued interest for one position as of AsOf.
type AccrualResult struct {
	PositionID      uuid.UUID
	AccruedInterest float64
	DaysAccrued     int
}

// Engine computes fixed-income interest accrual.
type Engine struct {
	log zerolog.Logger
}

// New creates a Position Interest engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "interest_engine").Logger()}
}

// Compute accrues simple interest for each input since its AccrualStart
// (typically the later of issue date or last coupon payment) through AsOf.
func (e *Engine) Compute(inputs []AccrualInput) []AccrualResult {
	out := make([]AccrualResult, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, e.computeOne(in))
	}
	return out
}

func (e *Engine) computeOne(in AccrualInput) AccrualResult {
	if in.AsOf.Before(in.AccrualStart) {
		e.log.Debug().
			Str("position_id", in.PositionID.String()).
			Msg("skipping accrual: as-of date precedes accrual start")
		return AccrualResult{PositionID: in.PositionID}
	}

	days := int(in.AsOf.Sub(in.AccrualStart).Hours() / 24)
	accrued := in.FaceValue * in.CouponRate * (float64(days) / DayCountBasis)

	return AccrualResult{
		PositionID:      in.PositionID,
		AccruedInterest: accrued,
		DaysAccrued:     days,
	}
}
