// Package batcherrors holds the sentinel errors the orchestrator and its
// callers branch on with errors.Is, as distinct from the ad-hoc
// fmt.Errorf-wrapped errors used everywhere else (spec.md §7).
package batcherrors

import "errors"

var (
	// ErrNoTradingDay is returned when a requested calculation date is not
	// an NYSE trading day and the caller did not ask for the nearest one.
	ErrNoTradingDay = errors.New("batch-core: date is not a trading day")

	// ErrProviderExhausted is returned when the Provider Chain could not
	// satisfy a required symbol from any configured provider and the
	// caller required it (as opposed to the chain's normal soft-fail
	// unavailable-symbol reporting).
	ErrProviderExhausted = errors.New("batch-core: provider chain exhausted for required symbol")

	// ErrInsufficientHistory is returned when an engine requiring a
	// minimum lookback window has fewer observations than that minimum.
	ErrInsufficientHistory = errors.New("batch-core: insufficient history for calculation")

	// ErrRunAlreadyInProgress is returned when a batch run is requested
	// while another run has not yet reached a terminal status.
	ErrRunAlreadyInProgress = errors.New("batch-core: a batch run is already in progress")
)
