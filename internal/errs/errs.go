// Package errs defines the sentinel error kinds shared across the pipeline
// and the backtest core, so callers can dispatch on error kind with
// errors.Is/errors.As instead of string matching.
package errs

import "errors"

var (
	// ErrTransport marks an HTTP failure, timeout, or connection refusal.
	// Handled locally by retry-with-delay; once retries are exhausted the
	// caller treats the batch as empty rather than propagating this.
	ErrTransport = errors.New("transport error")

	// ErrParse marks a malformed row (wrong length, bad decimal syntax).
	// The offending row is skipped; the batch continues.
	ErrParse = errors.New("parse error")

	// ErrStore marks a connection drop or constraint violation other than
	// the ignore-on-conflict path. Rolls back the current batch.
	ErrStore = errors.New("store error")

	// ErrValidation marks an order rejected by the validator before
	// queueing. The backtest loop logs the rejection and drops the order
	// without notifying the strategy; it does not abort the backtest.
	ErrValidation = errors.New("order validation error")

	// ErrInvariant marks a position invariant violation (e.g. closing more
	// size than is open). Fatal to the event loop.
	ErrInvariant = errors.New("position invariant error")

	// ErrStrategy marks a panic or error raised out of a strategy callback.
	// Logged; the candle is skipped; the loop continues.
	ErrStrategy = errors.New("strategy error")

	// ErrEmptyCandleSet is raised before any backtest work begins if the
	// caller supplies no candles.
	ErrEmptyCandleSet = errors.New("empty candle set")
)
