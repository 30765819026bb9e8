// Package sink implements the two interchangeable persistence backends
// (C3): an append-only CSV sink and a relational table sink with
// ignore-on-conflict upserts. Both satisfy the Sink interface so the
// historical fetcher and incremental updater can be backend-agnostic.
package sink

import (
	"context"
	"strings"

	"candlebt/pkg/candle"
)

// Sink persists a batch of candles for one (symbol, interval) and can
// report the last stored open_time for resuming an incremental update.
type Sink interface {
	// WriteCandles persists candles for (symbol, interval). Implementations
	// must be safe to call concurrently across distinct symbols but are not
	// required to serialize writes to the same (symbol, interval) pair —
	// callers partition work by symbol to guarantee that (spec §5).
	WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error

	// LastOpenTime returns the maximum stored open_time for (symbol,
	// interval). ok is false if no rows are stored yet.
	LastOpenTime(ctx context.Context, symbol string, interval candle.Interval) (openTime int64, ok bool, err error)

	// Close releases any held resources (file handles, connections).
	Close() error
}

// tableName renders the {symbol_lowercase}_{interval} table/file stem
// shared by both backends.
func tableName(symbol string, interval candle.Interval) string {
	return strings.ToLower(symbol) + "_" + string(interval)
}
