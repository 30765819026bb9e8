// Package historical implements the backward-paginating historical
// fetcher (C5): for each symbol, walk the 1m kline stream from "now" back
// to the venue's earliest record, persisting every batch as it arrives.
// Grounded on the teacher's per-market goroutine orchestration
// (internal/engine/engine.go) generalized from "quote every market" to
// "backfill every symbol", fed by internal/fetch.Pool (A7) for the
// per-symbol partitioning spec §5 requires.
package historical

import (
	"context"
	"log/slog"
	"time"

	"candlebt/internal/fetch"
	"candlebt/internal/sink"
	"candlebt/pkg/candle"
)

// Fetcher drives C2 backward for every configured symbol until the venue
// is exhausted, persisting the base 1m candles via a Sink.
type Fetcher struct {
	client  *fetch.Client
	store   sink.Sink
	pool    *fetch.Pool
	sleep   time.Duration
	nowFunc func() int64
	logger  *slog.Logger
}

// NewFetcher wires a fetch client, a sink, and a worker pool. nowFunc
// supplies the starting end_time_ms (wall clock in production, a fixed
// value in tests so runs are reproducible).
func NewFetcher(client *fetch.Client, store sink.Sink, workers int, sleep time.Duration, nowFunc func() int64, logger *slog.Logger) *Fetcher {
	if nowFunc == nil {
		nowFunc = func() int64 { return time.Now().UnixMilli() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:  client,
		store:   store,
		pool:    fetch.NewPool(workers),
		sleep:   sleep,
		nowFunc: nowFunc,
		logger:  logger,
	}
}

// Run backfills every symbol in symbols to exhaustion. Per-symbol failures
// are isolated: one symbol's fetch loop never aborts the others, since
// each runs independently inside the pool's own goroutine.
func (f *Fetcher) Run(ctx context.Context, symbols []string) {
	f.pool.Run(ctx, symbols, f.backfillSymbol)
}

// backfillSymbol walks one symbol backward: fetch a batch ending at end,
// persist it, move end to just before the batch's earliest candle, sleep,
// repeat until the venue returns nothing further.
func (f *Fetcher) backfillSymbol(ctx context.Context, symbol string) {
	end := f.nowFunc()
	logger := f.logger.With("symbol", symbol, "component", "historical")

	for {
		select {
		case <-ctx.Done():
			logger.Info("backfill cancelled", "end_time", end)
			return
		default:
		}

		batch := f.client.FetchBatch(ctx, symbol, candle.Interval1m, end)
		if len(batch) == 0 {
			logger.Info("backfill exhausted", "end_time", end)
			return
		}

		if err := f.store.WriteCandles(ctx, symbol, candle.Interval1m, batch); err != nil {
			logger.Error("persist batch failed", "error", err, "end_time", end)
			return
		}

		earliest := batch[0].OpenTime
		for _, c := range batch {
			if c.OpenTime < earliest {
				earliest = c.OpenTime
			}
		}
		end = earliest - 1

		if f.sleep > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.sleep):
			}
		}
	}
}
