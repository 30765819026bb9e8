// Package updater implements the incremental updater (C6): resume each
// symbol from its last persisted 1m bucket, fetch forward to "now",
// recompute every coarser interval over the freshly collected slice, and
// upsert idempotently. Grounded on the same per-symbol pool orchestration
// as internal/historical, with the forward-sliding-window cursor logic
// unique to this component.
package updater

import (
	"context"
	"log/slog"
	"time"

	"candlebt/internal/aggregate"
	"candlebt/internal/fetch"
	"candlebt/internal/sink"
	"candlebt/pkg/candle"
)

// Updater drives C2 forward from each symbol's last stored 1m candle,
// fanning freshly collected candles out to every target interval via C4
// before upserting through a Sink.
type Updater struct {
	client  *fetch.Client
	store   sink.Sink
	pool    *fetch.Pool
	sleep   time.Duration
	nowFunc func() int64
	logger  *slog.Logger
}

// NewUpdater wires a fetch client, a sink, and a worker pool exactly like
// historical.NewFetcher, but for forward incremental updates.
func NewUpdater(client *fetch.Client, store sink.Sink, workers int, sleep time.Duration, nowFunc func() int64, logger *slog.Logger) *Updater {
	if nowFunc == nil {
		nowFunc = func() int64 { return time.Now().UnixMilli() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		client:  client,
		store:   store,
		pool:    fetch.NewPool(workers),
		sleep:   sleep,
		nowFunc: nowFunc,
		logger:  logger,
	}
}

// Run incrementally updates every symbol in symbols.
func (u *Updater) Run(ctx context.Context, symbols []string) {
	u.pool.Run(ctx, symbols, u.updateSymbol)
}

// updateSymbol reads the symbol's last stored 1m open_time and, if
// present, slides a forward window from cursor = last+1 up to now,
// collecting every new 1m candle, then fans the whole collected slice out
// to every coarser interval and upserts each. A symbol with no prior 1m
// data is skipped entirely: the updater refuses to bootstrap, per spec
// §4.6 — that is historical's job.
func (u *Updater) updateSymbol(ctx context.Context, symbol string) {
	logger := u.logger.With("symbol", symbol, "component", "updater")

	lastOpenTime, ok, err := u.store.LastOpenTime(ctx, symbol, candle.Interval1m)
	if err != nil {
		logger.Error("read last open_time failed", "error", err)
		return
	}
	if !ok {
		logger.Info("no prior 1m data, skipping bootstrap")
		return
	}

	cursor := lastOpenTime + 1
	now := u.nowFunc()
	var collected []candle.Candle

	widthMs, _ := candle.WidthMillis(candle.Interval1m)
	apiLimitWindow := int64(u.client.APILimit()) * widthMs

	for cursor <= now {
		select {
		case <-ctx.Done():
			logger.Info("update cancelled", "cursor", cursor)
			u.flush(ctx, symbol, collected, logger)
			return
		default:
		}

		windowEnd := cursor + apiLimitWindow
		if windowEnd > now {
			windowEnd = now
		}

		batch := u.client.FetchBatch(ctx, symbol, candle.Interval1m, windowEnd)
		if len(batch) == 0 {
			break
		}

		filtered := make([]candle.Candle, 0, len(batch))
		for _, c := range batch {
			if c.OpenTime > cursor-1 {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			break
		}

		collected = append(collected, filtered...)

		maxOpen := filtered[0].OpenTime
		for _, c := range filtered {
			if c.OpenTime > maxOpen {
				maxOpen = c.OpenTime
			}
		}
		cursor = maxOpen + 1

		if u.sleep > 0 {
			select {
			case <-ctx.Done():
				u.flush(ctx, symbol, collected, logger)
				return
			case <-time.After(u.sleep):
			}
		}
	}

	u.flush(ctx, symbol, collected, logger)
}

// flush persists the freshly collected 1m candles and every coarser
// aggregation derived from them. Each target interval's upsert is
// independent: a failure on one interval is logged and does not prevent
// the others from being written.
func (u *Updater) flush(ctx context.Context, symbol string, collected []candle.Candle, logger *slog.Logger) {
	if len(collected) == 0 {
		return
	}

	if err := u.store.WriteCandles(ctx, symbol, candle.Interval1m, collected); err != nil {
		logger.Error("persist 1m candles failed", "error", err)
		return
	}

	for interval, rows := range aggregate.AggregateAll(collected) {
		if len(rows) == 0 {
			continue
		}
		if err := u.store.WriteCandles(ctx, symbol, interval, rows); err != nil {
			logger.Error("persist aggregated candles failed", "interval", interval, "error", err)
		}
	}
}
