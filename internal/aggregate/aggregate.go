// Package aggregate implements the deterministic roll-up from base
// one-minute candles to the fourteen coarser intervals (C4). It is a pure
// transform: same input always yields the same output, with no I/O and no
// dependency beyond pkg/candle.
package aggregate

import (
	"candlebt/pkg/candle"
)

// Aggregate groups a chronologically ordered (not necessarily contiguous)
// sequence of 1m candles into buckets for the target interval and reduces
// each bucket. For the 1m target it is the identity.
//
// Grouping rule: consecutive input rows whose bucket start (at the target
// width) is equal belong to the same output bucket; a new bucket starts on
// boundary change and at sequence end. Missing minutes do not synthesize
// nulls — a bucket just reduces over whatever minutes are present.
func Aggregate(input []candle.Candle, target candle.Interval) []candle.Candle {
	if target == candle.Interval1m {
		out := make([]candle.Candle, len(input))
		copy(out, input)
		return out
	}

	width, ok := candle.WidthMinutes(target)
	if !ok || len(input) == 0 {
		return nil
	}

	out := make([]candle.Candle, 0, len(input))
	var group []candle.Candle
	var groupBucket int64

	flush := func() {
		if len(group) > 0 {
			out = append(out, reduce(group))
		}
	}

	for _, c := range input {
		bucket := candle.BucketStart(c.OpenTime, width)
		if len(group) == 0 {
			groupBucket = bucket
		} else if bucket != groupBucket {
			flush()
			group = group[:0]
			groupBucket = bucket
		}
		group = append(group, c)
	}
	flush()

	return out
}

// reduce folds a chronologically ordered, non-empty group of 1m candles
// sharing one bucket into a single aggregated candle, per the reducer
// rules in spec §4.4.
func reduce(group []candle.Candle) candle.Candle {
	first := group[0]
	last := group[len(group)-1]

	out := candle.Candle{
		OpenTime:  first.OpenTime,
		CloseTime: last.CloseTime,
		Open:      first.Open,
		Close:     last.Close,
		High:      first.High,
		Low:       first.Low,
	}

	for _, c := range group {
		if c.High.GreaterThan(out.High) {
			out.High = c.High
		}
		if c.Low.LessThan(out.Low) {
			out.Low = c.Low
		}
		out.Volume = out.Volume.Add(c.Volume)
		out.QuoteAssetVolume = out.QuoteAssetVolume.Add(c.QuoteAssetVolume)
		out.TakerBuyBase = out.TakerBuyBase.Add(c.TakerBuyBase)
		out.TakerBuyQuote = out.TakerBuyQuote.Add(c.TakerBuyQuote)
		out.IgnoreField = out.IgnoreField.Add(c.IgnoreField)
		out.NumberOfTrades += c.NumberOfTrades
	}

	return out
}

// AggregateAll runs Aggregate for every coarser target interval, returning
// a map keyed by interval. Used by the historical fetcher and the
// incremental updater to fan a fresh 1m batch out to every stored
// interval in one pass.
func AggregateAll(input []candle.Candle) map[candle.Interval][]candle.Candle {
	out := make(map[candle.Interval][]candle.Candle, len(candle.TargetIntervals()))
	for _, i := range candle.TargetIntervals() {
		out[i] = Aggregate(input, i)
	}
	return out
}
