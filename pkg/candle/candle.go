// Package candle defines the shared vocabulary for the pipeline: the
// Candle record, the fixed Interval set, and the bucket arithmetic every
// other package builds on. It has no dependencies on internal packages, so
// it can be imported by any layer.
package candle

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV record, identified by its open time.
type Candle struct {
	OpenTime         int64 // epoch ms, multiple of the interval width
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Volume           decimal.Decimal
	CloseTime        int64 // epoch ms
	QuoteAssetVolume decimal.Decimal
	NumberOfTrades   int64
	TakerBuyBase     decimal.Decimal
	TakerBuyQuote    decimal.Decimal
	IgnoreField      decimal.Decimal
}

// FieldNames are the twelve declared field names, in declaration order, as
// required by the CSV sink header row and the kline wire shape.
var FieldNames = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base", "taker_buy_quote", "ignore",
}

// Validate checks the candle invariants from the data model: low is the
// floor, high is the ceiling, volume is non-negative, and open precedes
// close.
func (c Candle) Validate() error {
	minOC := decimal.Min(c.Open, c.Close)
	maxOC := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(minOC) {
		return fmt.Errorf("candle %d: low %s exceeds min(open,close) %s", c.OpenTime, c.Low, minOC)
	}
	if maxOC.GreaterThan(c.High) {
		return fmt.Errorf("candle %d: max(open,close) %s exceeds high %s", c.OpenTime, maxOC, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %d: negative volume %s", c.OpenTime, c.Volume)
	}
	if c.OpenTime >= c.CloseTime {
		return fmt.Errorf("candle %d: open_time must precede close_time %d", c.OpenTime, c.CloseTime)
	}
	return nil
}

// Interval is one of the fifteen fixed candle intervals.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1D  Interval = "1D"
	Interval3D  Interval = "3D"
	Interval1W  Interval = "1W"
	Interval1M  Interval = "1M"
)

// widthMinutes maps each interval to its bucket width in minutes. The 1M
// entry is nominal: 43200 minutes (30*24*60), a fixed-width bucket, NOT a
// calendar month. Buckets therefore drift relative to human month
// boundaries; see the decision recorded in DESIGN.md.
var widthMinutes = map[Interval]int64{
	Interval1m:  1,
	Interval3m:  3,
	Interval5m:  5,
	Interval15m: 15,
	Interval30m: 30,
	Interval1h:  60,
	Interval2h:  120,
	Interval4h:  240,
	Interval6h:  360,
	Interval8h:  480,
	Interval12h: 720,
	Interval1D:  1440,
	Interval3D:  4320,
	Interval1W:  10080,
	Interval1M:  43200,
}

// orderedIntervals lists every supported interval, base first, ordered by
// ascending width.
var orderedIntervals = []Interval{
	Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
	Interval1D, Interval3D, Interval1W, Interval1M,
}

// AllIntervals returns every supported interval, base (1m) first.
func AllIntervals() []Interval {
	out := make([]Interval, len(orderedIntervals))
	copy(out, orderedIntervals)
	return out
}

// TargetIntervals returns every interval coarser than 1m — the set the
// aggregator actually has to roll up to.
func TargetIntervals() []Interval {
	all := AllIntervals()
	return all[1:]
}

// WidthMinutes returns the bucket width, in minutes, for interval i. ok is
// false if i isn't one of the fifteen supported intervals.
func WidthMinutes(i Interval) (width int64, ok bool) {
	w, ok := widthMinutes[i]
	return w, ok
}

// WidthMillis returns the bucket width, in milliseconds, for interval i.
func WidthMillis(i Interval) (int64, bool) {
	w, ok := widthMinutes[i]
	if !ok {
		return 0, false
	}
	return w * 60 * 1000, true
}

// BucketStart computes the interval-start timestamp for an epoch-ms
// instant, aligned to the UNIX epoch:
//
//	bucket_start(t, w) = (t/1000 / (60*w)) * (60*w) * 1000
//
// using integer division throughout, so every coarser bucket boundary
// coincides with a one-minute boundary.
func BucketStart(tMs int64, widthMinutes int64) int64 {
	widthSec := 60 * widthMinutes
	tSec := tMs / 1000
	bucketSec := (tSec / widthSec) * widthSec
	return bucketSec * 1000
}
