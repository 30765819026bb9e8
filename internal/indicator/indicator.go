// Package indicator is the pure, stateless technical-indicator library a
// Strategy may call. It holds no state, does no I/O, and is not part of
// the backtest core: the spec carves indicator math out as an external
// collaborator, so this package depends only on pkg/candle, decimal and
// the standard math package.
package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"candlebt/pkg/candle"
)

// SMA returns the simple moving average of the last period values in
// values, or a zero, not-ok result if fewer than period values are given.
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(values) < period {
		return decimal.Zero, false
	}
	window := values[len(values)-period:]
	sum := decimal.Zero
	for _, v := range window {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA computes the exponential moving average series over values using the
// standard smoothing factor 2/(period+1). The first EMA value seeds from
// the SMA of the first period values; returns nil if fewer than period
// values are given.
func EMA(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(values) < period {
		return nil
	}

	seed, ok := SMA(values[:period], period)
	if !ok {
		return nil
	}

	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	out := make([]decimal.Decimal, 0, len(values)-period+1)
	out = append(out, seed)

	prev := seed
	for _, v := range values[period:] {
		next := v.Sub(prev).Mul(k).Add(prev)
		out = append(out, next)
		prev = next
	}
	return out
}

// RSI computes the Relative Strength Index over the last period+1 values
// in values using Wilder's simple (non-smoothed) average of gains/losses.
// Returns a zero, not-ok result if fewer than period+1 values are given.
func RSI(values []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(values) < period+1 {
		return decimal.Zero, false
	}
	window := values[len(values)-(period+1):]

	gainSum := decimal.Zero
	lossSum := decimal.Zero
	for i := 1; i < len(window); i++ {
		delta := window[i].Sub(window[i-1])
		if delta.IsPositive() {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Abs())
		}
	}

	n := decimal.NewFromInt(int64(period))
	avgGain := gainSum.Div(n)
	avgLoss := lossSum.Div(n)

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50), true
		}
		return decimal.NewFromInt(100), true
	}

	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return rsi, true
}

// BollingerBands returns the (middle, upper, lower) bands over the last
// period values using numStdDev standard deviations. Returns zero values
// and ok=false if fewer than period values are given.
func BollingerBands(values []decimal.Decimal, period int, numStdDev decimal.Decimal) (middle, upper, lower decimal.Decimal, ok bool) {
	mid, smaOK := SMA(values, period)
	if !smaOK {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}

	window := values[len(values)-period:]
	variance := decimal.Zero
	for _, v := range window {
		diff := v.Sub(mid)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	stdDev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))

	band := stdDev.Mul(numStdDev)
	return mid, mid.Add(band), mid.Sub(band), true
}

// ClosePrices extracts the Close field from a sequence of candles, the
// shape every indicator function above expects as input.
func ClosePrices(candles []candle.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
