// Package smacross implements a reference Strategy (A3): a classic
// fast/slow simple-moving-average crossover, built on internal/indicator
// (A4) to give the indicator library an in-tree caller, grounded on the
// teacher's Maker in the way it tracks one open side at a time and only
// ever acts on the candle it was just handed.
package smacross

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/account"
	"candlebt/internal/indicator"
	"candlebt/internal/order"
	"candlebt/internal/strategy"
	"candlebt/pkg/candle"
)

// Strategy goes long when the fast SMA crosses above the slow SMA and
// flat (via a closing SELL) when it crosses back below. It holds at most
// one position at a time and never shorts.
type Strategy struct {
	strategy.BaseStrategy

	FastPeriod int
	SlowPeriod int
	Quantity   decimal.Decimal

	closes    []decimal.Decimal
	inLong    bool
	wasAbove  bool
	haveCross bool
}

// New builds a Strategy with the given periods and per-signal quantity.
func New(fastPeriod, slowPeriod int, quantity decimal.Decimal) *Strategy {
	return &Strategy{FastPeriod: fastPeriod, SlowPeriod: slowPeriod, Quantity: quantity}
}

func (s *Strategy) Name() string { return "sma-cross" }

func (s *Strategy) Parameters() map[string]string {
	return map[string]string{
		"fast_period": fmt.Sprintf("%d", s.FastPeriod),
		"slow_period": fmt.Sprintf("%d", s.SlowPeriod),
		"quantity":    s.Quantity.String(),
	}
}

// OnCandle appends the candle's close to the running window and, once
// both averages are defined, signals on the crossing edge only — it never
// re-signals while the fast average simply stays on one side of the slow
// one.
func (s *Strategy) OnCandle(c candle.Candle, acc *account.Account) []strategy.OrderRequest {
	s.closes = append(s.closes, c.Close)

	fast, fastOK := indicator.SMA(s.closes, s.FastPeriod)
	slow, slowOK := indicator.SMA(s.closes, s.SlowPeriod)
	if !fastOK || !slowOK {
		return nil
	}

	above := fast.GreaterThan(slow)
	defer func() {
		s.wasAbove = above
		s.haveCross = true
	}()

	if !s.haveCross {
		return nil
	}
	if above == s.wasAbove {
		return nil
	}

	if above && !s.inLong {
		s.inLong = true
		return []strategy.OrderRequest{{Side: order.Buy, Kind: order.Market, Quantity: s.Quantity}}
	}
	if !above && s.inLong {
		s.inLong = false
		return []strategy.OrderRequest{{Side: order.Sell, Kind: order.Market, Quantity: s.Quantity}}
	}
	return nil
}

func (s *Strategy) OnPositionClosed(positionID string, realizedPnL decimal.Decimal, at time.Time) {
	s.inLong = false
}
