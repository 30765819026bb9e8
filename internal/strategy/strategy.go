// Package strategy defines the capability the backtest event loop drives
// every candle. Unlike the teacher's Maker, which is constructed directly
// against one market's book/inventory/client, strategies here are a plain
// interface injected into the loop's constructor — no global registry —
// so any concrete strategy can be swapped in without touching the loop.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/account"
	"candlebt/internal/order"
	"candlebt/pkg/candle"
)

// OrderRequest is what a strategy hands back from OnCandle: enough to
// construct and validate an order.Order without the strategy needing to
// generate its own IDs or timestamps.
type OrderRequest struct {
	Side        order.Side
	Kind        order.Kind
	Quantity    decimal.Decimal
	Price       *decimal.Decimal
	StopPrice   *decimal.Decimal
	LimitPrice  *decimal.Decimal
	TargetPrice *decimal.Decimal
}

// Strategy is invoked once per candle by the backtest loop, plus on each
// of the three position/order lifecycle events it cares about.
type Strategy interface {
	// OnCandle runs after mark-to-market and order matching for the
	// current candle. Any OrderRequest returned is validated and, if
	// valid, appended to the pending order queue.
	OnCandle(c candle.Candle, acc *account.Account) []OrderRequest

	// OnOrderFilled notifies the strategy that one of its orders filled.
	OnOrderFilled(o *order.Order, at time.Time)

	// OnPositionOpened notifies the strategy that a new position opened.
	OnPositionOpened(positionID string, at time.Time)

	// OnPositionClosed notifies the strategy that a position fully closed.
	OnPositionClosed(positionID string, realizedPnL decimal.Decimal, at time.Time)

	// Name identifies the strategy for reporting.
	Name() string

	// Parameters returns the strategy's tunable configuration as a flat
	// string map, for inclusion in BacktestMetrics/report output.
	Parameters() map[string]string
}

// BaseStrategy is a no-op embed: concrete strategies compose it and
// override only the callbacks they care about, mirroring the way the
// teacher's FlowTracker is an optional collaborator wired into Maker
// rather than something every strategy must reimplement.
type BaseStrategy struct{}

func (BaseStrategy) OnCandle(candle.Candle, *account.Account) []OrderRequest { return nil }
func (BaseStrategy) OnOrderFilled(*order.Order, time.Time)                  {}
func (BaseStrategy) OnPositionOpened(string, time.Time)                     {}
func (BaseStrategy) OnPositionClosed(string, decimal.Decimal, time.Time)    {}
func (BaseStrategy) Name() string                                           { return "base" }
func (BaseStrategy) Parameters() map[string]string                         { return nil }
