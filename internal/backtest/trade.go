package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/order"
	"candlebt/internal/position"
)

// TradeStatus mirrors a Trade's completion state.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Trade is the reporting record for the complete life of one position: how
// it was entered, how it was exited (once closed), and the running
// extremes observed while it was open.
type Trade struct {
	TradeID string
	Symbol  string

	EntryOrderKind order.Kind
	EntrySide      order.Side
	EntryQuantity  decimal.Decimal
	EntryPrice     decimal.Decimal
	EntryTime      time.Time
	EntryOrderID   string

	PositionSide position.Side
	Leverage     decimal.Decimal

	ExitOrderKind order.Kind
	ExitPrice     decimal.Decimal
	ExitTime      time.Time
	ExitOrderID   string

	Status TradeStatus

	RealizedPnL decimal.Decimal
	TotalFees   decimal.Decimal

	MaxPrice         decimal.Decimal
	MinPrice         decimal.Decimal
	MaxUnrealizedPnL decimal.Decimal
	MinUnrealizedPnL decimal.Decimal
}

// newTrade opens a Trade record at fill time, seeding the running extremes
// from the entry price and starting unrealized PnL.
func newTrade(tradeID string, o *order.Order, p *position.Position, fillPrice decimal.Decimal, at time.Time) *Trade {
	return &Trade{
		TradeID:          tradeID,
		Symbol:           o.Symbol,
		EntryOrderKind:   o.Kind,
		EntrySide:        o.Side,
		EntryQuantity:    o.Quantity,
		EntryPrice:       fillPrice,
		EntryTime:        at,
		EntryOrderID:     o.ID,
		PositionSide:     p.Side(),
		Leverage:         decimal.NewFromInt(1),
		Status:           TradeOpen,
		MaxPrice:         fillPrice,
		MinPrice:         fillPrice,
		MaxUnrealizedPnL: decimal.Zero,
		MinUnrealizedPnL: decimal.Zero,
	}
}

// observe updates the running extremes from the position's current mark.
func (t *Trade) observe(p *position.Position) {
	price := p.CurrentPrice()
	unrealized := p.UnrealizedPnL()

	if price.GreaterThan(t.MaxPrice) {
		t.MaxPrice = price
	}
	if price.LessThan(t.MinPrice) {
		t.MinPrice = price
	}
	if unrealized.GreaterThan(t.MaxUnrealizedPnL) {
		t.MaxUnrealizedPnL = unrealized
	}
	if unrealized.LessThan(t.MinUnrealizedPnL) {
		t.MinUnrealizedPnL = unrealized
	}
}

// close promotes the trade to CLOSED with its exit details. rawRealizedPnL
// is the position's cumulative realized PnL (price-based only, no fees);
// the stored RealizedPnL nets it against every fee charged against this
// trade over its life (entry, any extends/partial reduces, and the closing
// fill itself — the caller adds the closing fee to TotalFees before calling
// close, so a single subtraction here covers all of it).
func (t *Trade) close(exitKind order.Kind, exitOrderID string, exitPrice, rawRealizedPnL decimal.Decimal, at time.Time) {
	t.ExitOrderKind = exitKind
	t.ExitOrderID = exitOrderID
	t.ExitPrice = exitPrice
	t.ExitTime = at
	t.Status = TradeClosed
	t.RealizedPnL = rawRealizedPnL.Sub(t.TotalFees)
}
