// Package backtest implements the core event loop (C10): replay an
// ordered candle sequence through a strategy, matching pending orders,
// opening and closing positions, and accumulating Trades. Grounded on the
// teacher's engine.go for the construct-wire-Run-Stop orchestrator shape
// and component-scoped slog logger, and on chidi150c's backtest.go/
// trader.go for the actual step-by-step walk-forward loop (one step per
// candle, periodic progress logging, win/loss-style accounting promoted
// here into full Trade records).
package backtest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"candlebt/internal/account"
	"candlebt/internal/errs"
	"candlebt/internal/fee"
	"candlebt/internal/order"
	"candlebt/internal/position"
	"candlebt/internal/strategy"
	"candlebt/pkg/candle"
)

// msToTime converts an epoch-millisecond timestamp from a Candle into a
// time.Time, the only place wall-clock-shaped values enter the loop — it
// is derived entirely from input data, never from time.Now().
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// idNamespace seeds every deterministic ID this package generates. Using
// uuid.NewSHA1 against a fixed namespace + a monotonic sequence counter
// keeps Trade/Position/Order IDs reproducible across runs — the loop's
// determinism invariant (spec §4.10) forbids anything RNG-backed, so
// plain uuid.New() (v4, crypto/rand-backed) is never used here.
var idNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func deterministicID(kind string, seq int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s-%d", kind, seq))).String()
}

// Loop is the single-threaded backtest event loop for one symbol.
type Loop struct {
	symbol     string
	strategy   strategy.Strategy
	feeSvc     *fee.Service
	quoteAsset string
	logger     *slog.Logger

	progressEvery int
	onProgress    func(candleIndex int, acc *account.Account)
}

// Config bundles Loop construction parameters.
type Config struct {
	Symbol        string
	Strategy      strategy.Strategy
	FeeConfig     fee.Config
	QuoteAsset    string
	ProgressEvery int // 0 disables the progress hook
	OnProgress    func(candleIndex int, acc *account.Account)
	Logger        *slog.Logger
}

// NewLoop wires a Loop against one strategy instance, mirroring the
// teacher's constructor-injection of collaborators (risk.Manager,
// exchange.Client) into Maker rather than resolving them through a
// registry.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		symbol:        cfg.Symbol,
		strategy:      cfg.Strategy,
		feeSvc:        fee.NewService(cfg.FeeConfig),
		quoteAsset:    cfg.QuoteAsset,
		progressEvery: cfg.ProgressEvery,
		onProgress:    cfg.OnProgress,
		logger:        logger.With("component", "backtest.loop", "symbol", cfg.Symbol),
	}
}

// Result is everything a completed Run produces.
type Result struct {
	Account *account.Account
	Trades  []*Trade
}

// run-scoped state the loop mutates candle by candle. Kept off Loop itself
// so one Loop value could in principle run multiple independent backtests
// (not required by the spec, but costs nothing).
type runState struct {
	acc          *account.Account
	pending      []*order.Order
	openTrades   map[string]*Trade // position ID -> its open Trade
	closedTrades []*Trade
	orderSeq     int
	positionSeq  int
	tradeSeq     int
}

// Run replays candles (chronologically ordered) through the strategy,
// executing exactly the four substeps of spec §4.10 per candle, in order:
// mark-to-market, drain pending orders, strategy step, progress hook.
// There is no cancellation model at candle granularity (spec §5): once
// started, Run always processes every candle in candles. Run rejects an
// empty candle set before any work begins, per §7's EmptyCandleSet
// contract.
func (l *Loop) Run(initialBalance decimal.Decimal, candles []candle.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, errs.ErrEmptyCandleSet
	}

	st := &runState{
		acc:        account.New(l.symbol+"-account", l.quoteAsset, initialBalance, timeOf(candles, 0)),
		openTrades: make(map[string]*Trade),
	}

	for i, c := range candles {
		l.markToMarket(st, c)
		l.drainPendingOrders(st, c)
		l.strategyStep(st, c)

		if l.progressEvery > 0 && l.onProgress != nil && (i+1)%l.progressEvery == 0 {
			l.onProgress(i, st.acc)
		}
	}

	l.forceCloseOpenPositions(st, candles[len(candles)-1])

	return &Result{Account: st.acc, Trades: st.closedTrades}, nil
}

func timeOf(candles []candle.Candle, i int) time.Time {
	if i >= len(candles) {
		return time.Time{}
	}
	return msToTime(candles[i].OpenTime)
}

// markToMarket updates every OPEN position to the candle's close and
// refreshes the running extremes on its associated Trade.
func (l *Loop) markToMarket(st *runState, c candle.Candle) {
	for _, p := range st.acc.OpenPositions() {
		p.UpdatePrice(c.Close)
		if t, ok := st.openTrades[p.ID()]; ok {
			t.observe(p)
		}
	}
}

// drainPendingOrders fills every order whose trigger predicate holds at
// the candle's close, in arrival order, and routes the fill against the
// symbol's current open position, if any: a fill in the same direction
// extends it, a fill in the opposite direction reduces or closes it (any
// quantity beyond what closes it flips into a fresh position), and a fill
// with no existing position opens one. The fee is always charged to the
// account once per fill, then folded into whichever Trade(s) it touched.
func (l *Loop) drainPendingOrders(st *runState, c candle.Candle) {
	var remaining []*order.Order
	for _, o := range st.pending {
		if !o.CanFire(c.Close) {
			remaining = append(remaining, o)
			continue
		}

		fillTime := msToTime(c.CloseTime)
		o.Fill(fillTime)

		f := l.feeSvc.Calculate(o.Kind, o.ID, o.Quantity, c.Close, l.quoteAsset, fillTime)
		st.acc.ChargeFee(l.quoteAsset, f.Amount)

		existing := l.findOpenPosition(st, o.Symbol)
		switch {
		case existing == nil:
			l.openPosition(st, o, o.Quantity, c.Close, fillTime, f.Amount)
		case sameDirection(existing, o):
			l.extendPosition(st, existing, o, c.Close, f.Amount)
		default:
			l.reducePosition(st, existing, o, c.Close, fillTime, f.Amount)
		}

		l.strategy.OnOrderFilled(o, fillTime)
	}
	st.pending = remaining
}

// sameDirection reports whether a fill on o would extend the existing
// position rather than reduce it: a BUY extends a LONG, a SELL extends a
// SHORT.
func sameDirection(p *position.Position, o *order.Order) bool {
	return (p.Side() == position.Long && o.Side == order.Buy) ||
		(p.Side() == position.Short && o.Side == order.Sell)
}

func (l *Loop) findOpenPosition(st *runState, symbol string) *position.Position {
	for _, p := range st.acc.OpenPositions() {
		if p.Symbol() == symbol {
			return p
		}
	}
	return nil
}

// openPosition creates a brand-new Position+Trade for quantity at price,
// charging feeAmount to the new Trade's running fee total.
func (l *Loop) openPosition(st *runState, o *order.Order, quantity, price decimal.Decimal, fillTime time.Time, feeAmount decimal.Decimal) {
	size := quantity
	side := position.Long
	if o.Side == order.Sell {
		side = position.Short
		size = size.Neg()
	}

	st.positionSeq++
	posID := deterministicID("position", st.positionSeq)
	p, err := position.New(posID, o.Symbol, side, size, price, decimal.NewFromInt(1), fillTime)
	if err != nil {
		l.logger.Error("fill produced invalid position", "error", err, "order_id", o.ID)
		return
	}
	st.acc.AddPosition(p)

	st.tradeSeq++
	tradeID := deterministicID("trade", st.tradeSeq)
	trade := newTrade(tradeID, o, p, price, fillTime)
	trade.TotalFees = trade.TotalFees.Add(feeAmount)
	st.openTrades[p.ID()] = trade

	l.strategy.OnPositionOpened(p.ID(), fillTime)
}

// extendPosition adds o's quantity to an existing position in the same
// direction, per position.Add's weighted-average-entry recompute.
func (l *Loop) extendPosition(st *runState, p *position.Position, o *order.Order, price decimal.Decimal, feeAmount decimal.Decimal) {
	deltaSize := o.Quantity
	if o.Side == order.Sell {
		deltaSize = deltaSize.Neg()
	}
	if err := p.Add(deltaSize, price); err != nil {
		l.logger.Error("extend failed", "error", err, "position_id", p.ID())
		return
	}
	if trade, ok := st.openTrades[p.ID()]; ok {
		trade.TotalFees = trade.TotalFees.Add(feeAmount)
	}
}

// reducePosition closes up to o.Quantity of an existing opposite-direction
// position. If the fill exceeds the position's remaining size, the
// position closes fully and the excess opens a brand-new position in the
// fill's direction (a flip); the entry fee already charged for this fill is
// attributed entirely to the closing Trade, not split with the flipped one.
func (l *Loop) reducePosition(st *runState, p *position.Position, o *order.Order, price decimal.Decimal, fillTime time.Time, feeAmount decimal.Decimal) {
	trade, ok := st.openTrades[p.ID()]
	if !ok {
		return
	}

	absPos := p.Size().Abs()
	closeAmt := decimal.Min(o.Quantity, absPos)
	deltaSize := closeAmt
	if p.Side() == position.Short {
		deltaSize = closeAmt.Neg()
	}

	realizedBefore := p.RealizedPnL()
	if err := p.ClosePartial(deltaSize, price); err != nil {
		l.logger.Error("close failed", "error", err, "position_id", p.ID())
		return
	}
	st.acc.ApplyDelta(l.quoteAsset, p.RealizedPnL().Sub(realizedBefore))
	trade.TotalFees = trade.TotalFees.Add(feeAmount)

	if p.Status() != position.Closed {
		return
	}

	trade.close(o.Kind, o.ID, price, p.RealizedPnL(), fillTime)
	st.acc.AddRealizedPnL(trade.RealizedPnL)
	st.closedTrades = append(st.closedTrades, trade)
	delete(st.openTrades, p.ID())
	l.strategy.OnPositionClosed(p.ID(), trade.RealizedPnL, fillTime)

	remainder := o.Quantity.Sub(closeAmt)
	if remainder.IsPositive() {
		l.openPosition(st, o, remainder, price, fillTime, decimal.Zero)
	}
}

// strategyStep invokes the strategy's per-candle callback and validates
// and queues any orders it returns. A strategy panic is caught, logged,
// and treated as "no orders this candle" — the loop never halts on
// strategy misbehavior (spec §4.10 point 3).
func (l *Loop) strategyStep(st *runState, c candle.Candle) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("strategy panicked, skipping this candle", "panic", r)
		}
	}()

	requests := l.strategy.OnCandle(c, st.acc)
	for _, req := range requests {
		st.orderSeq++
		orderID := deterministicID("order", st.orderSeq)
		o := order.NewOrder(orderID, l.symbol, req.Side, req.Kind, req.Quantity, msToTime(c.CloseTime))
		o.Price = req.Price
		o.StopPrice = req.StopPrice
		o.LimitPrice = req.LimitPrice
		o.TargetPrice = req.TargetPrice

		if err := o.Validate(st.acc.FreeBalance(l.quoteAsset), c.Close); err != nil {
			l.logger.Warn("order rejected", "error", err, "order_id", o.ID)
			o.Status = order.Rejected
			continue
		}

		st.pending = append(st.pending, o)
	}
}

// forceCloseOpenPositions closes every still-OPEN position at the final
// candle's close, using a synthetic exit identifier and charging an exit
// fee at the same rate as the position's entry order kind. The stored
// realized_pnl nets every fee the trade accrued over its life, entry
// through this synthetic exit.
func (l *Loop) forceCloseOpenPositions(st *runState, last candle.Candle) {
	exitTime := msToTime(last.CloseTime)
	for _, p := range st.acc.OpenPositions() {
		trade, ok := st.openTrades[p.ID()]
		if !ok {
			continue
		}

		realizedBefore := p.RealizedPnL()
		if err := p.CloseFull(last.Close); err != nil {
			l.logger.Error("force-close failed", "error", err, "position_id", p.ID())
			continue
		}
		st.acc.ApplyDelta(l.quoteAsset, p.RealizedPnL().Sub(realizedBefore))

		exitOrderID := "synthetic-exit-" + p.ID()
		f := l.feeSvc.Calculate(trade.EntryOrderKind, exitOrderID, trade.EntryQuantity, last.Close, l.quoteAsset, exitTime)
		st.acc.ChargeFee(l.quoteAsset, f.Amount)
		trade.TotalFees = trade.TotalFees.Add(f.Amount)

		trade.close(trade.EntryOrderKind, exitOrderID, last.Close, p.RealizedPnL(), exitTime)
		st.acc.AddRealizedPnL(trade.RealizedPnL)

		l.strategy.OnPositionClosed(p.ID(), trade.RealizedPnL, exitTime)
		st.closedTrades = append(st.closedTrades, trade)
		delete(st.openTrades, p.ID())
	}
}
