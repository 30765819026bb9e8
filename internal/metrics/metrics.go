// Package metrics implements the metrics analyzer (C11): a pure function
// over a completed backtest's closed Trades, producing the summary fields
// a caller reports or compares across runs. It holds no state and does no
// I/O; the analyzer itself never imports prometheus — the live reporter in
// reporter.go wraps it for instrumentation, kept separate so the analyzer's
// math stays testable without a metrics registry in the loop.
package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/backtest"
)

// profitFactorSentinel is returned when there are realized gains but no
// realized losses to divide by, per the documented edge case.
var profitFactorSentinel = decimal.NewFromInt(999999)

// Result identifies the run and carries every computed summary field.
type Result struct {
	StrategyName string
	Symbol       string
	Start        time.Time
	End          time.Time

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal

	TotalTrades   int
	ClosedTrades  int
	WinningTrades int
	LosingTrades  int

	TotalPnL  decimal.Decimal
	TotalFees decimal.Decimal
	NetPnL    decimal.Decimal

	TotalReturn  decimal.Decimal
	WinRate      decimal.Decimal
	ProfitFactor decimal.Decimal
	MaxDrawdown  decimal.Decimal

	AverageWin           decimal.Decimal
	AverageLoss          decimal.Decimal
	AverageTradeDuration time.Duration
}

// Analyze computes a Result from trades, identified by strategyName and
// symbol over [start, end], given the balances the run started and ended
// with. trades need not all be CLOSED; only CLOSED trades with a non-zero
// realized_pnl contribute to the winning/losing split.
func Analyze(strategyName, symbol string, start, end time.Time, initialBalance, finalBalance decimal.Decimal, trades []*backtest.Trade) Result {
	r := Result{
		StrategyName:   strategyName,
		Symbol:         symbol,
		Start:          start,
		End:            end,
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		TotalTrades:    len(trades),
	}

	var (
		positiveRealized = decimal.Zero
		negativeRealized = decimal.Zero
		winSum           = decimal.Zero
		lossSum          = decimal.Zero
		durationSum      time.Duration
		durationCount    int
	)

	for _, t := range trades {
		if t.Status != backtest.TradeClosed {
			continue
		}
		r.ClosedTrades++
		r.TotalPnL = r.TotalPnL.Add(t.RealizedPnL)
		r.TotalFees = r.TotalFees.Add(t.TotalFees)

		switch {
		case t.RealizedPnL.IsPositive():
			r.WinningTrades++
			positiveRealized = positiveRealized.Add(t.RealizedPnL)
			winSum = winSum.Add(t.RealizedPnL)
		case t.RealizedPnL.IsNegative():
			r.LosingTrades++
			negativeRealized = negativeRealized.Add(t.RealizedPnL.Abs())
			lossSum = lossSum.Add(t.RealizedPnL)
		}

		if !t.EntryTime.IsZero() && !t.ExitTime.IsZero() {
			durationSum += t.ExitTime.Sub(t.EntryTime)
			durationCount++
		}
	}

	r.NetPnL = r.TotalPnL.Sub(r.TotalFees)

	if initialBalance.IsPositive() {
		r.TotalReturn = finalBalance.Sub(initialBalance).Div(initialBalance).Mul(decimal.NewFromInt(100))
	}

	if r.ClosedTrades > 0 {
		r.WinRate = decimal.NewFromInt(int64(r.WinningTrades)).
			Div(decimal.NewFromInt(int64(r.ClosedTrades))).
			Mul(decimal.NewFromInt(100))
	}

	switch {
	case negativeRealized.IsZero() && positiveRealized.IsPositive():
		r.ProfitFactor = profitFactorSentinel
	case negativeRealized.IsZero():
		r.ProfitFactor = decimal.Zero
	default:
		r.ProfitFactor = positiveRealized.Div(negativeRealized)
	}

	r.MaxDrawdown = maxDrawdown(initialBalance, trades)

	if r.WinningTrades > 0 {
		r.AverageWin = winSum.Div(decimal.NewFromInt(int64(r.WinningTrades)))
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = lossSum.Div(decimal.NewFromInt(int64(r.LosingTrades)))
	}
	if durationCount > 0 {
		r.AverageTradeDuration = durationSum / time.Duration(durationCount)
	}

	return r
}

// maxDrawdown walks closed trades in order, maintaining a running balance
// from initialBalance and its running maximum, and returns the largest
// (max-current)/max*100 observed. Trades that never closed are skipped —
// they never moved the running balance.
func maxDrawdown(initialBalance decimal.Decimal, trades []*backtest.Trade) decimal.Decimal {
	running := initialBalance
	peak := initialBalance
	worst := decimal.Zero

	for _, t := range trades {
		if t.Status != backtest.TradeClosed {
			continue
		}
		running = running.Add(t.RealizedPnL)
		if running.GreaterThan(peak) {
			peak = running
		}
		if peak.IsZero() {
			continue
		}
		drawdown := peak.Sub(running).Div(peak).Mul(decimal.NewFromInt(100))
		if drawdown.GreaterThan(worst) {
			worst = drawdown
		}
	}
	return worst
}
