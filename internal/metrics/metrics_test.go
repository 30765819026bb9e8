package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"candlebt/internal/backtest"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func closedTrade(realizedPnL string, fees string, entry, exit time.Time) *backtest.Trade {
	return &backtest.Trade{
		Status:      backtest.TradeClosed,
		RealizedPnL: d(realizedPnL),
		TotalFees:   d(fees),
		EntryTime:   entry,
		ExitTime:    exit,
	}
}

func TestAnalyzeComputesCountsAndSums(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	trades := []*backtest.Trade{
		closedTrade("19.912", "0.088", base, base.Add(10*time.Minute)),
		closedTrade("-5", "0.04", base, base.Add(5*time.Minute)),
		{Status: backtest.TradeOpen}, // still open, excluded
	}

	r := Analyze("buy-once", "BTCUSDT", base, base.Add(time.Hour), d("10000"), d("10014.872"), trades)

	assert.Equal(t, 3, r.TotalTrades)
	assert.Equal(t, 2, r.ClosedTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.True(t, r.TotalPnL.Equal(d("14.912")), "got %s", r.TotalPnL)
	assert.True(t, r.TotalFees.Equal(d("0.128")), "got %s", r.TotalFees)
	assert.True(t, r.NetPnL.Equal(r.TotalPnL.Sub(r.TotalFees)))
	assert.True(t, r.WinRate.Equal(d("50")), "got %s", r.WinRate)
	assert.Equal(t, 7*time.Minute+30*time.Second, r.AverageTradeDuration)
}

func TestAnalyzeProfitFactorSentinelWhenNoLosses(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	trades := []*backtest.Trade{closedTrade("10", "0", base, base.Add(time.Minute))}
	r := Analyze("s", "BTCUSDT", base, base, d("100"), d("110"), trades)
	assert.True(t, r.ProfitFactor.Equal(profitFactorSentinel))
}

func TestAnalyzeProfitFactorZeroWhenNoTradesAtAll(t *testing.T) {
	r := Analyze("s", "BTCUSDT", time.Time{}, time.Time{}, d("100"), d("100"), nil)
	assert.True(t, r.ProfitFactor.IsZero())
	assert.True(t, r.WinRate.IsZero())
}

func TestAnalyzeTotalReturnPercentage(t *testing.T) {
	r := Analyze("s", "BTCUSDT", time.Time{}, time.Time{}, d("1000"), d("1100"), nil)
	assert.True(t, r.TotalReturn.Equal(d("10")), "got %s", r.TotalReturn)
}

func TestAnalyzeTotalReturnZeroWhenInitialBalanceNotPositive(t *testing.T) {
	r := Analyze("s", "BTCUSDT", time.Time{}, time.Time{}, d("0"), d("100"), nil)
	assert.True(t, r.TotalReturn.IsZero())
}

func TestMaxDrawdownTracksWorstPeakToTroughDrop(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	trades := []*backtest.Trade{
		closedTrade("100", "0", base, base), // balance 1100, new peak
		closedTrade("-300", "0", base, base), // balance 800, drawdown from 1100 peak = 300/1100*100
		closedTrade("50", "0", base, base),   // balance 850, still below peak
	}
	r := Analyze("s", "BTCUSDT", base, base, d("1000"), d("850"), trades)
	want := d("300").Div(d("1100")).Mul(d("100"))
	assert.True(t, r.MaxDrawdown.Equal(want), "got %s want %s", r.MaxDrawdown, want)
}

func TestMaxDrawdownZeroWhenNoTrades(t *testing.T) {
	r := Analyze("s", "BTCUSDT", time.Time{}, time.Time{}, d("1000"), d("1000"), nil)
	assert.True(t, r.MaxDrawdown.IsZero())
}

func TestAnalyzeAverageWinAndLoss(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	trades := []*backtest.Trade{
		closedTrade("10", "0", base, base),
		closedTrade("20", "0", base, base),
		closedTrade("-5", "0", base, base),
	}
	r := Analyze("s", "BTCUSDT", base, base, d("1000"), d("1025"), trades)
	assert.True(t, r.AverageWin.Equal(d("15")), "got %s", r.AverageWin)
	assert.True(t, r.AverageLoss.Equal(d("-5")), "got %s", r.AverageLoss)
}
