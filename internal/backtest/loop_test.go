package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlebt/internal/account"
	"candlebt/internal/errs"
	"candlebt/internal/fee"
	"candlebt/internal/order"
	"candlebt/internal/strategy"
	"candlebt/pkg/candle"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func candleAt(openTime int64, closePrice string) candle.Candle {
	return candle.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59999,
		Open:      d(closePrice),
		High:      d(closePrice),
		Low:       d(closePrice),
		Close:     d(closePrice),
		Volume:    d("1"),
	}
}

// buyOnceStrategy places one Market BUY of quantity 1 on the very first
// candle it sees and nothing afterward.
type buyOnceStrategy struct {
	strategy.BaseStrategy
	placed bool
}

func (s *buyOnceStrategy) OnCandle(c candle.Candle, acc *account.Account) []strategy.OrderRequest {
	if s.placed {
		return nil
	}
	s.placed = true
	return []strategy.OrderRequest{{Side: order.Buy, Kind: order.Market, Quantity: d("1")}}
}

func (s *buyOnceStrategy) Name() string { return "buy-once" }

func TestLoopOpensPositionOnNextCandleAfterPlacement(t *testing.T) {
	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   &buyOnceStrategy{},
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})

	candles := []candle.Candle{
		candleAt(0, "100"),
		candleAt(60000, "110"),
		candleAt(120000, "120"),
	}

	result, err := l.Run(d("10000"), candles)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	// Placed on candle 0's strategy step; filled on candle 1 (the order
	// enters pending after step 3 of candle 0, so step 2 of candle 1 is
	// the first chance to fire).
	assert.Equal(t, int64(60000+59999), trade.EntryTime.UnixMilli())
	assert.True(t, trade.EntryPrice.Equal(d("110")), "got %s", trade.EntryPrice)
}

func TestLoopForceClosesOpenPositionsAtFinalCandle(t *testing.T) {
	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   &buyOnceStrategy{},
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})

	candles := []candle.Candle{
		candleAt(0, "100"),
		candleAt(60000, "110"),
		candleAt(120000, "120"),
	}

	result, err := l.Run(d("10000"), candles)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]

	assert.Equal(t, TradeClosed, trade.Status)
	assert.True(t, trade.ExitPrice.Equal(d("120")), "got %s", trade.ExitPrice)
	// Entry 110, exit 120, qty 1: raw realized = 10, minus entry fee
	// (taker 0.0004*110=0.044) and exit fee (taker 0.0004*120=0.048).
	wantRealized := d("10").Sub(d("0.044")).Sub(d("0.048"))
	assert.True(t, trade.RealizedPnL.Equal(wantRealized), "got %s want %s", trade.RealizedPnL, wantRealized)

	assert.Empty(t, result.Account.OpenPositions())
}

func TestLoopChargesMakerFeeForLimitFill(t *testing.T) {
	limitPrice := d("105")
	strat := &fixedOrderStrategy{req: strategy.OrderRequest{Side: order.Buy, Kind: order.Limit, Quantity: d("2"), Price: &limitPrice}}

	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   strat,
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})

	candles := []candle.Candle{
		candleAt(0, "110"),     // placed here
		candleAt(60000, "104"), // fires: 104 <= 105
	}

	result, err := l.Run(d("10000"), candles)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.True(t, trade.EntryPrice.Equal(d("104")))
	// maker rate 0.0002 * notional (2*104=208) = 0.0416
	assert.True(t, trade.TotalFees.GreaterThanOrEqual(d("0.04")))
}

// buyThenSellStrategy places a Market BUY on the first candle and a Market
// SELL of the same quantity ten candles later, closing the position it
// opened rather than opening a second one.
type buyThenSellStrategy struct {
	strategy.BaseStrategy
	step int
}

func (s *buyThenSellStrategy) OnCandle(c candle.Candle, acc *account.Account) []strategy.OrderRequest {
	defer func() { s.step++ }()
	switch s.step {
	case 0:
		return []strategy.OrderRequest{{Side: order.Buy, Kind: order.Market, Quantity: d("1")}}
	case 10:
		return []strategy.OrderRequest{{Side: order.Sell, Kind: order.Market, Quantity: d("1")}}
	default:
		return nil
	}
}

func (s *buyThenSellStrategy) Name() string { return "buy-then-sell" }

func TestLoopOppositeSideFillClosesExistingPositionNotOpensNew(t *testing.T) {
	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   &buyThenSellStrategy{},
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})

	candles := make([]candle.Candle, 12)
	for i := range candles {
		price := "100"
		if i >= 11 {
			price = "120"
		}
		candles[i] = candleAt(int64(i)*60000, price)
	}

	result, err := l.Run(d("10000"), candles)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, TradeClosed, trade.Status)
	assert.True(t, trade.EntryPrice.Equal(d("100")), "got %s", trade.EntryPrice)
	assert.True(t, trade.ExitPrice.Equal(d("120")), "got %s", trade.ExitPrice)
	// Raw pnl (120-100)*1=20, minus entry fee (taker 0.0004*100=0.04) and
	// exit fee (taker 0.0004*120=0.048).
	want := d("20").Sub(d("0.04")).Sub(d("0.048"))
	assert.True(t, trade.RealizedPnL.Equal(want), "got %s want %s", trade.RealizedPnL, want)
	assert.Empty(t, result.Account.OpenPositions())
}

type fixedOrderStrategy struct {
	strategy.BaseStrategy
	req   strategy.OrderRequest
	fired bool
}

func (s *fixedOrderStrategy) OnCandle(c candle.Candle, acc *account.Account) []strategy.OrderRequest {
	if s.fired {
		return nil
	}
	s.fired = true
	return []strategy.OrderRequest{s.req}
}

func (s *fixedOrderStrategy) Name() string { return "fixed" }

func TestLoopRejectsInvalidOrderWithoutHalting(t *testing.T) {
	hugeQty := d("1000000")
	strat := &fixedOrderStrategy{req: strategy.OrderRequest{Side: order.Buy, Kind: order.Market, Quantity: hugeQty}}

	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   strat,
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})

	candles := []candle.Candle{candleAt(0, "100"), candleAt(60000, "100")}
	result, err := l.Run(d("10000"), candles)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
}

func TestLoopIsDeterministicAcrossRuns(t *testing.T) {
	newLoop := func() *Loop {
		return NewLoop(Config{
			Symbol:     "BTCUSDT",
			Strategy:   &buyOnceStrategy{},
			FeeConfig:  fee.DefaultConfig(),
			QuoteAsset: "USDT",
		})
	}
	candles := []candle.Candle{candleAt(0, "100"), candleAt(60000, "110"), candleAt(120000, "120")}

	r1, err := newLoop().Run(d("10000"), candles)
	require.NoError(t, err)
	r2, err := newLoop().Run(d("10000"), candles)
	require.NoError(t, err)

	require.Len(t, r1.Trades, 1)
	require.Len(t, r2.Trades, 1)
	assert.Equal(t, r1.Trades[0].TradeID, r2.Trades[0].TradeID)
	assert.True(t, r1.Trades[0].RealizedPnL.Equal(r2.Trades[0].RealizedPnL))
}

func TestLoopProgressHookFiresEveryN(t *testing.T) {
	var calls []int
	l := NewLoop(Config{
		Symbol:        "BTCUSDT",
		Strategy:      &strategy.BaseStrategy{},
		FeeConfig:     fee.DefaultConfig(),
		QuoteAsset:    "USDT",
		ProgressEvery: 2,
		OnProgress: func(candleIndex int, acc *account.Account) {
			calls = append(calls, candleIndex)
		},
	})

	candles := []candle.Candle{
		candleAt(0, "100"), candleAt(60000, "100"), candleAt(120000, "100"), candleAt(180000, "100"),
	}
	_, err := l.Run(d("1000"), candles)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, calls)
}

func TestLoopRejectsEmptyCandleSet(t *testing.T) {
	l := NewLoop(Config{
		Symbol:     "BTCUSDT",
		Strategy:   &strategy.BaseStrategy{},
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
	})
	result, err := l.Run(d("1000"), nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, errs.ErrEmptyCandleSet)
}
