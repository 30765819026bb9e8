package metrics

import "github.com/prometheus/client_golang/prometheus"

// The collectors below mirror a Result onto Prometheus gauges and count
// closed trades by outcome; Reporter sets them, kept apart from the pure
// Analyze math in metrics.go.
var (
	gaugeEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlebt_backtest_equity",
		Help: "Current account equity (quote asset) during a backtest run.",
	})

	gaugeNetPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlebt_backtest_net_pnl",
		Help: "Net realized PnL (after fees) over closed trades so far.",
	})

	gaugeWinRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlebt_backtest_win_rate",
		Help: "Win rate percentage over closed trades so far.",
	})

	gaugeDrawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "candlebt_backtest_max_drawdown",
		Help: "Maximum drawdown percentage observed so far.",
	})

	counterTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlebt_backtest_trades_total",
			Help: "Closed trades, split by outcome.",
		},
		[]string{"symbol", "result"}, // result: win|loss|flat
	)
)

func init() {
	prometheus.MustRegister(gaugeEquity, gaugeNetPnL, gaugeWinRate, gaugeDrawdown, counterTrades)
}

// Reporter writes to the registered collectors above; it holds only the
// symbol used to label the trade counter, not any Result.
type Reporter struct {
	symbol string
}

// NewReporter builds a Reporter for symbol, used to label the per-trade
// counter.
func NewReporter(symbol string) *Reporter {
	return &Reporter{symbol: symbol}
}

// Report sets the equity, net PnL, win rate and max drawdown gauges from
// r. It does not touch the trade counter; see ObserveTrade.
func (rep *Reporter) Report(r Result) {
	equity := r.FinalBalance
	gaugeEquity.Set(equity.InexactFloat64())
	gaugeNetPnL.Set(r.NetPnL.InexactFloat64())
	gaugeWinRate.Set(r.WinRate.InexactFloat64())
	gaugeDrawdown.Set(r.MaxDrawdown.InexactFloat64())
}

// ObserveTrade increments the trade counter once for a single closed
// trade's outcome; cmd/backtest calls it for each trade of the finished
// run, not from Analyze, since Analyze has no registry dependency.
func (rep *Reporter) ObserveTrade(realizedPnL float64) {
	result := "flat"
	switch {
	case realizedPnL > 0:
		result = "win"
	case realizedPnL < 0:
		result = "loss"
	}
	counterTrades.WithLabelValues(rep.symbol, result).Inc()
}
