// Command backtest runs the event-driven backtest engine (C10) over a
// stored candle series for one symbol and reports the resulting metrics
// (C11), optionally serving them over HTTP (A5) once the run has finished,
// until interrupted.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/backtest"
	"candlebt/internal/config"
	"candlebt/internal/fee"
	"candlebt/internal/metrics"
	"candlebt/internal/report"
	"candlebt/internal/strategy/smacross"
	"candlebt/pkg/candle"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CANDLEBT_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to config YAML")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to backtest")
	interval := flag.String("interval", "1m", "candle interval to replay")
	initialBalance := flag.String("balance", "10000", "initial quote-asset balance")
	fastPeriod := flag.Int("fast", 10, "sma-cross fast period")
	slowPeriod := flag.Int("slow", 30, "sma-cross slow period")
	qty := flag.String("qty", "1", "order quantity per signal")
	serveAddr := flag.String("serve", "", "if set, serve the result over HTTP at this address (e.g. :8090) until interrupted")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	if cfg.Sink.Backend != "csv" {
		logger.Error("backtest currently reads candles from the csv sink only", "backend", cfg.Sink.Backend)
		os.Exit(1)
	}

	candles, err := loadCSVCandles(cfg.Sink.DataDir, *symbol, candle.Interval(*interval))
	if err != nil {
		logger.Error("failed to load candles", "error", err)
		os.Exit(1)
	}
	if len(candles) == 0 {
		logger.Error("no candles found", "symbol", *symbol, "interval", *interval)
		os.Exit(1)
	}

	balance, err := decimal.NewFromString(*initialBalance)
	if err != nil {
		logger.Error("invalid balance", "error", err)
		os.Exit(1)
	}
	quantity, err := decimal.NewFromString(*qty)
	if err != nil {
		logger.Error("invalid quantity", "error", err)
		os.Exit(1)
	}

	strat := smacross.New(*fastPeriod, *slowPeriod, quantity)
	reporter := metrics.NewReporter(*symbol)

	var reportServer *report.Server
	if *serveAddr != "" {
		reportServer = report.NewServer(*serveAddr, logger)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if reportServer != nil {
		go func() {
			if err := reportServer.Start(); err != nil {
				logger.Error("report server stopped", "error", err)
			}
		}()
	}

	loop := backtest.NewLoop(backtest.Config{
		Symbol:     *symbol,
		Strategy:   strat,
		FeeConfig:  fee.DefaultConfig(),
		QuoteAsset: "USDT",
		Logger:     logger,
	})

	logger.Info("backtest starting", "symbol", *symbol, "interval", *interval, "candles", len(candles), "strategy", strat.Name())
	result, err := loop.Run(balance, candles)
	if err != nil {
		logger.Error("backtest run failed", "error", err)
		os.Exit(1)
	}

	finalBalance := result.Account.Equity("USDT")
	start := time.UnixMilli(candles[0].OpenTime).UTC()
	end := time.UnixMilli(candles[len(candles)-1].CloseTime).UTC()
	m := metrics.Analyze(strat.Name(), *symbol, start, end, balance, finalBalance, result.Trades)
	reporter.Report(m)
	for _, tr := range result.Trades {
		reporter.ObserveTrade(mustFloat(tr.RealizedPnL))
	}

	logger.Info("backtest finished",
		"total_trades", m.TotalTrades,
		"win_rate", m.WinRate.String(),
		"net_pnl", m.NetPnL.String(),
		"max_drawdown", m.MaxDrawdown.String(),
	)
	fmt.Printf("%+v\n", m)

	if reportServer != nil {
		reportServer.Publish(report.Snapshot{Metrics: m, Trades: result.Trades})
		logger.Info("serving backtest result, press Ctrl+C to exit", "addr", *serveAddr)
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = reportServer.Stop(shutdownCtx)
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// loadCSVCandles reads every candle the csv sink (C3) has persisted for
// (symbol, interval) and returns them sorted ascending by open_time: the
// chronological order backtest.Loop.Run requires, regardless of the
// sink's own append order.
func loadCSVCandles(dataDir, symbol string, interval candle.Interval) ([]candle.Candle, error) {
	path := dataDir + "/" + toFileStem(symbol, interval) + ".csv"
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	candles := make([]candle.Candle, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c, err := rowToCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	return candles, nil
}

func toFileStem(symbol string, interval candle.Interval) string {
	return fmt.Sprintf("%s_%s", lower(symbol), interval)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func rowToCandle(row []string) (candle.Candle, error) {
	if len(row) != 12 {
		return candle.Candle{}, fmt.Errorf("malformed candle row: want 12 fields, got %d", len(row))
	}
	openTime, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse open_time: %w", err)
	}
	closeTime, err := strconv.ParseInt(row[6], 10, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse close_time: %w", err)
	}
	numTrades, err := strconv.ParseInt(row[8], 10, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse number_of_trades: %w", err)
	}

	dec := func(s string) (decimal.Decimal, error) { return decimal.NewFromString(s) }
	open, err := dec(row[1])
	if err != nil {
		return candle.Candle{}, err
	}
	high, err := dec(row[2])
	if err != nil {
		return candle.Candle{}, err
	}
	low, err := dec(row[3])
	if err != nil {
		return candle.Candle{}, err
	}
	closePrice, err := dec(row[4])
	if err != nil {
		return candle.Candle{}, err
	}
	volume, err := dec(row[5])
	if err != nil {
		return candle.Candle{}, err
	}
	quoteVol, err := dec(row[7])
	if err != nil {
		return candle.Candle{}, err
	}
	takerBase, err := dec(row[9])
	if err != nil {
		return candle.Candle{}, err
	}
	takerQuote, err := dec(row[10])
	if err != nil {
		return candle.Candle{}, err
	}
	ignore, err := dec(row[11])
	if err != nil {
		return candle.Candle{}, err
	}

	return candle.Candle{
		OpenTime:         openTime,
		Open:             open,
		High:             high,
		Low:              low,
		Close:            closePrice,
		Volume:           volume,
		CloseTime:        closeTime,
		QuoteAssetVolume: quoteVol,
		NumberOfTrades:   numTrades,
		TakerBuyBase:     takerBase,
		TakerBuyQuote:    takerQuote,
		IgnoreField:      ignore,
	}, nil
}

func newLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
