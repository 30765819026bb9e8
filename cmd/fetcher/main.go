// Command fetcher runs the historical backfill (C5): for every configured
// symbol, walk the 1m kline stream backward from now to the venue's
// earliest record and persist it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"candlebt/internal/config"
	"candlebt/internal/fetch"
	"candlebt/internal/historical"
	"candlebt/internal/sink"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CANDLEBT_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to config YAML")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (defaults to config default_coins)")
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

	symbols := cfg.DefaultCoins
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}

	store, err := openSink(*cfg)
	if err != nil {
		logger.Error("failed to open sink", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL:        cfg.Fetch.BaseURL,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		APILimit:       cfg.Fetch.APILimit,
		SleepSeconds:   cfg.Fetch.SleepSeconds,
		MaxRetries:     cfg.Fetch.MaxRetries,
		RetryDelay:     cfg.Fetch.RetryDelay,
	}, logger)

	fetcher := historical.NewFetcher(client, store, cfg.Fetch.Workers,
		time.Duration(cfg.Fetch.SleepSeconds*float64(time.Second)), nil, logger)

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("historical backfill starting", "symbols", symbols)
	fetcher.Run(ctx, symbols)
	logger.Info("historical backfill finished")
}

func openSink(cfg config.Config) (sink.Sink, error) {
	if cfg.Sink.Backend == "table" {
		return sink.NewTableSink(context.Background(), sink.DBConfig{
			DSN: cfg.DB.DSN(),
		}, cfg.Sink.DBBatchSize)
	}
	return sink.NewCSVSink(cfg.Sink.DataDir)
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
