// Package fetch implements the paginated, rate-limited, retry-bounded
// kline client (C2): a single resty-backed HTTP client whose fetchBatch
// call is wrapped in a hand-rolled retry loop so the "return empty after
// MAX_RETRIES" contract is directly observable and testable, rather than
// hidden behind resty's own opaque retry machinery.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"candlebt/internal/errs"
	"candlebt/pkg/candle"
)

// Client performs rate-limited, retry-bounded kline requests against a
// single base URL.
type Client struct {
	http       *resty.Client
	limiter    *TokenBucket
	maxRetries int
	retryDelay time.Duration
	apiLimit   int
	logger     *slog.Logger
}

// Config bundles the construction parameters pulled from config.FetchConfig.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	APILimit       int
	SleepSeconds   float64
	MaxRetries     int
	RetryDelay     time.Duration
}

// NewClient builds a kline client. Resty's own retry is left disabled: the
// caller-visible MAX_RETRIES/RETRY_DELAY contract is driven explicitly by
// FetchBatch so the "exhausted retries -> empty batch" behavior is
// observable to callers and tests.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout)

	return &Client{
		http:       httpClient,
		limiter:    NewSleepPacedBucket(cfg.SleepSeconds),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		apiLimit:   cfg.APILimit,
		logger:     logger.With("component", "fetch.client"),
	}
}

// APILimit returns the configured maximum rows per request, used by
// callers (e.g. the incremental updater) to size a forward time window.
func (c *Client) APILimit() int {
	return c.apiLimit
}

// klineRow is one inner array of the venue's kline response: twelve
// positional elements, strings for decimals, numbers for timestamps/counts.
type klineRow [12]any

// FetchBatch requests up to APILimit one-minute candles ending at
// endTimeMs, sorted ascending by open_time. On any transport or parse
// failure it retries up to MaxRetries times, sleeping RetryDelay between
// attempts; after the final failure it returns an empty, error-free
// sequence — the caller interprets empty as "batch boundary", per spec §4.2.
func (c *Client) FetchBatch(ctx context.Context, symbol string, interval candle.Interval, endTimeMs int64) []candle.Candle {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying kline request", "symbol", symbol, "interval", interval, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		rows, err := c.requestOnce(ctx, symbol, interval, endTimeMs)
		if err != nil {
			lastErr = err
			continue
		}

		out, err := parseRows(rows)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", errs.ErrParse, err)
			continue
		}
		return out
	}

	c.logger.Error("kline request exhausted retries, treating as batch boundary",
		"symbol", symbol, "interval", interval, "end_time", endTimeMs, "err", lastErr)
	return nil
}

func (c *Client) requestOnce(ctx context.Context, symbol string, interval candle.Interval, endTimeMs int64) ([]klineRow, error) {
	var rows []klineRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": string(interval),
			"limit":    fmt.Sprintf("%d", c.apiLimit),
			"endTime":  fmt.Sprintf("%d", endTimeMs),
		}).
		SetResult(&rows).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d: %s", errs.ErrTransport, resp.StatusCode(), resp.String())
	}
	return rows, nil
}

// parseRows converts the venue's raw [12]any rows into Candles, parsing
// every string-decimal field at full precision. A malformed row is skipped
// with the error recorded, per spec §7 ParseError semantics; the batch
// continues with whatever rows parsed cleanly.
func parseRows(rows []klineRow) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(rows))
	var firstErr error
	for i, row := range rows {
		c, err := parseRow(row)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("row %d: %w", i, err)
			}
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 && len(rows) > 0 {
		return nil, firstErr
	}
	return out, nil
}

func parseRow(row klineRow) (candle.Candle, error) {
	openTime, err := toInt64(row[0])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("open_time: %w", err)
	}
	open, err := toDecimal(row[1])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := toDecimal(row[2])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := toDecimal(row[3])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("low: %w", err)
	}
	closeP, err := toDecimal(row[4])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := toDecimal(row[5])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("volume: %w", err)
	}
	closeTime, err := toInt64(row[6])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("close_time: %w", err)
	}
	quoteVol, err := toDecimal(row[7])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("quote_asset_volume: %w", err)
	}
	numTrades, err := toInt64(row[8])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("number_of_trades: %w", err)
	}
	takerBase, err := toDecimal(row[9])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("taker_buy_base: %w", err)
	}
	takerQuote, err := toDecimal(row[10])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("taker_buy_quote: %w", err)
	}
	ignoreField, err := toDecimal(row[11])
	if err != nil {
		return candle.Candle{}, fmt.Errorf("ignore: %w", err)
	}

	return candle.Candle{
		OpenTime:         openTime,
		Open:             open,
		High:             high,
		Low:              low,
		Close:            closeP,
		Volume:           volume,
		CloseTime:        closeTime,
		QuoteAssetVolume: quoteVol,
		NumberOfTrades:   numTrades,
		TakerBuyBase:     takerBase,
		TakerBuyQuote:    takerQuote,
		IgnoreField:      ignoreField,
	}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return 0, err
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("unsupported integer field type %T", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported decimal field type %T", v)
	}
}
