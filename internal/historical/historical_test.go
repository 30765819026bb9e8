package historical

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlebt/internal/fetch"
	"candlebt/pkg/candle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func row(openTime int64) []any {
	return []any{
		openTime, "1.0", "2.0", "1.0", "1.5", "10.0",
		openTime + 59999, "15.0", 1, "5.0", "7.5", "0",
	}
}

// memorySink is an in-memory Sink used to assert what the fetcher
// persisted without touching the filesystem or a database.
type memorySink struct {
	mu      sync.Mutex
	batches map[string][][]candle.Candle
}

func newMemorySink() *memorySink {
	return &memorySink{batches: make(map[string][][]candle.Candle)}
}

func (m *memorySink) WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := symbol + ":" + string(interval)
	m.batches[key] = append(m.batches[key], candles)
	return nil
}

func (m *memorySink) LastOpenTime(ctx context.Context, symbol string, interval candle.Interval) (int64, bool, error) {
	return 0, false, nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) allFor(symbol string, interval candle.Interval) [][]candle.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[symbol+":"+string(interval)]
}

// backwardServer serves three 1m candles (open_time 0, 60000, 120000) one
// at a time, walking backward as the historical fetcher would: each
// request returns the single candle whose close_time is <= endTime and
// strictly greatest, or nothing once exhausted.
func backwardServer(t *testing.T) *httptest.Server {
	t.Helper()
	candles := []int64{0, 60000, 120000}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endTime, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		var best int64 = -1
		for _, ot := range candles {
			if ot+59999 <= endTime && ot > best {
				best = ot
			}
		}
		if best < 0 {
			_ = json.NewEncoder(w).Encode([]any{})
			return
		}
		_ = json.NewEncoder(w).Encode([][]any{row(best)})
	}))
}

func TestFetcherBackfillsUntilExhausted(t *testing.T) {
	srv := backwardServer(t)
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 1,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	store := newMemorySink()
	now := func() int64 { return 200000 }
	f := NewFetcher(client, store, 2, 0, now, testLogger())

	f.Run(t.Context(), []string{"BTCUSDT"})

	batches := store.allFor("BTCUSDT", candle.Interval1m)
	require.Len(t, batches, 3)
	assert.Equal(t, int64(120000), batches[0][0].OpenTime)
	assert.Equal(t, int64(60000), batches[1][0].OpenTime)
	assert.Equal(t, int64(0), batches[2][0].OpenTime)
}

func TestFetcherIsolatesPerSymbolFailure(t *testing.T) {
	srv := backwardServer(t)
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 1,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	failing := &failingSink{memorySink: newMemorySink(), failSymbol: "ETHUSDT"}
	now := func() int64 { return 200000 }
	f := NewFetcher(client, failing, 2, 0, now, testLogger())

	f.Run(t.Context(), []string{"BTCUSDT", "ETHUSDT"})

	// BTCUSDT still completes its full backfill despite ETHUSDT's failure.
	assert.Len(t, failing.allFor("BTCUSDT", candle.Interval1m), 3)
}

type failingSink struct {
	*memorySink
	failSymbol string
}

func (f *failingSink) WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error {
	if symbol == f.failSymbol {
		return assertErr
	}
	return f.memorySink.WriteCandles(ctx, symbol, interval, candles)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var assertErr = fakeErr("write failed")

func TestFetcherPersistsNothingWhenCancelledBeforeStart(t *testing.T) {
	srv := backwardServer(t)
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 1,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	store := newMemorySink()
	now := func() int64 { return 200000 }
	f := NewFetcher(client, store, 1, 0, now, testLogger())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	f.Run(ctx, []string{"BTCUSDT"})

	// Cancelled before the first request: no batches persisted.
	assert.Empty(t, store.allFor("BTCUSDT", candle.Interval1m))
}
