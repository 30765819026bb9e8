package updater

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

// memorySink is a minimal in-memory Sink recording every WriteCandles call
// and exposing a preset LastOpenTime per symbol.
type memorySink struct {
	mu          sync.Mutex
	lastOpen    map[string]int64
	hasLastOpen map[string]bool
	writes      map[string][][]candle.Candle
}

func newMemorySink() *memorySink {
	return &memorySink{
		lastOpen:    make(map[string]int64),
		hasLastOpen: make(map[string]bool),
		writes:      make(map[string][][]candle.Candle),
	}
}

func (m *memorySink) WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := symbol + ":" + string(interval)
	m.writes[key] = append(m.writes[key], candles)
	return nil
}

func (m *memorySink) LastOpenTime(ctx context.Context, symbol string, interval candle.Interval) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpen[symbol], m.hasLastOpen[symbol], nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) writesFor(symbol string, interval candle.Interval) [][]candle.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[symbol+":"+string(interval)]
}

// forwardServer serves 1m candles at open_time 0..(count-1)*60000,
// returning every one whose open_time is <= endTime; it applies no row cap
// of its own.
func forwardServer(t *testing.T, count int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endTime, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		var out [][]any
		for i := 0; i < count; i++ {
			ot := int64(i) * 60000
			if ot <= endTime {
				out = append(out, row(ot))
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestUpdaterSkipsSymbolWithNoPriorData(t *testing.T) {
	srv := forwardServer(t, 5)
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 5,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	store := newMemorySink()
	now := func() int64 { return 240000 }
	u := NewUpdater(client, store, 1, 0, now, testLogger())

	u.Run(t.Context(), []string{"BTCUSDT"})
	assert.Empty(t, store.writesFor("BTCUSDT", candle.Interval1m))
}

func TestUpdaterFetchesForwardAndAggregates(t *testing.T) {
	srv := forwardServer(t, 5) // open_time 0,60000,120000,180000,240000
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 5,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	store := newMemorySink()
	store.lastOpen["BTCUSDT"] = 0
	store.hasLastOpen["BTCUSDT"] = true

	now := func() int64 { return 240000 }
	u := NewUpdater(client, store, 1, 0, now, testLogger())

	u.Run(t.Context(), []string{"BTCUSDT"})

	oneMinWrites := store.writesFor("BTCUSDT", candle.Interval1m)
	require.Len(t, oneMinWrites, 1)
	got := oneMinWrites[0]
	// cursor starts at last+1=1, so open_time=0 must be filtered out.
	require.Len(t, got, 4)
	assert.Equal(t, int64(60000), got[0].OpenTime)
	assert.Equal(t, int64(240000), got[len(got)-1].OpenTime)

	threeMinWrites := store.writesFor("BTCUSDT", candle.Interval3m)
	require.NotEmpty(t, threeMinWrites)
}

func TestUpdaterStopsWhenFilteredBatchIsEmpty(t *testing.T) {
	srv := forwardServer(t, 1) // only open_time 0 exists
	defer srv.Close()

	client := fetch.NewClient(fetch.Config{
		BaseURL: srv.URL, RequestTimeout: time.Second, APILimit: 5,
		SleepSeconds: 0.001, MaxRetries: 1, RetryDelay: time.Millisecond,
	}, testLogger())

	store := newMemorySink()
	store.lastOpen["BTCUSDT"] = 0
	store.hasLastOpen["BTCUSDT"] = true

	now := func() int64 { return 600000 }
	u := NewUpdater(client, store, 1, 0, now, testLogger())

	u.Run(t.Context(), []string{"BTCUSDT"})
	assert.Empty(t, store.writesFor("BTCUSDT", candle.Interval1m))
}
