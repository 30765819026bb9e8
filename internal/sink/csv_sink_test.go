package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlebt/pkg/candle"
)

func candleAt(openTime int64) candle.Candle {
	return candle.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59999,
		Open:      decimal.NewFromInt(1),
		High:      decimal.NewFromInt(2),
		Low:       decimal.NewFromInt(1),
		Close:     decimal.NewFromInt(1),
		Volume:    decimal.NewFromInt(5),
	}
}

func TestCSVSinkWriteCandlesCreatesFileWithHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	err = s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(0), candleAt(60000)})
	require.NoError(t, err)

	path := filepath.Join(dir, "btcusdt_1m.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 rows
	assert.Equal(t, candle.FieldNames, rows[0])
}

func TestCSVSinkWriteCandlesReversesBatchOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	err = s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(0), candleAt(60000), candleAt(120000)})
	require.NoError(t, err)

	path := filepath.Join(dir, "btcusdt_1m.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	// First batch element (open_time 0) was fetched first but is written last
	// within the batch, so the file holds it on the final data row.
	assert.Equal(t, "120000", rows[1][0])
	assert.Equal(t, "60000", rows[2][0])
	assert.Equal(t, "0", rows[3][0])
}

func TestCSVSinkWriteCandlesAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(0)}))
	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(60000)}))

	path := filepath.Join(dir, "btcusdt_1m.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 1 row per call, one header only
}

func TestCSVSinkWriteCandlesEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, nil))
	_, err = os.Stat(filepath.Join(dir, "btcusdt_1m.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestCSVSinkLastOpenTimeMissingFileReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	_, ok, err := s.LastOpenTime(context.Background(), "BTCUSDT", candle.Interval1m)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCSVSinkLastOpenTimeReturnsMaxAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(0), candleAt(60000)}))
	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(120000)}))

	openTime, ok, err := s.LastOpenTime(context.Background(), "BTCUSDT", candle.Interval1m)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(120000), openTime)
}

func TestCSVSinkPartitionsBySymbolAndInterval(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval1m, []candle.Candle{candleAt(0)}))
	require.NoError(t, s.WriteCandles(context.Background(), "BTCUSDT", candle.Interval5m, []candle.Candle{candleAt(0)}))
	require.NoError(t, s.WriteCandles(context.Background(), "ETHUSDT", candle.Interval1m, []candle.Candle{candleAt(0)}))

	for _, name := range []string{"btcusdt_1m.csv", "btcusdt_5m.csv", "ethusdt_1m.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "expected file %s", name)
	}
}
