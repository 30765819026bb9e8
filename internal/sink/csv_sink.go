// csv_sink.go implements the CSV backend, grounded on the teacher's
// atomic-file JSON position store (internal/store/store.go in the original
// polymarket-mm bot): one file per persisted entity, guarded by a mutex,
// flushed after every write. Here the entity is one (symbol, interval)
// pair instead of one market's position.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"candlebt/internal/errs"
	"candlebt/pkg/candle"
)

// CSVSink writes append-only CSV files, one per (symbol, interval), named
// {symbol_lowercase}_{interval}.csv under dataDir.
type CSVSink struct {
	dataDir string
	mu      sync.Mutex // serializes file opens across the whole sink
}

// NewCSVSink creates a CSV sink rooted at dataDir, creating the directory
// if it doesn't exist.
func NewCSVSink(dataDir string) (*CSVSink, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &CSVSink{dataDir: dataDir}, nil
}

func (s *CSVSink) path(symbol string, interval candle.Interval) string {
	return filepath.Join(s.dataDir, tableName(symbol, interval)+".csv")
}

// WriteCandles appends one batch to the file for (symbol, interval). Per
// spec §4.3/§9, the batch's rows are reversed before writing so the file
// reads newest-to-oldest within a batch; batches themselves are appended
// in the order fetched. For a historical fetcher walking backward through
// time this yields an overall-descending file that can be non-monotonic
// at batch seams — a known, unresolved characteristic (see DESIGN.md).
func (s *CSVSink) WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(symbol, interval)
	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errs.ErrStore, path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(candle.FieldNames); err != nil {
			return fmt.Errorf("%w: write header: %v", errs.ErrStore, err)
		}
	}

	reversed := make([]candle.Candle, len(candles))
	for i, c := range candles {
		reversed[len(candles)-1-i] = c
	}

	for _, c := range reversed {
		if err := w.Write(toRow(c)); err != nil {
			return fmt.Errorf("%w: write row: %v", errs.ErrStore, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush: %v", errs.ErrStore, err)
	}
	return nil
}

// LastOpenTime scans the file for (symbol, interval) and returns the
// maximum open_time found. Returns ok=false if the file doesn't exist yet.
func (s *CSVSink) LastOpenTime(ctx context.Context, symbol string, interval candle.Interval) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(symbol, interval)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: open %s: %v", errs.ErrStore, path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return 0, false, fmt.Errorf("%w: read %s: %v", errs.ErrStore, path, err)
	}
	if len(rows) <= 1 {
		return 0, false, nil
	}

	var max int64
	found := false
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		v, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max, found, nil
}

// Close is a no-op: CSVSink opens and closes a file handle per write.
func (s *CSVSink) Close() error { return nil }

func toRow(c candle.Candle) []string {
	return []string{
		strconv.FormatInt(c.OpenTime, 10),
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		strconv.FormatInt(c.CloseTime, 10),
		c.QuoteAssetVolume.String(),
		strconv.FormatInt(c.NumberOfTrades, 10),
		c.TakerBuyBase.String(),
		c.TakerBuyQuote.String(),
		c.IgnoreField.String(),
	}
}
