// table_sink.go implements the relational table backend, grounded on
// jax-trading-assistant's libs/database (pgx/stdlib connection with retry)
// and libs/ingest/sql.go (batched prepared-statement upserts). One table
// per (symbol, interval), named {symbol_lowercase}_{interval}, with
// open_time UNIQUE and ignore-on-conflict semantics.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"candlebt/internal/errs"
	"candlebt/pkg/candle"
)

// TableSink persists candles into one Postgres table per (symbol,
// interval), batching inserts at batchSize rows per statement, all
// batches for one WriteCandles call wrapped in a single transaction.
type TableSink struct {
	db        *sql.DB
	batchSize int
}

// DBConfig bundles the connection parameters consumed by NewTableSink.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

// NewTableSink opens a pooled connection with retry+backoff (mirroring
// libs/database.Connect), pings to confirm connectivity, and returns a
// sink ready to create tables on demand.
func NewTableSink(ctx context.Context, cfg DBConfig, batchSize int) (*TableSink, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var db *sql.DB
	var err error
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			continue
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}

		if err = db.PingContext(ctx); err != nil {
			db.Close()
			continue
		}
		return &TableSink{db: db, batchSize: batchSize}, nil
	}

	return nil, fmt.Errorf("%w: connect after %d attempts: %v", errs.ErrStore, cfg.RetryAttempts+1, err)
}

// NewTableSinkFromDB wraps an already-open *sql.DB (used by tests against
// a sqlmock connection).
func NewTableSinkFromDB(db *sql.DB, batchSize int) *TableSink {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &TableSink{db: db, batchSize: batchSize}
}

func (s *TableSink) ensureTable(ctx context.Context, tx *sql.Tx, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		open_time BIGINT NOT NULL UNIQUE,
		open NUMERIC(38,8) NOT NULL,
		high NUMERIC(38,8) NOT NULL,
		low NUMERIC(38,8) NOT NULL,
		close NUMERIC(38,8) NOT NULL,
		volume NUMERIC(38,8) NOT NULL,
		close_time BIGINT NOT NULL,
		quote_asset_volume NUMERIC(38,8) NOT NULL,
		taker_buy_base NUMERIC(38,8) NOT NULL,
		taker_buy_quote NUMERIC(38,8) NOT NULL,
		ignore_field NUMERIC(38,8) NOT NULL,
		number_of_trades INT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`, table)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_open_time_idx ON %s (open_time)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_close_time_idx ON %s (close_time)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_open_close_idx ON %s (open_time, close_time)", table, table),
	}
	for _, stmt := range indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

// WriteCandles inserts candles in batches of batchSize rows, using
// "ON CONFLICT (open_time) DO NOTHING" so re-ingesting the same batch
// leaves the row count unchanged (invariant 7). All batches for this call
// share one transaction; any failure rolls the whole call back.
func (s *TableSink) WriteCandles(ctx context.Context, symbol string, interval candle.Interval, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	table := tableName(symbol, interval)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errs.ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := s.ensureTable(ctx, tx, table); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	for start := 0; start < len(candles); start += s.batchSize {
		end := start + s.batchSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := insertBatch(ctx, tx, table, candles[start:end]); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStore, err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx *sql.Tx, table string, batch []candle.Candle) error {
	const cols = 12
	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*cols)

	for i, c := range batch {
		base := i * cols
		ph := make([]string, cols)
		for j := 0; j < cols; j++ {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
		args = append(args,
			c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
			c.CloseTime, c.QuoteAssetVolume, c.TakerBuyBase, c.TakerBuyQuote,
			c.IgnoreField, c.NumberOfTrades,
		)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(open_time, open, high, low, close, volume, close_time,
		 quote_asset_volume, taker_buy_base, taker_buy_quote, ignore_field, number_of_trades)
		VALUES %s
		ON CONFLICT (open_time) DO NOTHING`, table, strings.Join(placeholders, ","))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastOpenTime returns the maximum open_time stored for (symbol, interval).
func (s *TableSink) LastOpenTime(ctx context.Context, symbol string, interval candle.Interval) (int64, bool, error) {
	table := tableName(symbol, interval)

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("%w: check table %s: %v", errs.ErrStore, table, err)
	}
	if !exists {
		return 0, false, nil
	}

	var max sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(open_time) FROM %s", table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("%w: max open_time %s: %v", errs.ErrStore, table, err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}

// Close releases the underlying connection pool.
func (s *TableSink) Close() error {
	return s.db.Close()
}
