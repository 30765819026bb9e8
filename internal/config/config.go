// Package config defines the runtime configuration surface for the fetch
// pipeline and the backtest CLI, loaded from a YAML file with env var
// overrides via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure; see configs/config.example.yaml.
type Config struct {
	Fetch FetchConfig `mapstructure:"fetch"`
	Sink  SinkConfig  `mapstructure:"sink"`
	DB    DBConfig    `mapstructure:"db"`
	Log   LogConfig   `mapstructure:"log"`

	// DefaultCoins seeds the symbol set when none is supplied on the
	// command line.
	DefaultCoins []string `mapstructure:"default_coins"`
}

// FetchConfig controls the remote kline client (C2).
type FetchConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APILimit       int           `mapstructure:"api_limit"`
	SleepSeconds   float64       `mapstructure:"sleep_seconds"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	Workers        int           `mapstructure:"workers"`
}

// SinkConfig selects and configures the persistence backend (C3).
type SinkConfig struct {
	Backend     string `mapstructure:"backend"` // "csv" or "table"
	DataDir     string `mapstructure:"data_dir"`
	CSVEncoding string `mapstructure:"csv_encoding"`
	DBBatchSize int    `mapstructure:"db_batch_size"`
}

// DBConfig holds table-sink connection parameters.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the Postgres connection string for pgx/stdlib.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config populated with the defaults from spec §6.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			BaseURL:        "https://api.binance.com/api/v3/klines",
			RequestTimeout: 10 * time.Second,
			APILimit:       499,
			SleepSeconds:   0.25,
			MaxRetries:     5,
			RetryDelay:     5 * time.Second,
			Workers:        4,
		},
		Sink: SinkConfig{
			Backend:     "csv",
			DataDir:     "./data",
			CSVEncoding: "utf-8",
			DBBatchSize: 1000,
		},
		DB: DBConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "candles",
			SSLMode: "disable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DefaultCoins: []string{"BTCUSDT", "ETHUSDT"},
	}
}

// Load reads config from a YAML file with env var overrides (prefix
// CANDLEBT_, "." replaced by "_"), layered over Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CANDLEBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if pw := os.Getenv("CANDLEBT_DB_PASSWORD"); pw != "" {
		cfg.DB.Password = pw
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url is required")
	}
	if c.Fetch.APILimit <= 0 {
		return fmt.Errorf("fetch.api_limit must be > 0")
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	switch c.Sink.Backend {
	case "csv", "table":
	default:
		return fmt.Errorf("sink.backend must be \"csv\" or \"table\", got %q", c.Sink.Backend)
	}
	if c.Sink.Backend == "csv" && c.Sink.DataDir == "" {
		return fmt.Errorf("sink.data_dir is required for the csv backend")
	}
	if c.Sink.Backend == "table" && c.DB.Name == "" {
		return fmt.Errorf("db.name is required for the table backend")
	}
	if c.Sink.DBBatchSize <= 0 {
		return fmt.Errorf("sink.db_batch_size must be > 0")
	}
	return nil
}
