package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when PAPERTRADE_CONFIG is unset.
const DefaultPath = "config/papertrade.yaml"

// DefaultLimit is the value of every risk limit that is not configured.
const DefaultLimit = 1e12

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the paper-trading ledger.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Logging Logging       `yaml:"logging"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Trading TradingConfig `yaml:"trading"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Admin   Admin         `yaml:"admin"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OracleConfig selects where last prices come from.
type OracleConfig struct {
	Source         string             `yaml:"source"`
	Granularities  []string           `yaml:"granularities"`
	Timeout        time.Duration      `yaml:"timeout"`
	MaxConcurrency int                `yaml:"max_concurrency"`
	StaticPrices   map[string]float64 `yaml:"static_prices"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"`
}

// TradingConfig defines the account seed and risk limits.
type TradingConfig struct {
	StartingCash     float64 `yaml:"starting_cash"`
	AllowShort       bool    `yaml:"allow_short"`
	MaxOrderValue    float64 `yaml:"max_order_value"`
	MaxSymbolQty     float64 `yaml:"max_symbol_qty"`
	MaxPositionValue float64 `yaml:"max_position_value"`
	RecordRejections bool    `yaml:"record_rejections"`
}

// SweepConfig controls the periodic trigger sweep of the trader daemon.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Admin gates destructive operations.
type Admin struct {
	Debug bool `yaml:"debug"`
}

// Oracle sources accepted by Validate.
const (
	SourceParquet = "parquet"
	SourceAlpaca  = "alpaca"
	SourceStatic  = "static"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "./data",
			SQLitePath: "./data/paper.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Oracle: OracleConfig{
			Source:         SourceParquet,
			Granularities:  []string{"1h", "1d"},
			Timeout:        8 * time.Second,
			MaxConcurrency: 8,
		},
		Alpaca: Alpaca{
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			RateLimitPerMin: 200,
			RateLimitBurst:  5,
		},
		Trading: TradingConfig{
			StartingCash:     100000,
			MaxOrderValue:    DefaultLimit,
			MaxSymbolQty:     DefaultLimit,
			MaxPositionValue: DefaultLimit,
		},
		Sweep: SweepConfig{Interval: 30 * time.Second},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns PAPERTRADE_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("PAPERTRADE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path over the defaults, applies
// environment variable overrides and validates the result. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PAPER_DB_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ORACLE_SOURCE"); v != "" {
		cfg.Oracle.Source = v
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"PAPER_STARTING_CASH", &cfg.Trading.StartingCash},
		{"PAPER_MAX_ORDER_VALUE", &cfg.Trading.MaxOrderValue},
		{"PAPER_MAX_SYMBOL_QTY", &cfg.Trading.MaxSymbolQty},
		{"PAPER_MAX_POSITION_VALUE", &cfg.Trading.MaxPositionValue},
	}
	for _, f := range floats {
		if v := os.Getenv(f.env); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.env, err)
			}
			*f.dst = n
		}
	}

	bools := []struct {
		env string
		dst *bool
	}{
		{"PAPER_ALLOW_SHORT", &cfg.Trading.AllowShort},
		{"DEBUG", &cfg.Admin.Debug},
	}
	for _, b := range bools {
		if v := os.Getenv(b.env); v != "" {
			*b.dst = parseBool(v)
		}
	}

	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
		cfg.Sweep.Interval = d
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars take precedence over the ALPACA_* names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// parseBool accepts 1/true/yes/on in any case.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	if c.Trading.StartingCash <= 0 {
		return fmt.Errorf("trading.starting_cash must be positive, got %v", c.Trading.StartingCash)
	}
	for name, v := range map[string]float64{
		"trading.max_order_value":    c.Trading.MaxOrderValue,
		"trading.max_symbol_qty":     c.Trading.MaxSymbolQty,
		"trading.max_position_value": c.Trading.MaxPositionValue,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}

	switch c.Oracle.Source {
	case SourceParquet, SourceAlpaca, SourceStatic:
	default:
		return fmt.Errorf("oracle.source %q: want parquet, alpaca or static", c.Oracle.Source)
	}
	if len(c.Oracle.Granularities) == 0 {
		return errors.New("oracle.granularities must not be empty")
	}
	for _, g := range c.Oracle.Granularities {
		if g != "1h" && g != "1d" {
			return fmt.Errorf("oracle.granularities: unknown granularity %q", g)
		}
	}
	if c.Oracle.Timeout <= 0 {
		return errors.New("oracle.timeout must be positive")
	}
	if c.Oracle.MaxConcurrency < 1 {
		c.Oracle.MaxConcurrency = 1
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	return nil
}
