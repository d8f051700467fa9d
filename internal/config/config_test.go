package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "PAPER_DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "ORACLE_SOURCE",
		"PAPER_STARTING_CASH", "PAPER_ALLOW_SHORT", "PAPER_MAX_ORDER_VALUE",
		"PAPER_MAX_SYMBOL_QTY", "PAPER_MAX_POSITION_VALUE", "SWEEP_INTERVAL", "DEBUG",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_DATA_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papertrade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/paper/data"
  sqlite_path: "/tmp/paper/paper.db"
logging:
  level: "debug"
  format: "text"
oracle:
  source: static
  granularities: [1d]
  timeout: 2s
  max_concurrency: 4
  static_prices:
    AAPL: 190.5
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  rate_limit_burst: 2
trading:
  starting_cash: 50000
  allow_short: true
  max_order_value: 1000
  record_rejections: true
sweep:
  interval: 5s
admin:
  debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/paper/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/paper/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/paper/paper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/paper/paper.db")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Oracle --
	if cfg.Oracle.Source != SourceStatic {
		t.Errorf("Oracle.Source = %q, want static", cfg.Oracle.Source)
	}
	if len(cfg.Oracle.Granularities) != 1 || cfg.Oracle.Granularities[0] != "1d" {
		t.Errorf("Oracle.Granularities = %v, want [1d]", cfg.Oracle.Granularities)
	}
	if cfg.Oracle.Timeout != 2*time.Second {
		t.Errorf("Oracle.Timeout = %v, want 2s", cfg.Oracle.Timeout)
	}
	if cfg.Oracle.StaticPrices["AAPL"] != 190.5 {
		t.Errorf("Oracle.StaticPrices[AAPL] = %v, want 190.5", cfg.Oracle.StaticPrices["AAPL"])
	}

	// -- Alpaca --
	if cfg.Alpaca.RateLimitBurst != 2 || cfg.Alpaca.RateLimitPerMin != 200 {
		t.Errorf("Alpaca rate limit = %d/min burst %d, want 200/min burst 2",
			cfg.Alpaca.RateLimitPerMin, cfg.Alpaca.RateLimitBurst)
	}

	// -- Trading --
	if cfg.Trading.StartingCash != 50000 {
		t.Errorf("Trading.StartingCash = %v, want 50000", cfg.Trading.StartingCash)
	}
	if !cfg.Trading.AllowShort || !cfg.Trading.RecordRejections {
		t.Errorf("Trading flags = %+v, want allow_short and record_rejections", cfg.Trading)
	}
	if cfg.Trading.MaxOrderValue != 1000 {
		t.Errorf("Trading.MaxOrderValue = %v, want 1000", cfg.Trading.MaxOrderValue)
	}
	// Unset limits keep their defaults.
	if cfg.Trading.MaxSymbolQty != DefaultLimit {
		t.Errorf("Trading.MaxSymbolQty = %v, want %v", cfg.Trading.MaxSymbolQty, DefaultLimit)
	}

	if cfg.Sweep.Interval != 5*time.Second {
		t.Errorf("Sweep.Interval = %v, want 5s", cfg.Sweep.Interval)
	}
	if !cfg.Admin.Debug {
		t.Error("Admin.Debug = false, want true")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Trading.StartingCash != 100000 {
		t.Errorf("StartingCash = %v, want 100000", cfg.Trading.StartingCash)
	}
	if cfg.Trading.AllowShort {
		t.Error("AllowShort should default to false")
	}
	if cfg.Oracle.Source != SourceParquet {
		t.Errorf("Oracle.Source = %q, want parquet", cfg.Oracle.Source)
	}
	if got := cfg.Oracle.Granularities; len(got) != 2 || got[0] != "1h" || got[1] != "1d" {
		t.Errorf("Oracle.Granularities = %v, want [1h 1d]", got)
	}
	if cfg.Admin.Debug {
		t.Error("Admin.Debug should default to false")
	}
	if cfg.Alpaca.RateLimitPerMin != 200 || cfg.Alpaca.RateLimitBurst != 5 {
		t.Errorf("Alpaca rate limit = %d/min burst %d, want 200/min burst 5",
			cfg.Alpaca.RateLimitPerMin, cfg.Alpaca.RateLimitBurst)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/file/data"
alpaca:
  api_key: "file-key"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("PAPER_DB_PATH", "/env/paper.db")
	t.Setenv("PAPER_ALLOW_SHORT", "true")
	t.Setenv("PAPER_MAX_ORDER_VALUE", "2500.5")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("DEBUG", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Storage.SQLitePath != "/env/paper.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/env/paper.db")
	}
	if !cfg.Trading.AllowShort {
		t.Error("AllowShort should be enabled by env")
	}
	if cfg.Trading.MaxOrderValue != 2500.5 {
		t.Errorf("MaxOrderValue = %v, want 2500.5", cfg.Trading.MaxOrderValue)
	}
	if cfg.Sweep.Interval != time.Minute {
		t.Errorf("Sweep.Interval = %v, want 1m", cfg.Sweep.Interval)
	}
	if !cfg.Admin.Debug {
		t.Error("Admin.Debug should be enabled by env")
	}

	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want APCA_API_KEY_ID to win", cfg.Alpaca.APIKey)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAPER_STARTING_CASH", "lots")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should reject a non-numeric PAPER_STARTING_CASH")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero starting cash", func(c *Config) { c.Trading.StartingCash = 0 }},
		{"negative order limit", func(c *Config) { c.Trading.MaxOrderValue = -1 }},
		{"unknown source", func(c *Config) { c.Oracle.Source = "bloomberg" }},
		{"unknown granularity", func(c *Config) { c.Oracle.Granularities = []string{"1m"} }},
		{"no granularities", func(c *Config) { c.Oracle.Granularities = nil }},
		{"zero sweep interval", func(c *Config) { c.Sweep.Interval = 0 }},
		{"no db path", func(c *Config) { c.Storage.SQLitePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() accepted %s", tt.name)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("LOG_LEVEL=warn\nORACLE_SOURCE=static\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Already-set variables are not overwritten.
	t.Setenv("LOG_LEVEL", "error")
	// Unset after the test; godotenv writes straight to the process env.
	t.Setenv("ORACLE_SOURCE", "")
	os.Unsetenv("ORACLE_SOURCE")

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("ORACLE_SOURCE"); got != "static" {
		t.Errorf("ORACLE_SOURCE = %q, want static", got)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "error" {
		t.Errorf("LOG_LEVEL = %q, want existing value kept", got)
	}
}
