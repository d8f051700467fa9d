// Package app wires the ledger, oracle, engine and valuation from a
// Config. Both binaries start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/oracle"
	"papertrade/internal/portfolio"
	"papertrade/internal/store"
)

// App owns the process-lifetime handles.
type App struct {
	Config   *config.Config
	Ledger   *store.SQLiteStore
	Bars     *store.ParquetStore
	Source   oracle.Source
	Oracle   *oracle.Fallback
	Bus      *events.Bus
	Engine   *engine.Engine
	Valuator *portfolio.Valuator
	Log      *slog.Logger
}

// New opens the ledger, applies migrations, creates the account on first
// use and builds every component. Close releases the ledger.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	a, err := build(ctx, cfg, ledger, log)
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, ledger *store.SQLiteStore, log *slog.Logger) (*App, error) {
	if err := ledger.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	startingCash := decimal.NewFromFloat(cfg.Trading.StartingCash)
	if err := ledger.EnsureAccount(ctx, startingCash); err != nil {
		return nil, err
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	src, err := NewSource(cfg, bars, log)
	if err != nil {
		return nil, err
	}
	chain, err := Chain(cfg.Oracle.Granularities)
	if err != nil {
		return nil, err
	}
	o := oracle.NewFallback(src, chain, cfg.Oracle.Timeout, log)

	bus := events.NewBus()
	risk := engine.NewRiskManager(Limits(cfg.Trading))
	eng := engine.NewEngine(ledger, o, risk, engine.Options{
		RecordRejections: cfg.Trading.RecordRejections,
		AllowReset:       cfg.Admin.Debug,
		StartingCash:     startingCash,
		MaxConcurrency:   cfg.Oracle.MaxConcurrency,
		Events:           bus,
		Logger:           log,
	})

	return &App{
		Config:   cfg,
		Ledger:   ledger,
		Bars:     bars,
		Source:   src,
		Oracle:   o,
		Bus:      bus,
		Engine:   eng,
		Valuator: portfolio.NewValuator(ledger, o, cfg.Oracle.MaxConcurrency, log),
		Log:      log,
	}, nil
}

// Close waits for in-flight event handlers and closes the ledger.
func (a *App) Close() error {
	a.Bus.Wait()
	return a.Ledger.Close()
}

// NewSource builds the configured price source.
func NewSource(cfg *config.Config, bars store.BarStore, log *slog.Logger) (oracle.Source, error) {
	switch cfg.Oracle.Source {
	case config.SourceParquet:
		return oracle.NewBarSource(bars), nil
	case config.SourceAlpaca:
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("oracle source alpaca requires alpaca.api_key and alpaca.api_secret")
		}
		return oracle.NewAlpacaSource(oracle.AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Alpaca.RateLimitPerMin,
			RateLimitBurst:  cfg.Alpaca.RateLimitBurst,
		}, log), nil
	case config.SourceStatic:
		prices := make(map[string]decimal.Decimal, len(cfg.Oracle.StaticPrices))
		for sym, p := range cfg.Oracle.StaticPrices {
			prices[strings.ToUpper(sym)] = decimal.NewFromFloat(p)
		}
		return oracle.NewStaticSource(prices), nil
	}
	return nil, fmt.Errorf("unknown oracle source %q", cfg.Oracle.Source)
}

// Chain parses the configured granularities.
func Chain(names []string) ([]oracle.Granularity, error) {
	chain := make([]oracle.Granularity, 0, len(names))
	for _, n := range names {
		g, err := oracle.ParseGranularity(n)
		if err != nil {
			return nil, err
		}
		chain = append(chain, g)
	}
	return chain, nil
}

// Limits converts the trading section to engine limits.
func Limits(t config.TradingConfig) engine.Limits {
	return engine.Limits{
		AllowShort:       t.AllowShort,
		MaxOrderValue:    decimal.NewFromFloat(t.MaxOrderValue),
		MaxSymbolQty:     decimal.NewFromFloat(t.MaxSymbolQty),
		MaxPositionValue: decimal.NewFromFloat(t.MaxPositionValue),
	}
}
