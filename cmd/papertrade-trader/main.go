package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"papertrade/internal/app"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/util"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("loading .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("initializing ledger: %v", err)
	}
	defer a.Close()

	journal := logger.With("component", "journal")
	if err := a.Bus.SubscribeAll(func(e events.Event) { logEvent(journal, e) }); err != nil {
		log.Fatalf("subscribing to order events: %v", err)
	}

	logger.Info("papertrade-trader starting",
		"db", cfg.Storage.SQLitePath,
		"oracle", a.Source.Name(),
		"chain", a.Oracle.Chain(),
		"interval", cfg.Sweep.Interval,
		"allow_short", cfg.Trading.AllowShort,
	)

	if err := engine.NewSweeper(a.Engine, cfg.Sweep.Interval, logger).Run(ctx); err != nil {
		log.Fatalf("sweeper error: %v", err)
	}
	logger.Info("papertrade-trader stopped")
}

func logEvent(log *slog.Logger, e events.Event) {
	attrs := []any{
		"topic", e.Topic,
		"id", e.Order.ID,
		"symbol", e.Order.Symbol,
		"side", e.Order.Side,
		"qty", e.Order.Qty,
	}
	switch e.Topic {
	case events.OrderFilled:
		attrs = append(attrs, "price", e.Order.ExecPrice.Decimal, "realized_pnl", e.RealizedPnL)
		if e.Position != nil {
			attrs = append(attrs, "position_qty", e.Position.Qty, "avg_price", e.Position.AvgPrice)
		}
	case events.OrderRejected:
		attrs = append(attrs, "rule", e.Rule)
	}
	log.Info("order event", attrs...)
}
