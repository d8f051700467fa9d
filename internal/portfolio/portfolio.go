// Package portfolio values the ledger. It only reads: cash and positions
// from the store, last prices from the oracle.
package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"papertrade/internal/domain"
	"papertrade/internal/oracle"
	"papertrade/internal/store"
)

// Valuator builds portfolio views.
type Valuator struct {
	ledger         store.LedgerViewer
	oracle         oracle.Oracle
	maxConcurrency int
	log            *slog.Logger
	now            func() time.Time
}

// NewValuator creates a Valuator. maxConcurrency bounds parallel oracle
// lookups.
func NewValuator(ledger store.LedgerViewer, o oracle.Oracle, maxConcurrency int, log *slog.Logger) *Valuator {
	if maxConcurrency < 1 {
		maxConcurrency = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Valuator{
		ledger:         ledger,
		oracle:         o,
		maxConcurrency: maxConcurrency,
		log:            log.With("component", "portfolio"),
		now:            time.Now,
	}
}

// ListPositions values every open position. Without markToMarket, or when
// the oracle has no price for a symbol, the position is carried at book
// value: last price = average price, unrealized P&L = 0.
func (v *Valuator) ListPositions(ctx context.Context, markToMarket bool) ([]domain.PositionValuation, error) {
	var positions []domain.Position
	err := v.ledger.View(ctx, func(r store.LedgerReader) error {
		var err error
		positions, err = r.ListPositions(ctx)
		return err
	})
	if err != nil {
		return nil, v.storageError("list positions", err)
	}
	return v.value(ctx, positions, markToMarket)
}

// Valuate aggregates cash and positions into a Portfolio. Equity is cash
// plus the sum of quantity times valuation price. Cash and positions come
// from one ledger snapshot; prices are fetched after it is released.
func (v *Valuator) Valuate(ctx context.Context, markToMarket bool) (*domain.Portfolio, error) {
	var (
		acct      *domain.Account
		positions []domain.Position
	)
	err := v.ledger.View(ctx, func(r store.LedgerReader) error {
		var err error
		if acct, err = r.GetAccount(ctx); err != nil {
			return err
		}
		positions, err = r.ListPositions(ctx)
		return err
	})
	if err != nil {
		return nil, v.storageError("read account and positions", err)
	}

	valued, err := v.value(ctx, positions, markToMarket)
	if err != nil {
		return nil, err
	}

	pf := &domain.Portfolio{
		StartingCash:       acct.StartingCash,
		Cash:               acct.Cash,
		PositionsValue:     decimal.Zero,
		RealizedPnLTotal:   acct.RealizedPnL,
		UnrealizedPnLTotal: decimal.Zero,
		Positions:          valued,
		MarkToMarket:       markToMarket,
		AsOf:               v.now().UTC(),
	}
	for _, p := range valued {
		pf.PositionsValue = pf.PositionsValue.Add(p.MarketValue)
		pf.UnrealizedPnLTotal = pf.UnrealizedPnLTotal.Add(p.UnrealizedPnL)
	}
	pf.Equity = pf.Cash.Add(pf.PositionsValue)
	return pf, nil
}

// value prices positions, one oracle lookup per symbol in parallel.
func (v *Valuator) value(ctx context.Context, positions []domain.Position, markToMarket bool) ([]domain.PositionValuation, error) {
	out := make([]domain.PositionValuation, len(positions))
	for i, p := range positions {
		out[i] = bookValue(p)
	}
	if !markToMarket {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.maxConcurrency)
	for i := range out {
		g.Go(func() error {
			q, err := v.oracle.LastPrice(gctx, out[i].Symbol)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				if !errors.Is(err, oracle.ErrNoPrice) {
					v.log.Warn("mark price lookup failed", "symbol", out[i].Symbol, "error", err)
				}
				return nil
			}
			out[i] = marked(out[i].Position, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// storageError logs a failed ledger read and wraps it as a
// *domain.PersistenceError. Context errors pass through.
func (v *Valuator) storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	v.log.Error("ledger read failed", "op", op, "error", err)
	return &domain.PersistenceError{Op: op, Err: err}
}

func bookValue(p domain.Position) domain.PositionValuation {
	return domain.PositionValuation{
		Position:      p,
		LastPrice:     p.AvgPrice,
		MarketValue:   p.Qty.Mul(p.AvgPrice),
		UnrealizedPnL: decimal.Zero,
	}
}

func marked(p domain.Position, q oracle.Quote) domain.PositionValuation {
	return domain.PositionValuation{
		Position:        p,
		LastPrice:       q.Price,
		MarkGranularity: string(q.Granularity),
		MarketValue:     p.Qty.Mul(q.Price),
		UnrealizedPnL:   p.Qty.Mul(q.Price.Sub(p.AvgPrice)),
		Priced:          true,
	}
}
