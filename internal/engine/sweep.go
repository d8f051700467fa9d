package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// SweepResult summarises one trigger sweep.
type SweepResult struct {
	Checked      int              `json:"checked"`
	Filled       []int64          `json:"filled"`
	Deferred     map[int64]string `json:"deferred,omitempty"` // order id -> risk rule
	PriceMissing []string         `json:"price_missing,omitempty"`
}

// Trigger re-evaluates every open order. Orders are grouped by symbol and
// each symbol is priced once; its qualifying orders are then filled one
// transaction each, re-checking status and predicate inside the
// transaction. Symbols are processed in parallel. Running Trigger twice, or
// concurrently with submissions, never fills an order twice.
func (e *Engine) Trigger(ctx context.Context) (*SweepResult, error) {
	open, err := e.ledger.ListOpenOrders(ctx)
	if err != nil {
		return nil, e.storageError("list open orders", err)
	}

	var symbols []string
	bySymbol := make(map[string][]int64)
	for _, o := range open {
		if _, ok := bySymbol[o.Symbol]; !ok {
			symbols = append(symbols, o.Symbol)
		}
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o.ID)
	}

	res := &SweepResult{Checked: len(open), Deferred: make(map[int64]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := e.lastPrice(gctx, sym)
			if err != nil {
				return err
			}
			if q == nil {
				mu.Lock()
				res.PriceMissing = append(res.PriceMissing, sym)
				mu.Unlock()
				return nil
			}

			filled, deferred, err := e.sweepSymbol(gctx, sym, bySymbol[sym], q.Price)
			mu.Lock()
			res.Filled = append(res.Filled, filled...)
			for id, rule := range deferred {
				res.Deferred[id] = rule
			}
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()

	sort.Slice(res.Filled, func(i, j int) bool { return res.Filled[i] < res.Filled[j] })
	sort.Strings(res.PriceMissing)
	if err != nil {
		return res, e.storageError("trigger", err)
	}

	if len(res.Filled) > 0 || len(res.Deferred) > 0 {
		e.log.Info("trigger sweep", "checked", res.Checked, "filled", len(res.Filled),
			"deferred", len(res.Deferred), "price_missing", len(res.PriceMissing))
	} else {
		e.log.Debug("trigger sweep", "checked", res.Checked, "price_missing", len(res.PriceMissing))
	}
	return res, nil
}

// sweepSymbol fills the qualifying orders of one symbol at last, oldest
// first, under the symbol lock.
func (e *Engine) sweepSymbol(ctx context.Context, symbol string, ids []int64, last decimal.Decimal) ([]int64, map[int64]string, error) {
	unlock := e.locks.lock(symbol)
	defer unlock()

	var filled []int64
	deferred := make(map[int64]string)
	for _, id := range ids {
		var (
			result fillResult
			done   bool
		)
		err := e.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
			done = false
			o, err := tx.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if !o.ShouldFill(last) {
				return nil
			}

			pos, err := tx.GetPosition(ctx, symbol)
			if err != nil {
				return err
			}
			current := decimal.Zero
			if pos != nil {
				current = pos.Qty
			}
			if err := e.risk.CheckFill(o.Side, o.Qty, current); err != nil {
				var rej *domain.RiskRejection
				if errors.As(err, &rej) {
					deferred[id] = rej.Rule
					return nil
				}
				return err
			}

			result, err = e.fill(ctx, tx, o, last)
			if err != nil {
				return err
			}
			done = true
			return nil
		})
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Removed by a concurrent reset.
			continue
		}
		if err != nil {
			return filled, deferred, err
		}
		if rule, ok := deferred[id]; ok {
			e.log.Info("fill deferred", "id", id, "symbol", symbol, "rule", rule)
		}
		if done {
			filled = append(filled, id)
			e.events.Publish(result.event(e.now()))
			e.log.Info("order filled", "id", id, "symbol", symbol, "side", result.order.Side,
				"qty", result.order.Qty, "price", last, "realized_pnl", result.realized)
		}
	}
	return filled, deferred, nil
}

// ---------------------------------------------------------------------------
// Sweeper
// ---------------------------------------------------------------------------

// Sweeper runs Trigger on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a Sweeper for e.
func NewSweeper(e *Engine, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{engine: e, interval: interval, log: log.With("component", "sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is done. A
// failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.engine.Trigger(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("trigger sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
