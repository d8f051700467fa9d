// Package engine owns the order state machine. It checks requests against
// the risk policy, fills orders at oracle prices, and applies the
// position and cash algebra to the ledger in one transaction per mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/events"
	"papertrade/internal/oracle"
	"papertrade/internal/store"
)

// PricedExplicit marks a market order priced by the caller.
const PricedExplicit = "explicit"

// Options tune an Engine. The zero value is usable.
type Options struct {
	// RecordRejections appends risk-rejected requests as rejected orders.
	RecordRejections bool
	// AllowReset enables the administrative Reset.
	AllowReset bool
	// StartingCash is restored by Reset.
	StartingCash decimal.Decimal
	// MaxConcurrency bounds parallel oracle lookups in a sweep.
	MaxConcurrency int
	Events         events.Publisher
	Logger         *slog.Logger
	Now            func() time.Time
}

// Engine executes paper orders against the ledger.
type Engine struct {
	ledger store.Ledger
	oracle oracle.Oracle
	risk   *RiskManager
	locks  *symbolLocks
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time

	recordRejections bool
	allowReset       bool
	startingCash     decimal.Decimal
	maxConcurrency   int
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(ledger store.Ledger, o oracle.Oracle, risk *RiskManager, opts Options) *Engine {
	e := &Engine{
		ledger:           ledger,
		oracle:           o,
		risk:             risk,
		locks:            newSymbolLocks(),
		events:           opts.Events,
		log:              opts.Logger,
		now:              opts.Now,
		recordRejections: opts.RecordRejections,
		allowReset:       opts.AllowReset,
		startingCash:     opts.StartingCash,
		maxConcurrency:   opts.MaxConcurrency,
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "engine")
	if e.now == nil {
		e.now = time.Now
	}
	if e.maxConcurrency < 1 {
		e.maxConcurrency = 8
	}
	return e
}

// Submission is the outcome of an accepted order request.
type Submission struct {
	Order        domain.Order     `json:"order"`
	Position     *domain.Position `json:"position"` // after the operation, nil when flat
	RealizedPnL  decimal.Decimal  `json:"realized_pnl"`
	CheckedPrice decimal.Decimal  `json:"checked_price"`
	PricedFrom   string           `json:"priced_from,omitempty"` // "explicit" or an oracle granularity
}

// Filled reports whether the order filled during submission.
func (s *Submission) Filled() bool { return s.Order.Status == domain.OrderStatusFilled }

// SubmitOrder validates req, checks it against the risk policy and either
// fills it immediately or leaves it open.
//
// A market order with no caller price and no oracle price fails with an
// error matching domain.ErrPriceUnavailable and persists nothing. Risk
// rejections are returned as *domain.RiskRejection.
func (e *Engine) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*Submission, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		e.log.Debug("order invalid", "symbol", req.Symbol, "error", err)
		return nil, err
	}

	// Oracle I/O happens before the symbol lock and the transaction.
	var (
		ref        decimal.NullDecimal
		last       decimal.NullDecimal
		pricedFrom string
	)
	switch req.Type {
	case domain.OrderTypeMarket:
		if req.Price.Valid {
			ref, pricedFrom = req.Price, PricedExplicit
			break
		}
		q, err := e.lastPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if q != nil {
			ref, pricedFrom = decimal.NewNullDecimal(q.Price), string(q.Granularity)
		}
	case domain.OrderTypeLimit, domain.OrderTypeStop:
		q, err := e.lastPrice(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		if q != nil {
			last, pricedFrom = decimal.NewNullDecimal(q.Price), string(q.Granularity)
		}
	}

	unlock := e.locks.lock(req.Symbol)
	defer unlock()

	var (
		sub       *Submission
		rejection *domain.RiskRejection
		recorded  *domain.Order
		published []events.Event
	)
	err := e.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		sub, rejection, recorded, published = nil, nil, nil, nil

		pos, err := tx.GetPosition(ctx, req.Symbol)
		if err != nil {
			return err
		}
		current := decimal.Zero
		if pos != nil {
			current = pos.Qty
		}

		checked, err := e.risk.Check(RiskInput{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Qty:        req.Qty,
			Type:       req.Type,
			RefPrice:   ref,
			LimitPrice: req.LimitPrice,
			StopPrice:  req.StopPrice,
			CurrentQty: current,
		})
		if err != nil {
			if !errors.As(err, &rejection) {
				return err
			}
			if rejection.Rule == domain.RulePriceMissing || !e.recordRejections {
				return nil
			}
			recorded = e.newOrder(req, domain.OrderStatusRejected)
			return tx.InsertOrder(ctx, recorded)
		}

		order := e.newOrder(req, domain.OrderStatusOpen)
		sub = &Submission{CheckedPrice: checked, PricedFrom: pricedFrom, Position: pos}

		if req.Type == domain.OrderTypeMarket {
			res, err := e.fill(ctx, tx, order, checked)
			if err != nil {
				return err
			}
			sub.Order, sub.Position, sub.RealizedPnL = *order, res.position, res.realized
			published = append(published, res.event(e.now()))
			return nil
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		published = append(published, events.Event{Topic: events.OrderOpened, Order: *order, Timestamp: e.now()})

		if last.Valid && order.ShouldFill(last.Decimal) && e.risk.CheckFill(order.Side, order.Qty, current) == nil {
			res, err := e.fill(ctx, tx, order, last.Decimal)
			if err != nil {
				return err
			}
			sub.Position, sub.RealizedPnL = res.position, res.realized
			published = append(published, res.event(e.now()))
		}
		sub.Order = *order
		return nil
	})
	if err != nil {
		return nil, e.storageError("submit order", err)
	}

	if rejection != nil {
		if rejection.Rule == domain.RulePriceMissing {
			e.log.Info("market order without price", "symbol", req.Symbol)
			return nil, fmt.Errorf("%s: %w", req.Symbol, rejection)
		}
		e.log.Info("order rejected", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
			"rule", rejection.Rule, "reason", rejection.Message)
		if recorded != nil {
			e.events.Publish(events.Event{
				Topic: events.OrderRejected, Order: *recorded, Rule: rejection.Rule, Timestamp: e.now(),
			})
		}
		return nil, rejection
	}

	for _, ev := range published {
		e.events.Publish(ev)
	}
	e.log.Info("order submitted", "id", sub.Order.ID, "symbol", sub.Order.Symbol,
		"side", sub.Order.Side, "type", sub.Order.Type, "qty", sub.Order.Qty, "status", sub.Order.Status)
	return sub, nil
}

// CancelOrder moves an open order to cancelled. Orders in any other status
// are left untouched and the error matches domain.ErrNotOpen.
func (e *Engine) CancelOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, e.storageError("cancel order", err)
	}

	unlock := e.locks.lock(o.Symbol)
	defer unlock()

	err = e.ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		cur, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.OrderStatusOpen {
			return &domain.NotOpenError{OrderID: id, Status: cur.Status}
		}
		cur.Status = domain.OrderStatusCancelled
		cur.UpdatedAt = e.now().UTC()
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return err
		}
		o = cur
		return nil
	})
	if err != nil {
		return nil, e.storageError("cancel order", err)
	}

	e.events.Publish(events.Event{Topic: events.OrderCancelled, Order: *o, Timestamp: e.now()})
	e.log.Info("order cancelled", "id", o.ID, "symbol", o.Symbol)
	return o, nil
}

// GetOrder returns one order by id.
func (e *Engine) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := e.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, e.storageError("get order", err)
	}
	return o, nil
}

// OrderFills returns the fill journal of one order.
func (e *Engine) OrderFills(ctx context.Context, id int64) ([]domain.Fill, error) {
	fills, err := e.ledger.ListFills(ctx, id)
	if err != nil {
		return nil, e.storageError("list fills", err)
	}
	return fills, nil
}

// ListOrders returns orders newest first.
func (e *Engine) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	orders, err := e.ledger.ListOrders(ctx, filter)
	if err != nil {
		return nil, e.storageError("list orders", err)
	}
	return orders, nil
}

// Account returns the cash account.
func (e *Engine) Account(ctx context.Context) (*domain.Account, error) {
	acct, err := e.ledger.GetAccount(ctx)
	if err != nil {
		return nil, e.storageError("get account", err)
	}
	return acct, nil
}

// Policy returns the active risk limits.
func (e *Engine) Policy() Limits { return e.risk.Limits() }

// Reset clears every order, fill and position and restores the starting
// cash. It fails with domain.ErrResetDisabled unless AllowReset was set.
func (e *Engine) Reset(ctx context.Context) error {
	if !e.allowReset {
		return domain.ErrResetDisabled
	}
	if err := e.ledger.Reset(ctx, e.startingCash); err != nil {
		return e.storageError("reset", err)
	}
	e.log.Warn("ledger reset", "starting_cash", e.startingCash)
	return nil
}

// ---------------------------------------------------------------------------
// Fill
// ---------------------------------------------------------------------------

type fillResult struct {
	order    domain.Order
	position *domain.Position
	realized decimal.Decimal
}

func (r fillResult) event(ts time.Time) events.Event {
	return events.Event{
		Topic:       events.OrderFilled,
		Order:       r.order,
		Position:    r.position,
		RealizedPnL: r.realized,
		Timestamp:   ts,
	}
}

// fill executes o at price inside tx: it updates the position and the
// account, marks the order filled (inserting it when it has no ID yet) and
// appends a journal entry.
func (e *Engine) fill(ctx context.Context, tx store.LedgerTx, o *domain.Order, price decimal.Decimal) (fillResult, error) {
	acct, err := tx.GetAccount(ctx)
	if err != nil {
		return fillResult{}, err
	}
	cur, err := tx.GetPosition(ctx, o.Symbol)
	if err != nil {
		return fillResult{}, err
	}

	next, realized := applyFill(cur, o.Symbol, o.Side, o.Qty, price)
	var position *domain.Position
	if next.IsFlat() {
		if cur != nil {
			if err := tx.DeletePosition(ctx, o.Symbol); err != nil {
				return fillResult{}, err
			}
		}
	} else {
		if err := tx.SavePosition(ctx, &next); err != nil {
			return fillResult{}, err
		}
		position = &next
	}

	acct.Cash = acct.Cash.Add(cashDelta(o.Side, o.Qty, price))
	acct.RealizedPnL = acct.RealizedPnL.Add(realized)
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return fillResult{}, err
	}

	now := e.now().UTC()
	o.Status = domain.OrderStatusFilled
	o.ExecPrice = decimal.NewNullDecimal(price)
	o.FilledQty = o.Qty
	o.Value = decimal.NewNullDecimal(o.Qty.Mul(price))
	o.RealizedPnL = decimal.NewNullDecimal(realized)
	o.UpdatedAt = now
	if o.ID == 0 {
		err = tx.InsertOrder(ctx, o)
	} else {
		err = tx.UpdateOrder(ctx, o)
	}
	if err != nil {
		return fillResult{}, err
	}

	err = tx.InsertFill(ctx, &domain.Fill{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Qty:         o.Qty,
		Price:       price,
		RealizedPnL: realized,
		CashAfter:   acct.Cash,
		Timestamp:   now,
	})
	if err != nil {
		return fillResult{}, err
	}
	return fillResult{order: *o, position: position, realized: realized}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) newOrder(req domain.OrderRequest, status domain.OrderStatus) *domain.Order {
	now := e.now().UTC()
	o := &domain.Order{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    status,
		Qty:       req.Qty,
		FilledQty: decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		o.LimitPrice = req.LimitPrice
	case domain.OrderTypeStop:
		o.StopPrice = req.StopPrice
	case domain.OrderTypeMarket:
	}
	return o
}

// lastPrice asks the oracle for symbol. A missing price is (nil, nil); only
// context errors are returned.
func (e *Engine) lastPrice(ctx context.Context, symbol string) (*oracle.Quote, error) {
	q, err := e.oracle.LastPrice(ctx, symbol)
	if err == nil {
		return &q, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(err, oracle.ErrNoPrice) {
		e.log.Warn("oracle lookup failed", "symbol", symbol, "error", err)
	}
	return nil, nil
}

// storageError passes expected outcomes through and wraps everything else
// as a *domain.PersistenceError.
func (e *Engine) storageError(op string, err error) error {
	var (
		notOpen    *domain.NotOpenError
		rejection  *domain.RiskRejection
		validation *domain.ValidationError
	)
	switch {
	case errors.As(err, &notOpen), errors.As(err, &rejection), errors.As(err, &validation),
		errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNotOpen),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	e.log.Error("ledger operation failed", "op", op, "error", err)
	return &domain.PersistenceError{Op: op, Err: err}
}
