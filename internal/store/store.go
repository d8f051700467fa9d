// Package store defines storage interfaces for the paper-trading ledger
// (account, positions, orders, fills) and for the historical bars that back
// the local price oracle.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// DefaultOrderLimit caps ListOrders when no limit is given.
const DefaultOrderLimit = 50

// OrderFilter narrows ListOrders. A zero Status matches every status.
type OrderFilter struct {
	Status domain.OrderStatus
	Limit  int
}

// LedgerReader exposes point queries and scans over the ledger.
type LedgerReader interface {
	// GetAccount returns the singleton cash account.
	GetAccount(ctx context.Context) (*domain.Account, error)

	// GetOrder retrieves a single order by its ID. It returns
	// domain.ErrOrderNotFound when no such order exists.
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)

	// ListOpenOrders returns every open order, oldest first.
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)

	// GetPosition returns the position for symbol, or nil when flat.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// ListPositions returns all non-flat positions ordered by symbol.
	ListPositions(ctx context.Context) ([]domain.Position, error)

	// ListFills returns the journal entries of one order.
	ListFills(ctx context.Context, orderID int64) ([]domain.Fill, error)
}

// LedgerTx is a single atomic unit of work against the ledger. Nothing
// written through it is visible to other readers until the surrounding
// WithTx call commits.
type LedgerTx interface {
	LedgerReader

	// UpdateAccount persists cash and cumulative realized P&L.
	UpdateAccount(ctx context.Context, acct *domain.Account) error

	// SavePosition inserts or updates a position for a symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// DeletePosition removes the position for a symbol.
	DeletePosition(ctx context.Context, symbol string) error

	// InsertOrder appends a new order and assigns its ID.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrder persists status and execution fields of an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error

	// InsertFill appends a fill journal entry.
	InsertFill(ctx context.Context, fill *domain.Fill) error
}

// LedgerViewer reads the ledger from one consistent snapshot.
type LedgerViewer interface {
	// View runs fn inside one read transaction. Every read made through r
	// sees the same committed state.
	View(ctx context.Context, fn func(r LedgerReader) error) error
}

// Ledger is the durable state of the paper account.
type Ledger interface {
	LedgerReader
	LedgerViewer

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// Reset deletes every order, fill and position and restores the account
	// to startingCash with zero realized P&L.
	Reset(ctx context.Context, startingCash decimal.Decimal) error
}

// BarStore persists and retrieves OHLCV bars per granularity.
type BarStore interface {
	// WriteBars persists a batch of bars at the given granularity.
	WriteBars(ctx context.Context, granularity string, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end].
	ReadBars(ctx context.Context, symbol, granularity string, start, end time.Time) ([]domain.Bar, error)

	// LastBar returns the most recent bar for symbol, or ErrNoBars.
	LastBar(ctx context.Context, symbol, granularity string) (*domain.Bar, error)

	// ListSymbols returns all symbols with bars at the given granularity.
	ListSymbols(ctx context.Context, granularity string) ([]string, error)
}
