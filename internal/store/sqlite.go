package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Ledger = (*SQLiteStore)(nil)
var _ LedgerTx = (*sqliteTx)(nil)

// sqlitePragmas are applied to every pooled connection. Write transactions
// start with BEGIN IMMEDIATE so two writers never interleave.
const sqlitePragmas = "?_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(10000)" +
	"&_pragma=foreign_keys(1)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_txlock=immediate"

// SQLiteStore implements Ledger backed by a SQLite database.
type SQLiteStore struct {
	queries
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore. Call Migrate before first use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+sqlitePragmas)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	return &SQLiteStore{queries: queries{q: db}, db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureAccount creates the singleton account with startingCash if it does
// not exist yet. An existing account is left untouched.
func (s *SQLiteStore) EnsureAccount(ctx context.Context, startingCash decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts(id, starting_cash, cash, realized_pnl, created_at)
		 VALUES(1, ?, ?, '0', ?)`,
		startingCash.String(), startingCash.String(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensuring account: %w", err)
	}
	return nil
}

// WithTx runs fn inside one transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx LedgerTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteTx{queries: queries{q: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// View runs fn inside a read-only transaction. Under WAL the transaction
// reads one snapshot and does not block writers.
func (s *SQLiteStore) View(ctx context.Context, fn func(r LedgerReader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(queries{q: tx})
}

// Reset deletes every order, fill and position and restores starting cash.
// Order IDs keep increasing across resets.
func (s *SQLiteStore) Reset(ctx context.Context, startingCash decimal.Decimal) error {
	return s.WithTx(ctx, func(tx LedgerTx) error {
		q := tx.(*sqliteTx).q
		for _, stmt := range []string{
			`DELETE FROM fills`,
			`DELETE FROM orders`,
			`DELETE FROM positions`,
		} {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		_, err := q.ExecContext(ctx,
			`UPDATE accounts SET starting_cash = ?, cash = ?, realized_pnl = '0' WHERE id = 1`,
			startingCash.String(), startingCash.String())
		if err != nil {
			return fmt.Errorf("reset account: %w", err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Shared read queries
// ---------------------------------------------------------------------------

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queries struct {
	q querier
}

const orderColumns = `id, symbol, side, type, status, qty, limit_price, stop_price,
	exec_price, filled_qty, value, realized_pnl, created_at, updated_at`

// GetAccount returns the singleton cash account.
func (r queries) GetAccount(ctx context.Context) (*domain.Account, error) {
	var (
		a       domain.Account
		created int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT starting_cash, cash, realized_pnl, created_at FROM accounts WHERE id = 1`,
	).Scan(&a.StartingCash, &a.Cash, &a.RealizedPnL, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("account not initialised")
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	return &a, nil
}

// GetOrder retrieves a single order by its ID.
func (r queries) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// ListOrders returns orders newest first, optionally filtered by status.
func (r queries) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultOrderLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = r.q.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY id DESC LIMIT ?`,
			string(filter.Status), limit)
	} else {
		rows, err = r.q.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOpenOrders returns every open order, oldest first.
func (r queries) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = 'open' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	return collectOrders(rows)
}

// GetPosition returns the position for symbol, or nil when flat.
func (r queries) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	p := domain.Position{Symbol: symbol}
	err := r.q.QueryRowContext(ctx,
		`SELECT qty, avg_price FROM positions WHERE symbol = ?`, symbol,
	).Scan(&p.Qty, &p.AvgPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	return &p, nil
}

// ListPositions returns all non-flat positions ordered by symbol.
func (r queries) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT symbol, qty, avg_price FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.IsFlat() {
			continue
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListFills returns the journal entries of one order in time order.
func (r queries) ListFills(ctx context.Context, orderID int64) ([]domain.Fill, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, order_id, symbol, side, qty, price, realized_pnl, cash_after, ts
		 FROM fills WHERE order_id = ? ORDER BY ts, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var (
			f    domain.Fill
			side string
			ts   int64
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &f.Qty, &f.Price,
			&f.RealizedPnL, &f.CashAfter, &ts); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = domain.OrderSide(side)
		f.Timestamp = time.UnixMilli(ts).UTC()
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                   domain.Order
		side, typ, status   string
		createdAt, updateAt int64
	)
	err := row.Scan(&o.ID, &o.Symbol, &side, &typ, &status, &o.Qty, &o.LimitPrice, &o.StopPrice,
		&o.ExecPrice, &o.FilledQty, &o.Value, &o.RealizedPnL, &createdAt, &updateAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updateAt).UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ---------------------------------------------------------------------------
// LedgerTx implementation
// ---------------------------------------------------------------------------

type sqliteTx struct {
	queries
}

// UpdateAccount persists cash and cumulative realized P&L.
func (t *sqliteTx) UpdateAccount(ctx context.Context, acct *domain.Account) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET cash = ?, realized_pnl = ? WHERE id = 1`,
		acct.Cash.String(), acct.RealizedPnL.String())
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return errors.New("update account: account not initialised")
	}
	return nil
}

// SavePosition inserts or updates a position for a symbol.
func (t *sqliteTx) SavePosition(ctx context.Context, pos *domain.Position) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO positions(symbol, qty, avg_price, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
		   qty = excluded.qty,
		   avg_price = excluded.avg_price,
		   updated_at = excluded.updated_at`,
		pos.Symbol, pos.Qty.String(), pos.AvgPrice.String(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.Symbol, err)
	}
	return nil
}

// DeletePosition removes the position for a symbol.
func (t *sqliteTx) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}

// InsertOrder appends a new order and assigns its ID.
func (t *sqliteTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO orders(symbol, side, type, status, qty, limit_price, stop_price,
		   exec_price, filled_qty, value, realized_pnl, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Symbol, string(o.Side), string(o.Type), string(o.Status), o.Qty.String(),
		o.LimitPrice, o.StopPrice, o.ExecPrice, o.FilledQty.String(), o.Value, o.RealizedPnL,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert order id: %w", err)
	}
	o.ID = id
	return nil
}

// UpdateOrder persists status and execution fields of an open order. A
// terminal row is never rewritten.
func (t *sqliteTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, exec_price = ?, filled_qty = ?, value = ?,
		   realized_pnl = ?, updated_at = ?
		 WHERE id = ? AND status = 'open'`,
		string(o.Status), o.ExecPrice, o.FilledQty.String(), o.Value, o.RealizedPnL,
		o.UpdatedAt.UnixMilli(), o.ID)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update order %d: %w", o.ID, domain.ErrNotOpen)
	}
	return nil
}

// InsertFill appends a fill journal entry.
func (t *sqliteTx) InsertFill(ctx context.Context, f *domain.Fill) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO fills(id, order_id, symbol, side, qty, price, realized_pnl, cash_after, ts)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.Symbol, string(f.Side), f.Qty.String(), f.Price.String(),
		f.RealizedPnL.String(), f.CashAfter.String(), f.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}
