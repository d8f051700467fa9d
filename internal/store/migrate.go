package store

import (
	"context"
	"fmt"
	"time"
)

// migration is one versioned schema step. Steps are applied in order and
// each runs in its own transaction.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "ledger",
		stmts: []string{
			`CREATE TABLE accounts (
				id            INTEGER PRIMARY KEY CHECK (id = 1),
				starting_cash TEXT    NOT NULL,
				cash          TEXT    NOT NULL,
				realized_pnl  TEXT    NOT NULL DEFAULT '0',
				created_at    INTEGER NOT NULL
			)`,
			`CREATE TABLE positions (
				symbol     TEXT PRIMARY KEY,
				qty        TEXT    NOT NULL,
				avg_price  TEXT    NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE orders (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol       TEXT    NOT NULL,
				side         TEXT    NOT NULL CHECK (side IN ('buy', 'sell')),
				type         TEXT    NOT NULL CHECK (type IN ('market', 'limit', 'stop')),
				status       TEXT    NOT NULL CHECK (status IN ('open', 'filled', 'cancelled', 'rejected')),
				qty          TEXT    NOT NULL,
				limit_price  TEXT,
				stop_price   TEXT,
				exec_price   TEXT,
				filled_qty   TEXT    NOT NULL DEFAULT '0',
				value        TEXT,
				realized_pnl TEXT,
				created_at   INTEGER NOT NULL,
				updated_at   INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "fills journal",
		stmts: []string{
			`CREATE TABLE fills (
				id           TEXT PRIMARY KEY,
				order_id     INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				symbol       TEXT    NOT NULL,
				side         TEXT    NOT NULL,
				qty          TEXT    NOT NULL,
				price        TEXT    NOT NULL,
				realized_pnl TEXT    NOT NULL,
				cash_after   TEXT    NOT NULL,
				ts           INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 3,
		name:    "order indexes",
		stmts: []string{
			`CREATE INDEX idx_orders_status ON orders(status, id)`,
			`CREATE INDEX idx_orders_symbol ON orders(symbol)`,
			`CREATE INDEX idx_fills_order ON fills(order_id)`,
		},
	},
}

// Migrate brings the schema up to the latest version. It is idempotent and
// should run once at startup, before any ledger access.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT    NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, or 0.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, name, applied_at) VALUES(?, ?, ?)`,
		m.version, m.name, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestSchemaVersion is the version Migrate converges to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}
