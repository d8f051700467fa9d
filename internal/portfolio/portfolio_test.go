package portfolio

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
	"papertrade/internal/oracle"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T) (*store.SQLiteStore, *oracle.StaticSource, *Valuator) {
	t.Helper()
	ctx := context.Background()
	ledger, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	require.NoError(t, ledger.Migrate(ctx))
	require.NoError(t, ledger.EnsureAccount(ctx, d("100000")))

	// Long 10 AAPL @ 50 and short 4 MSFT @ 200, bought and sold through fills.
	require.NoError(t, ledger.WithTx(ctx, func(tx store.LedgerTx) error {
		if err := tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Qty: d("10"), AvgPrice: d("50")}); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, &domain.Position{Symbol: "MSFT", Qty: d("-4"), AvgPrice: d("200")}); err != nil {
			return err
		}
		return tx.UpdateAccount(ctx, &domain.Account{Cash: d("100300"), RealizedPnL: d("25")})
	}))

	src := oracle.NewStaticSource(nil)
	v := NewValuator(ledger, oracle.NewFallback(src, nil, time.Second, util.Discard()), 4, util.Discard())
	return ledger, src, v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

func TestValuateBookValue(t *testing.T) {
	_, src, v := seed(t)
	src.SetPrice("AAPL", d("70"))

	pf, err := v.Valuate(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, pf.MarkToMarket)
	assertDec(t, "100300", pf.Cash)
	assertDec(t, "100000", pf.StartingCash)
	// 10*50 - 4*200
	assertDec(t, "-300", pf.PositionsValue)
	assertDec(t, "100000", pf.Equity)
	assertDec(t, "25", pf.RealizedPnLTotal)
	assertDec(t, "0", pf.UnrealizedPnLTotal)
	for _, p := range pf.Positions {
		assert.False(t, p.Priced)
	}
}

func TestValuateMarkToMarket(t *testing.T) {
	_, src, v := seed(t)
	src.SetPriceAt("AAPL", oracle.Day, d("55"))
	src.SetPrice("MSFT", d("190"))

	pf, err := v.Valuate(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, pf.Positions, 2)

	aapl, msft := pf.Positions[0], pf.Positions[1]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.True(t, aapl.Priced)
	assert.Equal(t, "1d", aapl.MarkGranularity)
	assertDec(t, "55", aapl.LastPrice)
	assertDec(t, "50", aapl.UnrealizedPnL)
	assertDec(t, "550", aapl.MarketValue)

	assert.Equal(t, "1h", msft.MarkGranularity)
	// Short gains when price falls: -4 * (190 - 200)
	assertDec(t, "40", msft.UnrealizedPnL)
	assertDec(t, "-760", msft.MarketValue)

	assertDec(t, "-210", pf.PositionsValue)
	assertDec(t, "90", pf.UnrealizedPnLTotal)
	assertDec(t, "100090", pf.Equity)
}

func TestValuateFallsBackToBookValue(t *testing.T) {
	_, src, v := seed(t)
	src.SetPrice("AAPL", d("60"))

	positions, err := v.ListPositions(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.True(t, positions[0].Priced)
	assertDec(t, "100", positions[0].UnrealizedPnL)

	msft := positions[1]
	assert.False(t, msft.Priced, "no price: carried at book value")
	assertDec(t, "200", msft.LastPrice)
	assertDec(t, "0", msft.UnrealizedPnL)
	assert.Empty(t, msft.MarkGranularity)
}

func TestValuateEmptyLedger(t *testing.T) {
	ctx := context.Background()
	ledger, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	defer ledger.Close()
	require.NoError(t, ledger.Migrate(ctx))
	require.NoError(t, ledger.EnsureAccount(ctx, d("100000")))

	v := NewValuator(ledger, oracle.NewFallback(oracle.NewStaticSource(nil), nil, time.Second, util.Discard()), 0, util.Discard())
	pf, err := v.Valuate(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, pf.Positions)
	assertDec(t, "100000", pf.Equity)
}

func TestValuateSeesWholeFills(t *testing.T) {
	ctx := context.Background()
	ledger, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "paper.db"))
	require.NoError(t, err)
	defer ledger.Close()
	require.NoError(t, ledger.Migrate(ctx))
	require.NoError(t, ledger.EnsureAccount(ctx, d("100000")))

	src := oracle.NewStaticSource(map[string]decimal.Decimal{"AAPL": d("50")})
	v := NewValuator(ledger, oracle.NewFallback(src, nil, time.Second, util.Discard()), 4, util.Discard())

	// Buy and sell 10 AAPL at 50 back and forth; equity is 100000 throughout.
	stop := make(chan struct{})
	writerErr := make(chan error, 1)
	go func() {
		defer close(writerErr)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			err := ledger.WithTx(ctx, func(tx store.LedgerTx) error {
				if i%2 == 0 {
					if err := tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Qty: d("10"), AvgPrice: d("50")}); err != nil {
						return err
					}
					return tx.UpdateAccount(ctx, &domain.Account{Cash: d("99500"), RealizedPnL: decimal.Zero})
				}
				if err := tx.DeletePosition(ctx, "AAPL"); err != nil {
					return err
				}
				return tx.UpdateAccount(ctx, &domain.Account{Cash: d("100000"), RealizedPnL: decimal.Zero})
			})
			if err != nil {
				writerErr <- err
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		pf, err := v.Valuate(ctx, i%2 == 0)
		require.NoError(t, err)
		if !pf.Equity.Equal(d("100000")) {
			close(stop)
			t.Fatalf("valuation %d: cash=%s positions_value=%s equity=%s", i, pf.Cash, pf.PositionsValue, pf.Equity)
		}
	}
	close(stop)
	require.NoError(t, <-writerErr)
}

type failingViewer struct{ err error }

func (f failingViewer) View(context.Context, func(store.LedgerReader) error) error { return f.err }

func TestValuateStorageFailure(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("disk I/O error")
	v := NewValuator(failingViewer{err: boom}, oracle.NewFallback(oracle.NewStaticSource(nil), nil, time.Second, util.Discard()), 1,
		util.NewLoggerTo(&buf, "info", "json"))

	_, err := v.Valuate(context.Background(), false)
	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "read account and positions")

	buf.Reset()
	_, err = v.ListPositions(context.Background(), true)
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, buf.String(), "list positions")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v = NewValuator(failingViewer{err: context.Canceled}, nil, 1, util.Discard())
	_, err = v.Valuate(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, &pe))
}
