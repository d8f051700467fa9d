package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"papertrade/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.barPath("aapl", "1h", 2024)
	want := filepath.Join("/data", "us", "hourly", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.barPath("MSFT", "1d", 2023)
	want = filepath.Join("/data", "us", "daily", "MSFT", "2023.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), Open: 185.0, High: 186.5, Low: 184.0, Close: 185.5, Volume: 500000},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC), Open: 185.5, High: 187.0, Low: 185.0, Close: 186.0, Volume: 450000},
	}
	if err := ps.WriteBars(ctx, "1h", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", "1h", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 || got[1].Close != 186.0 {
		t.Errorf("closes = %v, %v; want 185.5, 186.0", got[0].Close, got[1].Close)
	}

	// Nothing was written at daily granularity.
	daily, err := ps.ReadBars(ctx, "AAPL", "1d", start, end)
	if err != nil {
		t.Fatalf("ReadBars daily: %v", err)
	}
	if len(daily) != 0 {
		t.Errorf("daily bars = %d, want 0", len(daily))
	}
}

func TestParquetStoreLastBar(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if _, err := ps.LastBar(ctx, "MSFT", "1d"); !errors.Is(err, ErrNoBars) {
		t.Fatalf("LastBar on empty store: err = %v, want ErrNoBars", err)
	}

	bars := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), Close: 376.0},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Close: 408.0},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Close: 403.0},
	}
	if err := ps.WriteBars(ctx, "1d", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	last, err := ps.LastBar(ctx, "msft", "1d")
	if err != nil {
		t.Fatalf("LastBar: %v", err)
	}
	if last.Close != 408.0 {
		t.Errorf("LastBar Close = %v, want 408", last.Close)
	}
	if !last.Timestamp.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastBar Timestamp = %v", last.Timestamp)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteBars(ctx, "1d", []domain.Bar{{Symbol: "MSFT", Timestamp: ts, Close: 403.0}}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Same timestamp replaces, new timestamp appends.
	if err := ps.WriteBars(ctx, "1d", []domain.Bar{
		{Symbol: "MSFT", Timestamp: ts, Close: 404.0},
		{Symbol: "MSFT", Timestamp: ts.AddDate(0, 0, 3), Close: 408.0},
	}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "MSFT", "1d", ts, ts.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404.0 {
		t.Errorf("merged Close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 185.5},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 140.5},
	}
	if err := ps.WriteBars(ctx, "1d", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "1d")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func TestParquetStoreReadBarsCorruptFile(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	path := ps.barPath("AAPL", "1d", 2024)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not parquet"), 0o644); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	if _, err := ps.ReadBars(ctx, "AAPL", "1d", start, end); err == nil {
		t.Fatal("ReadBars on a corrupt file returned nil error")
	}
}
