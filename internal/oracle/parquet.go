package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"papertrade/internal/store"
)

// Compile-time interface check.
var _ Source = (*BarSource)(nil)

// BarSource prices symbols from the close of the newest locally stored bar.
type BarSource struct {
	bars store.BarStore
}

// NewBarSource creates a BarSource over bars, usually a store.ParquetStore.
func NewBarSource(bars store.BarStore) *BarSource {
	return &BarSource{bars: bars}
}

// Name returns "parquet".
func (s *BarSource) Name() string { return "parquet" }

// LastPrice returns the close of the newest bar at g.
func (s *BarSource) LastPrice(ctx context.Context, symbol string, g Granularity) (Quote, error) {
	bar, err := s.bars.LastBar(ctx, symbol, string(g))
	if err != nil {
		if errors.Is(err, store.ErrNoBars) {
			return Quote{}, ErrNoPrice
		}
		return Quote{}, err
	}
	return Quote{
		Symbol:      bar.Symbol,
		Price:       decimal.NewFromFloat(bar.Close),
		Granularity: g,
		Timestamp:   bar.Timestamp,
	}, nil
}
