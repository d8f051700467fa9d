package oracle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Source = (*StaticSource)(nil)

// StaticSource serves prices set in memory. It backs the "static" oracle
// and tests. A price set for a specific granularity wins over the
// granularity-independent one.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	byGran map[staticKey]decimal.Decimal
	now    func() time.Time
}

type staticKey struct {
	symbol string
	g      Granularity
}

// NewStaticSource creates a StaticSource seeded with prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{
		prices: make(map[string]decimal.Decimal, len(prices)),
		byGran: make(map[staticKey]decimal.Decimal),
		now:    time.Now,
	}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// Name returns "static".
func (s *StaticSource) Name() string { return "static" }

// SetPrice sets the price of symbol at every granularity.
func (s *StaticSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

// SetPriceAt sets the price of symbol at one granularity only.
func (s *StaticSource) SetPriceAt(symbol string, g Granularity, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGran[staticKey{strings.ToUpper(symbol), g}] = price
}

// Remove makes symbol unavailable at every granularity.
func (s *StaticSource) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	delete(s.prices, symbol)
	for k := range s.byGran {
		if k.symbol == symbol {
			delete(s.byGran, k)
		}
	}
}

// LastPrice returns the stored price or ErrNoPrice.
func (s *StaticSource) LastPrice(_ context.Context, symbol string, g Granularity) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbol = strings.ToUpper(symbol)
	p, ok := s.byGran[staticKey{symbol, g}]
	if !ok {
		p, ok = s.prices[symbol]
	}
	if !ok {
		return Quote{}, ErrNoPrice
	}
	return Quote{Symbol: symbol, Price: p, Granularity: g, Timestamp: s.now().UTC()}, nil
}
