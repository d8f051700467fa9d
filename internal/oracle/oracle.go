// Package oracle resolves the last traded price of a symbol. A Source looks
// up one granularity; Fallback walks a configured chain of granularities,
// finest first, under a per-lookup timeout.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the bar timeframe a price was sourced from.
type Granularity string

const (
	Hour Granularity = "1h"
	Day  Granularity = "1d"
)

// DefaultChain is the fallback order used when none is configured.
var DefaultChain = []Granularity{Hour, Day}

// ParseGranularity accepts "1h" and "1d".
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Hour, Day:
		return g, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// ErrNoPrice is returned when no positive price exists for a symbol. It is
// distinct from a zero price, which is never returned.
var ErrNoPrice = errors.New("no price available")

// Quote is a resolved last price.
type Quote struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Granularity Granularity     `json:"granularity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Source looks up the last price at a single granularity. Implementations
// return ErrNoPrice when the symbol has no data at g.
type Source interface {
	Name() string
	LastPrice(ctx context.Context, symbol string, g Granularity) (Quote, error)
}

// Oracle is what the engine and valuation consume.
type Oracle interface {
	LastPrice(ctx context.Context, symbol string) (Quote, error)
}

// Compile-time interface check.
var _ Oracle = (*Fallback)(nil)

// Fallback tries each granularity of its chain in order and returns the
// first positive price.
type Fallback struct {
	src     Source
	chain   []Granularity
	timeout time.Duration
	log     *slog.Logger
}

// NewFallback wraps src. An empty chain means DefaultChain; timeout <= 0
// disables the per-lookup deadline.
func NewFallback(src Source, chain []Granularity, timeout time.Duration, log *slog.Logger) *Fallback {
	if len(chain) == 0 {
		chain = DefaultChain
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{
		src:     src,
		chain:   chain,
		timeout: timeout,
		log:     log.With("component", "oracle", "source", src.Name()),
	}
}

// Chain returns the configured granularities.
func (f *Fallback) Chain() []Granularity { return f.chain }

// LastPrice walks the whole chain.
func (f *Fallback) LastPrice(ctx context.Context, symbol string) (Quote, error) {
	return f.LastPriceFrom(ctx, symbol, "")
}

// LastPriceFrom starts the chain at preferred, skipping finer granularities.
// An empty or unknown preferred granularity starts at the head.
func (f *Fallback) LastPriceFrom(ctx context.Context, symbol string, preferred Granularity) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	chain := f.chain
	for i, g := range chain {
		if g == preferred {
			chain = chain[i:]
			break
		}
	}

	for _, g := range chain {
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
		q, err := f.lookup(ctx, symbol, g)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, ErrNoPrice) {
			f.log.Warn("price lookup failed", "symbol", symbol, "granularity", g, "error", err)
		}
	}
	return Quote{}, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
}

func (f *Fallback) lookup(ctx context.Context, symbol string, g Granularity) (Quote, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	q, err := f.src.LastPrice(ctx, symbol, g)
	if err != nil {
		return Quote{}, err
	}
	if !q.Price.IsPositive() {
		return Quote{}, ErrNoPrice
	}
	q.Symbol = symbol
	q.Granularity = g
	return q, nil
}
