// Package domain defines the core types shared across the paper-trading
// ledger: orders, positions, the cash account, and portfolio views.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() decimal.Decimal {
	if s == OrderSideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderType selects the fill predicate and reference price of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order. Only OrderStatusOpen is
// non-terminal.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusOpen
}

// PositionSide is derived from the sign of a position's quantity.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ---------------------------------------------------------------------------
// Ledger records
// ---------------------------------------------------------------------------

// Order is a request to trade together with its execution outcome.
type Order struct {
	ID          int64               `json:"id"`
	Symbol      string              `json:"symbol"`
	Side        OrderSide           `json:"side"`
	Type        OrderType           `json:"order_type"`
	Status      OrderStatus         `json:"status"`
	Qty         decimal.Decimal     `json:"qty"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	ExecPrice   decimal.NullDecimal `json:"execution_price"`
	FilledQty   decimal.Decimal     `json:"filled_qty"`
	Value       decimal.NullDecimal `json:"value"`        // Qty x ExecPrice, set on fill
	RealizedPnL decimal.NullDecimal `json:"realized_pnl"` // realized by this order's fill
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Position is the open exposure in one symbol. A positive Qty is long, a
// negative Qty is short; a flat position is not stored.
type Position struct {
	Symbol   string          `json:"symbol"`
	Qty      decimal.Decimal `json:"qty"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Side returns the position's direction. Flat positions report long.
func (p Position) Side() PositionSide {
	if p.Qty.IsNegative() {
		return PositionSideShort
	}
	return PositionSideLong
}

// IsFlat reports whether the position carries no quantity.
func (p Position) IsFlat() bool {
	return p.Qty.IsZero()
}

// Account is the singleton cash account of the ledger.
type Account struct {
	StartingCash decimal.Decimal `json:"starting_cash"`
	Cash         decimal.Decimal `json:"cash"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"` // cumulative over all fills
	CreatedAt    time.Time       `json:"created_at"`
}

// Fill is one row of the append-only fill journal.
type Fill struct {
	ID          string          `json:"id"`
	OrderID     int64           `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CashAfter   decimal.Decimal `json:"cash_after"`
	Timestamp   time.Time       `json:"ts"`
}

// ---------------------------------------------------------------------------
// Portfolio views
// ---------------------------------------------------------------------------

// PositionValuation is a position together with its valuation price.
type PositionValuation struct {
	Position
	LastPrice       decimal.Decimal `json:"last_price"`       // valuation price; AvgPrice when not priced
	MarkGranularity string          `json:"mark_granularity"` // oracle granularity used, empty when not priced
	MarketValue     decimal.Decimal `json:"market_value"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	Priced          bool            `json:"priced"` // false when book value was used
}

// Portfolio is the aggregated view of the ledger.
type Portfolio struct {
	StartingCash       decimal.Decimal     `json:"starting_cash"`
	Cash               decimal.Decimal     `json:"cash"`
	PositionsValue     decimal.Decimal     `json:"positions_value"`
	Equity             decimal.Decimal     `json:"equity"`
	RealizedPnLTotal   decimal.Decimal     `json:"realized_pnl_total"`
	UnrealizedPnLTotal decimal.Decimal     `json:"unrealized_pnl_total"`
	Positions          []PositionValuation `json:"positions"`
	MarkToMarket       bool                `json:"mark_to_market"`
	AsOf               time.Time           `json:"as_of"`
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one OHLCV bar at some granularity.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"ts"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}
