package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderRequest is what a signal or strategy caller submits.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Qty        decimal.Decimal
	Type       OrderType
	Price      decimal.NullDecimal // explicit execution price for market orders
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal
}

// Normalize trims and upper-cases the symbol and defaults the type to market.
func (r OrderRequest) Normalize() OrderRequest {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Type == "" {
		r.Type = OrderTypeMarket
	}
	return r
}

// Validate checks the request shape. It never consults prices or positions.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if !r.Side.Valid() {
		return &ValidationError{Field: "side", Message: "side must be buy or sell"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Message: "type must be market, limit or stop"}
	}
	if !r.Qty.IsPositive() {
		return &ValidationError{Field: "qty", Message: "qty must be > 0"}
	}
	if r.Price.Valid && !r.Price.Decimal.IsPositive() {
		return &ValidationError{Field: "price", Message: "price must be > 0"}
	}

	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !r.LimitPrice.Valid {
			return &ValidationError{Field: "limit_price", Message: "limit order requires limit_price"}
		}
		if !r.LimitPrice.Decimal.IsPositive() {
			return &ValidationError{Field: "limit_price", Message: "limit_price must be > 0"}
		}
	case OrderTypeStop:
		if !r.StopPrice.Valid {
			return &ValidationError{Field: "stop_price", Message: "stop order requires stop_price"}
		}
		if !r.StopPrice.Decimal.IsPositive() {
			return &ValidationError{Field: "stop_price", Message: "stop_price must be > 0"}
		}
	}
	return nil
}

// TriggerPrice returns the price stored on the order for its type: the limit
// price for limits, the stop price for stops. Market orders have none.
func TriggerPrice(t OrderType, limit, stop decimal.NullDecimal) decimal.NullDecimal {
	switch t {
	case OrderTypeLimit:
		return limit
	case OrderTypeStop:
		return stop
	case OrderTypeMarket:
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{}
}

// ShouldFill reports whether an order of the given side and type qualifies
// for a fill at last.
//
//	market           always
//	limit buy/sell   last <= limit / last >= limit
//	stop  buy/sell   last >= stop  / last <= stop
//
// A limit or stop order missing its trigger price never qualifies.
func ShouldFill(side OrderSide, t OrderType, last decimal.Decimal, limit, stop decimal.NullDecimal) bool {
	switch t {
	case OrderTypeMarket:
		return true
	case OrderTypeLimit:
		if !limit.Valid {
			return false
		}
		if side == OrderSideBuy {
			return last.LessThanOrEqual(limit.Decimal)
		}
		return last.GreaterThanOrEqual(limit.Decimal)
	case OrderTypeStop:
		if !stop.Valid {
			return false
		}
		if side == OrderSideBuy {
			return last.GreaterThanOrEqual(stop.Decimal)
		}
		return last.LessThanOrEqual(stop.Decimal)
	}
	return false
}

// ShouldFill reports whether o qualifies for a fill at last. Orders that are
// not open never qualify.
func (o *Order) ShouldFill(last decimal.Decimal) bool {
	if o.Status != OrderStatusOpen {
		return false
	}
	return ShouldFill(o.Side, o.Type, last, o.LimitPrice, o.StopPrice)
}
