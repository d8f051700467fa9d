package engine

import (
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// applyFill returns the position that results from filling qty at price
// against cur (nil when flat) and the P&L the fill realizes.
//
// Adding to a position re-weights the average price. Reducing one realizes
// P&L on the closed quantity and keeps the average. When the fill flips the
// side, the remainder opens at price.
func applyFill(cur *domain.Position, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (domain.Position, decimal.Decimal) {
	signed := qty.Mul(side.Sign())

	if cur == nil || cur.IsFlat() {
		return domain.Position{Symbol: symbol, Qty: signed, AvgPrice: price}, decimal.Zero
	}

	next := domain.Position{Symbol: symbol, Qty: cur.Qty.Add(signed), AvgPrice: cur.AvgPrice}

	if cur.Qty.Sign() == signed.Sign() {
		cost := cur.Qty.Abs().Mul(cur.AvgPrice).Add(qty.Mul(price))
		next.AvgPrice = cost.Div(next.Qty.Abs())
		return next, decimal.Zero
	}

	closing := decimal.Min(qty, cur.Qty.Abs())
	var realized decimal.Decimal
	if cur.Qty.IsPositive() {
		realized = price.Sub(cur.AvgPrice).Mul(closing)
	} else {
		realized = cur.AvgPrice.Sub(price).Mul(closing)
	}

	switch {
	case next.Qty.IsZero():
		next.AvgPrice = decimal.Zero
	case next.Qty.Sign() != cur.Qty.Sign():
		next.AvgPrice = price
	}
	return next, realized
}

// cashDelta is the change in cash caused by a fill: buys spend, sells
// receive.
func cashDelta(side domain.OrderSide, qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(side.Sign()).Neg()
}
