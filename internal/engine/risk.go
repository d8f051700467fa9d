package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Limits are the configured risk thresholds.
type Limits struct {
	AllowShort       bool            `json:"allow_short"`
	MaxOrderValue    decimal.Decimal `json:"max_order_value"`
	MaxSymbolQty     decimal.Decimal `json:"max_symbol_qty"`
	MaxPositionValue decimal.Decimal `json:"max_position_value"`
}

// DefaultLimits disables shorting and leaves every size limit at 1e12.
func DefaultLimits() Limits {
	big := decimal.New(1, 12)
	return Limits{
		MaxOrderValue:    big,
		MaxSymbolQty:     big,
		MaxPositionValue: big,
	}
}

// RiskInput is one proposed order together with the position it would
// change. RefPrice is only consulted for market orders.
type RiskInput struct {
	Symbol     string
	Side       domain.OrderSide
	Qty        decimal.Decimal
	Type       domain.OrderType
	RefPrice   decimal.NullDecimal
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	CurrentQty decimal.Decimal
}

// RiskManager enforces pre-trade limits. It is pure: it never reads or
// writes the ledger.
type RiskManager struct {
	limits Limits
}

// NewRiskManager creates a RiskManager with the given limits.
func NewRiskManager(limits Limits) *RiskManager {
	return &RiskManager{limits: limits}
}

// Limits returns the active limits.
func (rm *RiskManager) Limits() Limits { return rm.limits }

// ReferencePrice selects the price a proposed order is checked at: the
// caller or oracle price for market orders, the limit price for limits and
// the stop price for stops.
func ReferencePrice(t domain.OrderType, ref, limit, stop decimal.NullDecimal) decimal.NullDecimal {
	if t == domain.OrderTypeMarket {
		return ref
	}
	return domain.TriggerPrice(t, limit, stop)
}

// Check runs the rules in order and stops at the first failure. On success
// it returns the reference price that was checked; on failure the error is
// a *domain.RiskRejection.
func (rm *RiskManager) Check(in RiskInput) (decimal.Decimal, error) {
	resulting := in.CurrentQty.Add(in.Qty.Mul(in.Side.Sign()))

	if err := rm.checkQty(resulting); err != nil {
		return decimal.Zero, err
	}

	ref := ReferencePrice(in.Type, in.RefPrice, in.LimitPrice, in.StopPrice)
	if !ref.Valid {
		return decimal.Zero, missingPrice(in.Type, in.Symbol)
	}
	price := ref.Decimal

	if orderValue := in.Qty.Mul(price); orderValue.GreaterThan(rm.limits.MaxOrderValue) {
		return decimal.Zero, &domain.RiskRejection{
			Rule:         domain.RuleMaxOrderValue,
			Message:      fmt.Sprintf("order value %s exceeds %s", orderValue, rm.limits.MaxOrderValue),
			CheckedPrice: ref,
		}
	}
	if posValue := resulting.Abs().Mul(price); posValue.GreaterThan(rm.limits.MaxPositionValue) {
		return decimal.Zero, &domain.RiskRejection{
			Rule:         domain.RuleMaxPositionValue,
			Message:      fmt.Sprintf("position value %s exceeds %s", posValue, rm.limits.MaxPositionValue),
			CheckedPrice: ref,
		}
	}
	return price, nil
}

// CheckFill re-applies the quantity rules at fill time, when the position
// may have changed since the order was accepted.
func (rm *RiskManager) CheckFill(side domain.OrderSide, qty, currentQty decimal.Decimal) error {
	return rm.checkQty(currentQty.Add(qty.Mul(side.Sign())))
}

func (rm *RiskManager) checkQty(resulting decimal.Decimal) error {
	if !rm.limits.AllowShort && resulting.IsNegative() {
		return &domain.RiskRejection{
			Rule:    domain.RuleAllowShort,
			Message: fmt.Sprintf("resulting position %s would be short", resulting),
		}
	}
	if resulting.Abs().GreaterThan(rm.limits.MaxSymbolQty) {
		return &domain.RiskRejection{
			Rule:    domain.RuleMaxSymbolQty,
			Message: fmt.Sprintf("resulting position %s exceeds %s", resulting, rm.limits.MaxSymbolQty),
		}
	}
	return nil
}

func missingPrice(t domain.OrderType, symbol string) *domain.RiskRejection {
	switch t {
	case domain.OrderTypeLimit:
		return &domain.RiskRejection{Rule: domain.RuleLimitPriceMissing, Message: "limit order without limit_price"}
	case domain.OrderTypeStop:
		return &domain.RiskRejection{Rule: domain.RuleStopPriceMissing, Message: "stop order without stop_price"}
	default:
		return &domain.RiskRejection{Rule: domain.RulePriceMissing, Message: "no price available for " + symbol}
	}
}
