package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPriceUnavailable means no price could be obtained for a market order.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrOrderNotFound means no order has the requested id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOpen means the order is in a terminal status.
	ErrNotOpen = errors.New("order not open")
	// ErrResetDisabled means an administrative reset was attempted without
	// debug mode.
	ErrResetDisabled = errors.New("reset requires debug mode")
)

// ValidationError reports a malformed order request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Risk rule codes.
const (
	RuleAllowShort        = "allow_short"
	RuleMaxSymbolQty      = "max_symbol_qty"
	RulePriceMissing      = "price_missing"
	RuleLimitPriceMissing = "limit_price_missing"
	RuleStopPriceMissing  = "stop_price_missing"
	RuleMaxOrderValue     = "max_order_value"
	RuleMaxPositionValue  = "max_position_value"
)

// RiskRejection reports an order refused by the risk policy.
type RiskRejection struct {
	Rule         string
	Message      string
	CheckedPrice decimal.NullDecimal
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", e.Rule, e.Message)
}

// Unwrap lets a price_missing rejection match ErrPriceUnavailable.
func (e *RiskRejection) Unwrap() error {
	if e.Rule == RulePriceMissing {
		return ErrPriceUnavailable
	}
	return nil
}

// PersistenceError wraps a storage failure. The operation it interrupted has
// been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotOpenError carries the status that prevented a transition.
type NotOpenError struct {
	OrderID int64
	Status  OrderStatus
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("order %d is %s", e.OrderID, e.Status)
}

func (e *NotOpenError) Unwrap() error { return ErrNotOpen }
