package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
)

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func TestRiskManagerCheck(t *testing.T) {
	limits := Limits{
		MaxOrderValue:    d("1000"),
		MaxSymbolQty:     d("100"),
		MaxPositionValue: d("2000"),
	}

	tests := []struct {
		name      string
		limits    Limits
		in        RiskInput
		wantRule  string
		wantPrice string
	}{
		{
			name:      "market accepted at reference price",
			in:        RiskInput{Side: domain.OrderSideBuy, Qty: d("10"), Type: domain.OrderTypeMarket, RefPrice: nd("50")},
			wantPrice: "50",
		},
		{
			name:     "short disabled",
			in:       RiskInput{Side: domain.OrderSideSell, Qty: d("5"), Type: domain.OrderTypeMarket, RefPrice: nd("10"), CurrentQty: d("3")},
			wantRule: domain.RuleAllowShort,
		},
		{
			name:      "closing sell allowed",
			in:        RiskInput{Side: domain.OrderSideSell, Qty: d("3"), Type: domain.OrderTypeMarket, RefPrice: nd("10"), CurrentQty: d("3")},
			wantPrice: "10",
		},
		{
			name:     "symbol qty before price",
			in:       RiskInput{Side: domain.OrderSideBuy, Qty: d("101"), Type: domain.OrderTypeMarket},
			wantRule: domain.RuleMaxSymbolQty,
		},
		{
			name: "short symbol qty uses absolute value",
			limits: Limits{
				AllowShort: true, MaxOrderValue: d("1e12"), MaxSymbolQty: d("100"), MaxPositionValue: d("1e12"),
			},
			in:       RiskInput{Side: domain.OrderSideSell, Qty: d("150"), Type: domain.OrderTypeMarket, RefPrice: nd("1")},
			wantRule: domain.RuleMaxSymbolQty,
		},
		{
			name:     "market price missing",
			in:       RiskInput{Side: domain.OrderSideBuy, Qty: d("1"), Type: domain.OrderTypeMarket},
			wantRule: domain.RulePriceMissing,
		},
		{
			name:     "limit price missing",
			in:       RiskInput{Side: domain.OrderSideBuy, Qty: d("1"), Type: domain.OrderTypeLimit, RefPrice: nd("10")},
			wantRule: domain.RuleLimitPriceMissing,
		},
		{
			name:     "stop price missing",
			in:       RiskInput{Side: domain.OrderSideSell, Qty: d("1"), Type: domain.OrderTypeStop, CurrentQty: d("1")},
			wantRule: domain.RuleStopPriceMissing,
		},
		{
			name:     "order value",
			in:       RiskInput{Side: domain.OrderSideBuy, Qty: d("21"), Type: domain.OrderTypeMarket, RefPrice: nd("50")},
			wantRule: domain.RuleMaxOrderValue,
		},
		{
			name:      "order value at limit is accepted",
			in:        RiskInput{Side: domain.OrderSideBuy, Qty: d("20"), Type: domain.OrderTypeMarket, RefPrice: nd("50")},
			wantPrice: "50",
		},
		{
			name:     "position value counts existing quantity",
			in:       RiskInput{Side: domain.OrderSideBuy, Qty: d("10"), Type: domain.OrderTypeMarket, RefPrice: nd("50"), CurrentQty: d("35")},
			wantRule: domain.RuleMaxPositionValue,
		},
		{
			name:      "limit checked at limit price",
			in:        RiskInput{Side: domain.OrderSideBuy, Qty: d("10"), Type: domain.OrderTypeLimit, RefPrice: nd("500"), LimitPrice: nd("40")},
			wantPrice: "40",
		},
		{
			name:      "stop checked at stop price",
			in:        RiskInput{Side: domain.OrderSideBuy, Qty: d("10"), Type: domain.OrderTypeStop, StopPrice: nd("90")},
			wantPrice: "90",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := limits
			if !tt.limits.MaxOrderValue.IsZero() {
				l = tt.limits
			}
			price, err := NewRiskManager(l).Check(tt.in)
			if tt.wantRule == "" {
				require.NoError(t, err)
				assertDec(t, tt.wantPrice, price)
				return
			}
			var rej *domain.RiskRejection
			require.True(t, errors.As(err, &rej), "want RiskRejection, got %v", err)
			assert.Equal(t, tt.wantRule, rej.Rule)
		})
	}
}

func TestRiskRejectionCarriesCheckedPrice(t *testing.T) {
	rm := NewRiskManager(Limits{MaxOrderValue: d("1000"), MaxSymbolQty: d("1e12"), MaxPositionValue: d("1e12")})
	_, err := rm.Check(RiskInput{Side: domain.OrderSideBuy, Qty: d("100"), Type: domain.OrderTypeMarket, RefPrice: nd("50")})

	var rej *domain.RiskRejection
	require.ErrorAs(t, err, &rej)
	require.True(t, rej.CheckedPrice.Valid)
	assertDec(t, "50", rej.CheckedPrice.Decimal)
}

func TestRiskManagerCheckFill(t *testing.T) {
	rm := NewRiskManager(DefaultLimits())
	assert.NoError(t, rm.CheckFill(domain.OrderSideSell, d("5"), d("5")))

	var rej *domain.RiskRejection
	require.ErrorAs(t, rm.CheckFill(domain.OrderSideSell, d("6"), d("5")), &rej)
	assert.Equal(t, domain.RuleAllowShort, rej.Rule)
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	assert.False(t, l.AllowShort)
	assertDec(t, "1000000000000", l.MaxOrderValue)
	assertDec(t, "1000000000000", l.MaxSymbolQty)
	assertDec(t, "1000000000000", l.MaxPositionValue)
}

func TestReferencePrice(t *testing.T) {
	none := decimal.NullDecimal{}
	ref, limit, stop := nd("50"), nd("40"), nd("60")

	assert.Equal(t, ref, ReferencePrice(domain.OrderTypeMarket, ref, limit, stop))
	assert.Equal(t, limit, ReferencePrice(domain.OrderTypeLimit, ref, limit, stop))
	assert.Equal(t, stop, ReferencePrice(domain.OrderTypeStop, ref, limit, stop))
	assert.False(t, ReferencePrice(domain.OrderTypeMarket, none, limit, stop).Valid)
	assert.False(t, ReferencePrice(domain.OrderTypeLimit, ref, none, stop).Valid,
		"a limit order is never checked at the market price")
}
