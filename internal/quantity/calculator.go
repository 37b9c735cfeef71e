// Package quantity converts notional amounts into exchange-valid order sizes.
package quantity

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/onehope/asterhedge/internal/gateway"
)

var (
	// ErrPriceUnavailable means the venue returned no usable price.
	ErrPriceUnavailable = errors.New("current price unavailable")
	// ErrAmountTooSmall means rounding to the lot step produced zero quantity.
	ErrAmountTooSmall = errors.New("amount too small for symbol precision")
	// ErrLeverageOutOfRange means the requested leverage exceeds the symbol's bounds.
	ErrLeverageOutOfRange = errors.New("leverage outside exchange bounds")
	// ErrBelowMinNotional means the rounded order is under the venue's notional floor.
	ErrBelowMinNotional = errors.New("order notional below exchange minimum")
)

// PriceSource is the gateway subset the calculator needs.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	SymbolRule(ctx context.Context, symbol string) (gateway.SymbolRule, error)
}

// Calculator sizes orders against one account's prices and symbol rules.
type Calculator struct {
	source PriceSource
}

// NewCalculator returns a calculator bound to the given price source.
func NewCalculator(source PriceSource) *Calculator {
	return &Calculator{source: source}
}

// Calculate converts a USDT amount plus leverage into an order quantity,
// rounded DOWN to the symbol's step size so the order never demands more
// margin than requested.
func (c *Calculator) Calculate(ctx context.Context, symbol string, usdtAmount decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if usdtAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Errorf("usdt amount must be positive, got %s", usdtAmount.String())
	}
	if leverage < 1 {
		return decimal.Zero, errors.Wrapf(ErrLeverageOutOfRange, "leverage %d", leverage)
	}

	rule, err := c.source.SymbolRule(ctx, symbol)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get symbol rule for %s", symbol)
	}
	if rule.MaxLeverage > 0 && leverage > rule.MaxLeverage {
		return decimal.Zero, errors.Wrapf(ErrLeverageOutOfRange, "leverage %d exceeds max %d", leverage, rule.MaxLeverage)
	}

	price, err := c.source.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrPriceUnavailable, "%s: %v", symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Wrapf(ErrPriceUnavailable, "%s: non-positive price %s", symbol, price.String())
	}

	raw := usdtAmount.Mul(decimal.NewFromInt(int64(leverage))).Div(price)
	qty := RoundToStep(raw, rule.StepSize)
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Wrapf(ErrAmountTooSmall, "%s at %s with step %s", usdtAmount.String(), price.String(), rule.StepSize.String())
	}

	if rule.MinNotional.IsPositive() && qty.Mul(price).LessThan(rule.MinNotional) {
		return decimal.Zero, errors.Wrapf(ErrBelowMinNotional, "notional %s < %s", qty.Mul(price).String(), rule.MinNotional.String())
	}

	return qty, nil
}

// RoundToStep rounds the quantity down to a multiple of step. A zero step
// leaves the quantity untouched.
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}
