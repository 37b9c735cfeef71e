package risk

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AlertThresholds are the levels at which the evaluator starts emitting
// warnings, before hard limits are hit.
type AlertThresholds struct {
	DrawdownPercent decimal.Decimal
	MarginRatio     decimal.Decimal
	DailyLoss       decimal.Decimal
}

// Config is the read-only risk configuration supplied by the caller. It may
// be swapped between evaluation cycles but never mid-transition.
type Config struct {
	MaxPositionSize    decimal.Decimal // max position notional, USDT
	MaxDrawdownPercent decimal.Decimal
	StopLossPercent    decimal.Decimal
	TakeProfitPercent  decimal.Decimal
	MaxDailyLoss       decimal.Decimal
	MaxLeverage        int
	MinMarginRatio     decimal.Decimal
	Alert              AlertThresholds
}

// DefaultConfig returns the stock risk parameters.
func DefaultConfig() Config {
	return Config{
		MaxPositionSize:    decimal.NewFromInt(1000),
		MaxDrawdownPercent: decimal.NewFromInt(10),
		StopLossPercent:    decimal.NewFromInt(5),
		TakeProfitPercent:  decimal.NewFromInt(10),
		MaxDailyLoss:       decimal.NewFromInt(500),
		MaxLeverage:        100,
		MinMarginRatio:     decimal.RequireFromString("0.1"),
		Alert: AlertThresholds{
			DrawdownPercent: decimal.NewFromInt(5),
			MarginRatio:     decimal.RequireFromString("0.15"),
			DailyLoss:       decimal.NewFromInt(300),
		},
	}
}

// Validate checks the configuration for obviously broken values.
func (c Config) Validate() error {
	if c.StopLossPercent.LessThanOrEqual(decimal.Zero) {
		return errors.New("stop loss percent must be positive")
	}
	if c.TakeProfitPercent.LessThanOrEqual(decimal.Zero) {
		return errors.New("take profit percent must be positive")
	}
	if c.MaxLeverage < 1 {
		return errors.New("max leverage must be at least 1")
	}
	if c.MinMarginRatio.IsNegative() {
		return errors.New("min margin ratio must not be negative")
	}
	return nil
}
