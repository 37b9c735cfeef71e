package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Position is a snapshot of one account's exposure on a symbol. Positions are
// built from exchange responses only; the engine never mutates them directly.
type Position struct {
	Account          string
	Symbol           string
	Side             Side
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	Leverage         int
	Margin           decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	LiquidationPrice decimal.Decimal
	UpdatedAt        time.Time
}

// NewPosition constructs a position snapshot from exchange data.
func NewPosition(account, symbol string, side Side, quantity, entryPrice decimal.Decimal) (*Position, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("position quantity must be greater than zero")
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}

	return &Position{
		Account:    account,
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		UpdatedAt:  time.Now(),
	}, nil
}

// Notional returns the dollar-equivalent exposure at the given price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Quantity.Abs().Mul(price)
}

// SignedNotional returns notional with the position's sign applied.
func (p *Position) SignedNotional(price decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Notional(price).Mul(decimal.NewFromInt(p.Side.Sign()))
}

// PnL calculates profit and loss at the given market price.
// Long: (current - entry) * quantity. Short: (entry - current) * quantity.
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil || p.Side == SideFlat {
		return decimal.Zero
	}
	diff := currentPrice.Sub(p.EntryPrice)
	return diff.Mul(p.Quantity).Mul(decimal.NewFromInt(p.Side.Sign()))
}

// MarginRatio returns margin held over position notional. Lower values mean
// higher leverage risk. Returns zero for an empty position.
func (p *Position) MarginRatio(price decimal.Decimal) decimal.Decimal {
	notional := p.Notional(price)
	if notional.IsZero() {
		return decimal.Zero
	}
	return p.Margin.Div(notional)
}

// IsOpen reports whether the position holds any quantity.
func (p *Position) IsOpen() bool {
	return p != nil && p.Side != SideFlat && p.Quantity.IsPositive()
}
