package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TradeRecord is an immutable fact about one confirmed fill. The only allowed
// mutation after insertion is attaching realized pnl when the hedge closes.
type TradeRecord struct {
	TradeID     string
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Timestamp   time.Time
	Account     string
	FundingRate decimal.Decimal
	RealizedPnL decimal.NullDecimal
	Notional    decimal.Decimal
}

// NewTradeRecord builds a record for a confirmed fill. Notional is derived
// from quantity and price at construction time.
func NewTradeRecord(tradeID, symbol string, side OrderSide, quantity, price decimal.Decimal, ts time.Time, account string, fundingRate decimal.Decimal) (*TradeRecord, error) {
	if tradeID == "" {
		return nil, errors.New("trade id is required")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("trade quantity must be greater than zero")
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("trade price must be greater than zero")
	}

	return &TradeRecord{
		TradeID:     tradeID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		Timestamp:   ts,
		Account:     account,
		FundingRate: fundingRate,
		Notional:    quantity.Mul(price),
	}, nil
}

// String returns a human-readable string representation.
func (t *TradeRecord) String() string {
	return fmt.Sprintf("%s %s %s %s @ %s (%s)", t.Account, t.Side, t.Quantity.String(), t.Symbol, t.Price.String(), t.TradeID)
}
