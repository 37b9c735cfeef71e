// Package gateway abstracts per-account exchange access: prices, balances,
// positions, leverage and order placement.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/onehope/asterhedge/internal/domain"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Order is a request to place a single order on one account.
type Order struct {
	Symbol        string
	Side          domain.OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// Fill is the confirmation the exchange returned for a placed order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     domain.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Time     time.Time
}

// SymbolRule carries the exchange-declared constraints for a symbol.
type SymbolRule struct {
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
	MaxLeverage int
}

// Gateway is one account's view of an exchange. Implementations must
// distinguish retryable transport failures from order rejections via Error.
type Gateway interface {
	Name() string
	Balance(ctx context.Context) (decimal.Decimal, error)
	Position(ctx context.Context, symbol string) (*domain.Position, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, order Order) (*Fill, error)
	SymbolRule(ctx context.Context, symbol string) (SymbolRule, error)
}

// Error wraps a gateway failure with retryability information. Network and
// timeout failures are retryable; rejected orders and margin errors are not.
type Error struct {
	Account   string
	Op        string
	Code      int64
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway %s: %s failed (code %d): %v", e.Account, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s failed: %v", e.Account, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is a transient gateway failure worth
// retrying within a bounded budget. Unknown errors are treated as retryable
// transport problems.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return true
}

// retryableErr and rejectedErr are the adapters' shorthands for wrapping.
func retryableErr(account, op string, err error) *Error {
	return &Error{Account: account, Op: op, Retryable: true, Err: err}
}

func rejectedErr(account, op string, code int64, err error) *Error {
	return &Error{Account: account, Op: op, Code: code, Retryable: false, Err: err}
}
