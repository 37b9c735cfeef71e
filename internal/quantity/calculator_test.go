package quantity

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onehope/asterhedge/internal/gateway"
)

type fakeSource struct {
	price    decimal.Decimal
	priceErr error
	rule     gateway.SymbolRule
}

func (f *fakeSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, f.priceErr
}

func (f *fakeSource) SymbolRule(ctx context.Context, symbol string) (gateway.SymbolRule, error) {
	return f.rule, nil
}

func newSource(price string, step string) *fakeSource {
	return &fakeSource{
		price: decimal.RequireFromString(price),
		rule: gateway.SymbolRule{
			StepSize:    decimal.RequireFromString(step),
			MinNotional: decimal.NewFromInt(5),
			MaxLeverage: 100,
		},
	}
}

func TestCalculate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		price    string
		step     string
		amount   string
		leverage int
		want     string
	}{
		{"whole lot", "50000", "0.001", "100", 10, "0.02"},
		{"rounds down", "3000", "0.001", "100", 10, "0.333"},
		{"coarse step", "3000", "0.1", "100", 10, "0.3"},
		{"leverage one", "100", "0.01", "50", 1, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(newSource(tt.price, tt.step))
			got, err := calc.Calculate(ctx, "BTCUSDT", decimal.RequireFromString(tt.amount), tt.leverage)
			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestCalculateNotionalNeverExceedsRequest(t *testing.T) {
	ctx := context.Background()
	amounts := []string{"17", "100", "333.33", "999.99"}
	prices := []string{"61234.5", "2999.97", "0.4821"}

	for _, amt := range amounts {
		for _, price := range prices {
			calc := NewCalculator(newSource(price, "0.001"))
			amount := decimal.RequireFromString(amt)
			qty, err := calc.Calculate(ctx, "ETHUSDT", amount, 10)
			if err != nil {
				continue
			}
			maxNotional := amount.Mul(decimal.NewFromInt(10))
			notional := qty.Mul(decimal.RequireFromString(price))
			require.True(t, notional.LessThanOrEqual(maxNotional),
				"notional %s exceeds requested %s (amount %s price %s)", notional, maxNotional, amt, price)
		}
	}
}

func TestCalculateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("price unavailable", func(t *testing.T) {
		src := newSource("50000", "0.001")
		src.priceErr = errors.New("connection refused")
		calc := NewCalculator(src)
		_, err := calc.Calculate(ctx, "BTCUSDT", decimal.NewFromInt(100), 10)
		require.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("amount too small rounds to zero", func(t *testing.T) {
		calc := NewCalculator(newSource("50000", "0.001"))
		_, err := calc.Calculate(ctx, "BTCUSDT", decimal.NewFromInt(1), 1)
		require.ErrorIs(t, err, ErrAmountTooSmall)
	})

	t.Run("below min notional", func(t *testing.T) {
		calc := NewCalculator(newSource("1000", "0.001"))
		_, err := calc.Calculate(ctx, "BTCUSDT", decimal.NewFromInt(3), 1)
		require.ErrorIs(t, err, ErrBelowMinNotional)
	})

	t.Run("leverage out of range", func(t *testing.T) {
		calc := NewCalculator(newSource("50000", "0.001"))
		_, err := calc.Calculate(ctx, "BTCUSDT", decimal.NewFromInt(100), 500)
		require.ErrorIs(t, err, ErrLeverageOutOfRange)

		_, err = calc.Calculate(ctx, "BTCUSDT", decimal.NewFromInt(100), 0)
		require.ErrorIs(t, err, ErrLeverageOutOfRange)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		calc := NewCalculator(newSource("50000", "0.001"))
		_, err := calc.Calculate(ctx, "BTCUSDT", decimal.Zero, 10)
		require.Error(t, err)
	})
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		qty, step, want string
	}{
		{"0.1333", "0.001", "0.133"},
		{"0.1339", "0.001", "0.133"},
		{"5.55", "0.5", "5.5"},
		{"0.0009", "0.001", "0"},
		{"7", "0", "7"},
	}
	for _, tt := range tests {
		got := RoundToStep(decimal.RequireFromString(tt.qty), decimal.RequireFromString(tt.step))
		require.True(t, decimal.RequireFromString(tt.want).Equal(got), "RoundToStep(%s, %s) = %s, want %s", tt.qty, tt.step, got, tt.want)
	}
}
