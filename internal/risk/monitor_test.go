package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/gateway"
)

func openLongPosition(t *testing.T, acc *gateway.SimulateGateway, symbol string, qty, price decimal.Decimal) {
	t.Helper()
	acc.SetPrice(symbol, price)
	_, err := acc.PlaceOrder(context.Background(), gateway.Order{
		Symbol:   symbol,
		Side:     domain.OrderSideBuy,
		Type:     gateway.OrderTypeMarket,
		Quantity: qty,
	})
	require.NoError(t, err)
}

func TestMonitorEmitsStopLossTrigger(t *testing.T) {
	e := newTestEvaluator(t) // 5% stop

	acc := gateway.NewSimulateGateway("binance", decimal.NewFromInt(1000), nil)
	openLongPosition(t, acc, "BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(100))

	m := NewMonitor(e, []gateway.Gateway{acc}, []string{"BTCUSDT"}, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// price collapses through the stop distance
	acc.SetPrice("BTCUSDT", decimal.NewFromInt(94))

	select {
	case trig := <-m.Triggers():
		require.Equal(t, TriggerStopLoss, trig.Reason)
		require.Equal(t, "BTCUSDT", trig.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a stop loss trigger")
	}
}

func TestMonitorEmitsTakeProfitTrigger(t *testing.T) {
	e := newTestEvaluator(t) // 10% take-profit

	acc := gateway.NewSimulateGateway("binance", decimal.NewFromInt(1000), nil)
	openLongPosition(t, acc, "BTCUSDT", decimal.NewFromInt(1), decimal.NewFromInt(100))

	m := NewMonitor(e, []gateway.Gateway{acc}, []string{"BTCUSDT"}, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	acc.SetPrice("BTCUSDT", decimal.NewFromInt(111))

	select {
	case trig := <-m.Triggers():
		require.Equal(t, TriggerTakeProfit, trig.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a take profit trigger")
	}
}

func TestMonitorFlatBookStaysQuiet(t *testing.T) {
	e := newTestEvaluator(t)
	acc := gateway.NewSimulateGateway("binance", decimal.NewFromInt(1000), nil)
	acc.SetPrice("BTCUSDT", decimal.NewFromInt(100))

	m := NewMonitor(e, []gateway.Gateway{acc}, []string{"BTCUSDT"}, nil, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = m.Run(ctx)

	select {
	case trig := <-m.Triggers():
		t.Fatalf("unexpected trigger %+v", trig)
	default:
	}
}
