package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetFullConfig(t *testing.T) {
	path := writeConfig(t, `
symbol: ETHUSDT
usdt_amount: "250"
leverage: 10
wait_time: 5m
max_trades: 20
simulate: true
metrics_addr: ":9090"
db_path: /tmp/test-ledger.db
rebalance_tolerance: "0.05"
risk:
  max_position_size: "2000"
  stop_loss_percent: "3"
  take_profit_percent: "8"
  max_daily_loss: "400"
`)

	cfg, err := Get(path)
	require.NoError(t, err)

	require.Equal(t, "ETHUSDT", cfg.Symbol)
	require.True(t, cfg.UsdtAmount.Equal(decimal.NewFromInt(250)))
	require.Equal(t, 10, cfg.Leverage)
	require.Equal(t, 5*time.Minute, cfg.WaitTime)
	require.Equal(t, 20, cfg.MaxTrades)
	require.True(t, cfg.Simulate)
	require.True(t, cfg.CloseOnShutdown, "close_on_shutdown defaults on")
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, "/tmp/test-ledger.db", cfg.DBPath)
	require.True(t, cfg.RebalanceTolerance.Equal(decimal.RequireFromString("0.05")))

	require.True(t, cfg.Risk.MaxPositionSize.Equal(decimal.NewFromInt(2000)))
	require.True(t, cfg.Risk.StopLossPercent.Equal(decimal.NewFromInt(3)))
	require.True(t, cfg.Risk.TakeProfitPercent.Equal(decimal.NewFromInt(8)))
	require.True(t, cfg.Risk.MaxDailyLoss.Equal(decimal.NewFromInt(400)))
	// untouched fields keep their defaults
	require.True(t, cfg.Risk.MinMarginRatio.Equal(decimal.RequireFromString("0.1")))
}

func TestGetDefaults(t *testing.T) {
	path := writeConfig(t, `
symbol: BTCUSDT
usdt_amount: "100"
leverage: 5
wait_time: 1h
max_trades: 10
`)

	cfg, err := Get(path)
	require.NoError(t, err)
	require.Equal(t, "ledger.db", cfg.DBPath)
	require.Equal(t, "waldata", cfg.WalDir)
	require.Equal(t, 5*time.Second, cfg.MonitorInterval)
	require.Equal(t, time.Minute, cfg.FlushInterval)
	require.Equal(t, 90, cfg.RetentionDays)
	require.True(t, cfg.RebalanceTolerance.Equal(decimal.RequireFromString("0.01")))
}

func TestGetValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"missing symbol", "usdt_amount: \"100\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\n"},
		{"bad amount", "symbol: BTCUSDT\nusdt_amount: \"abc\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\n"},
		{"negative amount", "symbol: BTCUSDT\nusdt_amount: \"-5\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\n"},
		{"zero leverage", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 0\nwait_time: 1h\nmax_trades: 10\n"},
		{"zero wait", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 5\nmax_trades: 10\n"},
		{"zero trades", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 5\nwait_time: 1h\n"},
		{"bad rebalance tolerance", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\nrebalance_tolerance: \"2\"\n"},
		{"bad risk decimal", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\nrisk:\n  stop_loss_percent: \"oops\"\n"},
		{"invalid risk config", "symbol: BTCUSDT\nusdt_amount: \"100\"\nleverage: 5\nwait_time: 1h\nmax_trades: 10\nrisk:\n  stop_loss_percent: \"-2\"\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Get(writeConfig(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestGetMissingFile(t *testing.T) {
	_, err := Get(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
