package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onehope/asterhedge/internal/domain"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultConfig(), nil)
	require.NoError(t, err)
	return e
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCheckStopLoss(t *testing.T) {
	e := newTestEvaluator(t) // 5% stop

	testCases := []struct {
		name    string
		entry   string
		current string
		side    domain.Side
		want    bool
	}{
		{"long breached", "100", "94", domain.SideLong, true},
		{"long exact", "100", "95", domain.SideLong, true},
		{"long not breached", "100", "96", domain.SideLong, false},
		{"short breached", "100", "106", domain.SideShort, true},
		{"short exact", "100", "105", domain.SideShort, true},
		{"short not breached", "100", "104", domain.SideShort, false},
		{"flat never triggers", "100", "50", domain.SideFlat, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.CheckStopLoss(d(tc.entry), d(tc.current), tc.side)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCheckTakeProfit(t *testing.T) {
	e := newTestEvaluator(t) // 10% take-profit

	testCases := []struct {
		name    string
		entry   string
		current string
		side    domain.Side
		want    bool
	}{
		{"long reached", "100", "110", domain.SideLong, true},
		{"long not reached", "100", "109", domain.SideLong, false},
		{"short reached", "100", "90", domain.SideShort, true},
		{"short not reached", "100", "91", domain.SideShort, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.CheckTakeProfit(d(tc.entry), d(tc.current), tc.side)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPositionSize(t *testing.T) {
	e := newTestEvaluator(t)

	t.Run("risk distance sizing", func(t *testing.T) {
		// 2% of 1000 = 20 at risk, entry-to-stop distance 5 -> 4 units
		size, err := e.PositionSize(d("1000"), d("0.02"), d("100"), d("95"))
		require.NoError(t, err)
		require.True(t, size.Equal(d("4")), "got %s", size.String())

		// 20 at risk over a 150 distance
		size, err = e.PositionSize(d("1000"), d("0.02"), d("3000"), d("2850"))
		require.NoError(t, err)
		require.True(t, size.Round(4).Equal(d("0.1333")), "got %s", size.String())
	})

	t.Run("capped by 80% of balance", func(t *testing.T) {
		// tight stop would size 200 units (20000 notional); cap is
		// min(MaxPositionSize=1000, 0.8*1000=800) -> 8 units
		size, err := e.PositionSize(d("1000"), d("0.02"), d("100"), d("99.9"))
		require.NoError(t, err)
		require.True(t, size.Equal(d("8")), "got %s", size.String())
	})

	t.Run("invalid inputs", func(t *testing.T) {
		_, err := e.PositionSize(d("1000"), d("0"), d("100"), d("95"))
		require.ErrorIs(t, err, ErrInvalidInput)

		_, err = e.PositionSize(d("1000"), d("1.5"), d("100"), d("95"))
		require.ErrorIs(t, err, ErrInvalidInput)

		_, err = e.PositionSize(d("1000"), d("0.02"), d("100"), d("100"))
		require.ErrorIs(t, err, ErrInvalidInput)

		_, err = e.PositionSize(d("0"), d("0.02"), d("100"), d("95"))
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestEvaluatePositionMonotonic(t *testing.T) {
	e := newTestEvaluator(t)
	balance := d("1000")

	makePos := func(unrealized, margin string) *domain.Position {
		return &domain.Position{
			Account:       "binance",
			Symbol:        "BTCUSDT",
			Side:          domain.SideLong,
			Quantity:      d("0.1"),
			EntryPrice:    d("50000"),
			MarkPrice:     d("50000"),
			Leverage:      10,
			Margin:        d(margin),
			UnrealizedPnL: d(unrealized),
		}
	}

	// worsening loss never yields a better classification
	prev := domain.RiskLevelLow
	prevScore := decimal.Zero
	for _, loss := range []string{"0", "-50", "-100", "-200", "-400"} {
		risk := e.EvaluatePosition(makePos(loss, "500"), balance)
		require.GreaterOrEqual(t, risk.Level, prev, "loss %s", loss)
		require.True(t, risk.Score.GreaterThanOrEqual(prevScore), "loss %s", loss)
		prev = risk.Level
		prevScore = risk.Score
	}

	// thinner margin never yields a better classification
	prev = domain.RiskLevelLow
	for _, margin := range []string{"2000", "1000", "500"} {
		risk := e.EvaluatePosition(makePos("0", margin), balance)
		require.GreaterOrEqual(t, risk.Level, prev, "margin %s", margin)
		prev = risk.Level
	}
}

func TestEvaluatePositionNearLiquidation(t *testing.T) {
	e := newTestEvaluator(t)

	pos := &domain.Position{
		Account:          "bybit",
		Symbol:           "ETHUSDT",
		Side:             domain.SideLong,
		Quantity:         d("1"),
		EntryPrice:       d("3000"),
		MarkPrice:        d("2900"),
		Leverage:         20,
		Margin:           d("150"),
		UnrealizedPnL:    d("-100"),
		LiquidationPrice: d("2850"), // under 5% away
	}

	risk := e.EvaluatePosition(pos, d("1000"))
	require.GreaterOrEqual(t, risk.Level, domain.RiskLevelHigh)
}

func TestPortfolioRiskEmpty(t *testing.T) {
	e := newTestEvaluator(t)

	out := e.PortfolioRisk(nil, map[string]decimal.Decimal{"binance": d("1000")})
	require.True(t, out.TotalExposure.IsZero())
	require.True(t, out.TotalBalance.Equal(d("1000")))
	require.True(t, out.MaxConcentration.IsZero())
	require.True(t, out.ValueAtRisk.IsZero())
	require.Equal(t, domain.RiskLevelLow, out.Level)
}

func TestPortfolioRiskAggregation(t *testing.T) {
	e := newTestEvaluator(t)

	positions := []*domain.Position{
		{
			Account:       "binance",
			Symbol:        "BTCUSDT",
			Side:          domain.SideShort,
			Quantity:      d("0.01"),
			EntryPrice:    d("50000"),
			MarkPrice:     d("50000"),
			Margin:        d("50"),
			UnrealizedPnL: d("10"),
		},
		{
			Account:       "bybit",
			Symbol:        "BTCUSDT",
			Side:          domain.SideLong,
			Quantity:      d("0.01"),
			EntryPrice:    d("50000"),
			MarkPrice:     d("50000"),
			Margin:        d("50"),
			UnrealizedPnL: d("-10"),
		},
	}
	balances := map[string]decimal.Decimal{"binance": d("500"), "bybit": d("500")}

	out := e.PortfolioRisk(positions, balances)
	require.True(t, out.TotalExposure.Equal(d("1000")), "got %s", out.TotalExposure.String())
	require.True(t, out.UnrealizedPnL.IsZero())
	require.True(t, out.Equity.Equal(d("1000")))
	// both legs are equal-sized, so concentration is half the book
	require.True(t, out.MaxConcentration.Equal(d("0.5")), "got %s", out.MaxConcentration.String())
}

func TestEmitHandlerPanicIsolated(t *testing.T) {
	e := newTestEvaluator(t)

	var received []domain.RiskAlert
	e.RegisterHandler(AlertFunc(func(domain.RiskAlert) { panic("boom") }))
	e.RegisterHandler(AlertFunc(func(a domain.RiskAlert) { received = append(received, a) }))

	e.Emit(domain.NewRiskAlert("test", "handler isolation", domain.SeverityInfo))
	require.Len(t, received, 1)
	require.Equal(t, "test", received[0].Type)
}

func TestCheckDailyLossLimit(t *testing.T) {
	e := newTestEvaluator(t) // limit 500, warning at 300

	var alerts []domain.RiskAlert
	e.RegisterHandler(AlertFunc(func(a domain.RiskAlert) { alerts = append(alerts, a) }))

	require.False(t, e.CheckDailyLossLimit(d("-100")))
	require.Empty(t, alerts)

	require.False(t, e.CheckDailyLossLimit(d("-350")))
	require.Len(t, alerts, 1)
	require.Equal(t, domain.SeverityWarning, alerts[0].Severity)

	require.True(t, e.CheckDailyLossLimit(d("-600")))
	require.Len(t, alerts, 2)
	require.Equal(t, domain.SeverityCritical, alerts[1].Severity)
}

func TestReloadRejectsInvalidConfig(t *testing.T) {
	e := newTestEvaluator(t)

	bad := DefaultConfig()
	bad.StopLossPercent = d("-1")
	require.Error(t, e.Reload(bad))

	good := DefaultConfig()
	good.StopLossPercent = d("2")
	require.NoError(t, e.Reload(good))
	require.True(t, e.CheckStopLoss(d("100"), d("98"), domain.SideLong))
}
