// Package risk sizes positions, checks stop/take-profit triggers and grades
// position and portfolio risk against configured thresholds.
package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onehope/asterhedge/internal/domain"
)

// ErrInvalidInput marks malformed risk parameters.
var ErrInvalidInput = errors.New("invalid risk input")

const (
	// equityHistoryWindow bounds how far back drawdown and return series go.
	equityHistoryWindow = 30 * 24 * time.Hour
	percentMultiplier   = 100
)

var (
	hundred = decimal.NewFromInt(percentMultiplier)
	// balanceUsageCap prevents a single position from consuming the account:
	// sizing never allocates more than 80% of balance as notional.
	balanceUsageCap = decimal.RequireFromString("0.8")
)

// AlertHandler consumes risk alerts. Handlers must not assume they are called
// from any particular goroutine.
type AlertHandler interface {
	Handle(alert domain.RiskAlert)
}

// AlertFunc adapts a function to the AlertHandler interface.
type AlertFunc func(alert domain.RiskAlert)

// Handle calls f.
func (f AlertFunc) Handle(alert domain.RiskAlert) { f(alert) }

type equityPoint struct {
	ts     time.Time
	equity decimal.Decimal
	pnl    decimal.Decimal
}

// Evaluator computes position sizing, trigger predicates and portfolio risk.
// It is safe for concurrent use.
type Evaluator struct {
	logger *zap.Logger

	mu       sync.RWMutex
	cfg      Config
	handlers []AlertHandler
	history  []equityPoint
}

// NewEvaluator builds an evaluator with the given configuration.
func NewEvaluator(cfg Config, logger *zap.Logger) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid risk config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{cfg: cfg, logger: logger}, nil
}

// Reload swaps the configuration. Takes effect on the next evaluation cycle.
func (e *Evaluator) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid risk config")
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// RegisterHandler adds an alert sink. Handler failures are isolated: a panic
// in one handler is recovered and logged, and remaining handlers still run.
func (e *Evaluator) RegisterHandler(h AlertHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// Emit delivers an alert to every registered handler, fire-and-continue.
func (e *Evaluator) Emit(alert domain.RiskAlert) {
	e.mu.RLock()
	handlers := make([]AlertHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("alert handler panicked",
						zap.String("type", alert.Type),
						zap.Any("panic", r))
				}
			}()
			h.Handle(alert)
		}()
	}
}

func (e *Evaluator) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// PositionSize returns the position size (in base units) such that losing the
// full entry-to-stop distance costs about balance * riskPercent. The result
// is additionally capped by the configured max position notional and by 80%
// of the balance.
func (e *Evaluator) PositionSize(balance, riskPercent, entryPrice, stopLossPrice decimal.Decimal) (decimal.Decimal, error) {
	if riskPercent.LessThanOrEqual(decimal.Zero) || riskPercent.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Wrapf(ErrInvalidInput, "risk percent %s outside (0,1]", riskPercent.String())
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Wrap(ErrInvalidInput, "entry price must be positive")
	}
	if entryPrice.Equal(stopLossPrice) {
		return decimal.Zero, errors.Wrap(ErrInvalidInput, "entry equals stop loss, risk distance undefined")
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, errors.Wrap(ErrInvalidInput, "balance must be positive")
	}

	distance := entryPrice.Sub(stopLossPrice).Abs()
	size := balance.Mul(riskPercent).Div(distance)

	cfg := e.config()
	maxNotional := balance.Mul(balanceUsageCap)
	if cfg.MaxPositionSize.IsPositive() && cfg.MaxPositionSize.LessThan(maxNotional) {
		maxNotional = cfg.MaxPositionSize
	}
	if size.Mul(entryPrice).GreaterThan(maxNotional) {
		size = maxNotional.Div(entryPrice)
	}

	return size, nil
}

// CheckStopLoss reports whether the configured stop distance is breached.
// For LONG the stop triggers at entry*(1-stopPct); SHORT is mirrored.
func (e *Evaluator) CheckStopLoss(entryPrice, currentPrice decimal.Decimal, side domain.Side) bool {
	stopPct := e.config().StopLossPercent.Div(hundred)
	switch side {
	case domain.SideLong:
		return currentPrice.LessThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Sub(stopPct)))
	case domain.SideShort:
		return currentPrice.GreaterThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Add(stopPct)))
	default:
		return false
	}
}

// CheckTakeProfit reports whether the configured profit distance is reached.
func (e *Evaluator) CheckTakeProfit(entryPrice, currentPrice decimal.Decimal, side domain.Side) bool {
	profitPct := e.config().TakeProfitPercent.Div(hundred)
	switch side {
	case domain.SideLong:
		return currentPrice.GreaterThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Add(profitPct)))
	case domain.SideShort:
		return currentPrice.LessThanOrEqual(entryPrice.Mul(decimal.NewFromInt(1).Sub(profitPct)))
	default:
		return false
	}
}

// EvaluatePosition grades a single position. The score is monotonic in the
// margin ratio and in the unrealized-loss-to-balance ratio: a worse ratio
// never yields a better class.
func (e *Evaluator) EvaluatePosition(pos *domain.Position, balance decimal.Decimal) domain.PositionRisk {
	cfg := e.config()

	result := domain.PositionRisk{
		Symbol:           pos.Symbol,
		Account:          pos.Account,
		Quantity:         pos.Quantity,
		EntryPrice:       pos.EntryPrice,
		CurrentPrice:     pos.MarkPrice,
		UnrealizedPnL:    pos.UnrealizedPnL,
		LiquidationPrice: pos.LiquidationPrice,
	}

	price := pos.MarkPrice
	if price.IsZero() {
		price = pos.EntryPrice
	}
	result.MarginRatio = pos.MarginRatio(price)

	if balance.IsPositive() && pos.UnrealizedPnL.IsNegative() {
		result.LossRatio = pos.UnrealizedPnL.Neg().Div(balance)
	}

	score := decimal.Zero

	// unrealized loss, up to 30 points
	lossPoints := result.LossRatio.Mul(hundred).Mul(decimal.NewFromInt(3))
	if lossPoints.GreaterThan(decimal.NewFromInt(30)) {
		lossPoints = decimal.NewFromInt(30)
	}
	score = score.Add(lossPoints)

	// margin ratio against the configured floor, up to 40 points
	switch {
	case result.MarginRatio.LessThan(cfg.MinMarginRatio):
		score = score.Add(decimal.NewFromInt(40))
	case result.MarginRatio.LessThan(cfg.MinMarginRatio.Mul(decimal.NewFromInt(2))):
		score = score.Add(decimal.NewFromInt(20))
	}

	// distance to liquidation, up to 30 points
	if pos.LiquidationPrice.IsPositive() && price.IsPositive() {
		distance := price.Sub(pos.LiquidationPrice).Abs().Div(price)
		switch {
		case distance.LessThan(decimal.RequireFromString("0.05")):
			score = score.Add(decimal.NewFromInt(30))
		case distance.LessThan(decimal.RequireFromString("0.1")):
			score = score.Add(decimal.NewFromInt(15))
		}
	}

	if score.GreaterThan(hundred) {
		score = hundred
	}
	result.Score = score
	result.Level = levelFromScore(score)

	return result
}

func levelFromScore(score decimal.Decimal) domain.RiskLevel {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(70)):
		return domain.RiskLevelCritical
	case score.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return domain.RiskLevelHigh
	case score.GreaterThanOrEqual(decimal.NewFromInt(20)):
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// PortfolioRisk aggregates exposure, margin, concentration, drawdown and
// VaR-style metrics across all positions. An empty position list yields
// zero-valued metrics, never an error. Threshold breaches emit alerts.
func (e *Evaluator) PortfolioRisk(positions []*domain.Position, balances map[string]decimal.Decimal) domain.PortfolioRisk {
	cfg := e.config()

	var out domain.PortfolioRisk
	for _, balance := range balances {
		out.TotalBalance = out.TotalBalance.Add(balance)
	}

	weightedMargin := decimal.Zero
	for _, pos := range positions {
		if pos == nil || !pos.IsOpen() {
			continue
		}
		price := pos.MarkPrice
		if price.IsZero() {
			price = pos.EntryPrice
		}
		notional := pos.Notional(price)
		out.TotalExposure = out.TotalExposure.Add(notional)
		out.UnrealizedPnL = out.UnrealizedPnL.Add(pos.UnrealizedPnL)
		weightedMargin = weightedMargin.Add(pos.MarginRatio(price).Mul(notional))
		if notional.GreaterThan(out.MaxConcentration) {
			out.MaxConcentration = notional
		}
	}
	if out.TotalExposure.IsPositive() {
		out.WeightedMargin = weightedMargin.Div(out.TotalExposure)
		out.MaxConcentration = out.MaxConcentration.Div(out.TotalExposure)
	} else {
		out.MaxConcentration = decimal.Zero
	}

	out.Equity = out.TotalBalance.Add(out.UnrealizedPnL)

	current, peak := e.recordEquity(out.Equity, out.UnrealizedPnL)
	if peak.IsPositive() {
		out.CurrentDrawdown = peak.Sub(current).Div(peak).Mul(hundred)
		if out.CurrentDrawdown.IsNegative() {
			out.CurrentDrawdown = decimal.Zero
		}
	}
	out.MaxDrawdown = e.maxDrawdown()
	out.ProfitFactor = e.profitFactor()
	out.SharpeRatio = e.sharpeRatio()
	out.ValueAtRisk = e.valueAtRisk(current)
	out.Level = drawdownLevel(out.MaxDrawdown, out.CurrentDrawdown)

	e.checkPortfolioThresholds(cfg, out)

	return out
}

func drawdownLevel(maxDD, currentDD decimal.Decimal) domain.RiskLevel {
	switch {
	case maxDD.GreaterThan(decimal.NewFromInt(15)) || currentDD.GreaterThan(decimal.NewFromInt(10)):
		return domain.RiskLevelCritical
	case maxDD.GreaterThan(decimal.NewFromInt(10)) || currentDD.GreaterThan(decimal.NewFromInt(7)):
		return domain.RiskLevelHigh
	case maxDD.GreaterThan(decimal.NewFromInt(5)) || currentDD.GreaterThan(decimal.NewFromInt(3)):
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

func (e *Evaluator) checkPortfolioThresholds(cfg Config, risk domain.PortfolioRisk) {
	if cfg.Alert.DrawdownPercent.IsPositive() && risk.CurrentDrawdown.GreaterThan(cfg.Alert.DrawdownPercent) {
		severity := domain.SeverityWarning
		if risk.CurrentDrawdown.GreaterThan(cfg.MaxDrawdownPercent) {
			severity = domain.SeverityCritical
		}
		e.Emit(domain.NewRiskAlert("drawdown",
			fmt.Sprintf("drawdown %s%% exceeds threshold %s%%", risk.CurrentDrawdown.StringFixed(2), cfg.Alert.DrawdownPercent.String()),
			severity))
	}

	if cfg.Alert.MarginRatio.IsPositive() && risk.TotalExposure.IsPositive() &&
		risk.WeightedMargin.LessThan(cfg.Alert.MarginRatio) {
		severity := domain.SeverityWarning
		if risk.WeightedMargin.LessThan(cfg.MinMarginRatio) {
			severity = domain.SeverityCritical
		}
		e.Emit(domain.NewRiskAlert("margin_ratio",
			fmt.Sprintf("weighted margin ratio %s below threshold %s", risk.WeightedMargin.StringFixed(4), cfg.Alert.MarginRatio.String()),
			severity))
	}
}

// CheckDailyLossLimit reports whether the day's realized pnl breaches the
// configured daily loss limit, emitting an alert when it does.
func (e *Evaluator) CheckDailyLossLimit(dailyPnL decimal.Decimal) bool {
	cfg := e.config()
	if !cfg.MaxDailyLoss.IsPositive() {
		return false
	}
	breached := dailyPnL.LessThan(cfg.MaxDailyLoss.Neg())
	if breached {
		e.Emit(domain.NewRiskAlert("daily_loss",
			fmt.Sprintf("daily pnl %s breaches max daily loss %s", dailyPnL.StringFixed(2), cfg.MaxDailyLoss.String()),
			domain.SeverityCritical))
	} else if cfg.Alert.DailyLoss.IsPositive() && dailyPnL.LessThan(cfg.Alert.DailyLoss.Neg()) {
		e.Emit(domain.NewRiskAlert("daily_loss",
			fmt.Sprintf("daily pnl %s past warning threshold %s", dailyPnL.StringFixed(2), cfg.Alert.DailyLoss.String()),
			domain.SeverityWarning))
	}
	return breached
}

// recordEquity appends an equity observation and returns the current equity
// and the rolling high-water mark.
func (e *Evaluator) recordEquity(equity, pnl decimal.Decimal) (current, peak decimal.Decimal) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, equityPoint{ts: now, equity: equity, pnl: pnl})

	cutoff := now.Add(-equityHistoryWindow)
	trimmed := e.history[:0]
	for _, p := range e.history {
		if p.ts.After(cutoff) {
			trimmed = append(trimmed, p)
		}
	}
	e.history = trimmed

	peak = equity
	for _, p := range e.history {
		if p.equity.GreaterThan(peak) {
			peak = p.equity
		}
	}
	return equity, peak
}

func (e *Evaluator) maxDrawdown() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	maxDD := decimal.Zero
	peak := decimal.Zero
	for _, p := range e.history {
		if p.equity.GreaterThan(peak) {
			peak = p.equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.equity).Div(peak).Mul(hundred)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func (e *Evaluator) profitFactor() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.history) < 2 {
		return decimal.NewFromInt(1)
	}

	profit := decimal.Zero
	loss := decimal.Zero
	for i := 1; i < len(e.history); i++ {
		change := e.history[i].pnl.Sub(e.history[i-1].pnl)
		if change.IsPositive() {
			profit = profit.Add(change)
		} else {
			loss = loss.Add(change.Neg())
		}
	}
	if loss.IsZero() {
		return decimal.NewFromInt(1)
	}
	return profit.Div(loss)
}

func (e *Evaluator) returns() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(e.history))
	for i := 1; i < len(e.history); i++ {
		prev := e.history[i-1].equity
		if prev.IsPositive() {
			out = append(out, e.history[i].equity.Sub(prev).Div(prev))
		}
	}
	return out
}

func (e *Evaluator) sharpeRatio() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rets := e.returns()
	if len(rets) < 2 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, r := range rets {
		sum = sum.Add(r)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(rets))))

	variance := decimal.Zero
	for _, r := range rets {
		d := r.Sub(mean)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(rets))))
	if variance.IsZero() {
		return decimal.Zero
	}

	varianceFloat, _ := variance.Float64()
	stddev := decimal.NewFromFloat(math.Sqrt(varianceFloat))
	if stddev.IsZero() {
		return decimal.Zero
	}
	return mean.Div(stddev)
}

// valueAtRisk estimates the 95% one-period VaR in account currency from the
// observed return distribution.
func (e *Evaluator) valueAtRisk(equity decimal.Decimal) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rets := e.returns()
	if len(rets) < 10 {
		return decimal.Zero
	}

	sort.Slice(rets, func(i, j int) bool { return rets[i].LessThan(rets[j]) })
	idx := len(rets) / 20 // 5th percentile
	if idx >= len(rets) {
		idx = len(rets) - 1
	}
	v := rets[idx].Abs()
	return v.Mul(equity)
}
