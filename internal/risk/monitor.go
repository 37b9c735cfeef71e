package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/gateway"
)

// TriggerReason names why the monitor wants a hedge closed or halted.
type TriggerReason string

const (
	TriggerStopLoss   TriggerReason = "stop_loss"
	TriggerTakeProfit TriggerReason = "take_profit"
	TriggerDrawdown   TriggerReason = "max_drawdown"
	TriggerDailyLoss  TriggerReason = "daily_loss"
)

// Trigger is an actionable risk event the engine consumes.
type Trigger struct {
	Symbol string
	Reason TriggerReason
}

// DailyPnLSource supplies the day's realized pnl, normally the trade ledger.
type DailyPnLSource interface {
	DailyRealizedPnL(ctx context.Context, day time.Time) (decimal.Decimal, error)
}

// Monitor polls prices, balances and positions on an independent cycle and
// feeds triggers back to the engine. One symbol's failure never stops the
// evaluation of the others.
type Monitor struct {
	evaluator *Evaluator
	accounts  []gateway.Gateway
	symbols   []string
	pnlSource DailyPnLSource
	interval  time.Duration
	logger    *zap.Logger
	triggers  chan Trigger
}

// NewMonitor builds a risk monitor over the given accounts and symbols.
func NewMonitor(evaluator *Evaluator, accounts []gateway.Gateway, symbols []string, pnlSource DailyPnLSource, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		evaluator: evaluator,
		accounts:  accounts,
		symbols:   symbols,
		pnlSource: pnlSource,
		interval:  interval,
		logger:    logger,
		triggers:  make(chan Trigger, 16),
	}
}

// Triggers returns the channel risk triggers are delivered on.
func (m *Monitor) Triggers() <-chan Trigger {
	return m.triggers
}

// Run polls until the context ends. Evaluation failures are logged, never
// fatal to the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("risk monitor started",
		zap.Strings("symbols", m.symbols),
		zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("risk monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle performs one full evaluation pass over a consistent snapshot.
func (m *Monitor) cycle(ctx context.Context) {
	balances := make(map[string]decimal.Decimal, len(m.accounts))
	for _, acc := range m.accounts {
		balance, err := acc.Balance(ctx)
		if err != nil {
			m.logger.Warn("failed to fetch balance", zap.String("account", acc.Name()), zap.Error(err))
			continue
		}
		balances[acc.Name()] = balance
	}

	var all []*domain.Position
	for _, symbol := range m.symbols {
		positions := m.evaluateSymbol(ctx, symbol, balances)
		all = append(all, positions...)
	}

	portfolio := m.evaluator.PortfolioRisk(all, balances)
	if portfolio.CurrentDrawdown.GreaterThan(m.evaluator.config().MaxDrawdownPercent) {
		m.emitTrigger(Trigger{Reason: TriggerDrawdown})
	}

	if m.pnlSource != nil {
		pnl, err := m.pnlSource.DailyRealizedPnL(ctx, time.Now())
		if err != nil {
			m.logger.Warn("failed to fetch daily pnl", zap.Error(err))
		} else if m.evaluator.CheckDailyLossLimit(pnl) {
			m.emitTrigger(Trigger{Reason: TriggerDailyLoss})
		}
	}
}

// evaluateSymbol inspects one symbol on every account. Errors are contained
// to the symbol so a bad data point cannot stop monitoring of the rest.
func (m *Monitor) evaluateSymbol(ctx context.Context, symbol string, balances map[string]decimal.Decimal) []*domain.Position {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("symbol evaluation panicked", zap.String("symbol", symbol), zap.Any("panic", r))
		}
	}()

	var positions []*domain.Position
	for _, acc := range m.accounts {
		pos, err := acc.Position(ctx, symbol)
		if err != nil {
			m.logger.Warn("failed to fetch position",
				zap.String("account", acc.Name()),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if pos == nil || !pos.IsOpen() {
			continue
		}
		positions = append(positions, pos)

		price := pos.MarkPrice
		if price.IsZero() {
			var priceErr error
			price, priceErr = acc.Price(ctx, symbol)
			if priceErr != nil {
				m.logger.Warn("failed to fetch price", zap.String("symbol", symbol), zap.Error(priceErr))
				continue
			}
		}

		if m.evaluator.CheckStopLoss(pos.EntryPrice, price, pos.Side) {
			m.emitTrigger(Trigger{Symbol: symbol, Reason: TriggerStopLoss})
		} else if m.evaluator.CheckTakeProfit(pos.EntryPrice, price, pos.Side) {
			m.emitTrigger(Trigger{Symbol: symbol, Reason: TriggerTakeProfit})
		}

		assessment := m.evaluator.EvaluatePosition(pos, balances[acc.Name()])
		if assessment.Level >= domain.RiskLevelHigh {
			severity := domain.SeverityWarning
			if assessment.Level == domain.RiskLevelCritical {
				severity = domain.SeverityCritical
			}
			m.evaluator.Emit(domain.NewRiskAlert("position_risk",
				"position "+symbol+" on "+acc.Name()+" classified "+assessment.Level.String(),
				severity))
		}
	}
	return positions
}

// emitTrigger drops the trigger if the engine is not draining the channel;
// the next cycle re-detects the condition.
func (m *Monitor) emitTrigger(t Trigger) {
	select {
	case m.triggers <- t:
	default:
		m.logger.Warn("trigger channel full, dropping",
			zap.String("symbol", t.Symbol),
			zap.String("reason", string(t.Reason)))
	}
}
