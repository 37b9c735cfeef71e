// Package engine runs the hedging cycle: open a funding-driven hedge pair,
// hold it until the wait elapses, a risk trigger fires or funding flips, then
// close and go again, up to the configured trade count.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/gateway"
	"github.com/onehope/asterhedge/internal/hedge"
	"github.com/onehope/asterhedge/internal/metrics"
	"github.com/onehope/asterhedge/internal/risk"
)

// ErrHalted is returned when a critical risk condition stopped the cycle loop.
var ErrHalted = errors.New("engine halted on critical risk condition")

// Journal is the slice of the ledger the engine maintains in the background.
type Journal interface {
	FlushPending(ctx context.Context) (int, error)
	PendingCount() (int, error)
	CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Params are the engine's runtime knobs.
type Params struct {
	Symbol              string
	UsdtAmount          decimal.Decimal
	Leverage            int
	WaitTime            time.Duration
	MaxTrades           int
	CloseOnShutdown     bool
	FlushInterval       time.Duration
	FundingPollInterval time.Duration
	Retention           time.Duration
}

// Engine drives the hedge cycle and the background maintenance loops.
type Engine struct {
	params    Params
	coord     *hedge.Coordinator
	monitor   *risk.Monitor
	evaluator *risk.Evaluator
	funding   gateway.Gateway
	journal   Journal
	logger    *zap.Logger

	halted atomic.Bool
}

// NewEngine wires the engine. The funding gateway supplies the funding rate
// that picks each cycle's direction; alerts emitted by the evaluator are
// counted and a CRITICAL alert halts further opens.
func NewEngine(params Params, coord *hedge.Coordinator, monitor *risk.Monitor, evaluator *risk.Evaluator, funding gateway.Gateway, journal Journal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.FlushInterval <= 0 {
		params.FlushInterval = time.Minute
	}
	if params.FundingPollInterval <= 0 {
		params.FundingPollInterval = time.Minute
	}
	if params.Retention <= 0 {
		params.Retention = 90 * 24 * time.Hour
	}

	e := &Engine{
		params:    params,
		coord:     coord,
		monitor:   monitor,
		evaluator: evaluator,
		funding:   funding,
		journal:   journal,
		logger:    logger,
	}

	if evaluator != nil {
		evaluator.RegisterHandler(risk.AlertFunc(func(alert domain.RiskAlert) {
			metrics.CountAlert(alert.Severity)
			if alert.Severity == domain.SeverityCritical {
				e.halted.Store(true)
			}
		}))
	}
	return e
}

// Run executes up to MaxTrades hedge cycles alongside the risk monitor and
// the ledger maintenance loop. It returns when the cycles complete, the
// context ends, or a critical condition halts trading.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if e.monitor != nil {
		g.Go(func() error {
			if err := e.monitor.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if e.journal != nil {
		g.Go(func() error {
			e.maintenanceLoop(gctx)
			return nil
		})
	}

	var cycleErr error
	g.Go(func() error {
		defer cancel()
		cycleErr = e.cycleLoop(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return cycleErr
}

func (e *Engine) cycleLoop(ctx context.Context) error {
	for completed := 0; completed < e.params.MaxTrades; {
		if e.halted.Load() {
			return ErrHalted
		}

		ok, err := e.runCycle(ctx)
		if err != nil {
			return err
		}
		if ok {
			completed++
			continue
		}

		// cycle could not start, back off before trying again
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.params.FundingPollInterval):
		}
	}

	e.logger.Info("trade budget exhausted", zap.Int("max_trades", e.params.MaxTrades))
	return nil
}

// runCycle opens one hedge, holds it, and closes it. Returns false when the
// open could not happen and the cycle should be retried later.
func (e *Engine) runCycle(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, nil
	default:
	}

	fr, err := e.funding.FundingRate(ctx, e.params.Symbol)
	if err != nil {
		e.logger.Warn("failed to fetch funding rate", zap.Error(err))
		return false, nil
	}

	// positive funding means longs pay shorts: account A shorts to collect,
	// account B mirrors. Negative funding flips both legs.
	directionA := domain.SideShort
	if fr.IsNegative() {
		directionA = domain.SideLong
	}

	pair, err := e.coord.Open(ctx, e.params.Symbol, e.params.UsdtAmount, e.params.Leverage, directionA, fr)
	if err != nil {
		var pErr *hedge.PartialHedgeError
		if errors.As(err, &pErr) {
			metrics.HedgeFailedPartial.Inc()
			e.logger.Error("halting after partial hedge", zap.Error(pErr))
			if rErr := e.coord.Resolve(context.WithoutCancel(ctx), e.params.Symbol); rErr != nil {
				e.logger.Error("failed to resolve partial hedge, exposure remains", zap.Error(rErr))
			}
			return false, pErr
		}
		if !errors.Is(err, hedge.ErrFillNotRecorded) {
			e.logger.Warn("failed to open hedge", zap.Error(err))
			return false, nil
		}
		// hedge is live on both venues, only the ledger write failed
		e.logger.Error("hedge open with unrecorded fills", zap.Error(err))
	}
	metrics.HedgeOpens.Inc()

	reason, err := e.hold(ctx, fr)
	if err != nil {
		return false, err
	}
	if reason == "shutdown" && !e.params.CloseOnShutdown {
		e.logger.Warn("shutting down with hedge left open", zap.String("pair_id", pair.ID))
		return false, nil
	}
	e.logger.Info("closing hedge cycle",
		zap.String("pair_id", pair.ID),
		zap.String("reason", reason))

	if err := e.closePair(ctx); err != nil {
		return false, err
	}

	if reason == "risk_halt" {
		return true, ErrHalted
	}
	return true, nil
}

// hold blocks until something wants the hedge closed and names the reason.
func (e *Engine) hold(ctx context.Context, openedFunding decimal.Decimal) (string, error) {
	expiry := time.NewTimer(e.params.WaitTime)
	defer expiry.Stop()
	fundingTicker := time.NewTicker(e.params.FundingPollInterval)
	defer fundingTicker.Stop()

	var triggers <-chan risk.Trigger
	if e.monitor != nil {
		triggers = e.monitor.Triggers()
	}

	for {
		select {
		case <-ctx.Done():
			return "shutdown", nil

		case <-expiry.C:
			return "hold_elapsed", nil

		case trig := <-triggers:
			switch trig.Reason {
			case risk.TriggerDrawdown, risk.TriggerDailyLoss:
				e.halted.Store(true)
				return "risk_halt", nil
			default:
				return string(trig.Reason), nil
			}

		case <-fundingTicker.C:
			fr, err := e.funding.FundingRate(ctx, e.params.Symbol)
			if err != nil {
				e.logger.Warn("failed to poll funding rate", zap.Error(err))
				continue
			}
			if fundingFlipped(openedFunding, fr) {
				return "funding_flip", nil
			}
		}
	}
}

// fundingFlipped reports a sign change between the rate at open and now.
func fundingFlipped(opened, current decimal.Decimal) bool {
	if opened.IsZero() || current.IsZero() {
		return false
	}
	return opened.IsPositive() != current.IsPositive()
}

// closePair closes the active pair, surviving context cancellation so a
// shutdown never strands an open hedge.
func (e *Engine) closePair(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	err := e.coord.Close(closeCtx, e.params.Symbol)
	if err != nil {
		var pErr *hedge.PartialHedgeError
		if errors.As(err, &pErr) {
			metrics.HedgeFailedPartial.Inc()
			e.logger.Error("halting after partial close", zap.Error(pErr))
			if rErr := e.coord.Resolve(closeCtx, e.params.Symbol); rErr != nil {
				e.logger.Error("failed to resolve partial close, exposure remains", zap.Error(rErr))
			}
			return pErr
		}
		if !errors.Is(err, hedge.ErrFillNotRecorded) {
			return errors.Wrap(err, "failed to close hedge")
		}
		// both legs are flat, only the ledger write failed
		e.logger.Error("hedge closed with unrecorded fills", zap.Error(err))
	}

	metrics.HedgeCloses.Inc()
	if pair := e.coord.Pair(e.params.Symbol); pair != nil {
		pnl := pair.LegA.RealizedPnL().Add(pair.LegB.RealizedPnL())
		metrics.RealizedPnL.Add(pnl.InexactFloat64())
	}
	return nil
}

// maintenanceLoop replays queued ledger writes and trims old history.
func (e *Engine) maintenanceLoop(ctx context.Context) {
	flush := time.NewTicker(e.params.FlushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(24 * time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-flush.C:
			if _, err := e.journal.FlushPending(ctx); err != nil {
				e.logger.Warn("ledger flush failed", zap.Error(err))
			}
			if n, err := e.journal.PendingCount(); err == nil {
				metrics.LedgerPendingWrites.Set(float64(n))
			}

		case <-cleanup.C:
			if _, err := e.journal.CleanupOlderThan(ctx, e.params.Retention); err != nil {
				e.logger.Warn("ledger cleanup failed", zap.Error(err))
			}
		}
	}
}

// Shutdown flattens the active pair if configured to do so. Call after Run
// returns on shutdown paths.
func (e *Engine) Shutdown() error {
	if !e.params.CloseOnShutdown {
		return nil
	}
	pair := e.coord.Pair(e.params.Symbol)
	if pair == nil || pair.State != domain.HedgeStateOpen {
		return nil
	}

	e.logger.Info("closing hedge on shutdown", zap.String("pair_id", pair.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return e.closePair(ctx)
}
