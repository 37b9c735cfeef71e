// Package hedge coordinates two-account hedge pairs: one leg long, one leg
// short, opened and closed as a unit. The coordinator is a saga, not a
// transaction: when only one leg confirms, it surfaces the unhedged exposure
// as FAILED_PARTIAL instead of pretending atomicity.
package hedge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/gateway"
	"github.com/onehope/asterhedge/internal/ledger"
	"github.com/onehope/asterhedge/internal/quantity"
)

var (
	// ErrTransitionInFlight rejects a second transition on a symbol while one
	// is already running.
	ErrTransitionInFlight = errors.New("hedge transition already in flight")
	// ErrHedgeActive rejects opening over a live pair.
	ErrHedgeActive = errors.New("hedge already active for symbol")
	// ErrNoActiveHedge is returned when there is nothing to close or rebalance.
	ErrNoActiveHedge = errors.New("no active hedge for symbol")
	// ErrNotPartial is returned when Resolve is called on a pair that is not
	// in FAILED_PARTIAL.
	ErrNotPartial = errors.New("hedge pair is not in failed-partial state")
	// ErrUnresolvedPartial blocks any transition on a symbol whose pair is
	// stuck in FAILED_PARTIAL. The naked leg must go through Resolve first.
	ErrUnresolvedPartial = errors.New("unresolved partial hedge on symbol")
	// ErrFillNotRecorded marks a confirmed fill that neither the database nor
	// the pending journal accepted. The exchange position is fine; the ledger
	// is missing a trade.
	ErrFillNotRecorded = errors.New("confirmed fill not recorded")
)

// PartialHedgeError reports that exactly one leg of a pair confirmed. The
// surviving account carries naked directional exposure until Resolve runs.
type PartialHedgeError struct {
	PairID    string
	Symbol    string
	Surviving string
	Err       error
}

func (e *PartialHedgeError) Error() string {
	return fmt.Sprintf("hedge %s on %s partially failed, surviving leg on %s: %v",
		e.PairID, e.Symbol, e.Surviving, e.Err)
}

func (e *PartialHedgeError) Unwrap() error { return e.Err }

// Ledger is the durable trade sink the coordinator writes confirmed fills to.
type Ledger interface {
	AddTrade(ctx context.Context, rec domain.TradeRecord) error
	AttachPnL(ctx context.Context, tradeID string, pnl decimal.Decimal) error
}

// Alerter receives risk alerts raised by the coordinator.
type Alerter interface {
	Emit(alert domain.RiskAlert)
}

// RetryPolicy bounds order placement retries. Only failures the gateway marks
// retryable are retried; rejections fail immediately.
type RetryPolicy struct {
	Attempts    int
	Backoff     time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy retries three times with doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:    3,
		Backoff:     500 * time.Millisecond,
		CallTimeout: 10 * time.Second,
	}
}

// defaultRebalanceTolerance is the relative quantity skew above which
// Rebalance places an adjusting order, used when no tolerance is configured.
var defaultRebalanceTolerance = decimal.RequireFromString("0.01")

// Coordinator runs the hedge pair state machine over two accounts.
type Coordinator struct {
	accountA  gateway.Gateway
	accountB  gateway.Gateway
	calc      *quantity.Calculator
	ledger    Ledger
	alerter   Alerter
	retry     RetryPolicy
	tolerance decimal.Decimal
	logger    *zap.Logger

	mu       sync.Mutex
	pairs    map[string]*domain.HedgePair
	inFlight map[string]bool
}

// NewCoordinator wires a coordinator over the two accounts. Quantity is
// calculated against account A's prices and applied identically to both legs.
// rebalanceTolerance is the relative quantity skew Rebalance acts on; zero
// falls back to the default.
func NewCoordinator(accountA, accountB gateway.Gateway, store Ledger, alerter Alerter, retry RetryPolicy, rebalanceTolerance decimal.Decimal, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.Attempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	if rebalanceTolerance.LessThanOrEqual(decimal.Zero) {
		rebalanceTolerance = defaultRebalanceTolerance
	}
	return &Coordinator{
		accountA:  accountA,
		accountB:  accountB,
		calc:      quantity.NewCalculator(accountA),
		ledger:    store,
		alerter:   alerter,
		retry:     retry,
		tolerance: rebalanceTolerance,
		logger:    logger,
		pairs:     make(map[string]*domain.HedgePair),
		inFlight:  make(map[string]bool),
	}
}

// Pair returns the tracked pair for the symbol, or nil.
func (c *Coordinator) Pair(symbol string) *domain.HedgePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairs[symbol]
}

// ActivePairs returns all pairs that are not in a terminal state.
func (c *Coordinator) ActivePairs() []*domain.HedgePair {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*domain.HedgePair
	for _, pair := range c.pairs {
		if !pair.State.Terminal() {
			out = append(out, pair)
		}
	}
	return out
}

// beginTransition reserves the symbol for one state transition at a time.
func (c *Coordinator) beginTransition(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[symbol] {
		return errors.Wrap(ErrTransitionInFlight, symbol)
	}
	c.inFlight[symbol] = true
	return nil
}

func (c *Coordinator) endTransition(symbol string) {
	c.mu.Lock()
	delete(c.inFlight, symbol)
	c.mu.Unlock()
}

// Open places opposite-side legs on both accounts concurrently. directionA is
// the side account A takes; account B always takes the mirror. On a partial
// failure the pair lands in FAILED_PARTIAL and a *PartialHedgeError is
// returned; the confirmed leg's fill is still in the ledger, and every
// further transition on the symbol is rejected until Resolve flattens the
// survivor.
func (c *Coordinator) Open(ctx context.Context, symbol string, usdtAmount decimal.Decimal, leverage int, directionA domain.Side, fundingRate decimal.Decimal) (*domain.HedgePair, error) {
	if directionA != domain.SideLong && directionA != domain.SideShort {
		return nil, errors.Errorf("hedge direction must be long or short, got %s", directionA)
	}
	if err := c.beginTransition(symbol); err != nil {
		return nil, err
	}
	defer c.endTransition(symbol)

	c.mu.Lock()
	if existing, ok := c.pairs[symbol]; ok {
		if existing.State == domain.HedgeStateFailedPartial {
			c.mu.Unlock()
			return nil, errors.Wrapf(ErrUnresolvedPartial, "pair %s on %s", existing.ID, symbol)
		}
		if !existing.State.Terminal() {
			c.mu.Unlock()
			return nil, errors.Wrap(ErrHedgeActive, symbol)
		}
	}
	c.mu.Unlock()

	qty, err := c.calc.Calculate(ctx, symbol, usdtAmount, leverage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to size hedge")
	}

	for _, acc := range []gateway.Gateway{c.accountA, c.accountB} {
		if err := acc.SetLeverage(ctx, symbol, leverage); err != nil {
			return nil, errors.Wrapf(err, "failed to set leverage on %s", acc.Name())
		}
	}

	pair := &domain.HedgePair{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Notional: usdtAmount.Mul(decimal.NewFromInt(int64(leverage))),
		Leverage: leverage,
		State:    domain.HedgeStateOpening,
		LegA:     domain.HedgeLeg{Account: c.accountA.Name(), Side: directionA, Quantity: qty},
		LegB:     domain.HedgeLeg{Account: c.accountB.Name(), Side: directionA.Opposite(), Quantity: qty},
	}

	c.logger.Info("opening hedge",
		zap.String("pair_id", pair.ID),
		zap.String("symbol", symbol),
		zap.String("side_a", pair.LegA.Side.String()),
		zap.String("quantity", qty.String()),
		zap.Int("leverage", leverage))

	var errA, errB, recA, recB error
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		errA, recA = c.openLeg(gctx, c.accountA, pair, &pair.LegA, fundingRate, "a")
		return nil
	})
	g.Go(func() error {
		errB, recB = c.openLeg(gctx, c.accountB, pair, &pair.LegB, fundingRate, "b")
		return nil
	})
	g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case errA == nil && errB == nil:
		pair.State = domain.HedgeStateOpen
		pair.OpenedAt = time.Now()
		c.pairs[symbol] = pair
		c.logger.Info("hedge open", zap.String("pair_id", pair.ID), zap.String("symbol", symbol))
		if recErr := stderrors.Join(recA, recB); recErr != nil {
			return pair, errors.Wrap(recErr, "hedge open, but fills were not recorded")
		}
		return pair, nil

	case errA != nil && errB != nil:
		// nothing confirmed, nothing to unwind
		return nil, errors.Wrap(stderrors.Join(errA, errB), "both hedge legs failed")

	default:
		pair.State = domain.HedgeStateFailedPartial
		c.pairs[symbol] = pair

		legErr := errA
		surviving := pair.LegB.Account
		if errB != nil {
			legErr = errB
			surviving = pair.LegA.Account
		}

		pErr := &PartialHedgeError{PairID: pair.ID, Symbol: symbol, Surviving: surviving, Err: stderrors.Join(legErr, recA, recB)}
		c.logger.Error("hedge partially failed", zap.String("pair_id", pair.ID), zap.Error(pErr))
		if c.alerter != nil {
			c.alerter.Emit(domain.NewRiskAlert("hedge_partial_failure", pErr.Error(), domain.SeverityCritical))
		}
		return pair, pErr
	}
}

// openLeg places one leg's opening order and records the fill. legErr reports
// the order itself failing; ledgerErr a confirmed fill the ledger refused.
func (c *Coordinator) openLeg(ctx context.Context, acc gateway.Gateway, pair *domain.HedgePair, leg *domain.HedgeLeg, fundingRate decimal.Decimal, tag string) (legErr, ledgerErr error) {
	fill, err := c.placeWithRetry(ctx, acc, gateway.Order{
		Symbol:        pair.Symbol,
		Side:          domain.OpenOrderSide(leg.Side),
		Type:          gateway.OrderTypeMarket,
		Quantity:      leg.Quantity,
		ClientOrderID: pair.ID + "-" + tag + "-open",
	})
	if err != nil {
		return errors.Wrapf(err, "failed to open %s leg on %s", leg.Side, acc.Name()), nil
	}

	leg.Confirmed = true
	leg.EntryPrice = fill.Price
	leg.Quantity = fill.Quantity
	leg.OpenTradeID = fill.OrderID

	return nil, c.recordFill(ctx, acc.Name(), pair.Symbol, fill, fundingRate)
}

// Close flattens both legs of an open pair. Closing an already closed pair is
// a no-op. When only one leg flattens, the pair lands in FAILED_PARTIAL with
// the stuck leg surviving.
func (c *Coordinator) Close(ctx context.Context, symbol string) error {
	if err := c.beginTransition(symbol); err != nil {
		return err
	}
	defer c.endTransition(symbol)

	c.mu.Lock()
	pair, ok := c.pairs[symbol]
	if !ok {
		c.mu.Unlock()
		return errors.Wrap(ErrNoActiveHedge, symbol)
	}
	if pair.State == domain.HedgeStateClosed {
		c.mu.Unlock()
		return nil
	}
	if pair.State == domain.HedgeStateFailedPartial {
		c.mu.Unlock()
		return errors.Wrapf(ErrUnresolvedPartial, "pair %s on %s", pair.ID, symbol)
	}
	if pair.State != domain.HedgeStateOpen {
		state := pair.State
		c.mu.Unlock()
		return errors.Errorf("cannot close hedge %s in state %s", pair.ID, state)
	}
	pair.State = domain.HedgeStateClosing
	c.mu.Unlock()

	c.logger.Info("closing hedge", zap.String("pair_id", pair.ID), zap.String("symbol", symbol))

	var errA, errB, recA, recB error
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		errA, recA = c.closeLeg(gctx, c.accountA, pair, &pair.LegA, "a")
		return nil
	})
	g.Go(func() error {
		errB, recB = c.closeLeg(gctx, c.accountB, pair, &pair.LegB, "b")
		return nil
	})
	g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case errA == nil && errB == nil:
		pair.State = domain.HedgeStateClosed
		pair.ClosedAt = time.Now()
		c.logger.Info("hedge closed",
			zap.String("pair_id", pair.ID),
			zap.String("pnl_a", pair.LegA.RealizedPnL().String()),
			zap.String("pnl_b", pair.LegB.RealizedPnL().String()))
		if recErr := stderrors.Join(recA, recB); recErr != nil {
			return errors.Wrap(recErr, "hedge closed, but fills were not recorded")
		}
		return nil

	case errA != nil && errB != nil:
		// both legs still open, the pair is intact
		pair.State = domain.HedgeStateOpen
		return errors.Wrap(stderrors.Join(errA, errB), "both hedge legs failed to close")

	default:
		pair.State = domain.HedgeStateFailedPartial

		legErr := errA
		surviving := pair.LegA.Account
		if errB != nil {
			legErr = errB
			surviving = pair.LegB.Account
		}

		pErr := &PartialHedgeError{PairID: pair.ID, Symbol: symbol, Surviving: surviving, Err: stderrors.Join(legErr, recA, recB)}
		c.logger.Error("hedge close partially failed", zap.String("pair_id", pair.ID), zap.Error(pErr))
		if c.alerter != nil {
			c.alerter.Emit(domain.NewRiskAlert("hedge_partial_failure", pErr.Error(), domain.SeverityCritical))
		}
		return pErr
	}
}

// closeLeg flattens one leg with a reduce-only order, records the close fill
// and attaches the leg's realized pnl to its opening trade. Ledger failures
// do not move the state machine: the position is already flat on the
// exchange. They are returned as ledgerErr for the caller to surface.
func (c *Coordinator) closeLeg(ctx context.Context, acc gateway.Gateway, pair *domain.HedgePair, leg *domain.HedgeLeg, tag string) (legErr, ledgerErr error) {
	if leg.Closed || !leg.Confirmed {
		return nil, nil
	}

	fill, err := c.placeWithRetry(ctx, acc, gateway.Order{
		Symbol:        pair.Symbol,
		Side:          domain.CloseOrderSide(leg.Side),
		Type:          gateway.OrderTypeMarket,
		Quantity:      leg.Quantity,
		ReduceOnly:    true,
		ClientOrderID: pair.ID + "-" + tag + "-close",
	})
	if err != nil {
		return errors.Wrapf(err, "failed to close %s leg on %s", leg.Side, acc.Name()), nil
	}

	leg.Closed = true
	leg.ExitPrice = fill.Price
	leg.CloseTradeID = fill.OrderID

	recErr := c.recordFill(ctx, acc.Name(), pair.Symbol, fill, decimal.Zero)

	if err := c.ledger.AttachPnL(ctx, leg.OpenTradeID, leg.RealizedPnL()); err != nil &&
		!errors.Is(err, ledger.ErrAlreadyAttached) {
		recErr = stderrors.Join(recErr,
			errors.Wrapf(err, "failed to attach realized pnl to trade %s", leg.OpenTradeID))
	}
	return nil, recErr
}

// Resolve closes the surviving leg of a FAILED_PARTIAL pair, completing the
// saga. The pair moves to CLOSED once the exposure is flat.
func (c *Coordinator) Resolve(ctx context.Context, symbol string) error {
	if err := c.beginTransition(symbol); err != nil {
		return err
	}
	defer c.endTransition(symbol)

	c.mu.Lock()
	pair, ok := c.pairs[symbol]
	if !ok {
		c.mu.Unlock()
		return errors.Wrap(ErrNoActiveHedge, symbol)
	}
	if pair.State != domain.HedgeStateFailedPartial {
		state := pair.State
		c.mu.Unlock()
		return errors.Wrapf(ErrNotPartial, "pair %s in state %s", pair.ID, state)
	}
	leg := pair.SurvivingLeg()
	c.mu.Unlock()

	if leg == nil {
		// nothing confirmed or the survivor is already flat
		c.mu.Lock()
		pair.State = domain.HedgeStateClosed
		pair.ClosedAt = time.Now()
		c.mu.Unlock()
		return nil
	}

	acc := c.accountA
	tag := "a"
	if leg.Account == c.accountB.Name() {
		acc = c.accountB
		tag = "b"
	}

	c.logger.Warn("resolving partial hedge",
		zap.String("pair_id", pair.ID),
		zap.String("account", acc.Name()))

	legErr, recErr := c.closeLeg(ctx, acc, pair, leg, tag+"-resolve")
	if legErr != nil {
		return errors.Wrap(legErr, "failed to resolve partial hedge")
	}

	c.mu.Lock()
	pair.State = domain.HedgeStateClosed
	pair.ClosedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("partial hedge resolved", zap.String("pair_id", pair.ID))
	if recErr != nil {
		return errors.Wrap(recErr, "partial hedge resolved, but fills were not recorded")
	}
	return nil
}

// Rebalance tops up the lighter leg when fills left the pair imbalanced
// beyond tolerance. Returns the adjusted quantity, zero when balanced.
func (c *Coordinator) Rebalance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.beginTransition(symbol); err != nil {
		return decimal.Zero, err
	}
	defer c.endTransition(symbol)

	c.mu.Lock()
	pair, ok := c.pairs[symbol]
	if !ok || pair.State != domain.HedgeStateOpen {
		c.mu.Unlock()
		return decimal.Zero, errors.Wrap(ErrNoActiveHedge, symbol)
	}
	imbalance := pair.Imbalance()
	c.mu.Unlock()

	if imbalance.LessThanOrEqual(c.tolerance) {
		return decimal.Zero, nil
	}

	light, heavy := &pair.LegA, &pair.LegB
	acc, tag := c.accountA, "a"
	if pair.LegB.Quantity.LessThan(pair.LegA.Quantity) {
		light, heavy = &pair.LegB, &pair.LegA
		acc, tag = c.accountB, "b"
	}

	diff := heavy.Quantity.Sub(light.Quantity)
	rule, err := acc.SymbolRule(ctx, symbol)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to fetch symbol rule for rebalance")
	}
	diff = quantity.RoundToStep(diff, rule.StepSize)
	if diff.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil
	}

	fill, err := c.placeWithRetry(ctx, acc, gateway.Order{
		Symbol:        symbol,
		Side:          domain.OpenOrderSide(light.Side),
		Type:          gateway.OrderTypeMarket,
		Quantity:      diff,
		ClientOrderID: pair.ID + "-" + tag + "-rebalance",
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to rebalance leg on %s", acc.Name())
	}

	c.mu.Lock()
	light.Quantity = light.Quantity.Add(fill.Quantity)
	c.mu.Unlock()

	recErr := c.recordFill(ctx, acc.Name(), symbol, fill, decimal.Zero)
	c.logger.Info("hedge rebalanced",
		zap.String("pair_id", pair.ID),
		zap.String("account", acc.Name()),
		zap.String("added", fill.Quantity.String()))
	if recErr != nil {
		return fill.Quantity, errors.Wrap(recErr, "hedge rebalanced, but fill was not recorded")
	}
	return fill.Quantity, nil
}

// placeWithRetry places an order under the retry policy. Only retryable
// gateway failures are retried; rejections surface immediately.
func (c *Coordinator) placeWithRetry(ctx context.Context, acc gateway.Gateway, order gateway.Order) (*gateway.Fill, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		if attempt > 0 {
			backoff := c.retry.Backoff << (attempt - 1)
			c.logger.Warn("retrying order",
				zap.String("account", acc.Name()),
				zap.String("symbol", order.Symbol),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
		fill, err := acc.PlaceOrder(callCtx, order)
		cancel()
		if err == nil {
			return fill, nil
		}
		lastErr = err
		if !gateway.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(lastErr, "order failed after %d attempts", c.retry.Attempts)
}

// recordFill writes a confirmed fill to the ledger. A queued write is not an
// error for the caller: the trade will be replayed by the flush loop. A write
// that neither the database nor the queue accepted is ErrFillNotRecorded.
func (c *Coordinator) recordFill(ctx context.Context, account, symbol string, fill *gateway.Fill, fundingRate decimal.Decimal) error {
	rec, err := domain.NewTradeRecord(fill.OrderID, symbol, fill.Side, fill.Quantity, fill.Price, fill.Time, account, fundingRate)
	if err != nil {
		c.logger.Error("invalid fill, not recorded", zap.String("order_id", fill.OrderID), zap.Error(err))
		return errors.Wrapf(ErrFillNotRecorded, "order %s: %v", fill.OrderID, err)
	}

	if err := c.ledger.AddTrade(ctx, *rec); err != nil {
		var wErr *ledger.WriteError
		if errors.As(err, &wErr) {
			// queued for replay, nothing lost
			return nil
		}
		c.logger.Error("failed to record trade", zap.String("trade_id", rec.TradeID), zap.Error(err))
		return errors.Wrapf(ErrFillNotRecorded, "trade %s: %v", rec.TradeID, err)
	}
	return nil
}
