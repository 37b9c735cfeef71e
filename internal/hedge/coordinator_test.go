package hedge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/gateway"
	"github.com/onehope/asterhedge/internal/ledger"
)

const testSymbol = "ETHUSDT"

type memLedger struct {
	mu       sync.Mutex
	trades   []domain.TradeRecord
	pnl      map[string]decimal.Decimal
	failAdds int
	addErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{pnl: make(map[string]decimal.Decimal)}
}

func (m *memLedger) failNextAdds(n int, err error) {
	m.mu.Lock()
	m.failAdds = n
	m.addErr = err
	m.mu.Unlock()
}

func (m *memLedger) AddTrade(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdds > 0 {
		m.failAdds--
		return m.addErr
	}
	for _, t := range m.trades {
		if t.TradeID == rec.TradeID {
			return nil
		}
	}
	m.trades = append(m.trades, rec)
	return nil
}

func (m *memLedger) AttachPnL(_ context.Context, tradeID string, pnl decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pnl[tradeID]; ok {
		return errors.Wrap(ledger.ErrAlreadyAttached, tradeID)
	}
	m.pnl[tradeID] = pnl
	return nil
}

func (m *memLedger) records() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []domain.RiskAlert
}

func (a *alertRecorder) Emit(alert domain.RiskAlert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()
}

func (a *alertRecorder) bySeverity(severity domain.AlertSeverity) []domain.RiskAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.RiskAlert
	for _, alert := range a.alerts {
		if alert.Severity == severity {
			out = append(out, alert)
		}
	}
	return out
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: time.Millisecond, CallTimeout: time.Second}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *gateway.SimulateGateway, *gateway.SimulateGateway, *memLedger, *alertRecorder) {
	t.Helper()

	accA := gateway.NewSimulateGateway("binance", decimal.NewFromInt(10000), nil)
	accB := gateway.NewSimulateGateway("bybit", decimal.NewFromInt(10000), nil)
	accA.SetPrice(testSymbol, decimal.NewFromInt(3000))
	accB.SetPrice(testSymbol, decimal.NewFromInt(3000))

	store := newMemLedger()
	alerts := &alertRecorder{}
	coord := NewCoordinator(accA, accB, store, alerts, testRetryPolicy(), decimal.Zero, nil)
	return coord, accA, accB, store, alerts
}

func rejection(account string) *gateway.Error {
	return &gateway.Error{Account: account, Op: "place order", Code: -2019, Retryable: false, Err: errors.New("margin is insufficient")}
}

func transient(account string) *gateway.Error {
	return &gateway.Error{Account: account, Op: "place order", Retryable: true, Err: errors.New("connection reset")}
}

func TestOpenHedgeHappyPath(t *testing.T) {
	coord, _, _, store, alerts := newTestCoordinator(t)
	ctx := context.Background()

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideShort, decimal.RequireFromString("0.0001"))
	require.NoError(t, err)
	require.Equal(t, domain.HedgeStateOpen, pair.State)

	// 100 USDT x 10 leverage at 3000, floored to the 0.001 step
	require.True(t, pair.LegA.Quantity.Equal(decimal.RequireFromString("0.333")), "got %s", pair.LegA.Quantity.String())
	require.True(t, pair.LegB.Quantity.Equal(pair.LegA.Quantity))
	require.Equal(t, domain.SideShort, pair.LegA.Side)
	require.Equal(t, domain.SideLong, pair.LegB.Side)
	require.True(t, pair.LegA.Confirmed)
	require.True(t, pair.LegB.Confirmed)

	records := store.records()
	require.Len(t, records, 2)
	require.Empty(t, alerts.bySeverity(domain.SeverityCritical))

	accounts := map[string]bool{}
	for _, rec := range records {
		accounts[rec.Account] = true
		require.False(t, rec.RealizedPnL.Valid, "open fills carry no pnl yet")
	}
	require.Len(t, accounts, 2)
}

func TestOpenSecondLegFailureIsPartial(t *testing.T) {
	coord, _, accB, store, alerts := newTestCoordinator(t)
	ctx := context.Background()

	accB.FailNext(1, rejection("bybit"))

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideShort, decimal.Zero)
	require.Error(t, err)

	var pErr *PartialHedgeError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, "binance", pErr.Surviving)

	require.Equal(t, domain.HedgeStateFailedPartial, pair.State)
	require.NotNil(t, pair.SurvivingLeg())
	require.Equal(t, "binance", pair.SurvivingLeg().Account)

	// the confirmed leg's fill is in the ledger, the failed one is not
	require.Len(t, store.records(), 1)
	require.Len(t, alerts.bySeverity(domain.SeverityCritical), 1)
}

func TestOpenBlockedByUnresolvedPartial(t *testing.T) {
	coord, _, accB, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	accB.FailNext(1, rejection("bybit"))

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideShort, decimal.Zero)
	require.Error(t, err)
	require.Equal(t, domain.HedgeStateFailedPartial, pair.State)

	// the naked leg blocks every transition except Resolve
	_, err = coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideShort, decimal.Zero)
	require.ErrorIs(t, err, ErrUnresolvedPartial)
	require.Equal(t, pair.ID, coord.Pair(testSymbol).ID, "the partial pair must stay tracked")

	err = coord.Close(ctx, testSymbol)
	require.ErrorIs(t, err, ErrUnresolvedPartial)

	require.NoError(t, coord.Resolve(ctx, testSymbol))
	require.Equal(t, domain.HedgeStateClosed, coord.Pair(testSymbol).State)

	// once flat, the symbol is open for business again
	next, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideShort, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, domain.HedgeStateOpen, next.State)
	require.NotEqual(t, pair.ID, next.ID)
}

func TestOpenSurfacesUnrecordedFills(t *testing.T) {
	coord, _, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	// both sqlite and the pending journal reject the open fills
	store.failNextAdds(2, errors.New("disk full"))

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.ErrorIs(t, err, ErrFillNotRecorded)

	// the hedge itself is live, only the ledger is missing trades
	require.NotNil(t, pair)
	require.Equal(t, domain.HedgeStateOpen, pair.State)
	require.Empty(t, store.records())

	require.NoError(t, coord.Close(ctx, testSymbol))
	require.Len(t, store.records(), 2)
}

func TestOpenBothLegsFailLeavesNothing(t *testing.T) {
	coord, accA, accB, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	accA.FailNext(1, rejection("binance"))
	accB.FailNext(1, rejection("bybit"))

	_, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.Error(t, err)

	var pErr *PartialHedgeError
	require.False(t, errors.As(err, &pErr), "both legs failing is not a partial failure")
	require.Nil(t, coord.Pair(testSymbol))
	require.Empty(t, store.records())
}

func TestOpenRetriesTransientFailures(t *testing.T) {
	coord, accA, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	accA.FailNext(2, transient("binance"))

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, domain.HedgeStateOpen, pair.State)
	require.Len(t, store.records(), 2)
}

func TestOpenWhileActiveRejected(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	_, err = coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.ErrorIs(t, err, ErrHedgeActive)
}

func TestTransitionExclusion(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator(t)

	require.NoError(t, coord.beginTransition(testSymbol))
	defer coord.endTransition(testSymbol)

	_, err := coord.Open(context.Background(), testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.ErrorIs(t, err, ErrTransitionInFlight)

	err = coord.Close(context.Background(), testSymbol)
	require.ErrorIs(t, err, ErrTransitionInFlight)
}

func TestCloseHedgeAttachesPnLOnce(t *testing.T) {
	coord, accA, accB, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	// move the market so both legs realize symmetric pnl
	accA.SetPrice(testSymbol, decimal.NewFromInt(3100))
	accB.SetPrice(testSymbol, decimal.NewFromInt(3100))

	require.NoError(t, coord.Close(ctx, testSymbol))
	require.Equal(t, domain.HedgeStateClosed, coord.Pair(testSymbol).State)

	// two open fills, two close fills
	require.Len(t, store.records(), 4)

	// pnl lives on the opening trades only, once per leg
	require.Len(t, store.pnl, 2)
	pnlA, ok := store.pnl[pair.LegA.OpenTradeID]
	require.True(t, ok)
	pnlB, ok := store.pnl[pair.LegB.OpenTradeID]
	require.True(t, ok)
	require.True(t, pnlA.Equal(decimal.RequireFromString("33.3")), "got %s", pnlA.String())
	require.True(t, pnlB.Equal(decimal.RequireFromString("-33.3")), "got %s", pnlB.String())
	require.True(t, pnlA.Add(pnlB).IsZero(), "a perfect hedge nets to zero")
}

func TestCloseTwiceIsNoop(t *testing.T) {
	coord, _, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, coord.Close(ctx, testSymbol))
	require.NoError(t, coord.Close(ctx, testSymbol))
	require.Len(t, store.records(), 4)
	require.Len(t, store.pnl, 2)
}

func TestClosePartialFailureThenResolve(t *testing.T) {
	coord, _, accB, store, alerts := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	// all close attempts on account B fail
	accB.FailNext(3, transient("bybit"))

	err = coord.Close(ctx, testSymbol)
	var pErr *PartialHedgeError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, "bybit", pErr.Surviving)
	require.Equal(t, domain.HedgeStateFailedPartial, coord.Pair(testSymbol).State)
	require.Len(t, alerts.bySeverity(domain.SeverityCritical), 1)

	require.NoError(t, coord.Resolve(ctx, testSymbol))
	require.Equal(t, domain.HedgeStateClosed, coord.Pair(testSymbol).State)
	require.Len(t, store.records(), 4)
}

func TestResolveRequiresPartialState(t *testing.T) {
	coord, _, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	err := coord.Resolve(ctx, testSymbol)
	require.ErrorIs(t, err, ErrNoActiveHedge)

	_, err = coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	err = coord.Resolve(ctx, testSymbol)
	require.ErrorIs(t, err, ErrNotPartial)
}

func TestRebalanceBalancedPairIsNoop(t *testing.T) {
	coord, _, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	added, err := coord.Rebalance(ctx, testSymbol)
	require.NoError(t, err)
	require.True(t, added.IsZero())
	require.Len(t, store.records(), 2)
}

func TestRebalanceTopsUpLighterLeg(t *testing.T) {
	coord, _, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	// simulate an under-filled short leg
	pair.LegB.Quantity = decimal.RequireFromString("0.300")

	added, err := coord.Rebalance(ctx, testSymbol)
	require.NoError(t, err)
	require.True(t, added.Equal(decimal.RequireFromString("0.033")), "got %s", added.String())
	require.True(t, pair.LegB.Quantity.Equal(pair.LegA.Quantity))
	require.Len(t, store.records(), 3)
}

func TestRebalanceIgnoresEntryPriceSkew(t *testing.T) {
	coord, _, _, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	// equal quantities filled at different prices are still a balanced hedge
	pair.LegA.EntryPrice = decimal.NewFromInt(3000)
	pair.LegB.EntryPrice = decimal.NewFromInt(2900)

	added, err := coord.Rebalance(ctx, testSymbol)
	require.NoError(t, err)
	require.True(t, added.IsZero())
	require.Len(t, store.records(), 2)
}

func TestRebalanceToleranceConfigurable(t *testing.T) {
	accA := gateway.NewSimulateGateway("binance", decimal.NewFromInt(10000), nil)
	accB := gateway.NewSimulateGateway("bybit", decimal.NewFromInt(10000), nil)
	accA.SetPrice(testSymbol, decimal.NewFromInt(3000))
	accB.SetPrice(testSymbol, decimal.NewFromInt(3000))

	store := newMemLedger()
	coord := NewCoordinator(accA, accB, store, nil, testRetryPolicy(),
		decimal.RequireFromString("0.2"), nil)
	ctx := context.Background()

	pair, err := coord.Open(ctx, testSymbol, decimal.NewFromInt(100), 10, domain.SideLong, decimal.Zero)
	require.NoError(t, err)

	// a 10% skew sits under the 20% tolerance
	pair.LegB.Quantity = decimal.RequireFromString("0.300")

	added, err := coord.Rebalance(ctx, testSymbol)
	require.NoError(t, err)
	require.True(t, added.IsZero())
	require.Len(t, store.records(), 2)
}
