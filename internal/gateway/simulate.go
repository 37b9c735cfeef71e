package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onehope/asterhedge/internal/domain"
)

// SimulateGateway is an in-memory venue used for dry runs and tests. It fills
// every order instantly at the configured price and tracks one net position
// per symbol.
type SimulateGateway struct {
	mu        sync.RWMutex
	account   string
	logger    *zap.Logger
	balance   decimal.Decimal
	prices    map[string]decimal.Decimal
	funding   map[string]decimal.Decimal
	positions map[string]*domain.Position
	leverage  map[string]int
	rule      SymbolRule

	// test hooks: next call to PlaceOrder fails while failCount > 0
	failCount int
	failWith  error
}

// NewSimulateGateway creates a simulated account with the given starting balance.
func NewSimulateGateway(account string, balance decimal.Decimal, logger *zap.Logger) *SimulateGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulateGateway{
		account:   account,
		logger:    logger,
		balance:   balance,
		prices:    make(map[string]decimal.Decimal),
		funding:   make(map[string]decimal.Decimal),
		positions: make(map[string]*domain.Position),
		leverage:  make(map[string]int),
		rule: SymbolRule{
			StepSize:    decimal.RequireFromString("0.001"),
			MinNotional: decimal.NewFromInt(5),
			MaxLeverage: 100,
		},
	}
}

// SetPrice sets the mark price for a symbol.
func (g *SimulateGateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// SetFundingRate sets the funding rate for a symbol.
func (g *SimulateGateway) SetFundingRate(symbol string, rate decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funding[symbol] = rate
}

// SetRule overrides the default symbol rule.
func (g *SimulateGateway) SetRule(rule SymbolRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rule = rule
}

// FailNext makes the next n PlaceOrder calls fail with err.
func (g *SimulateGateway) FailNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCount = n
	g.failWith = err
}

func (g *SimulateGateway) Name() string { return g.account }

func (g *SimulateGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.balance, nil
}

func (g *SimulateGateway) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pos, ok := g.positions[symbol]
	if !ok {
		return nil, nil
	}
	snapshot := *pos
	snapshot.MarkPrice = g.prices[symbol]
	snapshot.UnrealizedPnL = snapshot.PnL(snapshot.MarkPrice)
	return &snapshot, nil
}

func (g *SimulateGateway) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	price, ok := g.prices[symbol]
	if !ok || price.IsZero() {
		return decimal.Zero, retryableErr(g.account, "get price", errors.Errorf("no price for %s", symbol))
	}
	return price, nil
}

func (g *SimulateGateway) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.funding[symbol], nil
}

func (g *SimulateGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if leverage < 1 || leverage > g.rule.MaxLeverage {
		return rejectedErr(g.account, "set leverage", 0, errors.Errorf("leverage %d out of range", leverage))
	}
	g.leverage[symbol] = leverage
	return nil
}

func (g *SimulateGateway) PlaceOrder(ctx context.Context, order Order) (*Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failCount > 0 {
		g.failCount--
		err := g.failWith
		if err == nil {
			err = retryableErr(g.account, "place order", errors.New("simulated failure"))
		}
		return nil, err
	}

	price, ok := g.prices[order.Symbol]
	if !ok || price.IsZero() {
		return nil, retryableErr(g.account, "place order", errors.Errorf("no price for %s", order.Symbol))
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, rejectedErr(g.account, "place order", 0, errors.New("quantity must be positive"))
	}

	g.applyFill(order, price)

	g.logger.Debug("simulated fill",
		zap.String("account", g.account),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("qty", order.Quantity.String()),
		zap.String("price", price.String()))

	return &Fill{
		OrderID:  ulid.Make().String(),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    price,
		Time:     time.Now(),
	}, nil
}

// applyFill nets the fill into the symbol's position. Caller holds the lock.
func (g *SimulateGateway) applyFill(order Order, price decimal.Decimal) {
	signed := order.Quantity
	if order.Side == domain.OrderSideSell {
		signed = signed.Neg()
	}

	pos := g.positions[order.Symbol]
	current := decimal.Zero
	if pos != nil {
		current = pos.Quantity.Mul(decimal.NewFromInt(pos.Side.Sign()))
	}

	next := current.Add(signed)
	switch {
	case next.IsZero():
		if pos != nil {
			// realize pnl into the balance on full close
			g.balance = g.balance.Add(pos.PnL(price))
		}
		delete(g.positions, order.Symbol)
	default:
		side := domain.SideLong
		if next.IsNegative() {
			side = domain.SideShort
		}
		entry := price
		if pos != nil && pos.Side == side {
			entry = pos.EntryPrice
		}
		lev := g.leverage[order.Symbol]
		if lev < 1 {
			lev = 1
		}
		g.positions[order.Symbol] = &domain.Position{
			Account:    g.account,
			Symbol:     order.Symbol,
			Side:       side,
			Quantity:   next.Abs(),
			EntryPrice: entry,
			Leverage:   lev,
			Margin:     next.Abs().Mul(entry).Div(decimal.NewFromInt(int64(lev))),
			UpdatedAt:  time.Now(),
		}
	}
}

func (g *SimulateGateway) SymbolRule(ctx context.Context, symbol string) (SymbolRule, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rule, nil
}
