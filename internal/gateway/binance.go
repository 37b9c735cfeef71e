package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/onehope/asterhedge/internal/domain"
)

// Binance rejection codes that must not be retried. Everything else coming
// back as an APIError is treated the same way; transport errors are retryable.
var binanceNonRetryable = map[int64]string{
	-1121: "invalid symbol",
	-2010: "order rejected",
	-2018: "balance insufficient",
	-2019: "margin insufficient",
	-2020: "unable to fill",
	-2022: "reduce-only rejected",
	-2027: "position exceeds leverage limit",
	-4164: "order notional below minimum",
}

// BinanceGateway adapts one Binance USD-M futures account.
type BinanceGateway struct {
	account string
	client  *futures.Client
	asset   string
}

// NewBinanceGateway wraps a futures client for the named account. Balances
// are reported in the given settlement asset, normally USDT.
func NewBinanceGateway(account string, client *futures.Client, settlementAsset string) *BinanceGateway {
	if settlementAsset == "" {
		settlementAsset = "USDT"
	}
	return &BinanceGateway{account: account, client: client, asset: settlementAsset}
}

func (g *BinanceGateway) Name() string { return g.account }

func (g *BinanceGateway) wrap(op string, err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		if _, found := binanceNonRetryable[apiErr.Code]; found {
			return rejectedErr(g.account, op, apiErr.Code, err)
		}
		return &Error{Account: g.account, Op: op, Code: apiErr.Code, Retryable: true, Err: err}
	}
	return retryableErr(g.account, op, err)
}

func (g *BinanceGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, g.wrap("get balance", err)
	}

	for _, b := range balances {
		if b.Asset != g.asset {
			continue
		}
		amount, parseErr := decimal.NewFromString(b.Balance)
		if parseErr != nil {
			return decimal.Zero, errors.Wrap(parseErr, "failed to parse binance balance")
		}
		return amount, nil
	}
	return decimal.Zero, nil
}

func (g *BinanceGateway) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, g.wrap("get position", err)
	}
	if len(risks) == 0 {
		return nil, nil
	}

	risk := risks[0]
	amt, err := decimal.NewFromString(risk.PositionAmt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse position amount")
	}
	if amt.IsZero() {
		return nil, nil
	}

	side := domain.SideLong
	if amt.IsNegative() {
		side = domain.SideShort
	}

	entry, err := decimal.NewFromString(risk.EntryPrice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse entry price")
	}
	mark, err := decimal.NewFromString(risk.MarkPrice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse mark price")
	}

	pos, err := domain.NewPosition(g.account, symbol, side, amt.Abs(), entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct position snapshot")
	}
	pos.MarkPrice = mark

	if upnl, parseErr := decimal.NewFromString(risk.UnRealizedProfit); parseErr == nil {
		pos.UnrealizedPnL = upnl
	}
	if liq, parseErr := decimal.NewFromString(risk.LiquidationPrice); parseErr == nil {
		pos.LiquidationPrice = liq
	}
	if lev, parseErr := decimal.NewFromString(risk.Leverage); parseErr == nil {
		pos.Leverage = int(lev.IntPart())
		if pos.Leverage > 0 {
			pos.Margin = amt.Abs().Mul(mark).Div(lev)
		}
	}
	if risk.IsolatedMargin != "" {
		if margin, parseErr := decimal.NewFromString(risk.IsolatedMargin); parseErr == nil && margin.IsPositive() {
			pos.Margin = margin
		}
	}

	return pos, nil
}

func (g *BinanceGateway) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, g.wrap("get price", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, retryableErr(g.account, "get price", errors.Errorf("binance returned no price for %s", symbol))
	}
	return decimal.NewFromString(prices[0].Price)
}

func (g *BinanceGateway) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	premiums, err := g.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, g.wrap("get funding rate", err)
	}
	if len(premiums) == 0 {
		return decimal.Zero, retryableErr(g.account, "get funding rate", errors.Errorf("binance returned no premium index for %s", symbol))
	}
	return decimal.NewFromString(premiums[0].LastFundingRate)
}

func (g *BinanceGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return g.wrap("set leverage", err)
	}
	return nil
}

func (g *BinanceGateway) PlaceOrder(ctx context.Context, order Order) (*Fill, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderType(order.Type)).
		Quantity(order.Quantity.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	if order.ClientOrderID != "" {
		svc = svc.NewClientOrderID(order.ClientOrderID)
	}
	if order.Type == OrderTypeLimit {
		svc = svc.Price(order.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if order.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, g.wrap("place order", err)
	}

	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse executed quantity")
	}

	fillPrice := decimal.Zero
	if res.AvgPrice != "" {
		fillPrice, err = decimal.NewFromString(res.AvgPrice)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse fill price")
		}
	}
	if fillPrice.IsZero() {
		// market order response without avg price, fall back to ticker
		fillPrice, err = g.Price(ctx, order.Symbol)
		if err != nil {
			return nil, err
		}
	}

	qty := executed
	if qty.IsZero() {
		qty = order.Quantity
	}

	return &Fill{
		OrderID:  formatOrderID(res.OrderID),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: qty,
		Price:    fillPrice,
		Time:     time.Now(),
	}, nil
}

func (g *BinanceGateway) SymbolRule(ctx context.Context, symbol string) (SymbolRule, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return SymbolRule{}, g.wrap("get exchange info", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		rule := SymbolRule{MaxLeverage: 125}
		if lot := s.LotSizeFilter(); lot != nil {
			step, parseErr := decimal.NewFromString(lot.StepSize)
			if parseErr != nil {
				return SymbolRule{}, errors.Wrap(parseErr, "failed to parse lot step size")
			}
			rule.StepSize = step
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			notional, parseErr := decimal.NewFromString(mn.Notional)
			if parseErr != nil {
				return SymbolRule{}, errors.Wrap(parseErr, "failed to parse min notional")
			}
			rule.MinNotional = notional
		}
		return rule, nil
	}

	return SymbolRule{}, rejectedErr(g.account, "get exchange info", -1121, errors.Errorf("symbol %s not listed", symbol))
}

func formatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}
