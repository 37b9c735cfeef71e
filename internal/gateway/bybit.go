package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/onehope/asterhedge/internal/domain"
)

// BybitGateway adapts one Bybit account trading linear perpetuals.
type BybitGateway struct {
	account string
	client  *bybit.Client
	coin    bybit.Coin
}

// NewBybitGateway wraps a bybit client for the named account.
func NewBybitGateway(account string, client *bybit.Client, settlementCoin string) *BybitGateway {
	if settlementCoin == "" {
		settlementCoin = "USDT"
	}
	return &BybitGateway{account: account, client: client, coin: bybit.Coin(settlementCoin)}
}

func (g *BybitGateway) Name() string { return g.account }

func (g *BybitGateway) Balance(ctx context.Context) (decimal.Decimal, error) {
	res, err := g.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5UNIFIED, nil)
	if err != nil {
		return decimal.Zero, retryableErr(g.account, "get balance", err)
	}

	for _, acc := range res.Result.List {
		for _, coin := range acc.Coin {
			if coin.Coin != g.coin {
				continue
			}
			amount, parseErr := decimal.NewFromString(coin.WalletBalance)
			if parseErr != nil {
				return decimal.Zero, errors.Wrap(parseErr, "failed to parse bybit balance")
			}
			return amount, nil
		}
	}
	return decimal.Zero, nil
}

func (g *BybitGateway) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	sym := bybit.SymbolV5(symbol)
	res, err := g.client.V5().Position().GetPositionInfo(bybit.V5GetPositionInfoParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return nil, retryableErr(g.account, "get position", err)
	}
	if len(res.Result.List) == 0 {
		return nil, nil
	}

	item := res.Result.List[0]
	size, err := decimal.NewFromString(item.Size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse position size")
	}
	if size.IsZero() {
		return nil, nil
	}

	side := domain.SideLong
	if item.Side == bybit.SideSell {
		side = domain.SideShort
	}

	entry, err := decimal.NewFromString(item.AvgPrice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse average price")
	}

	pos, err := domain.NewPosition(g.account, symbol, side, size, entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct position snapshot")
	}

	if upnl, parseErr := decimal.NewFromString(item.UnrealisedPnl); parseErr == nil {
		pos.UnrealizedPnL = upnl
	}
	if liq, parseErr := decimal.NewFromString(item.LiqPrice); parseErr == nil {
		pos.LiquidationPrice = liq
	}
	if mark, parseErr := decimal.NewFromString(item.MarkPrice); parseErr == nil {
		pos.MarkPrice = mark
	}
	if lev, parseErr := decimal.NewFromString(item.Leverage); parseErr == nil && lev.IsPositive() {
		pos.Leverage = int(lev.IntPart())
		if value, valErr := decimal.NewFromString(item.PositionValue); valErr == nil {
			pos.Margin = value.Div(lev)
		}
	}

	return pos, nil
}

func (g *BybitGateway) tickers(symbol string) (*bybit.V5GetTickersResponse, error) {
	sym := bybit.SymbolV5(symbol)
	res, err := g.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return nil, retryableErr(g.account, "get tickers", err)
	}
	if len(res.Result.LinearInverse.List) == 0 {
		return nil, retryableErr(g.account, "get tickers", errors.Errorf("bybit returned no ticker for %s", symbol))
	}
	return res, nil
}

func (g *BybitGateway) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := g.tickers(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(res.Result.LinearInverse.List[0].LastPrice)
}

func (g *BybitGateway) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := g.tickers(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(res.Result.LinearInverse.List[0].FundingRate)
}

func (g *BybitGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := decimal.NewFromInt(int64(leverage)).String()
	_, err := g.client.V5().Position().SetLeverage(bybit.V5SetLeverageParam{
		Category:     bybit.CategoryV5Linear,
		Symbol:       bybit.SymbolV5(symbol),
		BuyLeverage:  lev,
		SellLeverage: lev,
	})
	if err != nil {
		// bybit rejects a no-op leverage change
		if strings.Contains(err.Error(), "leverage not modified") {
			return nil
		}
		return retryableErr(g.account, "set leverage", err)
	}
	return nil
}

func (g *BybitGateway) PlaceOrder(ctx context.Context, order Order) (*Fill, error) {
	side := bybit.SideBuy
	if order.Side == domain.OrderSideSell {
		side = bybit.SideSell
	}

	orderType := bybit.OrderTypeMarket
	if order.Type == OrderTypeLimit {
		orderType = bybit.OrderTypeLimit
	}

	param := bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Linear,
		Symbol:    bybit.SymbolV5(order.Symbol),
		Side:      side,
		OrderType: orderType,
		Qty:       order.Quantity.String(),
	}
	if order.ClientOrderID != "" {
		linkID := order.ClientOrderID
		param.OrderLinkID = &linkID
	}
	if order.Type == OrderTypeLimit {
		price := order.Price.String()
		param.Price = &price
	}
	if order.ReduceOnly {
		reduce := true
		param.ReduceOnly = &reduce
	}

	res, err := g.client.V5().Order().CreateOrder(param)
	if err != nil {
		if isBybitRejection(err) {
			return nil, rejectedErr(g.account, "place order", 0, err)
		}
		return nil, retryableErr(g.account, "place order", err)
	}

	fillPrice := order.Price
	if fillPrice.IsZero() {
		fillPrice, err = g.Price(ctx, order.Symbol)
		if err != nil {
			return nil, err
		}
	}

	return &Fill{
		OrderID:  res.Result.OrderID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    fillPrice,
		Time:     time.Now(),
	}, nil
}

func (g *BybitGateway) SymbolRule(ctx context.Context, symbol string) (SymbolRule, error) {
	sym := bybit.SymbolV5(symbol)
	res, err := g.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: bybit.CategoryV5Linear,
		Symbol:   &sym,
	})
	if err != nil {
		return SymbolRule{}, retryableErr(g.account, "get instruments info", err)
	}
	if len(res.Result.LinearInverse.List) == 0 {
		return SymbolRule{}, rejectedErr(g.account, "get instruments info", 0, errors.Errorf("symbol %s not listed", symbol))
	}

	item := res.Result.LinearInverse.List[0]
	rule := SymbolRule{MaxLeverage: 100}

	step, err := decimal.NewFromString(item.LotSizeFilter.QtyStep)
	if err != nil {
		return SymbolRule{}, errors.Wrap(err, "failed to parse qty step")
	}
	rule.StepSize = step

	if maxLev, parseErr := decimal.NewFromString(item.LeverageFilter.MaxLeverage); parseErr == nil {
		rule.MaxLeverage = int(maxLev.IntPart())
	}

	return rule, nil
}

// isBybitRejection classifies bybit API errors that retrying cannot fix.
func isBybitRejection(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"insufficient", "ab not enough", "qty invalid", "reduce-only",
		"position mode", "risk limit",
	} {
		if strings.Contains(strings.ToLower(msg), marker) {
			return true
		}
	}
	return false
}
