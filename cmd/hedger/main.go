package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/hirokisan/bybit/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/onehope/asterhedge/config"
	"github.com/onehope/asterhedge/internal/domain"
	"github.com/onehope/asterhedge/internal/engine"
	"github.com/onehope/asterhedge/internal/gateway"
	"github.com/onehope/asterhedge/internal/hedge"
	"github.com/onehope/asterhedge/internal/ledger"
	"github.com/onehope/asterhedge/internal/risk"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	cfg, err := config.Get(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	accountA, accountB, err := buildGateways(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build gateways", zap.Error(err))
	}

	store, err := ledger.NewStore(cfg.DBPath, cfg.WalDir, logger)
	if err != nil {
		logger.Fatal("failed to open trade ledger", zap.Error(err))
	}
	defer store.Close()

	evaluator, err := risk.NewEvaluator(cfg.Risk, logger)
	if err != nil {
		logger.Fatal("failed to build risk evaluator", zap.Error(err))
	}
	evaluator.RegisterHandler(risk.AlertFunc(func(alert domain.RiskAlert) {
		logger.Warn("risk alert",
			zap.String("type", alert.Type),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}))

	monitor := risk.NewMonitor(evaluator,
		[]gateway.Gateway{accountA, accountB},
		[]string{cfg.Symbol},
		store, cfg.MonitorInterval, logger)

	coord := hedge.NewCoordinator(accountA, accountB, store, evaluator, hedge.DefaultRetryPolicy(), cfg.RebalanceTolerance, logger)

	eng := engine.NewEngine(engine.Params{
		Symbol:          cfg.Symbol,
		UsdtAmount:      cfg.UsdtAmount,
		Leverage:        cfg.Leverage,
		WaitTime:        cfg.WaitTime,
		MaxTrades:       cfg.MaxTrades,
		CloseOnShutdown: cfg.CloseOnShutdown,
		FlushInterval:   cfg.FlushInterval,
		Retention:       time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, coord, monitor, evaluator, accountA, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return eng.Run(gctx)
	})

	runErr := g.Wait()

	if err := eng.Shutdown(); err != nil {
		logger.Error("failed to close hedge on shutdown", zap.Error(err))
	}

	if runErr != nil && runErr != context.Canceled {
		logger.Fatal("engine stopped with error", zap.Error(runErr))
	}
	logger.Info("engine stopped")
}

// buildGateways constructs the two account adapters, or two simulated venues
// seeded from public market data when simulate is on.
func buildGateways(cfg config.Config, logger *zap.Logger) (gateway.Gateway, gateway.Gateway, error) {
	if cfg.Simulate {
		return buildSimulated(cfg, logger)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, nil, err
	}

	binanceClient := futures.NewClient(creds.BinanceAPIKey, creds.BinanceAPISecret)
	accountA := gateway.NewBinanceGateway("binance", binanceClient, "USDT")

	bybitClient := bybit.NewClient().WithAuth(creds.BybitAPIKey, creds.BybitAPISecret)
	accountB := gateway.NewBybitGateway("bybit", bybitClient, "USDT")

	return accountA, accountB, nil
}

func buildSimulated(cfg config.Config, logger *zap.Logger) (gateway.Gateway, gateway.Gateway, error) {
	// public endpoints need no credentials
	public := gateway.NewBinanceGateway("binance-public", futures.NewClient("", ""), "USDT")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	price, err := public.Price(ctx, cfg.Symbol)
	if err != nil {
		return nil, nil, err
	}
	funding, err := public.FundingRate(ctx, cfg.Symbol)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("simulate mode",
		zap.String("symbol", cfg.Symbol),
		zap.String("price", price.String()),
		zap.String("funding_rate", funding.String()))

	balance := decimal.NewFromInt(10000)
	accountA := gateway.NewSimulateGateway("sim-a", balance, logger)
	accountB := gateway.NewSimulateGateway("sim-b", balance, logger)
	for _, acc := range []*gateway.SimulateGateway{accountA, accountB} {
		acc.SetPrice(cfg.Symbol, price)
		acc.SetFundingRate(cfg.Symbol, funding)
	}
	return accountA, accountB, nil
}
