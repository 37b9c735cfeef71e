// Package config loads trading parameters from yaml and exchange credentials
// from the environment.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/onehope/asterhedge/internal/risk"
)

// Credentials are the API keys for both accounts, read from the environment.
type Credentials struct {
	BinanceAPIKey    string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret string `envconfig:"BINANCE_API_SECRET"`
	BybitAPIKey      string `envconfig:"BYBIT_API_KEY"`
	BybitAPISecret   string `envconfig:"BYBIT_API_SECRET"`
}

// LoadCredentials reads credentials from .env (when present) and the
// environment.
func LoadCredentials() (Credentials, error) {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, errors.Wrap(err, "failed to read credentials from environment")
	}
	return creds, nil
}

// Config is the fully parsed engine configuration.
type Config struct {
	Symbol             string
	UsdtAmount         decimal.Decimal
	Leverage           int
	WaitTime           time.Duration
	MaxTrades          int
	Simulate           bool
	CloseOnShutdown    bool
	MetricsAddr        string
	DBPath             string
	WalDir             string
	MonitorInterval    time.Duration
	FlushInterval      time.Duration
	RetentionDays      int
	RebalanceTolerance decimal.Decimal
	Risk               risk.Config
}

// ConfigTmp mirrors the yaml file: decimals arrive as strings and are parsed
// into Config.
type ConfigTmp struct {
	Symbol             string        `yaml:"symbol"`
	UsdtAmount         string        `yaml:"usdt_amount"`
	Leverage           int           `yaml:"leverage"`
	WaitTime           time.Duration `yaml:"wait_time"`
	MaxTrades          int           `yaml:"max_trades"`
	Simulate           bool          `yaml:"simulate"`
	CloseOnShutdown    *bool         `yaml:"close_on_shutdown,omitempty"`
	MetricsAddr        string        `yaml:"metrics_addr,omitempty"`
	DBPath             string        `yaml:"db_path,omitempty"`
	WalDir             string        `yaml:"wal_dir,omitempty"`
	MonitorInterval    time.Duration `yaml:"monitor_interval,omitempty"`
	FlushInterval      time.Duration `yaml:"flush_interval,omitempty"`
	RetentionDays      int           `yaml:"retention_days,omitempty"`
	RebalanceTolerance string        `yaml:"rebalance_tolerance,omitempty"`
	Risk               RiskTmp       `yaml:"risk"`
}

// RiskTmp mirrors the risk section of the yaml file.
type RiskTmp struct {
	MaxPositionSize    string `yaml:"max_position_size,omitempty"`
	MaxDrawdownPercent string `yaml:"max_drawdown_percent,omitempty"`
	StopLossPercent    string `yaml:"stop_loss_percent,omitempty"`
	TakeProfitPercent  string `yaml:"take_profit_percent,omitempty"`
	MaxDailyLoss       string `yaml:"max_daily_loss,omitempty"`
	MaxLeverage        int    `yaml:"max_leverage,omitempty"`
	MinMarginRatio     string `yaml:"min_margin_ratio,omitempty"`
	AlertDrawdown      string `yaml:"alert_drawdown_percent,omitempty"`
	AlertMarginRatio   string `yaml:"alert_margin_ratio,omitempty"`
	AlertDailyLoss     string `yaml:"alert_daily_loss,omitempty"`
}

// Get reads and validates the yaml config at path.
func Get(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config file")
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config file")
	}
	return tmp.parse()
}

func (t ConfigTmp) parse() (Config, error) {
	if t.Symbol == "" {
		return Config{}, errors.New("symbol is required")
	}

	amount, err := decimal.NewFromString(t.UsdtAmount)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid usdt_amount %q", t.UsdtAmount)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return Config{}, errors.Errorf("usdt_amount must be positive, got %s", amount.String())
	}
	if t.Leverage < 1 {
		return Config{}, errors.Errorf("leverage must be at least 1, got %d", t.Leverage)
	}
	if t.WaitTime <= 0 {
		return Config{}, errors.New("wait_time must be positive")
	}
	if t.MaxTrades < 1 {
		return Config{}, errors.Errorf("max_trades must be at least 1, got %d", t.MaxTrades)
	}

	riskCfg, err := t.Risk.parse()
	if err != nil {
		return Config{}, err
	}

	tolerance := decimal.RequireFromString("0.01")
	if t.RebalanceTolerance != "" {
		tolerance, err = decimal.NewFromString(t.RebalanceTolerance)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid rebalance_tolerance %q", t.RebalanceTolerance)
		}
		if tolerance.LessThanOrEqual(decimal.Zero) || tolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Config{}, errors.Errorf("rebalance_tolerance must be in (0, 1), got %s", tolerance.String())
		}
	}

	cfg := Config{
		Symbol:             t.Symbol,
		UsdtAmount:         amount,
		Leverage:           t.Leverage,
		WaitTime:           t.WaitTime,
		MaxTrades:          t.MaxTrades,
		Simulate:           t.Simulate,
		CloseOnShutdown:    true,
		MetricsAddr:        t.MetricsAddr,
		DBPath:             t.DBPath,
		WalDir:             t.WalDir,
		MonitorInterval:    t.MonitorInterval,
		FlushInterval:      t.FlushInterval,
		RetentionDays:      t.RetentionDays,
		RebalanceTolerance: tolerance,
		Risk:               riskCfg,
	}
	if t.CloseOnShutdown != nil {
		cfg.CloseOnShutdown = *t.CloseOnShutdown
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "ledger.db"
	}
	if cfg.WalDir == "" {
		cfg.WalDir = "waldata"
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return cfg, nil
}

func (t RiskTmp) parse() (risk.Config, error) {
	cfg := risk.DefaultConfig()

	set := func(dst *decimal.Decimal, raw, field string) error {
		if raw == "" {
			return nil
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", field, raw)
		}
		*dst = v
		return nil
	}

	if err := set(&cfg.MaxPositionSize, t.MaxPositionSize, "max_position_size"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.MaxDrawdownPercent, t.MaxDrawdownPercent, "max_drawdown_percent"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.StopLossPercent, t.StopLossPercent, "stop_loss_percent"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.TakeProfitPercent, t.TakeProfitPercent, "take_profit_percent"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.MaxDailyLoss, t.MaxDailyLoss, "max_daily_loss"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.MinMarginRatio, t.MinMarginRatio, "min_margin_ratio"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.Alert.DrawdownPercent, t.AlertDrawdown, "alert_drawdown_percent"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.Alert.MarginRatio, t.AlertMarginRatio, "alert_margin_ratio"); err != nil {
		return risk.Config{}, err
	}
	if err := set(&cfg.Alert.DailyLoss, t.AlertDailyLoss, "alert_daily_loss"); err != nil {
		return risk.Config{}, err
	}
	if t.MaxLeverage > 0 {
		cfg.MaxLeverage = t.MaxLeverage
	}

	if err := cfg.Validate(); err != nil {
		return risk.Config{}, errors.Wrap(err, "invalid risk config")
	}
	return cfg, nil
}
