package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies how dangerous an exposure is. The ordering is
// meaningful: a higher value is always worse.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

// String returns the string representation of the risk level.
func (l RiskLevel) String() string {
	switch l {
	case RiskLevelLow:
		return "LOW"
	case RiskLevelMedium:
		return "MEDIUM"
	case RiskLevelHigh:
		return "HIGH"
	case RiskLevelCritical:
		return "CRITICAL"
	default:
		return "unknown"
	}
}

// AlertSeverity grades a risk alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// RiskAlert is an ephemeral event delivered to registered handlers. It is not
// required to be durable.
type RiskAlert struct {
	Type      string
	Message   string
	Severity  AlertSeverity
	Timestamp time.Time
}

// NewRiskAlert builds an alert stamped with the current time.
func NewRiskAlert(alertType, message string, severity AlertSeverity) RiskAlert {
	return RiskAlert{
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// PositionRisk is the per-position risk assessment.
type PositionRisk struct {
	Symbol           string
	Account          string
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	CurrentPrice     decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	LiquidationPrice decimal.Decimal
	MarginRatio      decimal.Decimal
	LossRatio        decimal.Decimal
	Score            decimal.Decimal
	Level            RiskLevel
}

// PortfolioRisk aggregates risk metrics across all positions and accounts.
// A portfolio with no positions yields the zero value, not an error.
type PortfolioRisk struct {
	TotalExposure    decimal.Decimal
	TotalBalance     decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Equity           decimal.Decimal
	WeightedMargin   decimal.Decimal
	MaxConcentration decimal.Decimal
	CurrentDrawdown  decimal.Decimal
	MaxDrawdown      decimal.Decimal
	ProfitFactor     decimal.Decimal
	SharpeRatio      decimal.Decimal
	ValueAtRisk      decimal.Decimal
	Level            RiskLevel
}
