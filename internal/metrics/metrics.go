// Package metrics exposes the engine's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onehope/asterhedge/internal/domain"
)

var (
	HedgeOpens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hedge_opens_total",
		Help: "Hedge pairs successfully opened on both accounts",
	})
	HedgeCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hedge_closes_total",
		Help: "Hedge pairs fully closed",
	})
	HedgeFailedPartial = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hedge_failed_partial_total",
		Help: "Hedge transitions where exactly one leg confirmed",
	})
	RiskAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_alerts_total",
		Help: "Risk alerts emitted, by severity",
	}, []string{"severity"})
	LedgerPendingWrites = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_pending_writes",
		Help: "Trades queued in the write-ahead journal awaiting database replay",
	})
	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_realized_pnl_usdt",
		Help: "Cumulative realized pnl across closed hedges, in USDT",
	})
)

func init() {
	prometheus.MustRegister(
		HedgeOpens, HedgeCloses, HedgeFailedPartial,
		RiskAlerts, LedgerPendingWrites, RealizedPnL,
	)
}

// CountAlert bumps the alert counter for the given severity.
func CountAlert(severity domain.AlertSeverity) {
	RiskAlerts.WithLabelValues(string(severity)).Inc()
}
