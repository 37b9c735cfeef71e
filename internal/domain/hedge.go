package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HedgeState tracks where a hedge pair is in its lifecycle.
type HedgeState int

const (
	HedgeStateIdle HedgeState = iota
	HedgeStateOpening
	HedgeStateOpen
	HedgeStateClosing
	HedgeStateClosed
	// HedgeStateFailedPartial means exactly one leg succeeded. This is the
	// dangerous case the state machine exists to surface: the surviving leg
	// is an unhedged directional exposure until explicitly resolved.
	HedgeStateFailedPartial
)

// String returns the string representation of the state.
func (s HedgeState) String() string {
	switch s {
	case HedgeStateIdle:
		return "IDLE"
	case HedgeStateOpening:
		return "OPENING"
	case HedgeStateOpen:
		return "OPEN"
	case HedgeStateClosing:
		return "CLOSING"
	case HedgeStateClosed:
		return "CLOSED"
	case HedgeStateFailedPartial:
		return "FAILED_PARTIAL"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pair's lifecycle is complete. FAILED_PARTIAL
// is not terminal: the surviving leg still needs an explicit Resolve before
// the symbol can be touched again.
func (s HedgeState) Terminal() bool {
	return s == HedgeStateClosed
}

// HedgeLeg is one account's half of a hedge pair.
type HedgeLeg struct {
	Account      string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	OpenTradeID  string
	CloseTradeID string
	Confirmed    bool
	Closed       bool
}

// RealizedPnL returns the leg's realized profit once both entry and exit
// prices are known: (exit - entry) * quantity * sign(side).
func (l *HedgeLeg) RealizedPnL() decimal.Decimal {
	if !l.Closed {
		return decimal.Zero
	}
	return l.ExitPrice.Sub(l.EntryPrice).Mul(l.Quantity).Mul(decimal.NewFromInt(l.Side.Sign()))
}

// Notional returns the leg's exposure at its entry price.
func (l *HedgeLeg) Notional() decimal.Decimal {
	return l.Quantity.Mul(l.EntryPrice)
}

// HedgePair binds two opposite-side positions on the same symbol, one per
// account. It is the unit of atomicity the coordinator reasons about.
type HedgePair struct {
	ID       string
	Symbol   string
	Notional decimal.Decimal
	Leverage int
	State    HedgeState
	LegA     HedgeLeg
	LegB     HedgeLeg
	OpenedAt time.Time
	ClosedAt time.Time
}

// SurvivingLeg returns the confirmed leg of a FAILED_PARTIAL pair, or nil.
func (h *HedgePair) SurvivingLeg() *HedgeLeg {
	if h.State != HedgeStateFailedPartial {
		return nil
	}
	if h.LegA.Confirmed && !h.LegA.Closed {
		return &h.LegA
	}
	if h.LegB.Confirmed && !h.LegB.Closed {
		return &h.LegB
	}
	return nil
}

// Imbalance returns the relative quantity skew between the legs: the absolute
// quantity difference over the heavier leg. Legs are sized to equal
// quantities, so any skew comes from under-fills.
func (h *HedgePair) Imbalance() decimal.Decimal {
	heavy := decimal.Max(h.LegA.Quantity, h.LegB.Quantity)
	if heavy.IsZero() {
		return decimal.Zero
	}
	return h.LegA.Quantity.Sub(h.LegB.Quantity).Abs().Div(heavy)
}
