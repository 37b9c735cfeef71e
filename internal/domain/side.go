// Package domain holds the core entities of the hedging engine: positions,
// hedge pairs, trade records and risk assessments.
package domain

// Side is the direction of a held position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	case SideFlat:
		return "FLAT"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long, -1 for short and 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the mirror side. Flat has no mirror.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderSide is the direction of an order as exchanges understand it.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the mirror order side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OpenOrderSide returns the order side that establishes the given position
// side.
func OpenOrderSide(side Side) OrderSide {
	if side == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseOrderSide returns the order side that flattens the given position
// side.
func CloseOrderSide(side Side) OrderSide {
	return OpenOrderSide(side).Opposite()
}
