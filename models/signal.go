package models

import "github.com/shopspring/decimal"

// Direction is the discrete trading decision derived from market data.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionHold  Direction = "HOLD"
)

// Signal carries a direction and the values it was derived from.
type Signal struct {
	Direction           Direction       `json:"direction"`
	ReferencePrice      decimal.Decimal `json:"reference_price"`
	MovingAverage       decimal.Decimal `json:"moving_average"`
	Period              int             `json:"period"`
	InsufficientHistory bool            `json:"insufficient_history"`
}

// Side maps an actionable direction to an order side. HOLD has no side.
func (s Signal) Side() (Side, bool) {
	switch s.Direction {
	case DirectionLong:
		return SideBuy, true
	case DirectionShort:
		return SideSell, true
	default:
		return "", false
	}
}
