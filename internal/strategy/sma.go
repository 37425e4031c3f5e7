// Package strategy turns a market snapshot into a directional signal.
package strategy

import (
	"github.com/shopspring/decimal"

	"cryptex/models"
)

// Generate compares the live ticker price with the simple moving average of
// the last period closes. It is pure: the same snapshot and period always
// give the same signal.
func Generate(snapshot models.MarketSnapshot, period int) models.Signal {
	sig := models.Signal{
		Direction:      models.DirectionHold,
		ReferencePrice: snapshot.Ticker.Price,
		Period:         period,
	}
	if period < 1 || len(snapshot.Candles) < period {
		sig.InsufficientHistory = true
		return sig
	}

	sig.MovingAverage = SMA(snapshot.Candles[len(snapshot.Candles)-period:])
	switch sig.ReferencePrice.Cmp(sig.MovingAverage) {
	case 1:
		sig.Direction = models.DirectionLong
	case -1:
		sig.Direction = models.DirectionShort
	}
	return sig
}

// SMA is the arithmetic mean of the candle closes. Division is rounded to
// decimal.DivisionPrecision places.
func SMA(candles []models.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, c := range candles {
		sum = sum.Add(c.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(len(candles))))
}
