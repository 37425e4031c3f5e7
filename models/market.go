package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar as returned by the exchange kline endpoint.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Ticker is the last traded price of a symbol at a point in time.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketSnapshot joins a candle history and a ticker fetched in the same
// refresh cycle.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Candles   []Candle  `json:"candles"`
	Ticker    Ticker    `json:"ticker"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a copy whose candle slice does not alias the receiver's.
func (s MarketSnapshot) Clone() MarketSnapshot {
	out := s
	if s.Candles != nil {
		out.Candles = make([]Candle, len(s.Candles))
		copy(out.Candles, s.Candles)
	}
	return out
}

// LastClose returns the close of the most recent candle.
func (s MarketSnapshot) LastClose() (decimal.Decimal, bool) {
	if len(s.Candles) == 0 {
		return decimal.Zero, false
	}
	return s.Candles[len(s.Candles)-1].Close, true
}

// Age reports how old the snapshot is relative to now.
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
