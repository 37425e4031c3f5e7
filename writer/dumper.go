// Package writer persists the candles of each market data refresh, either as
// a local JSON file per series or as parquet objects in S3.
package writer

import (
	"context"
	"errors"

	"cryptex/models"
)

// Dumper writes one snapshot's candles somewhere durable.
type Dumper interface {
	Dump(ctx context.Context, snapshot models.MarketSnapshot) error
}

// Multi fans a snapshot out to every dumper and joins their errors.
type Multi []Dumper

func (m Multi) Dump(ctx context.Context, snapshot models.MarketSnapshot) error {
	var errs []error
	for _, d := range m {
		if err := d.Dump(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type candleRecord struct {
	OpenTime int64  `json:"open_time"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

func toRecords(candles []models.Candle) []candleRecord {
	out := make([]candleRecord, 0, len(candles))
	for _, c := range candles {
		out = append(out, candleRecord{
			OpenTime: c.OpenTime.UnixMilli(),
			Open:     c.Open.String(),
			High:     c.High.String(),
			Low:      c.Low.String(),
			Close:    c.Close.String(),
			Volume:   c.Volume.String(),
		})
	}
	return out
}
