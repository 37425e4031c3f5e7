// Package exchange adapts the remote exchange to the small contract the
// trading cycle needs: two market-data reads, an open-orders read and a
// market order write.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptex/models"
)

// Gateway is the exchange contract consumed by the market data cache and the
// order safety gate. Implementations hold no decision state.
type Gateway interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
	// ListOpenOrders returns the identifiers of open orders; empty means clear to trade.
	ListOpenOrders(ctx context.Context, symbol string) ([]string, error)
	// PlaceOrder submits a market order. A rejected order returns an error and
	// no record.
	PlaceOrder(ctx context.Context, symbol string, side models.Side, quantity decimal.Decimal) (models.OrderRecord, error)
}

// TransportError is any failure talking to the exchange other than an
// explicit order rejection. It is never retried by the core.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedOrderError means the exchange refused the order.
type RejectedOrderError struct {
	Symbol string
	Side   models.Side
	Code   int64
	Reason string
}

func (e *RejectedOrderError) Error() string {
	return fmt.Sprintf("order %s %s rejected (code %d): %s", e.Side, e.Symbol, e.Code, e.Reason)
}
