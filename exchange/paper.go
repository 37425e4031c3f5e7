package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptex/models"
)

// MarketReader is the read half of a Gateway.
type MarketReader interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
}

// PaperAccount serves real market data from a MarketReader and keeps the
// account side in memory. It lets a credential-less dry run exercise the
// whole cycle: the account never has open orders and market orders fill
// immediately.
type PaperAccount struct {
	MarketReader

	mu     sync.Mutex
	orders []models.OrderRecord
	now    func() time.Time
}

func NewPaperAccount(reader MarketReader) *PaperAccount {
	return &PaperAccount{MarketReader: reader, now: time.Now}
}

func (p *PaperAccount) ListOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	return []string{}, nil
}

func (p *PaperAccount) PlaceOrder(ctx context.Context, symbol string, side models.Side, quantity decimal.Decimal) (models.OrderRecord, error) {
	if !quantity.IsPositive() {
		return models.OrderRecord{}, errors.New("quantity must be > 0")
	}
	id := "paper-" + uuid.NewString()
	rec := models.OrderRecord{
		Symbol:          symbol,
		Side:            side,
		Quantity:        quantity,
		SubmittedAt:     p.now().UTC(),
		ExchangeOrderID: &id,
		ClientOrderID:   NewClientOrderID(),
	}

	p.mu.Lock()
	p.orders = append(p.orders, rec)
	p.mu.Unlock()
	return rec, nil
}

// Filled returns the simulated fills in submission order.
func (p *PaperAccount) Filled() []models.OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OrderRecord, len(p.orders))
	copy(out, p.orders)
	return out
}
