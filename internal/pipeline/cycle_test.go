package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptex/exchange"
	"cryptex/internal/execution"
	"cryptex/internal/marketdata"
	"cryptex/internal/metrics"
	"cryptex/models"
)

type fakeGateway struct {
	closes    []int64
	price     int64
	tickerErr error
	open      []string
	placed    int32
}

func (f *fakeGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(f.closes))
	for i, c := range f.closes {
		out[i] = models.Candle{OpenTime: base.Add(time.Duration(i) * 5 * time.Minute), Close: decimal.NewFromInt(c)}
	}
	return out, nil
}

func (f *fakeGateway) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	if f.tickerErr != nil {
		return models.Ticker{}, f.tickerErr
	}
	return models.Ticker{Symbol: symbol, Price: decimal.NewFromInt(f.price)}, nil
}

func (f *fakeGateway) ListOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	return f.open, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, symbol string, side models.Side, quantity decimal.Decimal) (models.OrderRecord, error) {
	atomic.AddInt32(&f.placed, 1)
	id := "1001"
	return models.OrderRecord{Symbol: symbol, Side: side, Quantity: quantity, ExchangeOrderID: &id, ClientOrderID: exchange.NewClientOrderID()}, nil
}

var _ exchange.Gateway = (*fakeGateway)(nil)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newCycle(gw *fakeGateway, clk *testClock, dryRun, reuseStale bool) *Cycle {
	rec := metrics.New()
	cache := marketdata.NewCache(gw, marketdata.NewStore(), 100, marketdata.WithClock(clk.Now), marketdata.WithMetrics(rec))
	gate := execution.NewGate(gw, execution.NewMemoryStore(), time.Minute, dryRun, execution.WithMetrics(rec))
	return NewCycle(cache, gate, Settings{
		Symbol:     "BTCUSDT",
		Timeframe:  "5m",
		Quantity:   decimal.RequireFromString("0.001"),
		MAPeriod:   5,
		CacheTTL:   30 * time.Second,
		ReuseStale: reuseStale,
	}, WithClock(clk.Now), WithMetrics(rec))
}

// Scenario A: price above the average submits a BUY.
func TestRunLongSubmits(t *testing.T) {
	gw := &fakeGateway{closes: []int64{100, 101, 102, 103, 104}, price: 105}
	clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	out, err := newCycle(gw, clk, false, false).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Signal.Direction != models.DirectionLong {
		t.Fatalf("direction = %s", out.Signal.Direction)
	}
	if out.Intent == nil || out.Intent.Side != models.SideBuy {
		t.Fatalf("intent = %+v", out.Intent)
	}
	if out.Decision == nil || out.Decision.Kind != models.DecisionSubmit {
		t.Fatalf("decision = %+v", out.Decision)
	}
	if gw.placed != 1 {
		t.Fatalf("placed = %d", gw.placed)
	}
}

// Scenario B: too few candles holds without touching the gate.
func TestRunInsufficientHistoryHolds(t *testing.T) {
	gw := &fakeGateway{closes: []int64{100, 101, 102, 103}, price: 105}
	clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	out, err := newCycle(gw, clk, false, false).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Signal.Direction != models.DirectionHold || !out.Signal.InsufficientHistory {
		t.Fatalf("signal = %+v", out.Signal)
	}
	if out.Intent != nil || out.Decision != nil {
		t.Fatalf("HOLD must not build an intent")
	}
}

func TestRunShortDryRun(t *testing.T) {
	gw := &fakeGateway{closes: []int64{100, 101, 102, 103, 104}, price: 90}
	clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	out, err := newCycle(gw, clk, true, false).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Intent.Side != models.SideSell {
		t.Fatalf("side = %s", out.Intent.Side)
	}
	if out.Decision.Kind != models.DecisionDryRun || gw.placed != 0 {
		t.Fatalf("decision = %s placed = %d", out.Decision.Kind, gw.placed)
	}
}

func TestRunOpenOrdersSkip(t *testing.T) {
	gw := &fakeGateway{closes: []int64{100, 101, 102, 103, 104}, price: 105, open: []string{"7"}}
	clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	out, err := newCycle(gw, clk, false, false).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Decision.Kind != models.DecisionSkipOpenOrders || gw.placed != 0 {
		t.Fatalf("decision = %s placed = %d", out.Decision.Kind, gw.placed)
	}
}

func TestRunMarketDataFailure(t *testing.T) {
	gw := &fakeGateway{closes: []int64{100, 101, 102, 103, 104}, tickerErr: errors.New("timeout")}
	clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	_, err := newCycle(gw, clk, false, true).Run(context.Background())
	if !errors.Is(err, marketdata.ErrStaleCacheUnavailable) {
		t.Fatalf("expected ErrStaleCacheUnavailable, got %v", err)
	}
}

func TestRunStaleReuse(t *testing.T) {
	for _, reuse := range []bool{false, true} {
		gw := &fakeGateway{closes: []int64{100, 101, 102, 103, 104}, price: 105}
		clk := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
		c := newCycle(gw, clk, true, reuse)

		if _, err := c.Run(context.Background()); err != nil {
			t.Fatalf("first run: %v", err)
		}
		clk.now = clk.now.Add(2 * time.Minute)
		gw.tickerErr = errors.New("timeout")

		out, err := c.Run(context.Background())
		if !reuse {
			var refreshErr *marketdata.RefreshError
			if !errors.As(err, &refreshErr) {
				t.Fatalf("expected RefreshError without reuse, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("stale reuse run: %v", err)
		}
		if !out.Stale {
			t.Fatalf("outcome should be marked stale")
		}
		if out.Decision == nil || out.Decision.Kind != models.DecisionDryRun {
			t.Fatalf("decision = %+v", out.Decision)
		}
	}
}
