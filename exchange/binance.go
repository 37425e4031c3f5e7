package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"cryptex/config"
	"cryptex/internal/metrics"
	"cryptex/logger"
	"cryptex/models"
)

const component = "binance_gateway"

// Binance is a Gateway backed by the Binance spot REST API. Every call waits
// on a token bucket so a cycle never bursts past the configured request rate.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	log     *logger.Log
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewBinance builds the gateway from exchange configuration. Outbound
// connections are bound to cfg.LocalIP when set.
func NewBinance(cfg config.ExchangeConfig, rec *metrics.Recorder) *Binance {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	client.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	log := logger.GetLogger()
	log.WithComponent(component).WithFields(logger.Fields{
		"base_url":   client.BaseURL,
		"timeout":    cfg.Timeout.String(),
		"rps":        rps,
		"burst":      burst,
		"signed_api": cfg.APIKey != "",
	}).Debug("binance gateway initialized")

	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
		metrics: rec,
		now:     time.Now,
	}
}

// Ping checks connectivity before a cycle starts.
func (b *Binance) Ping(ctx context.Context) error {
	return b.call(ctx, "ping", func() error {
		return b.client.NewPingService().Do(ctx)
	})
}

func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	var klines []*binance.Kline
	err := b.call(ctx, "fetch_candles", func() error {
		var err error
		klines, err = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := candleFromKline(k)
		if err != nil {
			return nil, &TransportError{Op: "fetch_candles", Err: err}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	var prices []*binance.SymbolPrice
	err := b.call(ctx, "fetch_ticker", func() error {
		var err error
		prices, err = b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return models.Ticker{}, err
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return models.Ticker{}, &TransportError{Op: "fetch_ticker", Err: fmt.Errorf("parse price %q: %w", p.Price, err)}
		}
		return models.Ticker{Symbol: symbol, Price: price, Timestamp: b.now().UTC()}, nil
	}
	return models.Ticker{}, &TransportError{Op: "fetch_ticker", Err: fmt.Errorf("no price returned for %s", symbol)}
}

func (b *Binance) ListOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	var orders []*binance.Order
	err := b.call(ctx, "list_open_orders", func() error {
		var err error
		orders, err = b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, strconv.FormatInt(o.OrderID, 10))
	}
	return ids, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, symbol string, side models.Side, quantity decimal.Decimal) (models.OrderRecord, error) {
	clientID := NewClientOrderID()

	var resp *binance.CreateOrderResponse
	err := b.call(ctx, "place_order", func() error {
		var err error
		resp, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeMarket).
			Quantity(quantity.String()).
			NewClientOrderID(clientID).
			Do(ctx)
		return err
	})
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return models.OrderRecord{}, &RejectedOrderError{Symbol: symbol, Side: side, Code: apiErr.Code, Reason: apiErr.Message}
		}
		return models.OrderRecord{}, err
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	submitted := b.now().UTC()
	if resp.TransactTime > 0 {
		submitted = time.UnixMilli(resp.TransactTime).UTC()
	}

	b.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":          symbol,
		"side":            side,
		"quantity":        quantity.String(),
		"order_id":        orderID,
		"client_order_id": clientID,
		"status":          resp.Status,
	}).Info("market order accepted")

	return models.OrderRecord{
		Symbol:          symbol,
		Side:            side,
		Quantity:        quantity,
		SubmittedAt:     submitted,
		ExchangeOrderID: &orderID,
		ClientOrderID:   clientID,
	}, nil
}

// call waits for the rate limiter, runs fn and records timing. Every error
// leaves here as a *TransportError; PlaceOrder re-classifies API rejections.
func (b *Binance) call(ctx context.Context, op string, fn func() error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		b.metrics.ExchangeCall(op, err)
		return &TransportError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	b.metrics.ExchangeCall(op, err)
	log := b.log.WithComponent(component).WithFields(logger.Fields{"operation": op})
	logger.LogPerformanceEntry(log, component, op, duration, nil)

	if err != nil {
		log.WithError(err).Warn("exchange call failed")
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func candleFromKline(k *binance.Kline) (models.Candle, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]decimal.Decimal, len(fields))
	for i, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, fmt.Errorf("parse kline at %d: %w", k.OpenTime, err)
		}
		values[i] = v
	}
	return models.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

// NewClientOrderID returns an id that fits Binance's newClientOrderId rules
// (at most 36 characters of [A-Za-z0-9-_]).
func NewClientOrderID() string {
	return "cx-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
