// Package marketdata is a TTL cache of market snapshots in front of the
// exchange. A refresh fetches candles and the ticker concurrently and only
// publishes the pair once both succeed.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cryptex/exchange"
	"cryptex/internal/metrics"
	"cryptex/logger"
	"cryptex/models"
)

const component = "market_data_cache"

// ErrStaleCacheUnavailable is returned when a refresh fails and there is no
// earlier snapshot to fall back to.
var ErrStaleCacheUnavailable = errors.New("market data refresh failed and no cached snapshot exists")

// RefreshError is returned when a refresh fails while an earlier snapshot is
// still stored. Callers decide whether LastKnown may be used.
type RefreshError struct {
	Err       error
	LastKnown models.MarketSnapshot
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s %s: %v (last known snapshot fetched at %s)",
		e.LastKnown.Symbol, e.LastKnown.Timeframe, e.Err, e.LastKnown.FetchedAt.Format(time.RFC3339))
}

func (e *RefreshError) Unwrap() error { return e.Err }

// RefreshHook is called once per successful refresh by the goroutine that
// performed it. It must not call back into the cache for the same key.
type RefreshHook func(ctx context.Context, snapshot models.MarketSnapshot)

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Cache) { c.metrics = rec }
}

func WithRefreshHook(h RefreshHook) Option {
	return func(c *Cache) { c.onRefresh = h }
}

type Cache struct {
	reader      exchange.MarketReader
	store       *Store
	candleLimit int
	flights     singleflight.Group
	now         func() time.Time
	log         *logger.Log
	metrics     *metrics.Recorder
	onRefresh   RefreshHook
}

func NewCache(reader exchange.MarketReader, store *Store, candleLimit int, opts ...Option) *Cache {
	if store == nil {
		store = NewStore()
	}
	c := &Cache{
		reader:      reader,
		store:       store,
		candleLimit: candleLimit,
		now:         time.Now,
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the cached snapshot for (symbol, timeframe) when
// it is younger than ttl, and refreshes it otherwise. A non-positive ttl
// forces a refresh on every call.
func (c *Cache) Snapshot(ctx context.Context, symbol, timeframe string, ttl time.Duration) (models.MarketSnapshot, error) {
	k := Key{Symbol: symbol, Timeframe: timeframe}
	log := c.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
	})

	if e, ok := c.store.get(k); ok && c.now().Before(e.expiresAt) {
		c.metrics.CacheLookup("hit")
		log.WithFields(logger.Fields{"expires_at": e.expiresAt}).Debug("cache hit")
		return e.snapshot.Clone(), nil
	}
	c.metrics.CacheLookup("miss")

	v, err, _ := c.flights.Do(k.String(), func() (interface{}, error) {
		// another flight may have finished between the lookup and here
		if e, ok := c.store.get(k); ok && c.now().Before(e.expiresAt) {
			return e.snapshot, nil
		}
		snap, err := c.refresh(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		c.store.put(k, entry{snapshot: snap, expiresAt: snap.FetchedAt.Add(ttl)})
		if c.onRefresh != nil {
			c.onRefresh(ctx, snap.Clone())
		}
		return snap, nil
	})
	if err != nil {
		c.metrics.CacheLookup("refresh_error")
		log.WithError(err).Warn("market data refresh failed")
		if e, ok := c.store.get(k); ok {
			return models.MarketSnapshot{}, &RefreshError{Err: err, LastKnown: e.snapshot.Clone()}
		}
		return models.MarketSnapshot{}, fmt.Errorf("%w: %w", ErrStaleCacheUnavailable, err)
	}

	return v.(models.MarketSnapshot).Clone(), nil
}

// LastKnown returns the stored snapshot regardless of its age.
func (c *Cache) LastKnown(symbol, timeframe string) (models.MarketSnapshot, bool) {
	e, ok := c.store.get(Key{Symbol: symbol, Timeframe: timeframe})
	if !ok {
		return models.MarketSnapshot{}, false
	}
	return e.snapshot.Clone(), true
}

func (c *Cache) refresh(ctx context.Context, symbol, timeframe string) (models.MarketSnapshot, error) {
	start := time.Now()
	var (
		candles []models.Candle
		ticker  models.Ticker
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candles, err = c.reader.FetchCandles(gctx, symbol, timeframe, c.candleLimit)
		if err != nil {
			return fmt.Errorf("fetch candles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		ticker, err = c.reader.FetchTicker(gctx, symbol)
		if err != nil {
			return fmt.Errorf("fetch ticker: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.MarketSnapshot{}, err
	}

	snap := models.MarketSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		Candles:   normalizeCandles(candles),
		Ticker:    ticker,
		FetchedAt: c.now(),
	}

	refreshLog := c.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(snap.Candles),
		"price":     ticker.Price.String(),
	})
	logger.LogPerformanceEntry(refreshLog, component, "refresh", time.Since(start), nil)
	refreshLog.Info("market data refreshed")
	return snap, nil
}

// normalizeCandles orders candles by open time and keeps the last candle seen
// for a repeated open time.
func normalizeCandles(in []models.Candle) []models.Candle {
	out := make([]models.Candle, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].OpenTime.Equal(out[i].OpenTime) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}
