// internal/pipeline/cycle.go
// Package pipeline runs one decision cycle: snapshot, signal, safety gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptex/config"
	"cryptex/internal/execution"
	"cryptex/internal/marketdata"
	"cryptex/internal/metrics"
	"cryptex/internal/strategy"
	"cryptex/logger"
	"cryptex/models"
)

const component = "cycle"

// Settings are the per-cycle trading parameters.
type Settings struct {
	Symbol     string
	Timeframe  string
	Quantity   decimal.Decimal
	MAPeriod   int
	CacheTTL   time.Duration
	ReuseStale bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Symbol:     cfg.Trading.Symbol,
		Timeframe:  cfg.Trading.Timeframe,
		Quantity:   cfg.Trading.Quantity,
		MAPeriod:   cfg.Strategy.MAPeriod,
		CacheTTL:   cfg.MarketData.CacheTTL,
		ReuseStale: cfg.MarketData.ReuseStaleOnError,
	}
}

// Outcome is what a cycle observed and decided. Decision is nil when the
// signal was HOLD.
type Outcome struct {
	Snapshot models.MarketSnapshot
	Stale    bool
	Signal   models.Signal
	Intent   *models.OrderIntent
	Decision *models.SafetyDecision
}

type Option func(*Cycle)

func WithClock(now func() time.Time) Option {
	return func(c *Cycle) { c.now = now }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Cycle) { c.metrics = rec }
}

type Cycle struct {
	cache    *marketdata.Cache
	gate     *execution.Gate
	settings Settings
	now      func() time.Time
	log      *logger.Log
	metrics  *metrics.Recorder
}

func NewCycle(cache *marketdata.Cache, gate *execution.Gate, settings Settings, opts ...Option) *Cycle {
	c := &Cycle{
		cache:    cache,
		gate:     gate,
		settings: settings,
		now:      time.Now,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes exactly one cycle. HOLD and every gate decision are normal
// outcomes; only failures return an error.
func (c *Cycle) Run(ctx context.Context) (out Outcome, err error) {
	start := c.now()
	s := c.settings
	log := c.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":    s.Symbol,
		"timeframe": s.Timeframe,
	})
	defer func() {
		end := c.now()
		c.metrics.CycleFinished(end.Sub(start), end, err)
		logger.LogPerformanceEntry(log, component, "run", end.Sub(start), nil)
	}()

	snap, err := c.cache.Snapshot(ctx, s.Symbol, s.Timeframe, s.CacheTTL)
	if err != nil {
		var refreshErr *marketdata.RefreshError
		if !s.ReuseStale || !errors.As(err, &refreshErr) {
			return out, fmt.Errorf("market data: %w", err)
		}
		snap = refreshErr.LastKnown
		out.Stale = true
		log.WithError(err).WithFields(logger.Fields{
			"fetched_at": snap.FetchedAt,
			"age":        snap.Age(start).String(),
		}).Warn("refresh failed, using last known snapshot")
	}
	out.Snapshot = snap

	sig := strategy.Generate(snap, s.MAPeriod)
	out.Signal = sig
	c.metrics.Signal(string(sig.Direction))

	sigLog := log.WithFields(logger.Fields{
		"direction":       sig.Direction,
		"reference_price": sig.ReferencePrice.String(),
		"moving_average":  sig.MovingAverage.String(),
		"period":          sig.Period,
		"candles":         len(snap.Candles),
	})
	if sig.InsufficientHistory {
		sigLog.Warn("not enough candles for moving average")
	}

	side, ok := sig.Side()
	if !ok {
		sigLog.Info("signal is HOLD, no order this cycle")
		return out, nil
	}
	sigLog.Info("signal generated")

	intent := models.OrderIntent{
		Symbol:   s.Symbol,
		Side:     side,
		Quantity: s.Quantity,
		Signal:   sig,
	}
	out.Intent = &intent

	decision, err := c.gate.Evaluate(ctx, intent, c.now())
	if decision.Kind != "" {
		out.Decision = &decision
	}
	if err != nil {
		return out, fmt.Errorf("order gate: %w", err)
	}

	fields := logger.Fields{"decision": decision.Kind}
	switch decision.Kind {
	case models.DecisionSkipOpenOrders:
		fields["open_orders"] = decision.OpenOrders
	case models.DecisionSkipCooldown:
		fields["cooldown_remaining"] = decision.CooldownRemaining.String()
	default:
		fields["client_order_id"] = decision.Record.ClientOrderID
		if decision.Record.ExchangeOrderID != nil {
			fields["order_id"] = *decision.Record.ExchangeOrderID
		}
	}
	log.WithFields(fields).Info("cycle complete")
	return out, nil
}
