// Package execution decides whether an order intent may reach the exchange.
//
// For each symbol the gate is IDLE (no record), ARMED (record older than the
// cooldown) or in COOLDOWN. Evaluate checks, in order: open orders on the
// exchange, the cooldown window, then either records a dry run or submits.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptex/exchange"
	"cryptex/internal/metrics"
	"cryptex/logger"
	"cryptex/models"
)

const component = "order_gate"

// DefaultCooldown applies when the gate is built with a zero cooldown.
const DefaultCooldown = 60 * time.Second

var ErrInvalidIntent = errors.New("invalid order intent")

// Account is the part of the exchange the gate talks to.
type Account interface {
	ListOpenOrders(ctx context.Context, symbol string) ([]string, error)
	PlaceOrder(ctx context.Context, symbol string, side models.Side, quantity decimal.Decimal) (models.OrderRecord, error)
}

type Option func(*Gate)

func WithMetrics(rec *metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = rec }
}

type Gate struct {
	account  Account
	records  RecordStore
	cooldown time.Duration
	dryRun   bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	log     *logger.Log
	metrics *metrics.Recorder
}

func NewGate(account Account, records RecordStore, cooldown time.Duration, dryRun bool, opts ...Option) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if records == nil {
		records = NewMemoryStore()
	}
	g := &Gate{
		account:  account,
		records:  records,
		cooldown: cooldown,
		dryRun:   dryRun,
		locks:    make(map[string]*sync.Mutex),
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) DryRun() bool { return g.dryRun }

func (g *Gate) Cooldown() time.Duration { return g.cooldown }

func (g *Gate) symbolLock(symbol string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		g.locks[symbol] = l
	}
	return l
}

// Evaluate runs the safety checks for intent at time now. Evaluations for the
// same symbol are serialized. An error means no decision was reached, except
// when a placed order could not be recorded: then both the SUBMIT decision
// and the error are returned.
func (g *Gate) Evaluate(ctx context.Context, intent models.OrderIntent, now time.Time) (models.SafetyDecision, error) {
	if err := validateIntent(intent); err != nil {
		return models.SafetyDecision{}, err
	}

	lock := g.symbolLock(intent.Symbol)
	lock.Lock()
	defer lock.Unlock()

	log := g.log.WithComponent(component).WithFields(logger.Fields{
		"symbol":   intent.Symbol,
		"side":     intent.Side,
		"quantity": intent.Quantity.String(),
		"dry_run":  g.dryRun,
	})

	open, err := g.account.ListOpenOrders(ctx, intent.Symbol)
	if err != nil {
		return models.SafetyDecision{}, fmt.Errorf("check open orders for %s: %w", intent.Symbol, err)
	}
	if len(open) > 0 {
		log.WithFields(logger.Fields{"open_orders": open}).Info("open orders present, skipping")
		return g.decided(log, intent.Symbol, models.SafetyDecision{Kind: models.DecisionSkipOpenOrders, OpenOrders: open}), nil
	}

	last, ok, err := g.records.Last(ctx, intent.Symbol)
	if err != nil {
		return models.SafetyDecision{}, fmt.Errorf("load last order for %s: %w", intent.Symbol, err)
	}
	if ok {
		if elapsed := now.Sub(last.SubmittedAt); elapsed < g.cooldown {
			remaining := g.cooldown - elapsed
			log.WithFields(logger.Fields{
				"last_submitted_at": last.SubmittedAt,
				"remaining":         remaining.String(),
			}).Info("cooldown active, skipping")
			return g.decided(log, intent.Symbol, models.SafetyDecision{
				Kind:              models.DecisionSkipCooldown,
				Record:            &last,
				CooldownRemaining: remaining,
			}), nil
		}
	}

	var (
		rec  models.OrderRecord
		kind models.DecisionKind
	)
	if g.dryRun {
		kind = models.DecisionDryRun
		rec = models.OrderRecord{
			Symbol:        intent.Symbol,
			Side:          intent.Side,
			Quantity:      intent.Quantity,
			SubmittedAt:   now,
			DryRun:        true,
			ClientOrderID: exchange.NewClientOrderID(),
		}
	} else {
		kind = models.DecisionSubmit
		rec, err = g.account.PlaceOrder(ctx, intent.Symbol, intent.Side, intent.Quantity)
		if err != nil {
			log.WithError(err).Error("order submission failed")
			return models.SafetyDecision{}, fmt.Errorf("place order for %s: %w", intent.Symbol, err)
		}
		if rec.SubmittedAt.IsZero() {
			rec.SubmittedAt = now
		}
	}

	decision := models.SafetyDecision{Kind: kind, Record: &rec}
	if err := g.records.Save(ctx, rec); err != nil {
		log.WithError(err).Error("order decided but record not persisted")
		return g.decided(log, intent.Symbol, decision), fmt.Errorf("save order record for %s: %w", intent.Symbol, err)
	}
	return g.decided(log, intent.Symbol, decision), nil
}

func (g *Gate) decided(log *logger.Entry, symbol string, d models.SafetyDecision) models.SafetyDecision {
	g.metrics.Decision(string(d.Kind))
	fields := logger.Fields{"decision": string(d.Kind), "symbol": symbol}
	if d.Record != nil && d.Record.ExchangeOrderID != nil {
		fields["order_id"] = *d.Record.ExchangeOrderID
	}
	log.LogMetric(component, "gate_decision", 1, "counter", fields)
	return d
}

func validateIntent(intent models.OrderIntent) error {
	switch {
	case intent.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidIntent)
	case intent.Side != models.SideBuy && intent.Side != models.SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidIntent, intent.Side)
	case !intent.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity %s must be > 0", ErrInvalidIntent, intent.Quantity)
	}
	return nil
}
