package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderIntent is the order the orchestrator would like to place this cycle.
type OrderIntent struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Signal   Signal          `json:"signal"`
}

// OrderRecord is an accepted (or simulated) order decision. The last record
// per symbol drives the cooldown window.
type OrderRecord struct {
	Symbol          string          `json:"symbol" db:"symbol"`
	Side            Side            `json:"side" db:"side"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	SubmittedAt     time.Time       `json:"submitted_at" db:"submitted_at"`
	DryRun          bool            `json:"dry_run" db:"dry_run"`
	ExchangeOrderID *string         `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	ClientOrderID   string          `json:"client_order_id,omitempty" db:"client_order_id"`
}

// DecisionKind enumerates the outcomes of the order safety gate.
type DecisionKind string

const (
	DecisionSubmit         DecisionKind = "SUBMIT"
	DecisionSkipOpenOrders DecisionKind = "SKIP_OPEN_ORDERS"
	DecisionSkipCooldown   DecisionKind = "SKIP_COOLDOWN"
	DecisionDryRun         DecisionKind = "DRY_RUN"
)

// SafetyDecision is the gate's verdict for one intent. Record is set for
// SUBMIT and DRY_RUN.
type SafetyDecision struct {
	Kind              DecisionKind  `json:"kind"`
	Record            *OrderRecord  `json:"record,omitempty"`
	OpenOrders        []string      `json:"open_orders,omitempty"`
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// Placed reports whether the decision produced an order record.
func (d SafetyDecision) Placed() bool {
	return d.Kind == DecisionSubmit || d.Kind == DecisionDryRun
}
