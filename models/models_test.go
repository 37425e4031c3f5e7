package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMarketSnapshotCloneDoesNotAlias(t *testing.T) {
	snap := MarketSnapshot{
		Symbol:    "BTCUSDT",
		Timeframe: "5m",
		Candles: []Candle{
			{OpenTime: time.Unix(0, 0), Close: decimal.NewFromInt(100)},
		},
	}
	cp := snap.Clone()
	cp.Candles[0].Close = decimal.NewFromInt(1)
	if !snap.Candles[0].Close.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("clone mutated original candles: %v", snap.Candles[0].Close)
	}
}

func TestLastCloseEmpty(t *testing.T) {
	if _, ok := (MarketSnapshot{}).LastClose(); ok {
		t.Fatal("expected no last close for empty snapshot")
	}
}

func TestSignalSide(t *testing.T) {
	cases := []struct {
		dir  Direction
		side Side
		ok   bool
	}{
		{DirectionLong, SideBuy, true},
		{DirectionShort, SideSell, true},
		{DirectionHold, "", false},
	}
	for _, c := range cases {
		side, ok := Signal{Direction: c.dir}.Side()
		if side != c.side || ok != c.ok {
			t.Errorf("Side(%s) = %q,%v want %q,%v", c.dir, side, ok, c.side, c.ok)
		}
	}
}

func TestDecisionPlaced(t *testing.T) {
	for kind, want := range map[DecisionKind]bool{
		DecisionSubmit:         true,
		DecisionDryRun:         true,
		DecisionSkipCooldown:   false,
		DecisionSkipOpenOrders: false,
	} {
		if got := (SafetyDecision{Kind: kind}).Placed(); got != want {
			t.Errorf("Placed(%s) = %v want %v", kind, got, want)
		}
	}
}
