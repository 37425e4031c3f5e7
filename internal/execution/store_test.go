package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptex/config"
	"cryptex/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, err := s.Last(ctx, "BTCUSDT"); ok || err != nil {
		t.Fatalf("empty store returned ok=%v err=%v", ok, err)
	}

	id := "42"
	rec := models.OrderRecord{
		Symbol:          "BTCUSDT",
		Side:            models.SideSell,
		Quantity:        decimal.RequireFromString("0.25"),
		SubmittedAt:     t0,
		ExchangeOrderID: &id,
		ClientOrderID:   "cx-abc",
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, models.OrderRecord{Symbol: "ETHUSDT", SubmittedAt: t0, DryRun: true}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Last(ctx, "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("last: ok=%v err=%v", ok, err)
	}
	if !got.Quantity.Equal(rec.Quantity) || !got.SubmittedAt.Equal(t0) || *got.ExchangeOrderID != "42" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	rec.SubmittedAt = t0.Add(time.Hour)
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Last(ctx, "BTCUSDT")
	if !got.SubmittedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("save should overwrite the last record")
	}
	if _, ok, _ := s.Last(ctx, "ETHUSDT"); !ok {
		t.Fatalf("other symbols must be kept")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(path)
	if _, _, err := s.Last(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedisKeyLayout(t *testing.T) {
	s := NewRedisStore(config.RedisConfig{Addr: "localhost:0", Prefix: "cryptex:"})
	defer s.Close()
	if got := s.key("BTCUSDT"); got != "cryptex:last_order:BTCUSDT" {
		t.Fatalf("key = %s", got)
	}
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("CRYPTEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRYPTEX_TEST_REDIS_ADDR not set")
	}
	s := NewRedisStore(config.RedisConfig{Addr: addr, Prefix: "cryptex-test:"})
	defer s.Close()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	rec := models.OrderRecord{Symbol: "BTCUSDT", Side: models.SideBuy, Quantity: decimal.NewFromInt(1), SubmittedAt: t0, DryRun: true}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Last(ctx, "BTCUSDT")
	if err != nil || !ok || !got.SubmittedAt.Equal(t0) {
		t.Fatalf("last = %+v ok=%v err=%v", got, ok, err)
	}
}

func TestPostgresStoreRejectsBadTable(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), config.PostgresConfig{DSN: "postgres://unused", Table: "orders; DROP TABLE x"})
	if err == nil {
		t.Fatal("expected table name error")
	}
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("CRYPTEX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRYPTEX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, config.PostgresConfig{DSN: dsn, Table: "cryptex_test_orders"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	id := "99"
	for i, at := range []time.Time{t0, t0.Add(time.Minute)} {
		rec := models.OrderRecord{Symbol: "TESTUSDT", Side: models.SideBuy, Quantity: decimal.NewFromInt(int64(i + 1)), SubmittedAt: at, ExchangeOrderID: &id, ClientOrderID: "cx-test"}
		if err := s.Save(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := s.Last(ctx, "TESTUSDT")
	if err != nil || !ok {
		t.Fatalf("last: ok=%v err=%v", ok, err)
	}
	if !got.SubmittedAt.Equal(t0.Add(time.Minute)) || !got.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected newest row, got %+v", got)
	}
}
