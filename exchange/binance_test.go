package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptex/config"
	"cryptex/internal/metrics"
	"cryptex/models"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Exchange
	cfg.BaseURL = srv.URL + "/"
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Timeout = 2 * time.Second
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.BurstSize = 10
	return NewBinance(cfg, metrics.New())
}

func kline(openMs int64, close string) string {
	return fmt.Sprintf(`[%d,"1.0","2.0","0.5","%s","10.0",%d,"100.0",5,"4.0","40.0","0"]`, openMs, close, openMs+299999)
}

func TestFetchCandles(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "5m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprintf(w, "[%s,%s]", kline(1700000000000, "1.5"), kline(1700000300000, "1.75"))
	})

	candles, err := gw.FetchCandles(context.Background(), "BTCUSDT", "5m", 2)
	if err != nil {
		t.Fatalf("fetch candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[1].Close.Equal(decimal.RequireFromString("1.75")) {
		t.Fatalf("close = %s", candles[1].Close)
	}
	if !candles[0].OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("open time = %s", candles[0].OpenTime)
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not chronological")
	}
}

func TestFetchTicker(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"43125.10"}`)
	})
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return fixed }

	tk, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("fetch ticker: %v", err)
	}
	if !tk.Price.Equal(decimal.RequireFromString("43125.1")) {
		t.Fatalf("price = %s", tk.Price)
	}
	if !tk.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %s", tk.Timestamp)
	}
}

func TestReadFailureIsTransportError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"internal"}`)
	})

	_, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Op != "fetch_ticker" {
		t.Fatalf("op = %s", te.Op)
	}
}

func TestListOpenOrders(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/openOrders" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","orderId":42,"status":"NEW"},{"symbol":"BTCUSDT","orderId":43,"status":"NEW"}]`)
	})

	ids, err := gw.ListOpenOrders(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("list open orders: %v", err)
	}
	if len(ids) != 2 || ids[0] != "42" || ids[1] != "43" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestPlaceOrder(t *testing.T) {
	var gotClientID string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("type") != "MARKET" || r.Form.Get("side") != "BUY" || r.Form.Get("quantity") != "0.001" {
			t.Errorf("unexpected order params %v", r.Form)
		}
		gotClientID = r.Form.Get("newClientOrderId")
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":777,"clientOrderId":%q,"transactTime":1700000000000,"status":"FILLED"}`, gotClientID)
	})

	rec, err := gw.PlaceOrder(context.Background(), "BTCUSDT", models.SideBuy, decimal.RequireFromString("0.001"))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if rec.ExchangeOrderID == nil || *rec.ExchangeOrderID != "777" {
		t.Fatalf("exchange order id = %v", rec.ExchangeOrderID)
	}
	if rec.DryRun {
		t.Fatalf("live order marked dry run")
	}
	if rec.ClientOrderID == "" || rec.ClientOrderID != gotClientID {
		t.Fatalf("client order id %q not sent (server saw %q)", rec.ClientOrderID, gotClientID)
	}
	if !rec.SubmittedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("submitted at = %s", rec.SubmittedAt)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	})

	_, err := gw.PlaceOrder(context.Background(), "BTCUSDT", models.SideSell, decimal.RequireFromString("0.001"))
	var rejected *RejectedOrderError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedOrderError, got %v", err)
	}
	if rejected.Code != -2010 || !strings.Contains(rejected.Reason, "insufficient balance") {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
}

func TestPing(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{}`)
	})
	if err := gw.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewClientOrderID(t *testing.T) {
	a, b := NewClientOrderID(), NewClientOrderID()
	if a == b {
		t.Fatalf("ids should be unique")
	}
	if len(a) > 36 || !strings.HasPrefix(a, "cx-") {
		t.Fatalf("bad id %q", a)
	}
}
