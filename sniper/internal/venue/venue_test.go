package venue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, h http.Handler, opts ...BreakerOption) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Breaker: NewBreaker(opts...)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://rugplay.com"}); err == nil {
		t.Fatal("expected error for ftp base url")
	}
}

func TestClient_Newest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/market" || r.URL.Query().Get("limit") != "1" || r.URL.Query().Get("sortBy") != "createdAt" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"coins":[{"symbol":"PEPE","name":"Pepe","createdAt":"2025-06-01T10:00:00.000Z","currentPrice":0.0001}]}`))
	}))

	l, err := c.Newest(context.Background())
	if err != nil {
		t.Fatalf("Newest: %v", err)
	}
	if l.Symbol != "PEPE" || l.Created().IsZero() {
		t.Fatalf("listing: got %+v", l)
	}
}

func TestClient_NewestEmptyMarket(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coins":[]}`))
	}))
	l, err := c.Newest(context.Background())
	if err != nil || l.Symbol != "" {
		t.Fatalf("got %+v, %v", l, err)
	}
}

func TestClient_HolderCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/coin/PEPE/holders" || r.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"holders":[{"userId":1,"quantity":"10"},{"userId":2,"quantity":5}]}`))
	}))
	n, err := c.HolderCount(context.Background(), "PEPE")
	if err != nil || n != 2 {
		t.Fatalf("got %d, %v", n, err)
	}
	if _, err := c.HolderCount(context.Background(), "../admin"); err == nil {
		t.Fatal("expected invalid symbol error")
	}
}

func TestClient_PortfolioSessionInvalid(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!doctype html><html><head><title>Sign in</title></head><body></body></html>`))
	}))
	_, err := c.Portfolio(context.Background())
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err: got %v, want ErrSessionInvalid", err)
	}
	if !strings.Contains(err.Error(), "Sign in") {
		t.Fatalf("err should carry the page title: %v", err)
	}
}

func TestClient_PortfolioDecimal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "session=abc" {
			t.Errorf("cookie: got %q", r.Header.Get("Cookie"))
		}
		w.Write([]byte(`{"baseCurrencyBalance":1234.5,"totalCoinValue":"10.25","currency":"$","coinHoldings":[{"symbol":"PEPE","quantity":42}]}`))
	}))
	c.SetCookie("session=abc")
	p, err := c.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if !p.Balance.Equal(decimal.RequireFromString("1234.5")) || len(p.Holdings) != 1 || p.Holdings[0].Symbol != "PEPE" {
		t.Fatalf("portfolio: got %+v", p)
	}
}

func TestClient_TradeRequestShape(t *testing.T) {
	var got TradeRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/coin/PEPE/trade" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		for _, h := range []string{"User-Agent", "Origin", "Referer", "Cookie"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		if !strings.HasSuffix(r.Header.Get("Referer"), "/coin/PEPE") {
			t.Errorf("referer: got %q", r.Header.Get("Referer"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	c.SetCookie("session=abc")

	rc, err := c.Trade(context.Background(), "PEPE", Buy, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("Trade: %v", err)
	}
	if !rc.Success {
		t.Fatalf("receipt: got %+v", rc)
	}
	if got.Type != Buy || got.Amount != 25 {
		t.Fatalf("body: got %+v", got)
	}
}

func TestClient_TradeVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Receipt
		wantErr error
	}{
		{"no content", http.StatusNoContent, "", Receipt{StatusCode: 204, Empty: true}, nil},
		{"empty ok", http.StatusOK, "", Receipt{StatusCode: 200, Empty: true}, nil},
		{"failure message", http.StatusBadRequest, `{"message":"Insufficient balance"}`, Receipt{StatusCode: 400, Message: "Insufficient balance"}, nil},
		{"success false", http.StatusOK, `{"success":false,"error":"paused"}`, Receipt{StatusCode: 200, Message: "paused"}, nil},
		{"html", http.StatusOK, "<html></html>", Receipt{StatusCode: 200}, ErrSessionInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			c.SetCookie("s=1")
			rc, err := c.Trade(context.Background(), "PEPE", Sell, decimal.NewFromInt(1))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if rc != tt.want {
				t.Fatalf("receipt: got %+v, want %+v", rc, tt.want)
			}
		})
	}
}

func TestClient_TradeWithoutAuth(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	if _, err := c.Trade(context.Background(), "PEPE", Buy, decimal.NewFromInt(1)); !errors.Is(err, ErrNoAuth) {
		t.Fatalf("err: got %v, want ErrNoAuth", err)
	}
}

func TestClient_BreakerOpensOnFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}), WithBreakerThreshold(2), WithBreakerResetTimeout(time.Hour))

	for i := 0; i < 2; i++ {
		if _, err := c.Newest(context.Background()); err == nil {
			t.Fatal("expected error on 502")
		}
	}
	if _, err := c.Newest(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err: got %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Fatalf("calls: got %d, want 2", calls)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(WithBreakerThreshold(1), WithBreakerResetTimeout(time.Second),
		WithBreakerClock(func() time.Time { return now }))

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}
	now = now.Add(2 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state: got %v, want half_open", b.State())
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state: got %v, want closed", b.State())
	}
}

func TestPageTitle(t *testing.T) {
	if got := pageTitle([]byte("<html><head><title> Login | Rugplay </title></head></html>")); got != "Login | Rugplay" {
		t.Fatalf("title: got %q", got)
	}
	if got := pageTitle([]byte("<html><body>no title</body></html>")); got != "" {
		t.Fatalf("title: got %q", got)
	}
}
