package sniper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/dbopen"
	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
	"github.com/hazyhaar/snipebot/sniper/internal/worker"
)

// fakeVenue serves the market, portfolio and trade endpoints.
type fakeVenue struct {
	mu      sync.Mutex
	trades  []string // "SYMBOL SIDE AMOUNT"
	markets int
	hold    chan struct{} // when set, /api/market answers once it is closed
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/market", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.markets++
		hold := f.hold
		f.mu.Unlock()
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		io.WriteString(w, `{"coins":[
			{"symbol":"NEW","name":"New","createdAt":"2026-01-02T00:00:00Z","currentPrice":1},
			{"symbol":"OLD","name":"Old","createdAt":"2026-01-01T00:00:00Z","currentPrice":2}]}`)
	})
	mux.HandleFunc("GET /api/portfolio/total", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"baseCurrencyBalance":1000,"totalCoinValue":50,"currency":"$","coinHoldings":[
			{"symbol":"ABC","quantity":5,"value":50},
			{"symbol":"DUST","quantity":0.00001,"value":0}]}`)
	})
	mux.HandleFunc("POST /api/coin/{symbol}/trade", func(w http.ResponseWriter, r *http.Request) {
		var req venue.TradeRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.trades = append(f.trades, r.PathValue("symbol")+" "+string(req.Type)+" "+decimal.NewFromFloat(req.Amount).String())
		f.mu.Unlock()
		io.WriteString(w, `{"success":true}`)
	})
	return mux
}

func (f *fakeVenue) marketCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets
}

func (f *fakeVenue) Trades() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trades...)
}

type testEnv struct {
	bot     *Bot
	venue   *fakeVenue
	journal *observability.EventLogger
}

func newTestBot(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	fv := &fakeVenue{}
	srv := httptest.NewServer(fv.handler())
	t.Cleanup(srv.Close)

	db := dbopen.OpenMemory(t)
	if err := observability.Init(db); err != nil {
		t.Fatalf("init journal: %v", err)
	}
	journal := observability.NewEventLogger(db)

	cfg := DefaultConfig()
	cfg.Venue.BaseURL = srv.URL
	cfg.Browser.TempDir = filepath.Join(t.TempDir(), "clones")
	cfg.Browser.SourceProfile = filepath.Join(t.TempDir(), "missing-profile")
	cfg.Worker.PreSellPause = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	b, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithJournal(journal),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.Open(ctx)
	t.Cleanup(func() {
		b.Close()
		cancel()
	})
	return &testEnv{bot: b, venue: fv, journal: journal}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.bot.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_InvalidSizing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sniper.BuyPercent = "lots"
	if _, err := New(cfg); !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sniper.TradePath = "carrier-pigeon"
	if _, err := New(cfg); !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestStart_NotOpen(t *testing.T) {
	b, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestStart_Validation(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	if err := b.Start(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("no sizing: err = %v, want ErrConfig", err)
	}

	if err := b.SetBuy(BuyConfig{Amount: "10"}); err != nil {
		t.Fatal(err)
	}
	err := b.Start(context.Background())
	if !errors.Is(err, ErrConfig) || !errors.Is(err, ErrNoBrowser) {
		t.Errorf("no browser: err = %v, want ErrConfig wrapping ErrNoBrowser", err)
	}
	if b.Running() {
		t.Error("bot must not run after a failed start")
	}
}

func TestSetBuy(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	if err := b.SetBuy(BuyConfig{Percent: "25%"}); err != nil {
		t.Fatal(err)
	}
	if got := b.BuyConfig(); got.Percent != "25%" || got.Amount != "" {
		t.Errorf("BuyConfig = %+v", got)
	}
	if err := b.SetBuy(BuyConfig{Amount: "5", Percent: "10%"}); err != nil {
		t.Fatal(err)
	}
	if got := b.Sizing().String(); got != "5" {
		t.Errorf("fixed amount should win, sizing = %q", got)
	}
	if err := b.SetBuy(BuyConfig{}); !errors.Is(err, ErrConfig) {
		t.Errorf("empty: err = %v, want ErrConfig", err)
	}
	if err := b.SetBuy(BuyConfig{Amount: "abc"}); !errors.Is(err, ErrConfig) {
		t.Errorf("garbage: err = %v, want ErrConfig", err)
	}
	if got := b.Sizing().String(); got != "5" {
		t.Errorf("rejected update changed sizing to %q", got)
	}
}

func TestTrade_Validation(t *testing.T) {
	env := newTestBot(t, nil)
	ctx := context.Background()
	cases := []TradeRequest{
		{Symbol: "", Side: "BUY", Amount: decimal.NewFromInt(1)},
		{Symbol: "A/B", Side: "BUY", Amount: decimal.NewFromInt(1)},
		{Symbol: "ABC", Side: "HOLD", Amount: decimal.NewFromInt(1)},
		{Symbol: "ABC", Side: "SELL", Amount: decimal.Zero},
		{Symbol: "ABC", Side: "SELL", Amount: decimal.NewFromInt(1), Path: "fax"},
	}
	for _, req := range cases {
		if _, err := env.bot.Trade(ctx, req); !errors.Is(err, ErrConfig) {
			t.Errorf("%+v: err = %v, want ErrConfig", req, err)
		}
	}
	if len(env.venue.Trades()) != 0 {
		t.Errorf("invalid trades reached the venue: %v", env.venue.Trades())
	}
}

func TestTrade_API(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot
	b.Client().SetCookie("session=abc")

	res, err := b.Trade(context.Background(), TradeRequest{Symbol: "ABC", Side: "SELL", Amount: decimal.NewFromInt(3), Path: "api"})
	if err != nil {
		t.Fatal(err)
	}
	b.wallet.Wait()
	if res.Outcome != "success" || res.Path != "api" {
		t.Errorf("result = %+v", res)
	}
	if got := env.venue.Trades(); len(got) != 1 || got[0] != "ABC SELL 3" {
		t.Errorf("venue trades = %v", got)
	}

	entries, err := env.journal.Recent(context.Background(), observability.EventTrade, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EntityID != "ABC" || entries[0].Action != "SELL" || !entries[0].Success {
		t.Errorf("journal = %+v", entries)
	}
}

func TestSellAll(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	if _, err := b.SellAll(context.Background()); !errors.Is(err, venue.ErrNoAuth) {
		t.Errorf("without auth: err = %v, want ErrNoAuth", err)
	}

	b.Client().SetCookie("session=abc")
	results, err := b.SellAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b.wallet.Wait()
	if len(results) != 1 || results[0].Symbol != "ABC" {
		t.Fatalf("results = %+v, dust must be skipped", results)
	}
	if got := env.venue.Trades(); len(got) != 1 || got[0] != "ABC SELL 5" {
		t.Errorf("venue trades = %v", got)
	}
}

func TestBalance(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	snap, err := b.Balance(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Balance.IsZero() {
		t.Errorf("cached balance before refresh = %s", snap.Balance)
	}

	b.Client().SetCookie("session=abc")
	snap, err = b.Balance(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Balance.Equal(decimal.NewFromInt(1000)) || len(snap.Holdings) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
	if cached := b.wallet.Snapshot(); !cached.Balance.Equal(snap.Balance) {
		t.Errorf("cache not updated: %s", cached.Balance)
	}
}

func TestStartLoops_RestartWaitsForPreviousRun(t *testing.T) {
	env := newTestBot(t, func(c *Config) {
		c.Sniper.BuyAmount = "10"
		c.Sniper.ScanInterval = time.Millisecond
	})
	b := env.bot
	hold := make(chan struct{})
	env.venue.mu.Lock()
	env.venue.hold = hold
	env.venue.mu.Unlock()

	if err := b.startLoops(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.venue.marketCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if env.venue.marketCalls() == 0 {
		t.Fatal("scanner never polled")
	}

	b.Stop()
	restarted := make(chan error, 1)
	go func() { restarted <- b.startLoops(context.Background()) }()
	select {
	case err := <-restarted:
		t.Fatalf("restart returned %v while the previous scanner was mid-poll", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(hold)
	select {
	case err := <-restarted:
		if err != nil {
			t.Fatalf("restart: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("restart never returned")
	}
	if !b.Running() {
		t.Fatal("not running after restart")
	}
	if err := b.startLoops(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start: %v, want ErrAlreadyRunning", err)
	}
	b.Stop()
}

func TestStartLoops_RestartHonoursContext(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot
	hold := make(chan struct{})
	defer close(hold)
	env.venue.mu.Lock()
	env.venue.hold = hold
	env.venue.mu.Unlock()

	if err := b.startLoops(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.venue.marketCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.startLoops(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if b.Running() {
		t.Fatal("running after a refused restart")
	}
}

func TestStartChurn(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot
	ctx := context.Background()

	if err := b.StartChurn(ctx, ""); !errors.Is(err, ErrConfig) {
		t.Errorf("no symbol: err = %v, want ErrConfig", err)
	}
	if err := b.StartChurn(ctx, "ABC"); !errors.Is(err, venue.ErrNoAuth) {
		t.Errorf("no auth: err = %v, want ErrNoAuth", err)
	}

	b.run.Activate()
	defer b.run.Deactivate()
	if err := b.StartChurn(ctx, "ABC"); !errors.Is(err, ErrSniperActive) {
		t.Errorf("sniper running: err = %v, want ErrSniperActive", err)
	}
}

func TestSpawn_OneWorkerPerSymbol(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	b.mu.Lock()
	b.workers["ABC"] = worker.New("w0", "ABC", worker.Config{})
	b.mu.Unlock()

	b.spawn("ABC", decimal.NewFromInt(1))
	if n := b.ActiveWorkers(); n != 1 {
		t.Errorf("ActiveWorkers = %d, want 1", n)
	}
	if ws := b.Workers(); len(ws) != 1 || ws[0].ID != "w0" {
		t.Errorf("Workers = %+v", ws)
	}
}

func TestSpawn_FailedCloneReports(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	b.spawn("XYZ", decimal.NewFromInt(1))
	b.Wait()

	if n := b.ActiveWorkers(); n != 0 {
		t.Errorf("ActiveWorkers = %d after worker exit", n)
	}
	entries, err := env.journal.Recent(context.Background(), observability.EventWorkerReport, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "XYZ" || entries[0].Success {
		t.Fatalf("journal = %+v", entries)
	}
	if !strings.Contains(entries[0].Details, "clone profile") {
		t.Errorf("details = %s", entries[0].Details)
	}
}

func TestStatus(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot
	b.Client().SetCookie("session=abc")

	st := b.Status()
	if st.Running || st.Churn || st.BrowserAlive {
		t.Errorf("status = %+v", st)
	}
	if !st.Authed || st.Breaker != "closed" || st.Path != "auto" {
		t.Errorf("status = %+v", st)
	}
	if st.StartedAt != nil {
		t.Error("StartedAt set while stopped")
	}
}

func TestReload(t *testing.T) {
	env := newTestBot(t, nil)
	b := env.bot

	next := DefaultConfig()
	next.Sniper.BuyPercent = "20%"
	if err := b.Reload(next); err != nil {
		t.Fatal(err)
	}
	if got := b.BuyConfig().Percent; got != "20%" {
		t.Errorf("percent = %q", got)
	}

	// A file without sizing leaves the current one alone.
	if err := b.Reload(DefaultConfig()); err != nil {
		t.Fatal(err)
	}
	if got := b.BuyConfig().Percent; got != "20%" {
		t.Errorf("percent after empty reload = %q", got)
	}

	bad := DefaultConfig()
	bad.Sniper.BuyAmount = "-"
	if err := b.Reload(bad); !errors.Is(err, ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}
