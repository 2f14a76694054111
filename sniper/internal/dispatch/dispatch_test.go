package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/queue"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSizing_PercentOfBalance(t *testing.T) {
	pct, err := ParsePercent("25%")
	if err != nil {
		t.Fatal(err)
	}
	z := Sizing{Percent: pct}
	if got := z.Compute(dec("100")); !got.Equal(dec("25")) {
		t.Fatalf("Compute = %s, want 25", got)
	}
	if got := z.Compute(dec("99.9")); !got.Equal(dec("24")) {
		t.Fatalf("Compute floors: got %s, want 24", got)
	}
}

func TestSizing_FixedWins(t *testing.T) {
	z := Sizing{FixedAmount: dec("10.7"), Percent: dec("0.5")}
	if got := z.Compute(dec("1000")); !got.Equal(dec("10")) {
		t.Fatalf("Compute = %s, want 10", got)
	}
}

func TestSizing_Validate(t *testing.T) {
	if err := (Sizing{}).Validate(); !errors.Is(err, ErrNoSizing) {
		t.Fatalf("empty: %v", err)
	}
	if err := (Sizing{Percent: dec("1.5")}).Validate(); err == nil {
		t.Fatal("percent > 1 accepted")
	}
	if err := (Sizing{FixedAmount: dec("5")}).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestParsePercent(t *testing.T) {
	tests := map[string]string{"25%": "0.25", " 50 % ": "0.5", "100": "1", "": "0"}
	for in, want := range tests {
		got, err := ParsePercent(in)
		if err != nil || !got.Equal(dec(want)) {
			t.Errorf("ParsePercent(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	for _, bad := range []string{"abc%", "150%", "-1"} {
		if _, err := ParsePercent(bad); err == nil {
			t.Errorf("ParsePercent(%q) accepted", bad)
		}
	}
}

type recorder struct {
	mu      sync.Mutex
	buys    []string
	spawned []string
	outcome trade.Outcome
}

func (r *recorder) buy(_ context.Context, sym string, _ decimal.Decimal) trade.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buys = append(r.buys, sym)
	return r.outcome
}

func (r *recorder) spawn(sym string, _ decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawned = append(r.spawned, sym)
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.buys...), append([]string(nil), r.spawned...)
}

func newDispatcher(q *queue.Queue, run runstate.Lease, rec *recorder, z Sizing, balance string) *Dispatcher {
	return New(q, run, Config{
		Sizing:  func() Sizing { return z },
		Balance: func() decimal.Decimal { return dec(balance) },
		Buy:     rec.buy,
		Spawn:   rec.spawn,
		Idle:    time.Millisecond,
		Logger:  quiet,
	})
}

func TestStep_BelowMinimumNeverBuys(t *testing.T) {
	q := queue.New()
	q.Push("ABC")
	rec := &recorder{outcome: trade.Outcome{Kind: trade.Success}}
	d := newDispatcher(q, runstate.New().Lease(), rec, Sizing{Percent: dec("0.25")}, "3")

	if res := d.Step(context.Background()); res != Skipped {
		t.Fatalf("Step = %v, want Skipped", res)
	}
	if buys, _ := rec.snapshot(); len(buys) != 0 {
		t.Fatalf("buy called: %v", buys)
	}
	if d.Step(context.Background()) != Idle {
		t.Fatal("queue should be empty")
	}
}

func TestStep_SpawnOnlyOnSuccess(t *testing.T) {
	q := queue.New()
	q.Push("A")
	q.Push("B")
	rec := &recorder{outcome: trade.Outcome{Kind: trade.Indeterminate}}
	d := newDispatcher(q, runstate.New().Lease(), rec, Sizing{FixedAmount: dec("5")}, "0")

	if res := d.Step(context.Background()); res != Bought {
		t.Fatalf("Step = %v, want Bought", res)
	}
	rec.outcome = trade.Outcome{Kind: trade.Failure, Reason: "nope"}
	if res := d.Step(context.Background()); res != Failed {
		t.Fatalf("Step = %v, want Failed", res)
	}
	buys, spawned := rec.snapshot()
	if !reflect.DeepEqual(buys, []string{"A", "B"}) || !reflect.DeepEqual(spawned, []string{"A"}) {
		t.Fatalf("buys=%v spawned=%v", buys, spawned)
	}
}

func TestRun_DrainsInOrderAndSurvivesPanic(t *testing.T) {
	q := queue.New()
	for _, s := range []string{"A", "PANIC", "B", "C"} {
		q.Push(s)
	}
	run := runstate.New()
	run.Activate()
	rec := &recorder{outcome: trade.Outcome{Kind: trade.Success}}
	d := New(q, run.Lease(), Config{
		Sizing: func() Sizing { return Sizing{FixedAmount: dec("2")} },
		Buy: func(ctx context.Context, sym string, amt decimal.Decimal) trade.Outcome {
			if sym == "PANIC" {
				panic("boom")
			}
			return rec.buy(ctx, sym, amt)
		},
		Spawn:  rec.spawn,
		Idle:   time.Millisecond,
		Pause:  time.Millisecond,
		Logger: quiet,
	})

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, sp := rec.snapshot(); len(sp) == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	run.Deactivate()
	<-done

	if _, spawned := rec.snapshot(); !reflect.DeepEqual(spawned, []string{"A", "B", "C"}) {
		t.Fatalf("spawned = %v", spawned)
	}
}

func TestRun_RestartRetiresPreviousDispatcher(t *testing.T) {
	run := runstate.New()
	run.Activate()
	q := queue.New()
	q.Push("A")

	inBuy := make(chan struct{})
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		buys []string
	)
	d := New(q, run.Lease(), Config{
		Sizing: func() Sizing { return Sizing{FixedAmount: dec("2")} },
		Buy: func(_ context.Context, sym string, _ decimal.Decimal) trade.Outcome {
			mu.Lock()
			buys = append(buys, sym)
			mu.Unlock()
			if sym == "A" {
				close(inBuy)
				<-release
			}
			return trade.Outcome{Kind: trade.Success}
		},
		Idle:   time.Millisecond,
		Logger: quiet,
	})
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	<-inBuy

	run.Deactivate()
	run.Activate()
	q.Push("B")
	close(release)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("dispatcher kept running under the next activation")
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(buys, []string{"A"}) {
		t.Fatalf("buys = %v, want [A]", buys)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	run.Deactivate()
}
