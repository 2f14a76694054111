// Package dispatch drains the snipe queue: it sizes and executes each buy,
// then hands successful purchases to a worker.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/queue"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
)

// BuyFunc executes a buy.
type BuyFunc func(ctx context.Context, symbol string, amount decimal.Decimal) trade.Outcome

// Spawner starts a worker for a bought symbol. It must not block.
type Spawner func(symbol string, amount decimal.Decimal)

// Config configures a Dispatcher.
type Config struct {
	// Sizing returns the current buy sizing; it may change while running.
	Sizing func() Sizing
	// Balance returns the last known available balance.
	Balance func() decimal.Decimal
	Buy     BuyFunc
	Spawn   Spawner
	// MinAmount is the smallest buy attempted. Default: 1.
	MinAmount decimal.Decimal
	// Idle is the pause when the queue is empty. Default: 200ms.
	Idle time.Duration
	// Pause follows a panic inside one iteration. Default: 2s.
	Pause  time.Duration
	Logger *slog.Logger
	Status status.Emitter
}

func (c *Config) defaults() {
	if c.MinAmount.IsZero() {
		c.MinAmount = decimal.NewFromInt(1)
	}
	if c.Idle <= 0 {
		c.Idle = 200 * time.Millisecond
	}
	if c.Pause <= 0 {
		c.Pause = 2 * time.Second
	}
	if c.Balance == nil {
		c.Balance = func() decimal.Decimal { return decimal.Zero }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Status == nil {
		c.Status = status.Discard{}
	}
}

// Result describes what Step did with one queue entry.
type Result int

const (
	Idle Result = iota
	Skipped
	Bought
	Failed
)

// Dispatcher is the queue consumer. Run it from a single goroutine.
type Dispatcher struct {
	q   *queue.Queue
	run runstate.Lease
	cfg Config
}

// New creates a Dispatcher that runs for the activation run.
func New(q *queue.Queue, run runstate.Lease, cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{q: q, run: run, cfg: cfg}
}

// Step pops one symbol and buys it. It returns Idle when the queue is empty.
func (d *Dispatcher) Step(ctx context.Context) Result {
	sym, ok := d.q.Pop()
	if !ok {
		return Idle
	}
	out := status.Scoped{Out: d.cfg.Status, Source: "dispatch", Symbol: sym}
	log := d.cfg.Logger.With("component", "dispatch", "symbol", sym)

	var sizing Sizing
	if d.cfg.Sizing != nil {
		sizing = d.cfg.Sizing()
	}
	amount := sizing.Compute(d.cfg.Balance())
	if amount.LessThan(d.cfg.MinAmount) {
		log.Warn("dispatch: amount below minimum, skipped", "amount", amount.String(), "sizing", sizing.String())
		out.Warn(fmt.Sprintf("buy amount %s too small, skipping %s", amount, sym))
		return Skipped
	}

	out.Info(fmt.Sprintf("buying %s for %s", sym, amount))
	res := d.cfg.Buy(ctx, sym, amount)
	if !res.OK() {
		log.Warn("dispatch: buy failed", "amount", amount.String(), "reason", res.Reason)
		out.Error("buy failed: " + res.Reason)
		return Failed
	}
	log.Info("dispatch: bought", "amount", amount.String(), "outcome", res.Kind.String())
	out.Info(fmt.Sprintf("bought %s, starting worker", sym))
	if d.cfg.Spawn != nil {
		d.cfg.Spawn(sym, amount)
	}
	return Bought
}

// Run drains the queue until the run flag drops or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	log := d.cfg.Logger.With("component", "dispatch")
	for d.run.Active() && ctx.Err() == nil {
		res, ok := d.safeStep(ctx)
		if !ok {
			d.run.Sleep(ctx, d.cfg.Pause)
			continue
		}
		if res == Idle {
			d.run.Sleep(ctx, d.cfg.Idle)
		}
	}
	log.Info("dispatch: stopped", "pending", d.q.Len())
}

func (d *Dispatcher) safeStep(ctx context.Context) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.Logger.Error("dispatch: panic", "panic", r, "stack", string(debug.Stack()))
			status.Scoped{Out: d.cfg.Status, Source: "dispatch"}.Error(fmt.Sprintf("critical error: %v", r))
			ok = false
		}
	}()
	return d.Step(ctx), true
}
