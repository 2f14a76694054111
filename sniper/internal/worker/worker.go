// Package worker owns one bought asset from purchase to exit: it watches for
// a new holder, then sells in a bounded loop on an isolated browser session,
// and always releases that session and its profile clone.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/panel"
	"github.com/hazyhaar/snipebot/sniper/internal/recovery"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Surface is the asset page of the worker's session.
type Surface interface {
	panel.Surface
	Submit(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) (string, error)
}

// Sessions provides isolated browser sessions on profile clones.
type Sessions interface {
	Clone(ctx context.Context, workerID string) (string, error)
	Open(ctx context.Context, profile string) (Surface, error)
	// Close terminates a session. It must accept nil.
	Close(s Surface)
	// Destroy removes a profile clone. It must accept "" and never fail.
	Destroy(profile string)
}

// HolderCounter returns the number of holders of an asset.
type HolderCounter interface {
	HolderCount(ctx context.Context, symbol string) (int, error)
}

// Seller executes a trade on a surface.
type Seller interface {
	Execute(ctx context.Context, surf trade.Surface, symbol string, side venue.Side, amount decimal.Decimal, path trade.Path) trade.Outcome
}

// Config configures workers.
type Config struct {
	Sessions Sessions
	Holders  HolderCounter
	Seller   Seller
	// Run is the bot flag. Dropping it ends monitoring early; the sell loop
	// still runs to completion.
	Run *runstate.State

	// MonitorDuration bounds the wait for a new holder. Default: 180s.
	MonitorDuration time.Duration
	// PollInterval between holder counts. Default: 1s.
	PollInterval time.Duration
	// PreSellPause precedes the mandatory recovery. Default: 1s.
	PreSellPause time.Duration
	// SellPause follows a successful pool-limited sale. Default: 1s.
	SellPause time.Duration
	// MaxAttempts bounds the sell loop. Default: 10.
	MaxAttempts int
	// Fraction of a plain available balance sold per attempt. Default: 0.80.
	Fraction decimal.Decimal

	// OnState observes every state transition.
	OnState func(workerID string, s State)
	// OnReport receives the final report.
	OnReport func(ctx context.Context, r Report)
	Logger   *slog.Logger
	Status   status.Emitter
}

func (c *Config) defaults() {
	if c.MonitorDuration <= 0 {
		c.MonitorDuration = 180 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PreSellPause <= 0 {
		c.PreSellPause = time.Second
	}
	if c.SellPause <= 0 {
		c.SellPause = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Fraction.IsZero() {
		c.Fraction = panel.LiquidationFraction
	}
	if c.Run == nil {
		c.Run = runstate.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Status == nil {
		c.Status = status.Discard{}
	}
}

// Report summarises one worker run.
type Report struct {
	WorkerID string `json:"worker_id"`
	Symbol   string `json:"symbol"`
	// FinalState is the last state reached before termination.
	FinalState State           `json:"final_state"`
	NewHolder  bool            `json:"new_holder"`
	Attempts   int             `json:"attempts"`
	Sold       decimal.Decimal `json:"sold"`
	Exited     bool            `json:"exited"`
	Reason     string          `json:"reason,omitempty"`
	Took       time.Duration   `json:"took"`
}

// Worker handles one symbol. Create it with New and call Run once.
type Worker struct {
	id     string
	symbol string
	cfg    Config
	log    *slog.Logger
	out    status.Scoped

	mu    sync.Mutex
	state State
}

// New creates a worker for symbol.
func New(id, symbol string, cfg Config) *Worker {
	cfg.defaults()
	return &Worker{
		id:     id,
		symbol: symbol,
		cfg:    cfg,
		log:    cfg.Logger.With("worker", id, "symbol", symbol),
		out:    status.Scoped{Out: cfg.Status, Source: "worker-" + id, Symbol: symbol},
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Symbol returns the asset handled.
func (w *Worker) Symbol() string { return w.symbol }

// State returns the current state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) enter(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.log.Debug("worker: state", "state", s.String())
	if w.cfg.OnState != nil {
		w.cfg.OnState(w.id, s)
	}
}

// Run drives the lifecycle to termination. The session is closed and the
// profile clone destroyed exactly once, whatever path ends the run.
func (w *Worker) Run(ctx context.Context) (rep Report) {
	start := time.Now()
	rep = Report{WorkerID: w.id, Symbol: w.symbol, Sold: decimal.Zero}

	var (
		profile string
		sess    Surface
	)
	defer func() {
		rep.FinalState = w.State()
		w.cfg.Sessions.Close(sess)
		w.cfg.Sessions.Destroy(profile)
		w.enter(Terminated)
		rep.Took = time.Since(start)
		w.log.Info("worker: terminated", "final_state", rep.FinalState.String(), "attempts", rep.Attempts,
			"sold", rep.Sold.String(), "exited", rep.Exited, "reason", rep.Reason)
		if w.cfg.OnReport != nil {
			w.cfg.OnReport(ctx, rep)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker: panic", "panic", r, "stack", string(debug.Stack()))
			w.out.Error(fmt.Sprintf("critical error: %v", r))
			rep.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	w.enter(Initializing)
	w.out.Info("starting isolated session")
	var err error
	profile, err = w.cfg.Sessions.Clone(ctx, w.id)
	if err != nil {
		return w.abort(&rep, "clone profile", err)
	}
	sess, err = w.cfg.Sessions.Open(ctx, profile)
	if err != nil {
		return w.abort(&rep, "open session", err)
	}
	if err := sess.EnsureAsset(ctx, w.symbol); err != nil {
		w.log.Warn("worker: initial navigation failed", "error", err)
	}

	rep.NewHolder = w.monitor(ctx)

	sleepCtx(ctx, w.cfg.PreSellPause)
	w.enter(Recovering)
	if !recovery.Recover(ctx, sess, w.symbol, "pre-sell", w.log) {
		rep.Reason = "pre-sell recovery failed"
		w.out.Error("recovery failed, giving up")
		return rep
	}

	w.sell(ctx, sess, &rep)
	return rep
}

func (w *Worker) abort(rep *Report, step string, err error) Report {
	rep.Reason = step + ": " + err.Error()
	w.log.Error("worker: "+step+" failed", "error", err)
	w.out.Error(step + " failed")
	return *rep
}

// monitor waits for the holder count to exceed the post-purchase baseline.
// It reports whether a new holder was seen.
func (w *Worker) monitor(ctx context.Context) bool {
	w.enter(Monitoring)
	baseline, err := w.cfg.Holders.HolderCount(ctx, w.symbol)
	if err != nil {
		w.log.Warn("worker: baseline holders unavailable, skipping monitoring", "error", err)
		w.out.Warn("could not read holders, selling now")
		return false
	}
	target := baseline + 1
	w.out.Info(fmt.Sprintf("waiting for holder %d", target))

	polls := int(w.cfg.MonitorDuration / w.cfg.PollInterval)
	for i := 0; i < polls; i++ {
		if !w.cfg.Run.Sleep(ctx, w.cfg.PollInterval) {
			w.log.Info("worker: monitoring interrupted")
			return false
		}
		n, err := w.cfg.Holders.HolderCount(ctx, w.symbol)
		if err != nil {
			w.log.Debug("worker: holder poll failed", "error", err)
			continue
		}
		if n >= target {
			w.log.Info("worker: new holder", "holders", n)
			w.out.Info("new holder detected, selling")
			return true
		}
	}
	w.out.Info("no new holder, selling anyway")
	return false
}

// sell runs the bounded liquidation loop on the already loaded page.
func (w *Worker) sell(ctx context.Context, sess Surface, rep *Report) {
	w.enter(Selling)
	one := decimal.NewFromInt(1)

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		rep.Attempts = attempt
		w.enter(AttemptingSell)
		log := w.log.With("attempt", attempt)

		reading, err := panel.ReadLoaded(ctx, sess)
		if err != nil {
			if !w.recoverAfter(ctx, sess, rep, "read panel: "+err.Error()) {
				return
			}
			continue
		}

		amount := panel.Liquidation(reading, w.cfg.Fraction)
		if !reading.PoolLimited && amount.LessThan(one) {
			log.Info("worker: remaining balance is dust", "available", reading.Available.String())
			rep.Exited = true
			rep.Reason = "dust"
			return
		}
		if !amount.IsPositive() {
			if !w.recoverAfter(ctx, sess, rep, "nothing sellable in pool") {
				return
			}
			continue
		}

		w.out.Info(fmt.Sprintf("selling %s (attempt %d/%d)", amount, attempt, w.cfg.MaxAttempts))
		out := w.cfg.Seller.Execute(ctx, sess, w.symbol, venue.Sell, amount, trade.PathUI)
		if out.OK() {
			rep.Sold = rep.Sold.Add(amount)
			if reading.PoolLimited {
				log.Info("worker: pool-limited sale done, more may remain", "amount", amount.String())
				sleepCtx(ctx, w.cfg.SellPause)
				continue
			}
			rep.Exited = true
			rep.Reason = ""
			w.out.Info("sold out")
			return
		}
		if !w.recoverAfter(ctx, sess, rep, out.Reason) {
			return
		}
	}
	rep.Reason = fmt.Sprintf("gave up after %d attempts", w.cfg.MaxAttempts)
	w.out.Warn(rep.Reason)
}

func (w *Worker) recoverAfter(ctx context.Context, sess Surface, rep *Report, reason string) bool {
	w.out.Warn("sell attempt failed: " + reason)
	w.enter(Recovering)
	if recovery.Recover(ctx, sess, w.symbol, reason, w.log) {
		return true
	}
	rep.Reason = "recovery failed after: " + reason
	w.out.Error("recovery failed, giving up")
	return false
}

// sleepCtx pauses for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
