// Package churn alternates small random buys and sells on one asset while
// its own run flag is set.
package churn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/horosafe"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

var (
	// ErrRunning is returned by Start when the loop already runs.
	ErrRunning = errors.New("churn: already running")
	// ErrNoSymbol is returned by Start without a configured symbol.
	ErrNoSymbol = errors.New("churn: no symbol selected")
)

var (
	one       = decimal.NewFromInt(1)
	buyShare  = decimal.NewFromFloat(0.80)
	randomMin = 0.20
	randomMax = 0.95
)

// Config configures the churn loop.
type Config struct {
	// MaxBuy caps a single buy. Default: 10.
	MaxBuy decimal.Decimal
	// Interval between trades. Default: 1s.
	Interval time.Duration
	// Pause after an unexpected error. Default: 2s.
	Pause time.Duration

	// Ready reports whether trading is possible (session cookie captured,
	// browser open). A non-nil error stops the loop.
	Ready func() error
	// Balance returns the last known available balance.
	Balance func() decimal.Decimal
	// Trade executes through the API.
	Trade func(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) trade.Outcome
	// SellAmount scrapes the sell panel for an opportunistic sell size.
	SellAmount func(ctx context.Context, symbol string) decimal.Decimal
	// Rand returns a uniform value in [0,1). Default: math/rand/v2.
	Rand   func() float64
	Logger *slog.Logger
	Status status.Emitter
}

func (c *Config) defaults() {
	if !c.MaxBuy.IsPositive() {
		c.MaxBuy = decimal.NewFromInt(10)
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Pause <= 0 {
		c.Pause = 2 * time.Second
	}
	if c.Ready == nil {
		c.Ready = func() error { return nil }
	}
	if c.Balance == nil {
		c.Balance = func() decimal.Decimal { return decimal.Zero }
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Status == nil {
		c.Status = status.Discard{}
	}
}

// Bot is the churn loop.
type Bot struct {
	cfg Config
	run *runstate.State
	out status.Scoped

	mu       sync.Mutex
	symbol   string
	next     venue.Side
	loopDone chan struct{} // closed when the last loop returned
}

// New creates a stopped churn bot.
func New(cfg Config) *Bot {
	cfg.defaults()
	return &Bot{
		cfg:  cfg,
		run:  runstate.New(),
		out:  status.Scoped{Out: cfg.Status, Source: "churn"},
		next: venue.Buy,
	}
}

// Active reports whether the loop runs.
func (b *Bot) Active() bool { return b.run.Active() }

// Symbol returns the asset being churned.
func (b *Bot) Symbol() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbol
}

// SetMaxBuy changes the buy cap.
func (b *Bot) SetMaxBuy(v decimal.Decimal) {
	if !v.IsPositive() {
		return
	}
	b.mu.Lock()
	b.cfg.MaxBuy = v
	b.mu.Unlock()
}

// Start validates the symbol and readiness, then runs the loop in the
// background. The first trade is a buy.
func (b *Bot) Start(ctx context.Context, symbol string) error {
	if symbol == "" {
		return ErrNoSymbol
	}
	if err := horosafe.ValidateIdentifier(symbol); err != nil {
		return fmt.Errorf("churn: %w", err)
	}
	if err := b.cfg.Ready(); err != nil {
		return fmt.Errorf("churn: not ready: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loopDone != nil {
		select {
		case <-b.loopDone:
		default:
			// the previous loop is still finishing its trade
			return ErrRunning
		}
	}
	if !b.run.Activate() {
		return ErrRunning
	}
	lease := b.run.Lease()
	b.symbol = symbol
	b.next = venue.Buy
	done := make(chan struct{})
	b.loopDone = done

	b.out.Info("churn started on " + symbol)
	go func() {
		defer close(done)
		b.loop(ctx, lease)
	}()
	return nil
}

// Stop drops the run flag. The current trade finishes.
func (b *Bot) Stop() {
	if b.run.Active() {
		b.out.Info("churn stopped")
	}
	b.run.Deactivate()
}

// Wait blocks until the loop has exited.
func (b *Bot) Wait() {
	b.mu.Lock()
	done := b.loopDone
	b.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (b *Bot) loop(ctx context.Context, lease runstate.Lease) {
	log := b.cfg.Logger.With("component", "churn")
	for lease.Active() && ctx.Err() == nil {
		if err := b.cfg.Ready(); err != nil {
			log.Warn("churn: not ready, stopping", "error", err)
			b.out.Error("session or browser not ready, stopping churn")
			b.run.End(lease)
			return
		}
		if err := b.safeStep(ctx); err != nil {
			log.Error("churn: step failed", "error", err)
			b.out.Error("critical error: " + err.Error())
			lease.Sleep(ctx, b.cfg.Pause)
			continue
		}
		lease.Sleep(ctx, b.cfg.Interval)
	}
	log.Info("churn: stopped")
}

func (b *Bot) safeStep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("churn: panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = b.Step(ctx)
	return err
}

// Step performs one trade in the current direction and flips it. It returns
// the outcome, or nil when the computed amount was too small to trade.
func (b *Bot) Step(ctx context.Context) (*trade.Outcome, error) {
	b.mu.Lock()
	side, symbol, maxBuy := b.next, b.symbol, b.cfg.MaxBuy
	if side == venue.Buy {
		b.next = venue.Sell
	} else {
		b.next = venue.Buy
	}
	b.mu.Unlock()

	var amount decimal.Decimal
	if side == venue.Buy {
		amount = BuyAmount(b.cfg.Balance(), maxBuy, b.cfg.Rand())
	} else {
		if b.cfg.SellAmount == nil {
			return nil, errors.New("no sell scraper configured")
		}
		amount = b.cfg.SellAmount(ctx, symbol)
	}
	if !amount.IsPositive() {
		b.cfg.Logger.Debug("churn: nothing to trade", "side", string(side), "symbol", symbol)
		return nil, nil
	}
	if b.cfg.Trade == nil {
		return nil, errors.New("no trade function configured")
	}
	out := b.cfg.Trade(ctx, symbol, side, amount)
	if out.OK() {
		b.out.Info(fmt.Sprintf("%s %s %s", side, amount, symbol))
	} else {
		b.out.Warn(fmt.Sprintf("%s %s failed: %s", side, symbol, out.Reason))
	}
	return &out, nil
}

// BuyAmount sizes a churn buy: with balance > 1, cap = min(balance × 0.80,
// maxBuy); if cap > 1 the amount is floor(cap × (0.20 + r × 0.75)).
func BuyAmount(balance, maxBuy decimal.Decimal, r float64) decimal.Decimal {
	if !balance.GreaterThan(one) {
		return decimal.Zero
	}
	limit := decimal.Min(balance.Mul(buyShare), maxBuy)
	if !limit.GreaterThan(one) {
		return decimal.Zero
	}
	frac := randomMin + r*(randomMax-randomMin)
	return limit.Mul(decimal.NewFromFloat(frac)).Floor()
}
