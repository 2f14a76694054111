package sniper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/observability"
	"github.com/hazyhaar/snipebot/sniper/internal/dispatch"
	"github.com/hazyhaar/snipebot/sniper/internal/scanner"
	"github.com/hazyhaar/snipebot/sniper/internal/trade"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
	"github.com/hazyhaar/snipebot/sniper/internal/worker"
)

// BuyConfig is the sniper's buy sizing as exposed to the control surface.
// Amount wins over Percent ("25%").
type BuyConfig struct {
	Amount  string `json:"amount"`
	Percent string `json:"percent"`
}

func parseSizing(amount, percent string) (dispatch.Sizing, error) {
	var z dispatch.Sizing
	if amount != "" {
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return z, fmt.Errorf("buy amount %q: %w", amount, err)
		}
		z.FixedAmount = v
	}
	pct, err := dispatch.ParsePercent(percent)
	if err != nil {
		return z, err
	}
	z.Percent = pct
	return z, nil
}

// Sizing returns the current buy sizing.
func (b *Bot) Sizing() dispatch.Sizing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizing
}

// BuyConfig returns the current buy sizing in its textual form.
func (b *Bot) BuyConfig() BuyConfig {
	z := b.Sizing()
	var bc BuyConfig
	if z.FixedAmount.IsPositive() {
		bc.Amount = z.FixedAmount.String()
	}
	if z.Percent.IsPositive() {
		bc.Percent = z.Percent.Mul(decimal.NewFromInt(100)).String() + "%"
	}
	return bc
}

// SetBuy replaces the buy sizing. It takes effect on the next dispatch,
// including while the sniper runs.
func (b *Bot) SetBuy(bc BuyConfig) error {
	z, err := parseSizing(bc.Amount, bc.Percent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := z.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	b.mu.Lock()
	b.sizing = z
	b.mu.Unlock()
	b.out.Info("buy size set to " + z.String())
	return nil
}

// Reload applies the settings of cfg that can change while running: the
// buy sizing and the churn budget. Everything else needs a restart.
func (b *Bot) Reload(cfg *Config) error {
	if cfg.Sniper.BuyAmount != "" || cfg.Sniper.BuyPercent != "" {
		if err := b.SetBuy(BuyConfig{Amount: cfg.Sniper.BuyAmount, Percent: cfg.Sniper.BuyPercent}); err != nil {
			return err
		}
	}
	b.churn.SetMaxBuy(decimal.NewFromFloat(cfg.Churn.MaxBuy))
	return nil
}

// Running reports whether the sniper loops run.
func (b *Bot) Running() bool { return b.run.Active() }

// Start validates the configuration and launches the scanner and the
// dispatcher. Nothing is spawned when validation fails.
func (b *Bot) Start(ctx context.Context) error {
	if _, err := b.baseContext(); err != nil {
		return err
	}
	if b.churn.Active() {
		return ErrChurnActive
	}
	if err := b.Sizing().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if !b.mgr.Alive() {
		return fmt.Errorf("%w: %v", ErrConfig, ErrNoBrowser)
	}
	return b.startLoops(ctx)
}

// startLoops runs one scanner and one dispatcher. After a Stop it first
// waits for the loops of the previous run to return, so the queue never has
// more than one producer and one consumer.
func (b *Bot) startLoops(ctx context.Context) error {
	base, err := b.baseContext()
	if err != nil {
		return err
	}
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.run.Active() {
		return ErrAlreadyRunning
	}
	b.mu.Lock()
	prev := b.loopsDone
	b.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !b.run.Activate() {
		return ErrAlreadyRunning
	}
	lease := b.run.Lease()

	b.queue.Reset()
	done := make(chan struct{})
	b.mu.Lock()
	b.started = time.Now()
	b.loopsDone = done
	b.mu.Unlock()

	sc := scanner.New(b.client, b.queue, lease, scanner.Config{
		Interval: b.cfg.Sniper.ScanInterval,
		Backoff:  b.cfg.Sniper.ScanBackoff,
		NoPrime:  b.cfg.Sniper.NoPrime,
		Logger:   b.logger,
		Status:   b.hub,
	})
	dp := dispatch.New(b.queue, lease, dispatch.Config{
		Sizing:    b.Sizing,
		Balance:   func() decimal.Decimal { return b.wallet.Snapshot().Balance },
		Buy:       b.buy,
		Spawn:     b.spawn,
		MinAmount: decimal.NewFromFloat(b.cfg.Sniper.MinAmount),
		Idle:      b.cfg.Sniper.DispatchIdle,
		Logger:    b.logger,
		Status:    b.hub,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc.Run(base)
	}()
	go func() {
		defer wg.Done()
		dp.Run(base)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	b.logger.Info("sniper: started", "sizing", b.Sizing().String(), "path", string(b.path))
	b.out.Info("sniper started, buy size " + b.Sizing().String())
	b.journal.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
		EventType:   observability.EventSniper,
		ServiceName: serviceName,
		Action:      "start",
		Details:     fmt.Sprintf(`{"sizing":%q,"path":%q}`, b.Sizing().String(), b.path),
		Success:     true,
	})
	return nil
}

// Stop drops the run flag. The scanner and dispatcher exit at their next
// check; running workers finish their sell loop.
func (b *Bot) Stop() {
	if !b.run.Active() {
		return
	}
	b.run.Deactivate()
	b.logger.Info("sniper: stopping", "workers", b.ActiveWorkers())
	b.out.Info("sniper stopped")
	b.journal.LogEvent(context.Background(), observability.BusinessEvent{
		EventType:   observability.EventSniper,
		ServiceName: serviceName,
		Action:      "stop",
		Success:     true,
	})
}

// Wait blocks until the scanner, the dispatcher and every worker returned.
func (b *Bot) Wait() {
	b.mu.Lock()
	done := b.loopsDone
	b.mu.Unlock()
	if done != nil {
		<-done
	}
	b.workerWG.Wait()
}

func (b *Bot) buy(ctx context.Context, symbol string, amount decimal.Decimal) trade.Outcome {
	return b.exec.Execute(ctx, b.mainSurface(), symbol, venue.Buy, amount, b.path)
}

// spawn starts the worker for symbol unless one already runs for it.
func (b *Bot) spawn(symbol string, _ decimal.Decimal) {
	base, err := b.baseContext()
	if err != nil {
		b.logger.Error("sniper: spawn without open bot", "symbol", symbol)
		return
	}

	b.mu.Lock()
	if _, busy := b.workers[symbol]; busy {
		b.mu.Unlock()
		b.logger.Warn("sniper: worker already running", "symbol", symbol)
		b.out.Warn("worker for " + symbol + " already running")
		return
	}
	w := worker.New(b.workerIDs(), symbol, worker.Config{
		Sessions:        &workerSessions{mgr: b.mgr, headless: !b.cfg.Browser.WorkerHeadful},
		Holders:         b.client,
		Seller:          b.exec,
		Run:             b.run,
		MonitorDuration: b.cfg.Worker.MonitorDuration,
		PollInterval:    b.cfg.Worker.PollInterval,
		PreSellPause:    b.cfg.Worker.PreSellPause,
		SellPause:       b.cfg.Worker.SellPause,
		MaxAttempts:     b.cfg.Worker.MaxAttempts,
		Fraction:        decimal.NewFromFloat(b.cfg.Worker.Fraction),
		OnReport:        b.recordReport,
		Logger:          b.logger,
		Status:          b.hub,
	})
	b.workers[symbol] = w
	b.workerWG.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.workerWG.Done()
		defer func() {
			b.mu.Lock()
			delete(b.workers, symbol)
			b.mu.Unlock()
		}()
		w.Run(base)
	}()
}

// WorkerStatus describes one running worker.
type WorkerStatus struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	State  string `json:"state"`
}

// Workers lists running workers ordered by symbol.
func (b *Bot) Workers() []WorkerStatus {
	b.mu.Lock()
	out := make([]WorkerStatus, 0, len(b.workers))
	for _, w := range b.workers {
		out = append(out, WorkerStatus{ID: w.ID(), Symbol: w.Symbol(), State: w.State().String()})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
