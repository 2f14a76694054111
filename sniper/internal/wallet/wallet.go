// Package wallet keeps the last known balance and holdings of the
// authenticated account. Readers get a snapshot that may be slightly stale.
package wallet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Snapshot is the account state at UpdatedAt.
type Snapshot struct {
	Balance        decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Currency       string          `json:"currency"`
	Holdings       []venue.Holding `json:"holdings"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Source fetches the portfolio.
type Source interface {
	Portfolio(ctx context.Context) (venue.Portfolio, error)
}

// Config configures a Wallet.
type Config struct {
	// Timeout bounds each refresh. Default: 15s.
	Timeout time.Duration
	// OnSessionInvalid runs when the venue answers with HTML instead of
	// JSON. The bot reloads the main page from it.
	OnSessionInvalid func()
	Logger           *slog.Logger
}

// Wallet caches the portfolio.
type Wallet struct {
	src  Source
	cfg  Config
	snap atomic.Pointer[Snapshot]

	inflight atomic.Bool
	pending  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Wallet with an empty snapshot.
func New(src Source, cfg Config) *Wallet {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Wallet{src: src, cfg: cfg}
	w.snap.Store(&Snapshot{})
	return w
}

// Snapshot returns the last stored state.
func (w *Wallet) Snapshot() Snapshot { return *w.snap.Load() }

// Refresh fetches the portfolio and stores it.
func (w *Wallet) Refresh(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	p, err := w.src.Portfolio(ctx)
	if err != nil {
		if errors.Is(err, venue.ErrSessionInvalid) && w.cfg.OnSessionInvalid != nil {
			w.cfg.Logger.Warn("wallet: session invalid, reloading", "error", err)
			w.cfg.OnSessionInvalid()
		}
		return w.Snapshot(), err
	}
	s := &Snapshot{
		Balance:        p.Balance,
		PortfolioValue: p.TotalCoinValue,
		Currency:       p.Currency,
		Holdings:       p.Holdings,
		UpdatedAt:      time.Now(),
	}
	w.snap.Store(s)
	w.cfg.Logger.Debug("wallet: refreshed", "balance", s.Balance.String(), "holdings", len(s.Holdings))
	return *s, nil
}

// RefreshAsync refreshes in the background. Calls made while a refresh is
// running are folded into one follow-up refresh.
func (w *Wallet) RefreshAsync() {
	if !w.inflight.CompareAndSwap(false, true) {
		w.pending.Store(true)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			if _, err := w.Refresh(context.Background()); err != nil {
				w.cfg.Logger.Warn("wallet: refresh failed", "error", err)
			}
			if w.pending.Swap(false) {
				continue
			}
			w.inflight.Store(false)
			if !w.pending.Load() || !w.inflight.CompareAndSwap(false, true) {
				return
			}
			w.pending.Store(false)
		}
	}()
}

// Wait blocks until background refreshes are done.
func (w *Wallet) Wait() { w.wg.Wait() }
