// Package panel reads the sell panel of an asset page and turns it into a
// sell amount.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/recovery"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// ErrNoMarker is returned when the panel text carries neither a pool cap
// nor an available balance.
var ErrNoMarker = errors.New("panel: no sellable amount on page")

// Fractions applied to a plain available balance.
var (
	// LiquidationFraction is the worker's fixed share of the balance sold per attempt.
	LiquidationFraction = decimal.NewFromFloat(0.80)
	// RandomMin and RandomMax bound the opportunistic sell fraction.
	RandomMin = 0.20
	RandomMax = 0.95
)

// Reading is one parse of the sell panel. When PoolLimited is set the pool's
// liquidity caps the sale at MaxSellable; otherwise the holder's Available
// balance does.
type Reading struct {
	PoolLimited bool            `json:"pool_limited"`
	MaxSellable decimal.Decimal `json:"max_sellable"`
	Available   decimal.Decimal `json:"available"`
}

// Parse extracts the reading from panel text. "Max sellable" takes priority
// over "Available". Amounts may carry thousands separators.
func Parse(text string) (Reading, error) {
	fields := strings.Fields(text)
	lower := strings.ToLower(text)

	if strings.Contains(lower, "max sellable") {
		amt, err := amountAfter(fields, "sellable:")
		if err != nil {
			return Reading{}, fmt.Errorf("panel: max sellable: %w", err)
		}
		return Reading{PoolLimited: true, MaxSellable: amt}, nil
	}
	if strings.Contains(lower, "available") {
		amt, err := amountAfter(fields, "available:")
		if err != nil {
			return Reading{}, fmt.Errorf("panel: available: %w", err)
		}
		return Reading{Available: amt}, nil
	}
	return Reading{}, ErrNoMarker
}

func amountAfter(fields []string, marker string) (decimal.Decimal, error) {
	for i, f := range fields {
		if !strings.EqualFold(f, marker) || i+1 >= len(fields) {
			continue
		}
		raw := strings.ReplaceAll(fields[i+1], ",", "")
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse %q: %w", fields[i+1], err)
		}
		return amt, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no value after %q", ErrNoMarker, marker)
}

// Liquidation is the worker's sell rule: the whole pool cap when limited,
// otherwise floor(available × fraction).
func Liquidation(r Reading, fraction decimal.Decimal) decimal.Decimal {
	if r.PoolLimited {
		return r.MaxSellable
	}
	return r.Available.Mul(fraction).Floor()
}

// Surface is the part of the asset page the scraper drives.
type Surface interface {
	recovery.Surface
	SelectTab(ctx context.Context, side venue.Side) error
	PanelText(ctx context.Context) (string, error)
}

// Scraper reads the sell panel after a forced reload.
type Scraper struct {
	// Rand returns a uniform value in [0,1). Default: math/rand/v2.
	Rand   func() float64
	Logger *slog.Logger
}

// NewScraper returns a Scraper using the global random source.
func NewScraper(logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{Rand: rand.Float64, Logger: logger}
}

// Read reloads the asset page without cache, selects the sell tab and
// parses the panel. A surface that is also a sync.Locker is held for the
// whole sequence.
func (s *Scraper) Read(ctx context.Context, surf Surface, symbol string) (Reading, error) {
	if l, ok := surf.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	if err := recovery.Reload(ctx, surf, symbol); err != nil {
		return Reading{}, fmt.Errorf("panel: %w", err)
	}
	return ReadLoaded(ctx, surf)
}

// ReadLoaded selects the sell tab of an already loaded page and parses it.
func ReadLoaded(ctx context.Context, surf Surface) (Reading, error) {
	if err := surf.SelectTab(ctx, venue.Sell); err != nil {
		return Reading{}, err
	}
	text, err := surf.PanelText(ctx)
	if err != nil {
		return Reading{}, err
	}
	return Parse(text)
}

// SellAmount returns the opportunistic sell size for symbol: the pool cap
// verbatim, or a random fraction in [RandomMin, RandomMax) of the available
// balance, floored. Any failure yields zero.
func (s *Scraper) SellAmount(ctx context.Context, surf Surface, symbol string) decimal.Decimal {
	r, err := s.Read(ctx, surf, symbol)
	if err != nil {
		s.Logger.Warn("panel: could not read sellable amount", "symbol", symbol, "error", err)
		return decimal.Zero
	}
	if r.PoolLimited {
		s.Logger.Info("panel: pool limited", "symbol", symbol, "max_sellable", r.MaxSellable)
		return r.MaxSellable
	}
	frac := RandomMin + s.Rand()*(RandomMax-RandomMin)
	amt := r.Available.Mul(decimal.NewFromFloat(frac)).Floor()
	s.Logger.Info("panel: random sell", "symbol", symbol, "available", r.Available, "fraction", frac, "amount", amt)
	return amt
}
