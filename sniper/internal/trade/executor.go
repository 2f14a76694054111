package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hazyhaar/snipebot/sniper/internal/page"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Path selects how a trade is executed.
type Path string

const (
	// PathAuto uses the API when a session cookie is available, the page otherwise.
	PathAuto Path = "auto"
	PathAPI  Path = "api"
	PathUI   Path = "ui"
)

// ParsePath accepts "", "auto", "api" and "ui".
func ParsePath(s string) (Path, error) {
	switch Path(s) {
	case "", PathAuto:
		return PathAuto, nil
	case PathAPI, PathUI:
		return Path(s), nil
	}
	return "", fmt.Errorf("trade: unknown path %q", s)
}

// API is the venue client as the executor uses it.
type API interface {
	HasAuth() bool
	Trade(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) (venue.Receipt, error)
}

// Surface is the asset page as the UI path drives it.
type Surface interface {
	EnsureAsset(ctx context.Context, symbol string) error
	SelectTab(ctx context.Context, side venue.Side) error
	Submit(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) (string, error)
}

// Record describes one finished execution, handed to OnOutcome.
type Record struct {
	Symbol  string
	Side    venue.Side
	Amount  decimal.Decimal
	Outcome Outcome
	Took    time.Duration
}

// Config configures an Executor.
type Config struct {
	API API
	// OnSuccess runs after every Success or Indeterminate outcome. It must
	// not block; the wallet's asynchronous refresh is the usual hook.
	OnSuccess func()
	// OnOutcome runs after every execution.
	OnOutcome func(ctx context.Context, rec Record)
	Logger    *slog.Logger
}

// Executor runs trades.
type Executor struct {
	cfg Config
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{cfg: cfg}
}

// Resolve returns the concrete path PathAuto maps to right now.
func (e *Executor) Resolve(path Path) Path {
	if path != PathAuto && path != "" {
		return path
	}
	if e.cfg.API != nil && e.cfg.API.HasAuth() {
		return PathAPI
	}
	return PathUI
}

// Execute buys or sells amount of symbol. surf is only needed for the UI
// path and may be nil otherwise.
func (e *Executor) Execute(ctx context.Context, surf Surface, symbol string, side venue.Side, amount decimal.Decimal, path Path) Outcome {
	start := time.Now()
	path = e.Resolve(path)

	var out Outcome
	switch path {
	case PathAPI:
		out = e.viaAPI(ctx, symbol, side, amount)
	default:
		out = e.viaUI(ctx, surf, symbol, side, amount)
	}

	log := e.cfg.Logger.With("symbol", symbol, "side", string(side), "amount", amount.String(), "path", string(out.Path))
	if out.OK() {
		log.Info("trade: done", "outcome", out.Kind.String(), "reason", out.Reason)
		if e.cfg.OnSuccess != nil {
			e.cfg.OnSuccess()
		}
	} else {
		log.Warn("trade: failed", "reason", out.Reason)
	}
	if e.cfg.OnOutcome != nil {
		e.cfg.OnOutcome(ctx, Record{Symbol: symbol, Side: side, Amount: amount, Outcome: out, Took: time.Since(start)})
	}
	return out
}

func (e *Executor) viaAPI(ctx context.Context, symbol string, side venue.Side, amount decimal.Decimal) Outcome {
	if e.cfg.API == nil {
		return fail(PathAPI, venue.ErrNoAuth.Error())
	}
	return Classify(e.cfg.API.Trade(ctx, symbol, side, amount))
}

func (e *Executor) viaUI(ctx context.Context, surf Surface, symbol string, side venue.Side, amount decimal.Decimal) Outcome {
	if surf == nil {
		return fail(PathUI, "no automation session")
	}
	if l, ok := surf.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	text, err := submitUI(ctx, surf, symbol, side, amount)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(PathUI, "timeout: "+err.Error())
		}
		return fail(PathUI, err.Error())
	}
	switch page.Classify(text) {
	case page.VerdictSuccess:
		return Outcome{Kind: Success, Reason: text, Path: PathUI}
	case page.VerdictFailure:
		return fail(PathUI, text)
	}
	return fail(PathUI, "unrecognized outcome: "+text)
}

func submitUI(ctx context.Context, surf Surface, symbol string, side venue.Side, amount decimal.Decimal) (string, error) {
	if err := surf.EnsureAsset(ctx, symbol); err != nil {
		return "", err
	}
	if err := surf.SelectTab(ctx, side); err != nil {
		return "", err
	}
	return surf.Submit(ctx, symbol, side, amount)
}
