// Package scanner polls the venue for the newest listing and queues every
// symbol it has not just seen.
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/snipebot/sniper/internal/queue"
	"github.com/hazyhaar/snipebot/sniper/internal/runstate"
	"github.com/hazyhaar/snipebot/sniper/internal/status"
	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Lister returns the newest listing.
type Lister interface {
	Newest(ctx context.Context) (venue.Listing, error)
}

// Config configures a Scanner.
type Config struct {
	// Interval between polls. Default: 500ms.
	Interval time.Duration
	// Backoff after a failed poll. Default: 2s.
	Backoff time.Duration
	// NoPrime disables recording the current newest symbol at start, so
	// that it is bought as well.
	NoPrime bool
	Logger  *slog.Logger
	Status  status.Emitter
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Status == nil {
		c.Status = status.Discard{}
	}
}

// Scanner is the queue producer. Run it from a single goroutine.
type Scanner struct {
	src      Lister
	q        *queue.Queue
	run      runstate.Lease
	cfg      Config
	out      status.Scoped
	lastSeen string
}

// New creates a Scanner that runs for the activation run.
func New(src Lister, q *queue.Queue, run runstate.Lease, cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{
		src: src,
		q:   q,
		run: run,
		cfg: cfg,
		out: status.Scoped{Out: cfg.Status, Source: "scanner"},
	}
}

// LastSeen returns the last recorded newest symbol.
func (s *Scanner) LastSeen() string { return s.lastSeen }

// Poll runs one iteration. It returns the queued symbol, or "" when the
// newest listing did not change.
func (s *Scanner) Poll(ctx context.Context) (string, error) {
	l, err := s.src.Newest(ctx)
	if err != nil {
		return "", err
	}
	if !s.run.Active() || l.Symbol == "" || l.Symbol == s.lastSeen {
		return "", nil
	}
	s.lastSeen = l.Symbol
	s.q.Push(l.Symbol)
	return l.Symbol, nil
}

// Run polls until the run flag drops or ctx ends. Failures are logged and
// followed by the backoff; they never stop the loop.
func (s *Scanner) Run(ctx context.Context) {
	log := s.cfg.Logger.With("component", "scanner")
	if !s.cfg.NoPrime {
		if l, err := s.src.Newest(ctx); err == nil {
			s.lastSeen = l.Symbol
			log.Info("scanner: primed", "symbol", l.Symbol)
		} else {
			log.Warn("scanner: prime failed", "error", err)
		}
	}
	s.out.Info("scanning for new listings")

	for s.run.Active() && ctx.Err() == nil {
		sym, err := s.Poll(ctx)
		if err != nil {
			log.Warn("scanner: poll failed", "error", err)
			s.run.Sleep(ctx, s.cfg.Backoff)
			continue
		}
		if sym != "" {
			log.Info("scanner: new listing", "symbol", sym, "queued", s.q.Len())
			s.out.Info("new coin " + sym + " queued")
		}
		s.run.Sleep(ctx, s.cfg.Interval)
	}
	log.Info("scanner: stopped")
}
