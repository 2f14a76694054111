package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Buffer is the channel capacity. Default: 256.
	Buffer int
	// History is the number of events kept for late readers. Default: 500.
	History int
	// Sink receives every consumed event. May be nil.
	Sink   Sink
	Logger *slog.Logger
}

func (c *HubConfig) defaults() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.History <= 0 {
		c.History = 500
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hub is the single-consumer status channel.
type Hub struct {
	cfg     HubConfig
	ch      chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64

	mu      sync.RWMutex
	current Event
	history []Event
	next    int
	full    bool

	done chan struct{}
}

// NewHub creates a hub. Call Run to start consuming.
func NewHub(cfg HubConfig) *Hub {
	cfg.defaults()
	return &Hub{
		cfg:     cfg,
		ch:      make(chan Event, cfg.Buffer),
		history: make([]Event, cfg.History),
		done:    make(chan struct{}),
	}
}

// Emit enqueues ev without blocking. When the buffer is full the event is
// dropped and counted.
func (h *Hub) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	ev.Seq = h.seq.Add(1)
	select {
	case h.ch <- ev:
	default:
		h.dropped.Add(1)
	}
}

// Run consumes events until ctx ends, then drains what is buffered.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.ch:
			h.consume(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-h.ch:
					h.consume(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Current returns the latest consumed event.
func (h *Hub) Current() Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// History returns up to limit consumed events, oldest first. limit <= 0
// returns all retained events.
func (h *Hub) History(limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Event
	if h.full {
		out = append(out, h.history[h.next:]...)
	}
	out = append(out, h.history[:h.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Dropped returns the number of events lost to a full buffer.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) consume(ctx context.Context, ev Event) {
	h.mu.Lock()
	h.current = ev
	h.history[h.next] = ev
	h.next++
	if h.next == len(h.history) {
		h.next = 0
		h.full = true
	}
	h.mu.Unlock()

	attrs := []any{"source", ev.Source}
	if ev.Symbol != "" {
		attrs = append(attrs, "symbol", ev.Symbol)
	}
	switch ev.Level {
	case LevelError:
		h.cfg.Logger.Error(ev.Message, attrs...)
	case LevelWarn:
		h.cfg.Logger.Warn(ev.Message, attrs...)
	default:
		h.cfg.Logger.Info(ev.Message, attrs...)
	}

	if h.cfg.Sink != nil {
		if err := h.cfg.Sink.Send(ctx, ev); err != nil {
			h.cfg.Logger.Debug("status: sink failed", "error", err)
		}
	}
}
