package sniper

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/snipebot/sniper/internal/status"
)

const streamWriteTimeout = 5 * time.Second

// Stream fans status events out to websocket clients. It is a status sink:
// a slow client misses events rather than stalling the hub.
type Stream struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan status.Event
}

// NewStream creates an empty stream.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		subs:     make(map[*subscriber]struct{}),
	}
}

// subscribe registers a listener with a buffer of size buf.
func (s *Stream) subscribe(buf int) *subscriber {
	sub := &subscriber{ch: make(chan status.Event, buf)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// unsubscribe removes sub and closes its channel.
func (s *Stream) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

// Subscribers returns the number of connected listeners.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Send implements status.Sink.
func (s *Stream) Send(_ context.Context, ev status.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

// Close implements status.Sink. Connected clients are disconnected.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
	return nil
}

// serve upgrades the request, replays backlog and forwards live events until
// the client goes away.
func (s *Stream) serve(w http.ResponseWriter, r *http.Request, backlog []status.Event) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("stream: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.subscribe(64)
	defer s.unsubscribe(sub)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev status.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(ev) == nil
	}
	for _, ev := range backlog {
		if !write(ev) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok || !write(ev) {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
