// Package runstate holds the cooperative run flag shared by the sniper loops.
package runstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a run flag with a wake-up channel. Loops read Active each
// iteration; sleeps return early when the flag drops.
type State struct {
	active atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
}

// New returns an inactive State.
func New() *State {
	s := &State{stop: make(chan struct{})}
	close(s.stop)
	return s
}

// Active reports whether the flag is set.
func (s *State) Active() bool { return s.active.Load() }

// Activate sets the flag. It returns false if it was already set.
func (s *State) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.CompareAndSwap(false, true) {
		return false
	}
	s.stop = make(chan struct{})
	return true
}

// Deactivate clears the flag and wakes every pending Sleep. Idempotent.
func (s *State) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.CompareAndSwap(true, false) {
		close(s.stop)
	}
}

// End clears the flag only if l is the current activation, so a loop from
// an earlier run cannot stop a later one.
func (s *State) End(l Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (<-chan struct{})(s.stop) == l.done && s.active.CompareAndSwap(true, false) {
		close(s.stop)
	}
}

// Done returns a channel closed when the flag is cleared.
func (s *State) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

// Sleep waits for d. It returns false when the flag was cleared or ctx ended
// before d elapsed.
func (s *State) Sleep(ctx context.Context, d time.Duration) bool {
	if !s.Active() {
		return false
	}
	done := s.Done()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return s.Active()
	case <-done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Lease is one activation of a State. It ends with the Deactivate that
// follows it and stays ended even if the State is activated again, so a
// loop that outlives its run cannot resume under a later one.
type Lease struct {
	done <-chan struct{}
}

// Lease returns the current activation. Taken while inactive, it is
// already ended.
func (s *State) Lease() Lease { return Lease{done: s.Done()} }

// Active reports whether the activation is still running.
func (l Lease) Active() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Sleep waits for d. It returns false when the activation ended or ctx
// ended before d elapsed.
func (l Lease) Sleep(ctx context.Context, d time.Duration) bool {
	if !l.Active() {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return l.Active()
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}
}
