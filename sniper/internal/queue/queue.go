// Package queue is the FIFO handoff between the scanner and the buy
// dispatcher.
package queue

import "sync"

// Queue is a mutex-guarded FIFO of asset symbols. It does not deduplicate.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// New returns an empty queue.
func New() *Queue { return &Queue{} }

// Push appends a symbol at the back.
func (q *Queue) Push(symbol string) {
	q.mu.Lock()
	q.items = append(q.items, symbol)
	q.mu.Unlock()
}

// Pop removes and returns the front symbol.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	s := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return s, true
}

// Len returns the number of queued symbols.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued symbols in order.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

// Reset drops every queued symbol.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
