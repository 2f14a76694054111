package queue

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	for _, s := range []string{"A", "B", "C"} {
		q.Push(s)
	}
	if got := q.Snapshot(); len(got) != 3 || got[0] != "A" || got[2] != "C" {
		t.Fatalf("snapshot: got %v", got)
	}
	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("pop: got %q,%v want %q", got, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop on empty queue should report false")
	}
}

func TestQueue_NoDedup(t *testing.T) {
	q := New()
	q.Push("A")
	q.Push("A")
	if q.Len() != 2 {
		t.Fatalf("len: got %d, want 2", q.Len())
	}
	q.Reset()
	if q.Len() != 0 {
		t.Fatalf("len after reset: got %d", q.Len())
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	q := New()
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push("S")
		}
	}()

	popped := 0
	for popped < n {
		if _, ok := q.Pop(); ok {
			popped++
		}
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("len after drain: got %d", q.Len())
	}
}
