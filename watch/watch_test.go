package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// counter is a detector whose version the test controls.
type counter struct{ v atomic.Int64 }

func (c *counter) detect(context.Context) (int64, error) { return c.v.Load(), nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnChange_FiresOnChange(t *testing.T) {
	var c counter
	c.v.Store(1)
	w := New(c.detect, Options{Interval: 5 * time.Millisecond})

	var fired atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { fired.Add(1); return nil })

	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired %d times without a change", fired.Load())
	}

	c.v.Store(2)
	waitFor(t, func() bool { return fired.Load() == 1 })
	if w.Version() != 2 {
		t.Errorf("version = %d, want 2", w.Version())
	}
}

func TestOnChange_Debounce(t *testing.T) {
	var c counter
	w := New(c.detect, Options{Interval: 2 * time.Millisecond, Debounce: 100 * time.Millisecond})

	var fired atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { fired.Add(1); return nil })

	for i := int64(1); i <= 5; i++ {
		c.v.Store(i)
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return fired.Load() >= 1 })
	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("fired %d times, want 1 after a burst", n)
	}
	if w.Version() != 5 {
		t.Errorf("version = %d, want 5", w.Version())
	}
}

func TestOnChange_RetriesFailedAction(t *testing.T) {
	var c counter
	w := New(c.detect, Options{Interval: 5 * time.Millisecond})

	var calls atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("bad file")
		}
		return nil
	})

	c.v.Store(7)
	waitFor(t, func() bool { return w.Version() == 7 })
	if calls.Load() < 2 {
		t.Errorf("calls = %d, want a retry", calls.Load())
	}
	if s := w.Stats(); s.Errors < 1 || s.Reloads != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestFileVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	detect := FileVersion(path)
	ctx := context.Background()

	v0, err := detect(ctx)
	if err != nil || v0 != 0 {
		t.Fatalf("missing file: %d %v", v0, err)
	}
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v1, _ := detect(ctx)
	if v1 == 0 {
		t.Fatal("version still 0 after create")
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	v2, _ := detect(ctx)
	if v2 == v1 {
		t.Error("version unchanged after mtime change")
	}
}
