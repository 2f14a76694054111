package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_ConsumeHistoryAndSink(t *testing.T) {
	var mu sync.Mutex
	var got []string
	cb := NewCallback(func(_ context.Context, ev Event) error {
		mu.Lock()
		got = append(got, ev.Message)
		mu.Unlock()
		return nil
	})
	h := NewHub(HubConfig{History: 2, Sink: NewRouter(quietLogger(), cb), Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	sc := Scoped{Out: h, Source: "scanner"}
	sc.Info("one")
	sc.Warn("two")
	sc.Error("three")
	cancel()
	<-h.Done()

	hist := h.History(0)
	if len(hist) != 2 || hist[0].Message != "two" || hist[1].Message != "three" {
		t.Fatalf("history: got %+v", hist)
	}
	if cur := h.Current(); cur.Message != "three" || cur.Level != LevelError || cur.Source != "scanner" {
		t.Fatalf("current: got %+v", cur)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("sink deliveries: got %v", got)
	}
}

func TestHub_EmitNeverBlocks(t *testing.T) {
	h := NewHub(HubConfig{Buffer: 1, Logger: quietLogger()})
	for i := 0; i < 5; i++ {
		h.Emit(Event{Message: "x"})
	}
	if h.Dropped() != 4 {
		t.Fatalf("dropped: got %d, want 4", h.Dropped())
	}
}

func TestHub_SequenceMonotonic(t *testing.T) {
	h := NewHub(HubConfig{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	for i := 0; i < 10; i++ {
		h.Emit(Event{Message: "tick"})
	}
	cancel()
	<-h.Done()

	hist := h.History(5)
	if len(hist) != 5 {
		t.Fatalf("limited history: got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Seq <= hist[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", hist[i-1].Seq, hist[i].Seq)
		}
	}
}

func TestRouter_FirstErrorReturned(t *testing.T) {
	errA := errors.New("a")
	var calls atomic.Int32
	r := NewRouter(quietLogger(),
		NewCallback(func(context.Context, Event) error { calls.Add(1); return errA }),
		NewCallback(func(context.Context, Event) error { calls.Add(1); return nil }),
	)
	if err := r.Send(context.Background(), Event{}); !errors.Is(err, errA) {
		t.Fatalf("err: got %v, want %v", err, errA)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls: got %d, want 2", calls.Load())
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Send(context.Background(), Event{Source: "worker-1", Symbol: "PEPE", Level: LevelInfo, Message: "sold"})

	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Symbol != "PEPE" || ev.Message != "sold" {
		t.Fatalf("event: got %+v", ev)
	}
}

func TestWebhook_RetryThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	if err := wh.Send(context.Background(), Event{Level: LevelInfo, Message: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits: got %d, want 2", hits.Load())
	}
}

func TestWebhook_MinLevel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookMinLevel(LevelError))
	wh.Send(context.Background(), Event{Level: LevelInfo})
	wh.Send(context.Background(), Event{Level: LevelError})
	if hits.Load() != 1 {
		t.Fatalf("hits: got %d, want 1", hits.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond), WithWebhookLogger(quietLogger()))
	if err := wh.Send(context.Background(), Event{}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
}
