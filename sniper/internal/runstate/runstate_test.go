package runstate

import (
	"context"
	"testing"
	"time"
)

func TestState_ActivateDeactivate(t *testing.T) {
	s := New()
	if s.Active() {
		t.Fatal("new state should be inactive")
	}
	if !s.Activate() {
		t.Fatal("first Activate should succeed")
	}
	if s.Activate() {
		t.Fatal("second Activate should report already active")
	}
	s.Deactivate()
	s.Deactivate()
	if s.Active() {
		t.Fatal("state should be inactive after Deactivate")
	}
	if !s.Activate() {
		t.Fatal("re-Activate after Deactivate should succeed")
	}
}

func TestState_SleepInactive(t *testing.T) {
	s := New()
	if s.Sleep(context.Background(), time.Hour) {
		t.Fatal("Sleep on inactive state should return false immediately")
	}
}

func TestState_SleepElapses(t *testing.T) {
	s := New()
	s.Activate()
	if !s.Sleep(context.Background(), time.Millisecond) {
		t.Fatal("Sleep should return true when d elapses while active")
	}
}

func TestState_SleepWakesOnDeactivate(t *testing.T) {
	s := New()
	s.Activate()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Deactivate()
	}()
	start := time.Now()
	if s.Sleep(context.Background(), time.Minute) {
		t.Fatal("Sleep should return false on Deactivate")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Sleep did not wake promptly")
	}
}

func TestState_SleepContextCancel(t *testing.T) {
	s := New()
	s.Activate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.Sleep(ctx, time.Minute) {
		t.Fatal("Sleep should return false on cancelled context")
	}
}

func TestLease_EndsWithItsRun(t *testing.T) {
	s := New()
	if s.Lease().Active() {
		t.Fatal("lease of an inactive state is active")
	}
	s.Activate()
	first := s.Lease()
	if !first.Active() {
		t.Fatal("current lease inactive")
	}
	s.Deactivate()
	s.Activate()
	second := s.Lease()
	if first.Active() {
		t.Fatal("first lease active again after restart")
	}
	if first.Sleep(context.Background(), time.Hour) {
		t.Fatal("ended lease slept")
	}
	if !second.Active() {
		t.Fatal("second lease inactive")
	}
	s.Deactivate()
}

func TestEnd_IgnoresStaleLease(t *testing.T) {
	s := New()
	s.Activate()
	stale := s.Lease()
	s.Deactivate()
	s.Activate()
	s.End(stale)
	if !s.Active() {
		t.Fatal("stale lease stopped the current run")
	}
	s.End(s.Lease())
	if s.Active() {
		t.Fatal("End with the current lease left the state active")
	}
}
