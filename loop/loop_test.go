package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		l.Close()
	})
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	l.Sync(func() {})
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want ascending", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d closures, want 5", len(got))
	}
}

func TestPostFromLoopDoesNotBlock(t *testing.T) {
	l := startLoop(t)
	done := make(chan struct{})
	l.Post(func() {
		for range 1000 {
			l.Post(func() {})
		}
		l.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested posts did not drain")
	}
}

func TestPostAfterClose(t *testing.T) {
	l := New()
	l.Close()
	if l.Post(func() {}) {
		t.Error("Post after Close reported success")
	}
	if l.Sync(func() {}) {
		t.Error("Sync after Close reported success")
	}
	l.Close()
}

func TestTimerStopPreventsCallback(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Bool
	var tm *Timer
	l.Sync(func() {
		tm = l.AfterFunc(time.Millisecond, func() { fired.Store(true) })
	})
	// let the deadline pass so the callback is already queued
	time.Sleep(10 * time.Millisecond)
	var prevented bool
	l.Sync(func() { prevented = tm.Stop() })
	l.Sync(func() {})
	if fired.Load() && prevented {
		t.Fatal("callback ran after Stop reported it was prevented")
	}
}

func TestTimerStopBeforeDeadline(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Bool
	l.Sync(func() {
		tm := l.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
		if !tm.Stop() {
			t.Error("Stop on pending timer returned false")
		}
		if tm.Stop() {
			t.Error("second Stop returned true")
		}
	})
	time.Sleep(40 * time.Millisecond)
	l.Sync(func() {})
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}
}

func TestNilTimerAndTicker(t *testing.T) {
	var tm *Timer
	if tm.Stop() {
		t.Error("nil timer Stop returned true")
	}
	var tk *Ticker
	tk.Stop()
}

func TestEveryStops(t *testing.T) {
	l := startLoop(t)
	var n atomic.Int32
	var tk *Ticker
	l.Sync(func() {
		tk = l.Every(2*time.Millisecond, func() { n.Add(1) })
	})
	deadline := time.Now().Add(time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	l.Sync(func() { tk.Stop() })
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	l.Sync(func() {})
	if n.Load() != after {
		t.Fatalf("ticker ran %d more times after Stop", n.Load()-after)
	}
	if after < 3 {
		t.Fatalf("ticker ran %d times, want >= 3", after)
	}
}

func TestRequestFrame(t *testing.T) {
	l := startLoop(t)
	l.SetFrameInterval(time.Millisecond)
	got := make(chan time.Time, 1)
	l.Post(func() {
		l.RequestFrame(func(now time.Time) { got <- now })
	})
	select {
	case now := <-got:
		if now.IsZero() {
			t.Error("frame time is zero")
		}
	case <-time.After(time.Second):
		t.Fatal("frame callback never ran")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after cancel")
	}
}
