package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSignalTriggersActionPromptly(t *testing.T) {
	var calls int32
	s := New(func() bool {
		atomic.AddInt32(&calls, 1)
		return true
	}, func() float64 { return 1 }) // 1 Hz: without Signal this would take a full second

	s.Start(false)
	defer s.Stop()

	s.Signal()
	deadline := time.After(200 * time.Millisecond)
	for atomic.LoadInt32(&calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("action was not invoked promptly after Signal")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCoalescedSignalsFireOnce(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	s := New(func() bool {
		atomic.AddInt32(&calls, 1)
		<-block
		return false
	}, func() float64 { return 1000 })

	s.Start(false)
	defer func() {
		close(block)
		s.Stop()
	}()

	// Let the scheduler enter its first action call, then pile up extra
	// signals while it's busy; they must collapse into at most one more.
	time.Sleep(20 * time.Millisecond)
	s.Signal()
	s.Signal()
	s.Signal()
	time.Sleep(20 * time.Millisecond)

	// Still blocked on the first call since block hasn't been closed.
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d before unblocking, want 1", got)
	}
}

func TestActionFalseWaitsForSignalWithoutTimeout(t *testing.T) {
	var calls int32
	s := New(func() bool {
		atomic.AddInt32(&calls, 1)
		return false
	}, func() float64 { return 1000 }) // fast rate would reveal timeout-based polling

	s.Start(true) // fires immediately once
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d after idling with action()=false, want exactly 1 (no timeout polling)", got)
	}

	s.Signal()
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d after Signal, want 2", got)
	}
}

func TestStopIsIdempotentAndBlocksUntilExit(t *testing.T) {
	s := New(func() bool { return false }, func() float64 { return 10 })
	s.Start(false)
	s.Stop()
	s.Stop() // must not panic or deadlock
}
