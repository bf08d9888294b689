package cleanup

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleRunsActionAfterDelay(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	var ran int32
	s.Schedule("x", func() error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, 100*time.Millisecond)

	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Fatalf("expected action to run exactly once, ran %d times", got)
	}
	if !s.IsCompleted("x") {
		t.Error("expected x in completed set")
	}
	stats := s.Stats()
	if stats.Pending != 0 {
		t.Errorf("expected 0 pending, got %d", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", stats.Completed)
	}
}

func TestCancelPreventsAction(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	var ran int32
	s.Schedule("x", func() error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, 100*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	if !s.Cancel("x") {
		t.Fatal("expected Cancel to report a pending timer")
	}

	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt32(&ran); got != 0 {
		t.Fatalf("expected action never to run, ran %d times", got)
	}
	if s.IsCompleted("x") {
		t.Error("cancelled cleanup must not appear completed")
	}
}

func TestCancelMissingReturnsFalse(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	if s.Cancel("nope") {
		t.Error("expected Cancel to return false for unknown id")
	}
}

func TestRescheduleReplacesPendingTimer(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	var first, second int32
	s.Schedule("x", func() error {
		atomic.AddInt32(&first, 1)
		return nil
	}, 50*time.Millisecond)
	s.Schedule("x", func() error {
		atomic.AddInt32(&second, 1)
		return nil
	}, 50*time.Millisecond)

	time.Sleep(150 * time.Millisecond)

	if got := atomic.LoadInt32(&first); got != 0 {
		t.Errorf("replaced action ran %d times, want 0", got)
	}
	if got := atomic.LoadInt32(&second); got != 1 {
		t.Errorf("replacement action ran %d times, want 1", got)
	}
}

func TestFailedActionNotMarkedCompleted(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	s.Schedule("x", func() error {
		return errors.New("locked file")
	}, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	if s.IsCompleted("x") {
		t.Error("failed cleanup must not join the completed set")
	}
	stats := s.Stats()
	if stats.Pending != 0 {
		t.Errorf("failed cleanup must leave pending, got %d pending", stats.Pending)
	}
}

func TestShutdownCancelsAllPending(t *testing.T) {
	s := NewScheduler()

	var ran int32
	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id, func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		}, time.Hour)
	}

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	if got := atomic.LoadInt32(&ran); got != 0 {
		t.Errorf("expected no actions to run after shutdown, ran %d", got)
	}
	if stats := s.Stats(); stats.Pending != 0 {
		t.Errorf("expected 0 pending after shutdown, got %d", stats.Pending)
	}
}

func TestStatsPendingIDs(t *testing.T) {
	s := NewScheduler()
	defer s.Shutdown()

	s.Schedule("a", func() error { return nil }, time.Hour)
	s.Schedule("b", func() error { return nil }, time.Hour)

	stats := s.Stats()
	if stats.Pending != 2 {
		t.Fatalf("expected 2 pending, got %d", stats.Pending)
	}
	seen := map[string]bool{}
	for _, id := range stats.PendingIDs {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("pending ids missing entries: %v", stats.PendingIDs)
	}
}
