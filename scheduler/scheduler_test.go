package scheduler_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modsagraphy/universa/scheduler"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	pool := scheduler.New(4)
	defer pool.StopWait()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
	}
	wg.Wait()
	if got := atomic.LoadInt32(&n); got != 50 {
		t.Fatalf("expected 50 tasks to run, got %d", got)
	}
}

func TestStopWaitDrainsQueuedTasks(t *testing.T) {
	pool := scheduler.New(1)
	var n int32
	for i := 0; i < 10; i++ {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&n, 1)
		})
	}
	pool.StopWait()
	if got := atomic.LoadInt32(&n); got != 10 {
		t.Fatalf("expected StopWait to drain all 10 queued tasks, got %d", got)
	}
}

func TestWaitingQueueSizeReportsBacklog(t *testing.T) {
	pool := scheduler.New(1)
	defer pool.StopWait()

	block := make(chan struct{})
	pool.Submit(func() { <-block })

	for i := 0; i < 3; i++ {
		pool.Submit(func() {})
	}

	// Give the single worker a moment to pick up the blocking task and let
	// the rest pile up behind it.
	time.Sleep(50 * time.Millisecond)
	if size := pool.WaitingQueueSize(); size == 0 {
		t.Fatal("expected a nonzero backlog while the worker is blocked")
	}
	close(block)
}

func TestScheduleRunsOnceAfterDelay(t *testing.T) {
	pool := scheduler.New(1)
	defer pool.StopWait()

	var n int32
	pool.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&n, 1) })

	time.Sleep(5 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 0 {
		t.Fatalf("expected the task to not have run yet, got %d", got)
	}
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("expected the task to have run exactly once, got %d", got)
	}
}

func TestScheduleCancelStopsBeforeItFires(t *testing.T) {
	pool := scheduler.New(1)
	defer pool.StopWait()

	var n int32
	cancel := pool.Schedule(10*time.Millisecond, func() { atomic.AddInt32(&n, 1) })
	cancel()

	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 0 {
		t.Fatalf("expected a canceled task to never run, got %d", got)
	}
}
