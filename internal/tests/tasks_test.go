package tests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/service"
)

func newTestQueue(workers, attempts int) *service.TaskQueue {
	q := service.NewTaskQueue(service.TaskQueueConfig{
		Workers:     workers,
		QueueSize:   64,
		MaxAttempts: attempts,
		Backoff:     time.Millisecond,
	}, logger.NewNop())
	q.Start()
	return q
}

func TestTaskQueue_RetriesUpstreamFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		err       error
		failTimes int32
		attempts  int
		wantCalls int32
	}{
		{"succeeds first time", nil, 0, 3, 1},
		{"recovers after one failure", service.ErrUpstreamUnavailable, 1, 3, 2},
		{"gives up after max attempts", service.ErrUpstreamUnavailable, 10, 3, 3},
		{"wrapped upstream failure is retried", fmt.Errorf("route: %w", service.ErrUpstreamUnavailable), 1, 3, 2},
		{"other failures are not retried", ErrInjected, 10, 3, 1},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := newTestQueue(1, tc.attempts)

			var calls int32
			q.Submit(service.Task{
				Name: "test",
				Key:  tc.name,
				Run: func(ctx context.Context) error {
					if n := atomic.AddInt32(&calls, 1); n <= tc.failTimes {
						return tc.err
					}
					return nil
				},
			})
			if err := q.Close(context.Background()); err != nil {
				t.Fatalf("close: %v", err)
			}

			if got := atomic.LoadInt32(&calls); got != tc.wantCalls {
				t.Errorf("expected %d calls, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestTaskQueue_CloseDrainsQueuedTasks(t *testing.T) {
	t.Parallel()
	q := newTestQueue(4, 1)

	var done int32
	for i := 0; i < 50; i++ {
		q.Submit(service.Task{
			Name: "drain",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&done, 1)
				return nil
			},
		})
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := atomic.LoadInt32(&done); got != 50 {
		t.Errorf("expected 50 tasks to run, got %d", got)
	}
}

func TestTaskQueue_SubmitAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	q := newTestQueue(1, 1)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	var ran int32
	q.Submit(service.Task{Name: "late", Run: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}})
	if atomic.LoadInt32(&ran) != 0 {
		t.Error("expected task submitted after close to be dropped")
	}
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestTaskQueue_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	q := service.NewTaskQueue(service.TaskQueueConfig{Workers: 1, QueueSize: 1, MaxAttempts: 1}, logger.NewNop())

	// Not started: the buffer fills and further submits must return.
	var ran int32
	task := service.Task{Name: "fill", Run: func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}}
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			q.Submit(task)
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("submit blocked on a full queue")
	}

	q.Start()
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("expected only the buffered task to run, got %d", got)
	}
}

func TestLocalLocker_Serializes(t *testing.T) {
	t.Parallel()
	locker := service.NewLocalLocker()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "booking-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxSeen)
	}
	if n := locker.Len(); n != 0 {
		t.Errorf("expected lock table to be empty, got %d", n)
	}
}

func TestLocalLocker_TimesOut(t *testing.T) {
	t.Parallel()
	locker := service.NewLocalLocker()

	unlock, err := locker.Lock(context.Background(), "booking-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "booking-1"); err == nil {
		t.Fatal("expected second lock to time out")
	}

	other, err := locker.Lock(context.Background(), "booking-2")
	if err != nil {
		t.Fatalf("independent booking should lock: %v", err)
	}
	other()
}
