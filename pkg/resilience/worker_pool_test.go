package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolExecutesJobs(t *testing.T) {
	pool := NewWorkerPool("test", 3, 6, nil)

	var count int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func() {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Close()
	pool.Wait()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 jobs executed, got %d", got)
	}
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool("test", 1, 1, nil)
	pool.Close()
	if err := pool.Submit(context.Background(), func() {}); err != ErrWorkerPoolClosed {
		t.Fatalf("expected ErrWorkerPoolClosed, got %v", err)
	}
	if err := pool.TrySubmit(func() {}); err != ErrWorkerPoolClosed {
		t.Fatalf("expected ErrWorkerPoolClosed, got %v", err)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	var recovered atomic.Value
	pool := NewWorkerPool("handlers", 1, 2, func(name string, r any) {
		recovered.Store(name)
	})

	var ran int32
	_ = pool.Submit(context.Background(), func() { panic("bad handler") })
	_ = pool.Submit(context.Background(), func() { atomic.AddInt32(&ran, 1) })

	pool.Close()
	pool.Wait()

	if recovered.Load() != "handlers" {
		t.Fatalf("expected panic reported for pool handlers, got %v", recovered.Load())
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("worker must survive a panicking job")
	}
}

func TestWorkerPoolTrySubmitFull(t *testing.T) {
	pool := NewWorkerPool("test", 1, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	_ = pool.Submit(context.Background(), func() {
		close(started)
		<-release
	})
	<-started

	if err := pool.TrySubmit(func() {}); err != nil {
		t.Fatalf("expected queued job, got %v", err)
	}
	if err := pool.TrySubmit(func() {}); !errors.Is(err, ErrWorkerPoolFull) {
		t.Fatalf("expected ErrWorkerPoolFull, got %v", err)
	}
	if pool.Active() != 1 || pool.Queued() != 1 {
		t.Fatalf("expected 1 active and 1 queued, got %d and %d", pool.Active(), pool.Queued())
	}

	close(release)
	pool.Close()
	pool.Wait()
}

func TestWorkerPoolSubmitHonoursContext(t *testing.T) {
	pool := NewWorkerPool("test", 1, 1, nil)
	release := make(chan struct{})
	defer func() {
		close(release)
		pool.Close()
		pool.Wait()
	}()

	_ = pool.Submit(context.Background(), func() { <-release })
	_ = pool.Submit(context.Background(), func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
