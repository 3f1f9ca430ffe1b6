package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
	ErrWorkerPoolFull   = errors.New("worker pool queue is full")
)

// PanicHandler receives a recovered panic from a job.
type PanicHandler func(pool string, recovered any)

// WorkerPool runs jobs on a fixed set of goroutines fed by a bounded queue.
// A panicking job is recovered and reported, the worker keeps running.
type WorkerPool struct {
	name    string
	jobs    chan func()
	onPanic PanicHandler

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup

	active atomic.Int64
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize.
func NewWorkerPool(name string, workers, queueSize int, onPanic PanicHandler) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		name:    name,
		jobs:    make(chan func(), queueSize),
		onPanic: onPanic,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *WorkerPool) run(job func()) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(p.name, r)
		}
	}()
	job()
}

// Submit queues a job, blocking while the queue is full until ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// TrySubmit queues a job only if the queue has room.
func (p *WorkerPool) TrySubmit(job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%s: %w", p.name, ErrWorkerPoolFull)
	}
}

// Queued returns the number of jobs waiting for a worker.
func (p *WorkerPool) Queued() int {
	return len(p.jobs)
}

// Active returns the number of jobs currently running.
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited. Call Close first.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
