// Package async provides the bounded worker pool behind parameter sweeps and
// other fan-out work in the trading core.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// Task represents a unit of work executed by the pool workers. A non-nil
// return marks the task failed in the pool's stats; it does not stop the pool.
type Task func(context.Context) error

// Stats is a point-in-time snapshot of pool throughput.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Option configures optional pool behaviour.
type Option func(*Pool)

// WithObserver registers a callback invoked after every task with its error
// (nil on success) and wall-clock duration. The callback runs on the worker
// goroutine and must not block.
func WithObserver(fn func(err error, elapsed time.Duration)) Option {
	return func(p *Pool) { p.observe = fn }
}

// Pool defines a bounded worker pool enforcing backpressure when saturated.
// Task panics are recovered and surfaced as failures rather than killing the
// worker.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan job
	wg      sync.WaitGroup
	once    sync.Once
	observe func(error, time.Duration)

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.ctx = ctx
	p.cancel = cancel
	p.jobs = make(chan job, queue)
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the provided task for execution respecting pool backpressure.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		p.submitted.Add(1)
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Stats reports the tasks accepted, finished, and failed so far.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops accepting new tasks and cancels workers.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.jobs)
	})
}

// Shutdown waits for in-flight tasks to complete or until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			ctx := job.ctx
			if ctx == nil {
				ctx = p.ctx
			}
			begin := time.Now()
			err := runTask(ctx, job.fn)
			p.completed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
			if p.observe != nil {
				p.observe(err, time.Since(begin))
			}
			p.wg.Done()
		}
	}
}

// runTask converts a panic into an error so one bad task cannot take a worker
// down with it.
func runTask(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}
