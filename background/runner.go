// Package background runs fire-and-forget work off the request path.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"webability/analytics/metrics"
)

// ErrShutdown is returned by Shutdown when called twice.
var ErrShutdown = errors.New("background runner already shut down")

// Task is a unit of background work. ctx is cancelled on Shutdown.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// TaskError carries a failed task's name.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes submitted tasks on a fixed worker pool with a bounded queue.
type Runner struct {
	queue   chan job
	errs    chan *TaskError
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	drain   sync.WaitGroup
	log     *zap.Logger
	metrics *metrics.Metrics
	// grace bounds the wait for cancelled tasks once the shutdown deadline passes.
	grace time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewRunner(workers, queueSize int, log *zap.Logger, m *metrics.Metrics) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:   make(chan job, queueSize),
		errs:    make(chan *TaskError, workers),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("component", "background")),
		metrics: m,
		grace:   time.Second,
	}

	r.drain.Add(1)
	go r.drainErrors()

	r.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the runner is shut down.
func (r *Runner) Submit(name string, fn Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("Task rejected after shutdown", zap.String("task", name))
		return false
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return true
	default:
		r.log.Warn("Background queue full, task dropped", zap.String("task", name))
		r.count(name, "dropped")
		return false
	}
}

// Shutdown stops intake and waits for queued and in-flight tasks, or for
// ctx to expire, in which case running tasks see their context cancelled and
// get a short grace period before Shutdown returns without them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShutdown
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(r.errs)
		r.drain.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		t := time.NewTimer(r.grace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			r.log.Warn("Background tasks still running after shutdown deadline")
		}
		return ctx.Err()
	}
}

func (r *Runner) work() {
	defer r.workers.Done()
	for j := range r.queue {
		if err := r.run(j); err != nil {
			r.errs <- &TaskError{Task: j.name, Err: err}
			r.count(j.name, "error")
			continue
		}
		r.count(j.name, "ok")
	}
}

func (r *Runner) run(j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return j.fn(r.ctx)
}

func (r *Runner) drainErrors() {
	defer r.drain.Done()
	for e := range r.errs {
		r.log.Error("Background task failed", zap.String("task", e.Task), zap.Error(e.Err))
	}
}

func (r *Runner) count(task, result string) {
	if r.metrics != nil {
		r.metrics.BackgroundTasks.WithLabelValues(task, result).Inc()
	}
}
