// Package tasks runs detached side effects whose outcome must not reach the
// request that triggered them.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a task when the runner is built without one.
const DefaultTimeout = 2 * time.Minute

// Stats is a snapshot of the runner counters.
type Stats struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Running   int64 `json:"running"`
	Rejected  int64 `json:"rejected"`
}

// Runner starts tasks on their own goroutines with a timeout, recovers
// panics and counts outcomes.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Shutdown's Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
	running   atomic.Int64
	rejected  atomic.Int64
}

// NewRunner creates a runner; timeout <= 0 uses DefaultTimeout.
func NewRunner(log *slog.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		timeout: timeout,
		logger:  log.With(slog.String("service", "tasks")),
		base:    base,
		cancel:  cancel,
	}
}

// Go runs fn detached. The context passed to fn is independent of any
// request context, carries the runner timeout and ends on Shutdown. After
// Shutdown has begun, fn is dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.rejected.Add(1)
		r.logger.Warn("task rejected after shutdown", slog.String("task", name))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	r.started.Add(1)
	r.running.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)
		start := time.Now()
		err := r.run(fn)
		if err != nil {
			r.failed.Add(1)
			r.logger.Warn("task failed",
				slog.String("task", name),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err),
			)
			return
		}
		r.succeeded.Add(1)
		r.logger.Debug("task done", slog.String("task", name), slog.Duration("elapsed", time.Since(start)))
	}()
}

func (r *Runner) run(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.panicked.Add(1)
			r.logger.Error("task panic", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task has returned.
func (r *Runner) Wait() { r.wg.Wait() }

// Shutdown waits for running tasks until ctx ends, then cancels them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Started:   r.started.Load(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Panicked:  r.panicked.Load(),
		Running:   r.running.Load(),
		Rejected:  r.rejected.Load(),
	}
}
