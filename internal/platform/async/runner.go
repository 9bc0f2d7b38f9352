// Package async runs side effects such as notification triggers off the
// request path. A task failure never reaches the code that submitted it; it
// is handed to the single ErrorSink configured on the Runner.
package async

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/metrics"
)

// DefaultQueueFactor sizes the pending-task limit as a multiple of workers.
const DefaultQueueFactor = 256

// ErrQueueFull is reported to the sink when a task is dropped because too
// many are already pending.
var ErrQueueFull = errors.New("runner queue full, task dropped")

// Task is a unit of background work.
type Task func(ctx context.Context) error

// ErrorSink receives every task error, including recovered panics.
type ErrorSink func(task string, err error)

// LogSink logs task failures with zerolog and counts them.
func LogSink(logger zerolog.Logger) ErrorSink {
	return func(task string, err error) {
		metrics.TriggerFailures.WithLabelValues(task).Inc()
		logger.Error().Err(err).Str("task", task).Msg("async task failed")
	}
}

// Runner executes tasks on at most `workers` goroutines at a time. Go never
// blocks the caller: tasks wait for a free slot in their own goroutine, and
// at most maxPending tasks (running or waiting) exist at once.
type Runner struct {
	slots   chan struct{}
	timeout time.Duration
	sink    ErrorSink
	wg      sync.WaitGroup

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	closed     bool
	pending    int
	maxPending int
}

func NewRunner(workers int, timeout time.Duration, sink ErrorSink) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if sink == nil {
		sink = func(string, error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		slots:      make(chan struct{}, workers),
		timeout:    timeout,
		sink:       sink,
		ctx:        ctx,
		cancel:     cancel,
		maxPending: workers * DefaultQueueFactor,
	}
}

// WithQueueLimit caps running plus waiting tasks. Submissions beyond it are
// dropped and reported to the sink as ErrQueueFull.
func (r *Runner) WithQueueLimit(n int) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < cap(r.slots) {
		n = cap(r.slots)
	}
	r.maxPending = n
	return r
}

// Go submits fn under name. Submissions after Close or beyond the queue
// limit are dropped and reported to the sink.
func (r *Runner) Go(name string, fn Task) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.sink(name, fmt.Errorf("runner closed, task dropped"))
		return
	}
	if r.pending >= r.maxPending {
		r.mu.Unlock()
		r.sink(name, ErrQueueFull)
		return
	}
	r.pending++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.release()

		select {
		case r.slots <- struct{}{}:
		case <-r.ctx.Done():
			r.sink(name, fmt.Errorf("runner cancelled before start: %w", r.ctx.Err()))
			return
		}
		defer func() { <-r.slots }()

		if err := r.run(fn); err != nil {
			r.sink(name, err)
		}
	}()
}

func (r *Runner) release() {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
}

func (r *Runner) run(fn Task) (err error) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			var stack [2048]byte
			n := runtime.Stack(stack[:], false)
			err = fmt.Errorf("panic: %v\n%s", rec, stack[:n])
		}
	}()
	return fn(ctx)
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks and waits up to grace for in-flight ones.
// Tasks still running after grace see their context cancelled.
func (r *Runner) Close(grace time.Duration) {
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
	case <-time.After(grace):
		r.cancel()
		<-done
	}
	r.cancel()
}
