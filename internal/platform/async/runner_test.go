package async

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type sinkRecorder struct {
	mu   sync.Mutex
	errs map[string]error
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{errs: make(map[string]error)}
}

func (s *sinkRecorder) sink(task string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[task] = err
}

func (s *sinkRecorder) get(task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[task]
}

func TestRunner_RunsTasks(t *testing.T) {
	r := NewRunner(2, time.Second, nil)
	var count int32
	for i := 0; i < 10; i++ {
		r.Go("count", func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
	}
	r.Wait()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Errorf("expected 10 tasks to run, got %d", got)
	}
}

func TestRunner_ErrorGoesToSink(t *testing.T) {
	rec := newSinkRecorder()
	r := NewRunner(1, time.Second, rec.sink)

	r.Go("appointment_created", func(context.Context) error {
		return errors.New("store unavailable")
	})
	r.Wait()

	err := rec.get("appointment_created")
	if err == nil || err.Error() != "store unavailable" {
		t.Errorf("expected sink to receive task error, got %v", err)
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	rec := newSinkRecorder()
	r := NewRunner(1, time.Second, rec.sink)

	r.Go("boom", func(context.Context) error {
		panic("nil doctor")
	})
	r.Wait()

	err := rec.get("boom")
	if err == nil || !strings.Contains(err.Error(), "nil doctor") {
		t.Errorf("expected recovered panic in sink, got %v", err)
	}
}

func TestRunner_AppliesTimeout(t *testing.T) {
	rec := newSinkRecorder()
	r := NewRunner(1, 20*time.Millisecond, rec.sink)

	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Wait()

	if !errors.Is(rec.get("slow"), context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", rec.get("slow"))
	}
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	r := NewRunner(2, time.Second, nil)
	var active, peak int32
	for i := 0; i < 8; i++ {
		r.Go("bounded", func(context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
	}
	r.Wait()

	if peak > 2 {
		t.Errorf("expected at most 2 concurrent tasks, saw %d", peak)
	}
}

func TestRunner_GoDoesNotBlockCaller(t *testing.T) {
	r := NewRunner(1, time.Second, nil)
	release := make(chan struct{})
	r.Go("hold", func(context.Context) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		r.Go("queued", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go blocked while the only slot was busy")
	}
	close(release)
	r.Wait()
}

func TestRunner_CloseRejectsNewTasks(t *testing.T) {
	rec := newSinkRecorder()
	r := NewRunner(1, time.Second, rec.sink)
	r.Close(time.Second)

	ran := false
	r.Go("late", func(context.Context) error {
		ran = true
		return nil
	})
	r.Wait()

	if ran {
		t.Error("task submitted after Close must not run")
	}
	if rec.get("late") == nil {
		t.Error("expected dropped task to be reported")
	}
}

func TestRunner_QueueLimitDropsOverflow(t *testing.T) {
	rec := newSinkRecorder()
	r := NewRunner(1, time.Second, rec.sink).WithQueueLimit(2)
	release := make(chan struct{})
	block := func(context.Context) error {
		<-release
		return nil
	}

	r.Go("running", block)
	r.Go("waiting", block)
	ran := false
	r.Go("overflow", func(context.Context) error {
		ran = true
		return nil
	})

	if !errors.Is(rec.get("overflow"), ErrQueueFull) {
		t.Errorf("expected ErrQueueFull for the overflow task, got %v", rec.get("overflow"))
	}
	close(release)
	r.Wait()
	if ran {
		t.Error("overflow task must not run")
	}

	// Capacity frees up once pending tasks finish.
	r.Go("after", func(context.Context) error { return nil })
	r.Wait()
	if err := rec.get("after"); err != nil {
		t.Errorf("task after drain reported %v", err)
	}
}

func TestRunner_QueueLimitNeverBelowWorkers(t *testing.T) {
	r := NewRunner(4, time.Second, nil).WithQueueLimit(1)
	if r.maxPending != 4 {
		t.Errorf("maxPending = %d, want 4", r.maxPending)
	}
}
