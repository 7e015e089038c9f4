package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStop is returned (possibly wrapped) by a task that wants no further runs.
var ErrStop = errors.New("tick: stop")

// Task is the body of a periodic job. ctx is cancelled when the handle is
// and expires one interval after the run started.
type Task func(ctx context.Context) error

// Handle is one scheduled periodic task.
type Handle struct {
	name     string
	interval time.Duration
	task     Task

	ctx    context.Context
	cancel context.CancelFunc

	//held for the whole duration of a run, Cancel takes it to wait for in-flight runs
	mu        sync.Mutex
	cancelled atomic.Bool
	running   atomic.Bool
	done      chan struct{}

	runs atomic.Int64

	//pool bookkeeping, guarded by the owning pool's mutex
	next    time.Time
	index   int
	pending bool // queued for a worker
}

func newHandle(parent context.Context, name string, interval time.Duration, task Task) *Handle {
	if interval <= 0 {
		panic("tick: non-positive interval for " + name)
	}

	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		name:     name,
		interval: interval,
		task:     task,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		index:    -1,
	}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Interval() time.Duration {
	return h.interval
}

// closed once the handle is cancelled and no run is in flight
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// number of completed runs
func (h *Handle) Runs() int64 {
	return h.runs.Load()
}

// Cancel stops the task. It cancels the task context first so in-flight I/O
// aborts, then waits for a running invocation to return. No run starts after
// Cancel returns. Calling it from inside the task deadlocks, return ErrStop instead.
func (h *Handle) Cancel() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stop()
}

// caller holds h.mu
func (h *Handle) stop() {
	if h.cancelled.Swap(true) {
		return
	}
	close(h.done)
}

type outcome string

const (
	outcomeOK      outcome = "ok"
	outcomeError   outcome = "error"
	outcomePanic   outcome = "panic"
	outcomeStopped outcome = "stopped"
	outcomeSkipped outcome = "skipped"
)

// runs the task once, skipping if the previous run is still going or the handle is cancelled
func (h *Handle) run() (outcome, error) {
	if !h.running.CompareAndSwap(false, true) {
		return outcomeSkipped, nil
	}
	defer h.running.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancelled.Load() {
		return outcomeSkipped, nil
	}

	panicked, err := h.call()
	h.runs.Add(1)

	switch {
	case panicked:
		return outcomePanic, err
	case errors.Is(err, ErrStop):
		h.cancel()
		h.stop()
		return outcomeStopped, err
	case err != nil:
		return outcomeError, err
	default:
		return outcomeOK, nil
	}
}

func (h *Handle) call() (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("tick: task %s panicked: %v", h.name, r)
		}
	}()

	//a hung backend call must not pin a worker past the next tick
	ctx, cancel := context.WithTimeout(h.ctx, h.interval)
	defer cancel()
	return false, h.task(ctx)
}
