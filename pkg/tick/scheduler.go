// Package tick runs periodic background tasks, such as lock renewals, on a
// bounded pool of workers.
package tick

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixperk/zlock/pkg/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler starts periodic tasks.
type Scheduler interface {
	// Every runs task every interval until the returned handle is cancelled.
	// The first run happens one interval from now.
	Every(name string, interval time.Duration, task Task) *Handle
}

var poolSeq atomic.Int64

// Pool is a fixed-rate Scheduler backed by a bounded set of workers.
// Due runs wait in a FIFO queue while every worker is busy, with at most one
// queued run per task. A run is skipped when the previous run of the same task
// has not finished or is still queued. Each run gets a context that expires
// after one interval.
type Pool struct {
	name    string
	workers int
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	queue  handleHeap // scheduled handles by next fire time
	ready  []*Handle  // due handles waiting for a worker, oldest first
	idle   *sync.Cond // signalled when ready grows or the pool closes
	closed bool

	wake chan struct{}
}

var _ Scheduler = (*Pool)(nil)

type PoolOption func(*Pool)

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLogger(log *logrus.Entry) PoolOption {
	return func(p *Pool) {
		p.log = log
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		name:    fmt.Sprintf("lock-pool-%d", poolSeq.Add(1)),
		workers: 1,
		log:     logrus.WithField("component", "tick"),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("pool", p.name)
	p.idle = sync.NewCond(&p.mu)

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.group, _ = errgroup.WithContext(p.ctx)

	for i := 0; i < p.workers; i++ {
		worker := fmt.Sprintf("%s-worker-%d", p.name, i+1)
		p.group.Go(func() error {
			pprof.Do(p.ctx, pprof.Labels("worker", worker), func(context.Context) {
				p.workLoop(p.log.WithField("worker", worker))
			})
			return nil
		})
	}
	p.group.Go(func() error {
		p.dispatchLoop()
		return nil
	})

	return p
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) Every(name string, interval time.Duration, task Task) *Handle {
	h := newHandle(p.ctx, name, interval, task)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.Cancel()
		return h
	}
	h.next = time.Now().Add(interval)
	heap.Push(&p.queue, h)
	p.mu.Unlock()

	metrics.SchedulerTasks.Inc()
	go func() {
		<-h.Done()
		metrics.SchedulerTasks.Dec()
	}()

	p.signal()
	return h
}

// Shutdown stops dispatching, cancels every task and waits for the workers to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := append([]*Handle(nil), p.queue...)
	p.queue = nil
	p.ready = nil
	p.idle.Broadcast()
	p.mu.Unlock()

	p.cancel()
	for _, h := range handles {
		h.Cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) dispatchLoop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		skipped, wait := p.collectDue(time.Now())
		for _, h := range skipped {
			metrics.SchedulerTaskRuns.WithLabelValues(string(outcomeSkipped)).Inc()
			p.log.WithField("task", h.name).Debug("previous run still pending, skipping run")
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

// pops every due handle, queues it for a worker and reschedules it at fixed rate.
// returns the handles whose run was skipped and the wait until the next one
func (p *Pool) collectDue(now time.Time) ([]*Handle, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var skipped []*Handle
	for p.queue.Len() > 0 && !p.queue[0].next.After(now) {
		h := heap.Pop(&p.queue).(*Handle)
		if h.Cancelled() {
			continue
		}

		if h.pending || h.running.Load() {
			skipped = append(skipped, h)
		} else {
			h.pending = true
			p.ready = append(p.ready, h)
			p.idle.Signal()
		}

		h.next = h.next.Add(h.interval)
		if h.next.Before(now) {
			//fell behind (long gc pause, suspended process), do not burst
			h.next = now.Add(h.interval)
		}
		heap.Push(&p.queue, h)
	}

	wait := time.Hour
	if p.queue.Len() > 0 {
		wait = p.queue[0].next.Sub(now)
	}
	return skipped, wait
}

// blocks until a queued handle is available, nil once the pool is closed
func (p *Pool) take() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.ready) == 0 && !p.closed {
		p.idle.Wait()
	}
	if p.closed {
		return nil
	}

	h := p.ready[0]
	p.ready[0] = nil
	p.ready = p.ready[1:]
	h.pending = false
	return h
}

func (p *Pool) workLoop(log *logrus.Entry) {
	for {
		h := p.take()
		if h == nil {
			return
		}
		p.execute(log, h)
	}
}

func (p *Pool) execute(log *logrus.Entry, h *Handle) {
	result, err := h.run()
	metrics.SchedulerTaskRuns.WithLabelValues(string(result)).Inc()

	log = log.WithField("task", h.name)
	switch result {
	case outcomePanic:
		log.WithError(err).Error("task panicked")
	case outcomeError:
		log.WithError(err).Warn("task failed")
	case outcomeStopped:
		log.WithError(err).Info("task stopped itself")
	}
}

// min-heap of handles ordered by next run time
type handleHeap []*Handle

func (q handleHeap) Len() int           { return len(q) }
func (q handleHeap) Less(i, j int) bool { return q[i].next.Before(q[j].next) }

func (q handleHeap) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *handleHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *handleHeap) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
