// Package lock is the caller-facing API: named locks over a revision store or
// a sequence tree, with renewal handled in the background.
package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/synchronizer"
	"github.com/pixperk/zlock/pkg/tick"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotAcquired is returned by Acquire when the backoff gives up while the
// lock is held by someone else.
var ErrNotAcquired = errors.New("lock: not acquired")

const tracerName = "github.com/pixperk/zlock/pkg/lock"

type factory func(name string, opts ...synchronizer.Option) (synchronizer.Synchronizer, error)

// Locker hands out named locks. Each TryAcquire runs on a fresh synchronizer
// with its own holder id. Locks are not reentrant.
type Locker struct {
	newSync factory
	opts    options
	log     *logrus.Entry
	tracer  trace.Tracer

	mu   sync.Mutex
	held map[string]*entry
}

type entry struct {
	syncer   synchronizer.Synchronizer
	released chan struct{}

	//set once Release has run, renewal is stopped from then on
	releasing atomic.Bool
}

// NewRevisionLocker locks through a revision-ordered store such as etcd.
func NewRevisionLocker(kv backend.KV, opts ...Option) *Locker {
	return newLocker(func(name string, o ...synchronizer.Option) (synchronizer.Synchronizer, error) {
		return synchronizer.NewRevision(kv, name, o...)
	}, opts)
}

// NewSequenceLocker locks through an ephemeral-node tree such as ZooKeeper.
func NewSequenceLocker(tree backend.Tree, opts ...Option) *Locker {
	l := newLocker(nil, opts)
	if l.opts.cache == nil {
		l.opts.cache = synchronizer.NewPathCache()
	}
	l.newSync = func(name string, o ...synchronizer.Option) (synchronizer.Synchronizer, error) {
		return synchronizer.NewSequence(tree, name, append(o, synchronizer.WithPathCache(l.opts.cache))...)
	}
	return l
}

func newLocker(newSync factory, opts []Option) *Locker {
	o := options{
		root:   synchronizer.DefaultRoot,
		params: types.DefaultLeaseParams(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scheduler == nil {
		o.scheduler = tick.Default()
	}
	if o.registry == nil {
		o.registry = tick.NewRegistry()
	}
	if o.log == nil {
		o.log = logrus.WithField("component", "locker")
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}

	return &Locker{
		newSync: newSync,
		opts:    o,
		log:     o.log,
		tracer:  o.tracer.Tracer(tracerName),
		held:    make(map[string]*entry),
	}
}

// Registry returns the renewal registry of this locker.
func (l *Locker) Registry() *tick.Registry {
	return l.opts.registry
}

// TryAcquire makes one attempt at name. It returns (false, nil) when someone
// else holds the lock, including this Locker.
func (l *Locker) TryAcquire(ctx context.Context, name string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "Locker.TryAcquire", trace.WithAttributes(attribute.String("lock.name", name)))
	defer span.End()

	if l.tracked(name) {
		span.SetAttributes(attribute.Bool("lock.acquired", false))
		return false, nil
	}

	s, err := l.newSync(name,
		synchronizer.WithRoot(l.opts.root),
		synchronizer.WithLeaseParams(l.opts.leaseParams(name)),
		synchronizer.WithScheduler(l.opts.scheduler),
		synchronizer.WithRegistry(l.opts.registry),
		synchronizer.WithLogger(l.log),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.String("lock.holder", s.HolderID()))

	won, err := s.TryAcquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("lock.acquired", won))
	if !won {
		return false, nil
	}

	e := &entry{syncer: s, released: make(chan struct{})}
	l.mu.Lock()
	l.held[name] = e
	l.mu.Unlock()

	go l.watch(name, e)
	return true, nil
}

// forgets a lost lock and reports it
func (l *Locker) watch(name string, e *entry) {
	select {
	case <-e.released:
		return
	case <-e.syncer.Done():
	}

	l.mu.Lock()
	if l.held[name] == e {
		delete(l.held, name)
	}
	l.mu.Unlock()

	err := e.syncer.Err()
	l.log.WithError(err).WithField("lock", name).Warn("held lock was lost")
	if l.opts.onLost != nil {
		l.opts.onLost(name, err)
	}
}

// Release gives up name. Releasing a name that is not held succeeds.
// Renewal stops before the record is removed, so after a failed Release the
// lock is no longer Held and its lease runs out on its own. The name stays
// tracked until a retried Release succeeds, which it does once the record is
// gone, and TryAcquire keeps returning false until then.
func (l *Locker) Release(ctx context.Context, name string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "Locker.Release", trace.WithAttributes(attribute.String("lock.name", name)))
	defer span.End()

	l.mu.Lock()
	e, ok := l.held[name]
	l.mu.Unlock()
	if !ok {
		return true, nil
	}

	e.releasing.Store(true)
	released, err := e.syncer.Release(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	l.mu.Lock()
	if l.held[name] == e {
		delete(l.held, name)
		close(e.released)
	}
	l.mu.Unlock()
	return released, nil
}

// Acquire calls TryAcquire until it wins, waiting b.NextBackOff() between
// attempts. Backend outages are retried, other errors are returned. It gives
// up with ErrNotAcquired when b returns backoff.Stop.
func (l *Locker) Acquire(ctx context.Context, name string, b backoff.BackOff) error {
	ctx, span := l.tracer.Start(ctx, "Locker.Acquire", trace.WithAttributes(attribute.String("lock.name", name)))
	defer span.End()

	b.Reset()
	for attempt := 1; ; attempt++ {
		won, err := l.TryAcquire(ctx, name)
		if won {
			span.SetAttributes(attribute.Int("lock.attempts", attempt))
			return nil
		}
		if err != nil && !errors.Is(err, types.ErrBackendUnavailable) {
			span.RecordError(err)
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if err != nil {
				return err
			}
			return ErrNotAcquired
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports whether this locker believes it holds name.
func (l *Locker) Held(name string) bool {
	l.mu.Lock()
	e, ok := l.held[name]
	l.mu.Unlock()

	if !ok || e.releasing.Load() {
		return false
	}
	select {
	case <-e.syncer.Done():
		return false
	default:
		return true
	}
}

// name has an entry, held or with a release still pending
func (l *Locker) tracked(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}

// Lost returns a channel closed when the held lock name is lost, nil when
// name is not held.
func (l *Locker) Lost(name string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[name]
	if !ok {
		return nil
	}
	return e.syncer.Done()
}

// Close releases every held lock.
func (l *Locker) Close(ctx context.Context) error {
	l.mu.Lock()
	names := make([]string, 0, len(l.held))
	for name := range l.held {
		names = append(names, name)
	}
	l.mu.Unlock()

	var errs []error
	for _, name := range names {
		if _, err := l.Release(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
