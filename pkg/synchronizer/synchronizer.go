// Package synchronizer implements the acquire, release and extend protocol of
// a named lock against one coordination backend.
//
// Two variants share the same contract:
//   - Revision orders contenders by the create revision of their key in a
//     revision-ordered store (etcd) and keeps the key alive through leases.
//   - Sequence orders contenders by the sequence suffix of ephemeral nodes in
//     a tree (ZooKeeper) and relies on the session for liveness.
//
// Losing the race is not an error: TryAcquire returns (false, nil). Releasing
// a lock that is not held is not an error either: Release returns (true, nil).
// Every failure is a *types.LockError whose kind is one of
// types.ErrBackendUnavailable, types.ErrReleaseFailed or types.ErrRenewalLost.
package synchronizer

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pixperk/zlock/pkg/metrics"
	"github.com/pixperk/zlock/pkg/tick"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultRoot is the namespace every lock lives under.
const DefaultRoot = "/zlock"

type Synchronizer interface {
	// TryAcquire makes a single attempt to win the lock. On a win it starts
	// the renewal task. It never waits for the lock to become free.
	TryAcquire(ctx context.Context) (bool, error)
	// Release stops renewal and removes the backend record. It is idempotent.
	Release(ctx context.Context) (bool, error)
	// Extend renews the held lock once. It is called by the renewal task.
	Extend(ctx context.Context) error

	// Done is closed when the held lock is confirmed lost, Err then returns why.
	Done() <-chan struct{}
	Err() error

	Name() string
	HolderID() string
}

type Option func(*options)

type options struct {
	root      string
	params    types.LeaseParams
	scheduler tick.Scheduler
	registry  *tick.Registry
	cache     *PathCache
	holderID  string
	log       *logrus.Entry
}

func defaultOptions() options {
	return options{
		root:   DefaultRoot,
		params: types.DefaultLeaseParams(),
	}
}

func WithRoot(root string) Option {
	return func(o *options) {
		o.root = root
	}
}

func WithLeaseParams(params types.LeaseParams) Option {
	return func(o *options) {
		o.params = params
	}
}

// WithScheduler sets where renewal tasks run, tick.Default() otherwise.
func WithScheduler(s tick.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithRegistry shares a renewal registry between synchronizers.
func WithRegistry(r *tick.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithPathCache shares the winning-path cache between sequence synchronizers.
func WithPathCache(c *PathCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithHolderID overrides the generated holder id.
func WithHolderID(id string) Option {
	return func(o *options) {
		o.holderID = id
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}

// state shared by both variants
type lockState struct {
	name    string
	holder  string
	dir     string // root/name
	params  types.LeaseParams
	variant string

	scheduler tick.Scheduler
	registry  *tick.Registry
	log       *logrus.Entry

	//serializes caller operations, never taken by the renewal task
	ops sync.Mutex

	mu      sync.Mutex
	held    bool
	handle  *tick.Handle
	lost    chan struct{}
	lostErr error
}

func newLockState(variant, name string, opts []Option) (*lockState, options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := types.ValidateLockName(name); err != nil {
		return nil, o, fmt.Errorf("synchronizer: %w", err)
	}
	if strings.Contains(o.holderID, "/") {
		return nil, o, fmt.Errorf("synchronizer %q: holder id %q contains '/'", name, o.holderID)
	}
	if err := o.params.Validate(); err != nil {
		return nil, o, fmt.Errorf("synchronizer %q: %w", name, err)
	}
	if o.scheduler == nil {
		o.scheduler = tick.Default()
	}
	if o.registry == nil {
		o.registry = tick.NewRegistry()
	}
	if o.holderID == "" {
		o.holderID = uuid.NewString()
	}
	if o.log == nil {
		o.log = logrus.WithField("component", "synchronizer")
	}

	return &lockState{
		name:      name,
		holder:    o.holderID,
		dir:       path.Join(o.root, name),
		params:    o.params,
		variant:   variant,
		scheduler: o.scheduler,
		registry:  o.registry,
		log: o.log.WithFields(logrus.Fields{
			"lock":    name,
			"holder":  o.holderID,
			"backend": variant,
		}),
		lost: make(chan struct{}),
	}, o, nil
}

func (s *lockState) Name() string {
	return s.name
}

func (s *lockState) HolderID() string {
	return s.holder
}

func (s *lockState) Done() <-chan struct{} {
	return s.lost
}

func (s *lockState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostErr
}

func (s *lockState) isHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// error to return from TryAcquire on an instance whose lock was lost
func (s *lockState) reuseErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostErr
}

// starts the periodic renewal of a freshly won lock
func (s *lockState) startRenewal(extend func(ctx context.Context) error) {
	task := func(ctx context.Context) error {
		err := extend(ctx)
		switch {
		case err == nil:
			metrics.LockRenewalTotal.WithLabelValues(s.variant, "ok").Inc()
			return nil
		case types.IsLost(err):
			metrics.LockRenewalTotal.WithLabelValues(s.variant, "lost").Inc()
			return fmt.Errorf("%w: %w", tick.ErrStop, err)
		default:
			//transient, the next tick tries again
			metrics.LockRenewalTotal.WithLabelValues(s.variant, "unavailable").Inc()
			return err
		}
	}

	h := s.scheduler.Every(s.name+"/"+s.holder, s.params.Interval(), task)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	s.registry.Put(s.name, h)
}

// cancels the renewal task and waits for an in-flight extend to finish
func (s *lockState) stopRenewal() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	s.registry.Remove(s.name, h)
	h.Cancel()
}

// records that the held lock is gone and builds the RenewalLost error
func (s *lockState) markLost(op string, cause error) error {
	lockErr := types.NewLockError(types.ErrRenewalLost, op, s.name, cause)

	s.mu.Lock()
	if !s.held {
		s.mu.Unlock()
		return lockErr
	}
	s.held = false
	s.lostErr = lockErr
	h := s.handle
	close(s.lost)
	s.mu.Unlock()

	if h != nil {
		//the task stops itself through tick.ErrStop, only the registry entry goes here
		s.registry.Remove(s.name, h)
	}

	metrics.LocksLostTotal.WithLabelValues(s.name).Inc()
	metrics.LocksActive.Dec()
	s.log.WithError(cause).Warn("lock lost")
	return lockErr
}

func (s *lockState) unavailable(op string, err error) error {
	return types.Unavailable(op, s.name, err)
}
