package lock

import (
	"github.com/pixperk/zlock/pkg/synchronizer"
	"github.com/pixperk/zlock/pkg/tick"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*options)

type options struct {
	root      string
	params    types.LeaseParams
	perLock   map[string]types.LeaseParams
	scheduler tick.Scheduler
	registry  *tick.Registry
	cache     *synchronizer.PathCache
	log       *logrus.Entry
	onLost    func(name string, err error)
	tracer    trace.TracerProvider
}

// lease parameters used for every lock without its own
func WithLeaseParams(params types.LeaseParams) Option {
	return func(o *options) {
		o.params = params
	}
}

// lease parameters for a single lock name
func WithLockLeaseParams(name string, params types.LeaseParams) Option {
	return func(o *options) {
		if o.perLock == nil {
			o.perLock = make(map[string]types.LeaseParams)
		}
		o.perLock[name] = params
	}
}

func WithRoot(root string) Option {
	return func(o *options) {
		o.root = root
	}
}

func WithScheduler(s tick.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

func WithRegistry(r *tick.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithOnLost is called, on its own goroutine, when a held lock is lost.
func WithOnLost(fn func(name string, err error)) Option {
	return func(o *options) {
		o.onLost = fn
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

func (o *options) leaseParams(name string) types.LeaseParams {
	if p, ok := o.perLock[name]; ok {
		return p
	}
	return o.params
}

// WithPathCache shares the winning-path cache of sequence locks.
func WithPathCache(c *synchronizer.PathCache) Option {
	return func(o *options) {
		o.cache = c
	}
}
