package types

import (
	"fmt"
	"time"
)

// a lease is a time-bound validity attached to stored keys
// when the lease expires every key attached to it is deleted by the store
type Lease struct {
	LeaseID   int64
	ExpiresAt time.Duration //monotonic time from store start
	TTL       time.Duration
}

// checks if the lease has expired given the elapsed time since store start
func (l *Lease) IsExpired(elapsed time.Duration) bool {
	return elapsed >= l.ExpiresAt
}

// returned by a backend when a lease is granted
// TTL is what the backend actually granted, which may be rounded (etcd works in seconds)
type LeaseGrant struct {
	ID  int64
	TTL time.Duration
}

// timing parameters of a single lock
type LeaseParams struct {
	InitialTTL time.Duration // lease attached to the record on acquire
	RenewalTTL time.Duration // lease the record is moved to on the first renewal

	// how often the renewal task fires, zero means min(InitialTTL, RenewalTTL)/3
	RenewInterval time.Duration
}

// DefaultLeaseParams are used when a lock has no explicit configuration.
func DefaultLeaseParams() LeaseParams {
	return LeaseParams{
		InitialTTL: 10 * time.Second,
		RenewalTTL: 30 * time.Second,
	}
}

func (p LeaseParams) Validate() error {
	if p.InitialTTL <= 0 || p.RenewalTTL <= 0 {
		return ErrInvalidLeaseTTL
	}
	if p.RenewInterval < 0 {
		return fmt.Errorf("%w: negative renew interval", ErrInvalidLeaseTTL)
	}
	if p.RenewInterval > 0 && (p.RenewInterval >= p.InitialTTL || p.RenewInterval >= p.RenewalTTL) {
		return fmt.Errorf("%w: renew interval %s must be shorter than both ttls", ErrInvalidLeaseTTL, p.RenewInterval)
	}
	if p.Interval() <= 0 {
		return fmt.Errorf("%w: ttls too short to renew", ErrInvalidLeaseTTL)
	}
	return nil
}

// interval at which the renewal task fires
func (p LeaseParams) Interval() time.Duration {
	if p.RenewInterval > 0 {
		return p.RenewInterval
	}
	return min(p.InitialTTL, p.RenewalTTL) / 3
}
