package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/metrics"
	"github.com/pixperk/zlock/pkg/types"
)

// Revision is a lock held as a leased key in a revision-ordered store.
// The contender whose key under root/name/ has the lowest create revision wins.
type Revision struct {
	*lockState
	kv backend.KV

	//guarded by lockState.mu
	acquired   bool  // a record was won and not yet released
	key        string
	createRev  int64 // create revision of the winning record
	leaseID    int64 // lease the record is attached to now
	firstLease int64 // lease granted on acquire
	grantedTTL time.Duration
}

var _ Synchronizer = (*Revision)(nil)

func NewRevision(kv backend.KV, name string, opts ...Option) (*Revision, error) {
	state, _, err := newLockState("revision", name, opts)
	if err != nil {
		return nil, err
	}
	return &Revision{
		lockState: state,
		kv:        kv,
		key:       state.dir + "/" + state.holder,
	}, nil
}

// key this synchronizer writes
func (r *Revision) Key() string {
	return r.key
}

func (r *Revision) TryAcquire(ctx context.Context) (bool, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	if r.isHeld() {
		return true, nil
	}
	if err := r.reuseErr(); err != nil {
		return false, err
	}

	start := time.Now()
	won, err := r.tryAcquire(ctx)
	metrics.LockAcquireDuration.WithLabelValues(r.variant).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.LockAcquireTotal.WithLabelValues(r.name, "error").Inc()
		r.log.WithError(err).Debug("acquire failed")
	case won:
		metrics.LockAcquireTotal.WithLabelValues(r.name, "won").Inc()
		metrics.LocksActive.Inc()
		r.log.Debug("lock acquired")
	default:
		metrics.LockAcquireTotal.WithLabelValues(r.name, "not_won").Inc()
	}
	return won, err
}

func (r *Revision) tryAcquire(ctx context.Context) (bool, error) {
	const op = "acquire"

	//s1 : lease for the record
	lease, err := r.kv.Grant(ctx, r.params.InitialTTL)
	if err != nil {
		return false, r.unavailable(op, err)
	}

	//s2 : write our record under the lease
	if _, err := r.kv.Put(ctx, r.key, r.holder, lease.ID); err != nil {
		//the put may still have landed, revoking the lease removes it either way
		r.revoke(lease.ID)
		return false, r.unavailable(op, err)
	}

	//s3 : read every contender
	contenders, err := r.kv.Range(ctx, r.dir+"/")
	if err != nil {
		cleanupErr := r.withdraw(ctx, lease.ID)
		return false, r.unavailable(op, errors.Join(err, cleanupErr))
	}

	//s4 : lowest create revision wins
	winner, ok := lowestRevision(contenders)
	if !ok || winner.Key != r.key {
		if err := r.withdraw(ctx, lease.ID); err != nil {
			return false, r.unavailable(op, err)
		}
		return false, nil
	}

	r.mu.Lock()
	r.held = true
	r.acquired = true
	r.createRev = winner.CreateRevision
	r.leaseID = lease.ID
	r.firstLease = lease.ID
	r.grantedTTL = lease.TTL
	r.mu.Unlock()

	r.startRenewal(r.Extend)
	return true, nil
}

// lowest create revision among records, the backend order is not trusted
func lowestRevision(kvs []types.KeyValue) (types.KeyValue, bool) {
	if len(kvs) == 0 {
		return types.KeyValue{}, false
	}
	lowest := kvs[0]
	for _, kv := range kvs[1:] {
		if kv.CreateRevision < lowest.CreateRevision {
			lowest = kv
		}
	}
	return lowest, true
}

// removes our losing record and its lease
func (r *Revision) withdraw(ctx context.Context, leaseID int64) error {
	_, err := r.kv.Delete(ctx, r.key)
	r.revoke(leaseID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.key, err)
	}
	return nil
}

// best-effort lease revoke, the lease expires on its own anyway
func (r *Revision) revoke(leaseID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), r.params.InitialTTL)
	defer cancel()

	if err := r.kv.Revoke(ctx, leaseID); err != nil && !errors.Is(err, types.ErrLeaseNotFound) {
		r.log.WithError(err).WithField("lease", leaseID).Debug("lease revoke failed")
	}
}

// Extend validates that the record is still ours and renews it. The first
// successful extend moves the record from the initial lease to a lease of
// RenewalTTL; afterwards a keep-alive of that lease is the whole renewal.
func (r *Revision) Extend(ctx context.Context) error {
	const op = "extend"

	r.mu.Lock()
	if !r.held {
		r.mu.Unlock()
		return nil
	}
	leaseID, firstLease, createRev, grantedTTL := r.leaseID, r.firstLease, r.createRev, r.grantedTTL
	r.mu.Unlock()

	//s1 : the record must still be the one we won
	record, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return r.unavailable(op, err)
	}
	switch {
	case record == nil:
		return r.markLost(op, fmt.Errorf("record %s is gone", r.key))
	case record.Value != r.holder:
		return r.markLost(op, fmt.Errorf("record %s belongs to %q", r.key, record.Value))
	case record.CreateRevision != createRev:
		return r.markLost(op, fmt.Errorf("record %s was re-created at revision %d", r.key, record.CreateRevision))
	}

	//s2 : keep the attached lease alive
	ttl, err := r.kv.KeepAliveOnce(ctx, leaseID)
	if errors.Is(err, types.ErrLeaseNotFound) || errors.Is(err, types.ErrLeaseExpired) {
		return r.markLost(op, err)
	}
	if err != nil {
		return r.unavailable(op, err)
	}

	//s3 : still on the initial lease, move to a renewal lease
	if leaseID != firstLease || ttl != grantedTTL || r.params.RenewalTTL == r.params.InitialTTL {
		return nil
	}

	renewal, err := r.kv.Grant(ctx, r.params.RenewalTTL)
	if err != nil {
		return r.unavailable(op, err)
	}

	//guarded by the create revision so a deleted or re-created record is never written
	moved, err := r.kv.CompareAndPut(ctx, r.key, r.holder, renewal.ID, createRev)
	if err != nil {
		r.revoke(renewal.ID)
		return r.unavailable(op, err)
	}
	if !moved {
		r.revoke(renewal.ID)
		return r.markLost(op, fmt.Errorf("record %s changed before the lease move", r.key))
	}

	r.mu.Lock()
	if r.held && r.leaseID == leaseID {
		r.leaseID = renewal.ID
	}
	r.mu.Unlock()

	//nothing is attached to the initial lease any more
	r.revoke(leaseID)
	return nil
}

func (r *Revision) Release(ctx context.Context) (bool, error) {
	r.ops.Lock()
	defer r.ops.Unlock()

	//renewal first so no extend races the delete
	r.stopRenewal()

	r.mu.Lock()
	acquired, wasHeld := r.acquired, r.held
	leaseID, createRev := r.leaseID, r.createRev
	r.held = false
	r.mu.Unlock()

	if wasHeld {
		metrics.LocksActive.Dec()
	}
	if !acquired {
		metrics.LockReleaseTotal.WithLabelValues(r.name, "noop").Inc()
		return true, nil
	}

	if err := r.removeRecord(ctx, createRev); err != nil {
		metrics.LockReleaseTotal.WithLabelValues(r.name, "error").Inc()
		//acquired stays set so the caller can retry, otherwise the lease reclaims the record
		r.log.WithError(err).Warn("release failed")
		return false, err
	}
	r.revoke(leaseID)

	r.mu.Lock()
	r.acquired = false
	r.mu.Unlock()

	metrics.LockReleaseTotal.WithLabelValues(r.name, "released").Inc()
	r.log.Debug("lock released")
	return true, nil
}

// deletes the record only while it is still the one we won
func (r *Revision) removeRecord(ctx context.Context, createRev int64) error {
	const op = "release"

	record, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return types.NewLockError(types.ErrReleaseFailed, op, r.name, err)
	}
	if record == nil || record.Value != r.holder || record.CreateRevision != createRev {
		return nil
	}
	if _, err := r.kv.Delete(ctx, r.key); err != nil {
		return types.NewLockError(types.ErrReleaseFailed, op, r.name, err)
	}
	return nil
}
