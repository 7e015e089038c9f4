package fsm

import (
	"context"
	tm "time"

	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/time"
	"github.com/pixperk/zlock/pkg/types"
)

var _ backend.KV = (*Store)(nil)

// Store serves an FSM in-process as a backend.KV.
// There is no expiry loop: expired leases are reaped before every operation,
// so time only matters when the store is touched.
type Store struct {
	fsm *FSM
}

func NewStore(clock time.Clock) *Store {
	return &Store{fsm: NewFSMWithClock(clock)}
}

// returns the underlying state machine
func (s *Store) FSM() *FSM {
	return s.fsm
}

// applies ExpireLease for every lease past its deadline, returns how many were expired
func (s *Store) Reap() int {
	expired := s.fsm.GetExpiredLeases(s.fsm.CurrentTime())
	for _, id := range expired {
		//lost races with a concurrent revoke are harmless
		_, _ = s.fsm.Apply(types.ExpireLeaseCmd{LeaseID: id})
	}
	return len(expired)
}

func (s *Store) apply(ctx context.Context, cmd types.Command) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Reap()
	return s.fsm.Apply(cmd)
}

func (s *Store) Grant(ctx context.Context, ttl tm.Duration) (types.LeaseGrant, error) {
	res, err := s.apply(ctx, types.GrantLeaseCmd{TTL: ttl})
	if err != nil {
		return types.LeaseGrant{}, err
	}
	resp := res.(GrantLeaseResponse)
	return types.LeaseGrant{ID: resp.LeaseID, TTL: resp.TTL}, nil
}

func (s *Store) KeepAliveOnce(ctx context.Context, leaseID int64) (tm.Duration, error) {
	res, err := s.apply(ctx, types.KeepAliveCmd{LeaseID: leaseID})
	if err != nil {
		return 0, err
	}
	return res.(KeepAliveResponse).TTL, nil
}

func (s *Store) Revoke(ctx context.Context, leaseID int64) error {
	_, err := s.apply(ctx, types.RevokeLeaseCmd{LeaseID: leaseID})
	return err
}

func (s *Store) Put(ctx context.Context, key, value string, leaseID int64) (int64, error) {
	res, err := s.apply(ctx, types.PutCmd{Key: key, Value: value, LeaseID: leaseID})
	if err != nil {
		return 0, err
	}
	return res.(PutResponse).Revision, nil
}

func (s *Store) CompareAndPut(ctx context.Context, key, value string, leaseID, createRevision int64) (bool, error) {
	res, err := s.apply(ctx, types.CompareAndPutCmd{
		Key:            key,
		Value:          value,
		LeaseID:        leaseID,
		CreateRevision: createRevision,
	})
	if err != nil {
		return false, err
	}
	return res.(PutResponse).Succeeded, nil
}

func (s *Store) Get(ctx context.Context, key string) (*types.KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Reap()
	kv, ok := s.fsm.Get(key)
	if !ok {
		return nil, nil
	}
	return &kv, nil
}

func (s *Store) Range(ctx context.Context, prefix string) ([]types.KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Reap()
	return s.fsm.Range(prefix), nil
}

func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	res, err := s.apply(ctx, types.DeleteCmd{Key: key})
	if err != nil {
		return 0, err
	}
	return res.(DeleteResponse).Deleted, nil
}
