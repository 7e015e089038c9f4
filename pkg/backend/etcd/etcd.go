// Package etcd adapts an etcd v3 client to backend.KV.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/types"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KV talks to etcd through its KV and Lease APIs.
type KV struct {
	kv    clientv3.KV
	lease clientv3.Lease
}

var _ backend.KV = (*KV)(nil)

// New wraps an already connected client.
func New(cli *clientv3.Client) *KV {
	return NewFromAPIs(cli.KV, cli.Lease)
}

func NewFromAPIs(kv clientv3.KV, lease clientv3.Lease) *KV {
	return &KV{kv: kv, lease: lease}
}

// etcd leases have second granularity, a sub-second remainder is rounded up
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (e *KV) Grant(ctx context.Context, ttl time.Duration) (types.LeaseGrant, error) {
	resp, err := e.lease.Grant(ctx, ttlSeconds(ttl))
	if err != nil {
		return types.LeaseGrant{}, fmt.Errorf("etcd grant: %w", err)
	}
	return types.LeaseGrant{
		ID:  int64(resp.ID),
		TTL: time.Duration(resp.TTL) * time.Second,
	}, nil
}

func (e *KV) KeepAliveOnce(ctx context.Context, leaseID int64) (time.Duration, error) {
	resp, err := e.lease.KeepAliveOnce(ctx, clientv3.LeaseID(leaseID))
	if err != nil {
		return 0, fmt.Errorf("etcd keep-alive: %w", mapLeaseErr(err))
	}
	return time.Duration(resp.TTL) * time.Second, nil
}

func (e *KV) Revoke(ctx context.Context, leaseID int64) error {
	if _, err := e.lease.Revoke(ctx, clientv3.LeaseID(leaseID)); err != nil {
		return fmt.Errorf("etcd revoke: %w", mapLeaseErr(err))
	}
	return nil
}

func (e *KV) Put(ctx context.Context, key, value string, leaseID int64) (int64, error) {
	resp, err := e.kv.Put(ctx, key, value, leaseOpts(leaseID)...)
	if err != nil {
		return 0, fmt.Errorf("etcd put: %w", mapLeaseErr(err))
	}
	return resp.Header.Revision, nil
}

func (e *KV) CompareAndPut(ctx context.Context, key, value string, leaseID, createRevision int64) (bool, error) {
	//a missing key has create revision 0, so a deleted record never matches
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", createRevision)).
		Then(clientv3.OpPut(key, value, leaseOpts(leaseID)...)).
		Commit()
	if err != nil {
		return false, fmt.Errorf("etcd compare-and-put: %w", mapLeaseErr(err))
	}
	return resp.Succeeded, nil
}

func (e *KV) Get(ctx context.Context, key string) (*types.KeyValue, error) {
	resp, err := e.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := fromPB(resp.Kvs[0])
	return &kv, nil
}

func (e *KV) Range(ctx context.Context, prefix string) ([]types.KeyValue, error) {
	resp, err := e.kv.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("etcd range: %w", err)
	}

	kvs := make([]types.KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, fromPB(kv))
	}
	return kvs, nil
}

func (e *KV) Delete(ctx context.Context, key string) (int64, error) {
	resp, err := e.kv.Delete(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("etcd delete: %w", err)
	}
	return resp.Deleted, nil
}

func leaseOpts(leaseID int64) []clientv3.OpOption {
	if leaseID == 0 {
		return nil
	}
	return []clientv3.OpOption{clientv3.WithLease(clientv3.LeaseID(leaseID))}
}

func mapLeaseErr(err error) error {
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return fmt.Errorf("%w: %v", types.ErrLeaseNotFound, err)
	}
	return err
}

func fromPB(kv *mvccpb.KeyValue) types.KeyValue {
	return types.KeyValue{
		Key:            string(kv.Key),
		Value:          string(kv.Value),
		CreateRevision: kv.CreateRevision,
		ModRevision:    kv.ModRevision,
		Version:        kv.Version,
		LeaseID:        kv.Lease,
	}
}
