package etcd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixperk/zlock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeLease overrides the lease calls the adapter makes, anything else panics
type fakeLease struct {
	clientv3.Lease

	grantedTTL   int64
	keepAliveErr error
}

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.grantedTTL = ttl
	return &clientv3.LeaseGrantResponse{ID: 42, TTL: ttl}, nil
}

func (f *fakeLease) KeepAliveOnce(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error) {
	if f.keepAliveErr != nil {
		return nil, f.keepAliveErr
	}
	return &clientv3.LeaseKeepAliveResponse{ID: id, TTL: 30}, nil
}

type fakeKV struct {
	clientv3.KV

	kvs []*mvccpb.KeyValue
}

func (f *fakeKV) Get(_ context.Context, _ string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	return &clientv3.GetResponse{Kvs: f.kvs}, nil
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(1), ttlSeconds(0))
	assert.Equal(t, int64(1), ttlSeconds(300*time.Millisecond))
	assert.Equal(t, int64(10), ttlSeconds(10*time.Second))
	assert.Equal(t, int64(11), ttlSeconds(10*time.Second+time.Millisecond))
}

func TestGrantReportsGrantedTTL(t *testing.T) {
	lease := &fakeLease{}
	kv := NewFromAPIs(&fakeKV{}, lease)

	grant, err := kv.Grant(context.Background(), 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lease.grantedTTL)
	assert.Equal(t, int64(42), grant.ID)
	assert.Equal(t, 2*time.Second, grant.TTL)
}

func TestKeepAliveOnceMapsLeaseNotFound(t *testing.T) {
	lease := &fakeLease{keepAliveErr: rpctypes.ErrLeaseNotFound}
	kv := NewFromAPIs(&fakeKV{}, lease)

	_, err := kv.KeepAliveOnce(context.Background(), 42)
	assert.ErrorIs(t, err, types.ErrLeaseNotFound)

	lease.keepAliveErr = errors.New("connection refused")
	_, err = kv.KeepAliveOnce(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrLeaseNotFound)

	lease.keepAliveErr = nil
	ttl, err := kv.KeepAliveOnce(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestGetConvertsRecords(t *testing.T) {
	fake := &fakeKV{kvs: []*mvccpb.KeyValue{{
		Key:            []byte("/zlock/orders/h1"),
		Value:          []byte("h1"),
		CreateRevision: 7,
		ModRevision:    9,
		Version:        2,
		Lease:          42,
	}}}
	kv := NewFromAPIs(fake, &fakeLease{})

	record, err := kv.Get(context.Background(), "/zlock/orders/h1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.KeyValue{
		Key:            "/zlock/orders/h1",
		Value:          "h1",
		CreateRevision: 7,
		ModRevision:    9,
		Version:        2,
		LeaseID:        42,
	}, *record)

	fake.kvs = nil
	record, err = kv.Get(context.Background(), "/zlock/orders/h1")
	require.NoError(t, err)
	assert.Nil(t, record)
}
