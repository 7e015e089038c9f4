package fsm

import (
	"context"
	"testing"
	"time"

	ztime "github.com/pixperk/zlock/pkg/time"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReapsExpiredLeasesOnAccess(t *testing.T) {
	ctx := context.Background()
	clock := ztime.NewManualClock()
	store := NewStore(clock)

	lease, err := store.Grant(ctx, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, lease.TTL)

	_, err = store.Put(ctx, "/zlock/orders/a", "a", lease.ID)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	kv, err := store.Get(ctx, "/zlock/orders/a")
	require.NoError(t, err)
	require.NotNil(t, kv)

	clock.Advance(time.Second)
	kv, err = store.Get(ctx, "/zlock/orders/a")
	require.NoError(t, err)
	assert.Nil(t, kv, "key must disappear with its lease")

	_, err = store.KeepAliveOnce(ctx, lease.ID)
	assert.ErrorIs(t, err, types.ErrLeaseNotFound)
}

func TestStoreKeepAliveExtendsDeadline(t *testing.T) {
	ctx := context.Background()
	clock := ztime.NewManualClock()
	store := NewStore(clock)

	lease, err := store.Grant(ctx, 3*time.Second)
	require.NoError(t, err)
	_, err = store.Put(ctx, "k", "v", lease.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(2 * time.Second)
		ttl, err := store.KeepAliveOnce(ctx, lease.ID)
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, ttl)
	}

	kvs, err := store.Range(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, kvs, 1)
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	store := NewStore(ztime.NewManualClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Range(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreRevokeAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ztime.NewManualClock())

	lease, err := store.Grant(ctx, time.Minute)
	require.NoError(t, err)
	_, err = store.Put(ctx, "a", "a", lease.ID)
	require.NoError(t, err)
	_, err = store.Put(ctx, "b", "b", 0)
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, lease.ID))
	assert.ErrorIs(t, store.Revoke(ctx, lease.ID), types.ErrLeaseNotFound)

	deleted, err := store.Delete(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.Equal(t, 0, store.FSM().Stats().Keys)
}
