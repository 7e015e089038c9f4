package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/backend/mock"
	"github.com/pixperk/zlock/pkg/fsm"
	ztime "github.com/pixperk/zlock/pkg/time"
	"github.com/pixperk/zlock/pkg/tick"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() types.LeaseParams {
	return types.LeaseParams{
		InitialTTL: 3 * time.Second,
		RenewalTTL: 9 * time.Second,
	}
}

func newRevision(t *testing.T, kv backend.KV, sched tick.Scheduler, opts ...Option) *Revision {
	t.Helper()
	opts = append([]Option{WithScheduler(sched), WithLeaseParams(testParams())}, opts...)
	r, err := NewRevision(kv, "orders", opts...)
	require.NoError(t, err)
	return r
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestRevisionMutualExclusion(t *testing.T) {
	ctx := context.Background()
	store := fsm.NewStore(ztime.NewManualClock())
	sched := tick.NewManual()

	const contenders = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		r := newRevision(t, store, sched)
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := r.TryAcquire(ctx)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	//losers cleaned up after themselves
	kvs, err := store.Range(ctx, "/zlock/orders/")
	require.NoError(t, err)
	assert.Len(t, kvs, 1)
	assert.Len(t, sched.Live(), 1, "only the winner renews")
}

func TestRevisionReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := fsm.NewStore(ztime.NewManualClock())
	sched := tick.NewManual()

	holder := newRevision(t, store, sched)
	won, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	//held instance answers without another round trip
	won, err = holder.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)

	for i := 0; i < 2; i++ {
		released, err := holder.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
	}
	assert.Empty(t, sched.Live())

	next := newRevision(t, store, sched)
	won, err = next.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)

	//a release that never acquired is a no-op
	never := newRevision(t, store, sched)
	released, err := never.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)

	kv, err := store.Get(ctx, next.Key())
	require.NoError(t, err)
	assert.NotNil(t, kv, "no-op release must not touch the holder's record")
}

func TestRevisionLeaseExpiryReclaimsCrashedHolder(t *testing.T) {
	ctx := context.Background()
	clock := ztime.NewManualClock()
	store := fsm.NewStore(clock)
	sched := tick.NewManual()

	crashed := newRevision(t, store, sched)
	won, err := crashed.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	contender := newRevision(t, store, sched)
	won, err = contender.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, won)

	//no renewal ever runs for the crashed holder
	clock.Advance(testParams().InitialTTL)

	won, err = contender.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestRevisionRenewalKeepsHolderAlive(t *testing.T) {
	ctx := context.Background()
	clock := ztime.NewManualClock()
	store := fsm.NewStore(clock)
	sched := tick.NewManual()
	params := testParams()

	holder := newRevision(t, store, sched)
	won, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	record, err := store.Get(ctx, holder.Key())
	require.NoError(t, err)
	firstLease := record.LeaseID

	//well past both ttls, renewed every interval
	for i := 0; i < 30; i++ {
		clock.Advance(params.Interval())
		require.Empty(t, sched.Tick())
	}

	record, err = store.Get(ctx, holder.Key())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotEqual(t, firstLease, record.LeaseID, "record moved to the renewal lease")

	renewal, ok := store.FSM().GetLease(record.LeaseID)
	require.True(t, ok)
	assert.Equal(t, params.RenewalTTL, renewal.TTL)
	_, ok = store.FSM().GetLease(firstLease)
	assert.False(t, ok, "initial lease is revoked after the move")

	contender := newRevision(t, store, sched)
	won, err = contender.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, won)

	//holder stops renewing (crash), the renewal lease runs out
	clock.Advance(params.RenewalTTL)

	won, err = contender.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, won)

	//the old holder's next renewal notices and stops for good
	errs := sched.Tick()
	assert.ErrorIs(t, errs["orders/"+holder.HolderID()], types.ErrRenewalLost)
	assert.True(t, isClosed(holder.Done()))
	assert.ErrorIs(t, holder.Err(), types.ErrRenewalLost)
	assert.False(t, isClosed(contender.Done()))

	//a lost instance cannot be reused
	won, err = holder.TryAcquire(ctx)
	assert.False(t, won)
	assert.ErrorIs(t, err, types.ErrRenewalLost)
}

func TestRevisionRenewalAfterReleaseDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	store := fsm.NewStore(ztime.NewManualClock())
	sched := tick.NewManual()

	first := newRevision(t, store, sched)
	won, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	released, err := first.Release(ctx)
	require.NoError(t, err)
	require.True(t, released)

	second := newRevision(t, store, sched)
	won, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	before, err := store.Get(ctx, second.Key())
	require.NoError(t, err)

	//a late extend from the released instance
	require.NoError(t, first.Extend(ctx))

	gone, err := store.Get(ctx, first.Key())
	require.NoError(t, err)
	assert.Nil(t, gone, "released record stays deleted")

	after, err := store.Get(ctx, second.Key())
	require.NoError(t, err)
	assert.Equal(t, before, after, "new holder's record is untouched")
}

func TestRevisionOrderingPicksLowestCreateRevision(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	kv := mock.NewMockKV(ctrl)
	sched := tick.NewManual()

	dir := "/zlock/orders/"
	siblings := []types.KeyValue{
		{Key: dir + "h5", Value: "h5", CreateRevision: 5},
		{Key: dir + "h2", Value: "h2", CreateRevision: 2},
		{Key: dir + "h9", Value: "h9", CreateRevision: 9},
	}

	results := make(map[string]bool)
	for _, sibling := range siblings {
		holder := sibling.Value
		leaseID := sibling.CreateRevision

		kv.EXPECT().Grant(gomock.Any(), 3*time.Second).Return(types.LeaseGrant{ID: leaseID, TTL: 3 * time.Second}, nil)
		kv.EXPECT().Put(gomock.Any(), dir+holder, holder, leaseID).Return(sibling.CreateRevision, nil)
		kv.EXPECT().Range(gomock.Any(), dir).Return(siblings, nil)
		if holder != "h2" {
			kv.EXPECT().Delete(gomock.Any(), dir+holder).Return(int64(1), nil)
			kv.EXPECT().Revoke(gomock.Any(), leaseID).Return(nil)
		}

		r := newRevision(t, kv, sched, WithHolderID(holder))
		won, err := r.TryAcquire(ctx)
		require.NoError(t, err)
		results[holder] = won
	}

	assert.Equal(t, map[string]bool{"h5": false, "h2": true, "h9": false}, results)
}

func TestRevisionAcquireFailures(t *testing.T) {
	ctx := context.Background()
	dir := "/zlock/orders/"
	cause := errors.New("connection refused")

	t.Run("grant", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		kv.EXPECT().Grant(gomock.Any(), gomock.Any()).Return(types.LeaseGrant{}, cause)

		won, err := newRevision(t, kv, tick.NewManual()).TryAcquire(ctx)
		assert.False(t, won)
		assert.ErrorIs(t, err, types.ErrBackendUnavailable)
		assert.ErrorIs(t, err, cause)

		var lockErr *types.LockError
		require.ErrorAs(t, err, &lockErr)
		assert.Equal(t, "orders", lockErr.LockName)
	})

	t.Run("put revokes the lease", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		kv.EXPECT().Grant(gomock.Any(), gomock.Any()).Return(types.LeaseGrant{ID: 7, TTL: 3 * time.Second}, nil)
		kv.EXPECT().Put(gomock.Any(), dir+"h", "h", int64(7)).Return(int64(0), cause)
		kv.EXPECT().Revoke(gomock.Any(), int64(7)).Return(nil)

		won, err := newRevision(t, kv, tick.NewManual(), WithHolderID("h")).TryAcquire(ctx)
		assert.False(t, won)
		assert.ErrorIs(t, err, types.ErrBackendUnavailable)
	})

	t.Run("range deletes the record", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		sched := tick.NewManual()
		kv.EXPECT().Grant(gomock.Any(), gomock.Any()).Return(types.LeaseGrant{ID: 7, TTL: 3 * time.Second}, nil)
		kv.EXPECT().Put(gomock.Any(), dir+"h", "h", int64(7)).Return(int64(4), nil)
		kv.EXPECT().Range(gomock.Any(), dir).Return(nil, cause)
		kv.EXPECT().Delete(gomock.Any(), dir+"h").Return(int64(1), nil)
		kv.EXPECT().Revoke(gomock.Any(), int64(7)).Return(nil)

		won, err := newRevision(t, kv, sched, WithHolderID("h")).TryAcquire(ctx)
		assert.False(t, won)
		assert.ErrorIs(t, err, types.ErrBackendUnavailable)
		assert.ErrorIs(t, err, cause)
		assert.Empty(t, sched.Live())
	})
}

// acquires h on a mock that answers with a single record at revision 4 on lease 7
func acquiredOnMock(t *testing.T, kv *mock.MockKV, sched tick.Scheduler) *Revision {
	t.Helper()
	dir := "/zlock/orders/"
	kv.EXPECT().Grant(gomock.Any(), 3*time.Second).Return(types.LeaseGrant{ID: 7, TTL: 3 * time.Second}, nil)
	kv.EXPECT().Put(gomock.Any(), dir+"h", "h", int64(7)).Return(int64(4), nil)
	kv.EXPECT().Range(gomock.Any(), dir).Return([]types.KeyValue{{Key: dir + "h", Value: "h", CreateRevision: 4, LeaseID: 7}}, nil)

	r := newRevision(t, kv, sched, WithHolderID("h"))
	won, err := r.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, won)
	return r
}

func TestRevisionExtendOutcomes(t *testing.T) {
	ctx := context.Background()
	key := "/zlock/orders/h"
	ours := &types.KeyValue{Key: key, Value: "h", CreateRevision: 4, LeaseID: 7}

	t.Run("moves to the renewal lease once", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		gomock.InOrder(
			kv.EXPECT().Get(gomock.Any(), key).Return(ours, nil),
			kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(7)).Return(3*time.Second, nil),
			kv.EXPECT().Grant(gomock.Any(), 9*time.Second).Return(types.LeaseGrant{ID: 8, TTL: 9 * time.Second}, nil),
			kv.EXPECT().CompareAndPut(gomock.Any(), key, "h", int64(8), int64(4)).Return(true, nil),
			kv.EXPECT().Revoke(gomock.Any(), int64(7)).Return(nil),
		)
		require.NoError(t, r.Extend(ctx))

		//second extend only keeps the renewal lease alive
		moved := &types.KeyValue{Key: key, Value: "h", CreateRevision: 4, LeaseID: 8}
		kv.EXPECT().Get(gomock.Any(), key).Return(moved, nil)
		kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(8)).Return(9*time.Second, nil)
		require.NoError(t, r.Extend(ctx))
	})

	t.Run("re-created record is lost", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(&types.KeyValue{Key: key, Value: "h", CreateRevision: 11}, nil)
		err := r.Extend(ctx)
		assert.ErrorIs(t, err, types.ErrRenewalLost)
		assert.True(t, isClosed(r.Done()))
	})

	t.Run("foreign record is lost", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(&types.KeyValue{Key: key, Value: "other", CreateRevision: 4}, nil)
		assert.ErrorIs(t, r.Extend(ctx), types.ErrRenewalLost)
	})

	t.Run("lease not found is lost", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(ours, nil)
		kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(7)).Return(time.Duration(0), fmt.Errorf("etcd: %w", types.ErrLeaseNotFound))
		assert.ErrorIs(t, r.Extend(ctx), types.ErrRenewalLost)
	})

	t.Run("expired lease awaiting removal is lost", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(ours, nil)
		kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(7)).Return(time.Duration(0), fmt.Errorf("keep alive 7: %w", types.ErrLeaseExpired))
		err := r.Extend(ctx)
		assert.ErrorIs(t, err, types.ErrRenewalLost)
		assert.NotErrorIs(t, err, types.ErrBackendUnavailable)
		assert.True(t, isClosed(r.Done()))
	})

	t.Run("unavailable backend keeps the lock", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(ours, nil)
		kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(7)).Return(time.Duration(0), errors.New("timeout"))
		err := r.Extend(ctx)
		assert.ErrorIs(t, err, types.ErrBackendUnavailable)
		assert.NotErrorIs(t, err, types.ErrRenewalLost)
		assert.False(t, isClosed(r.Done()))
	})

	t.Run("failed compare revokes the new lease", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(ours, nil)
		kv.EXPECT().KeepAliveOnce(gomock.Any(), int64(7)).Return(3*time.Second, nil)
		kv.EXPECT().Grant(gomock.Any(), 9*time.Second).Return(types.LeaseGrant{ID: 8, TTL: 9 * time.Second}, nil)
		kv.EXPECT().CompareAndPut(gomock.Any(), key, "h", int64(8), int64(4)).Return(false, nil)
		kv.EXPECT().Revoke(gomock.Any(), int64(8)).Return(nil)
		assert.ErrorIs(t, r.Extend(ctx), types.ErrRenewalLost)
	})
}

func TestRevisionReleaseFailures(t *testing.T) {
	ctx := context.Background()
	key := "/zlock/orders/h"
	cause := errors.New("connection reset")

	t.Run("delete failure", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		sched := tick.NewManual()
		r := acquiredOnMock(t, kv, sched)

		kv.EXPECT().Get(gomock.Any(), key).Return(&types.KeyValue{Key: key, Value: "h", CreateRevision: 4}, nil)
		kv.EXPECT().Delete(gomock.Any(), key).Return(int64(0), cause)

		released, err := r.Release(ctx)
		assert.False(t, released)
		assert.ErrorIs(t, err, types.ErrReleaseFailed)
		assert.ErrorIs(t, err, cause)
		assert.Empty(t, sched.Live(), "renewal stops even when the delete fails")

		//retry succeeds
		kv.EXPECT().Get(gomock.Any(), key).Return(&types.KeyValue{Key: key, Value: "h", CreateRevision: 4}, nil)
		kv.EXPECT().Delete(gomock.Any(), key).Return(int64(1), nil)
		kv.EXPECT().Revoke(gomock.Any(), int64(7)).Return(nil)
		released, err = r.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("foreign record is left alone", func(t *testing.T) {
		kv := mock.NewMockKV(gomock.NewController(t))
		r := acquiredOnMock(t, kv, tick.NewManual())

		kv.EXPECT().Get(gomock.Any(), key).Return(&types.KeyValue{Key: key, Value: "h", CreateRevision: 12}, nil)
		kv.EXPECT().Revoke(gomock.Any(), int64(7)).Return(types.ErrLeaseNotFound)

		released, err := r.Release(ctx)
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func TestRevisionRenewsOnPool(t *testing.T) {
	ctx := context.Background()
	store := fsm.NewStore(ztime.NewClock())
	pool := tick.NewPool(tick.WithWorkers(2))
	t.Cleanup(func() {
		_ = pool.Shutdown(context.Background())
	})

	params := types.LeaseParams{
		InitialTTL:    300 * time.Millisecond,
		RenewalTTL:    600 * time.Millisecond,
		RenewInterval: 50 * time.Millisecond,
	}
	holder, err := NewRevision(store, "orders", WithScheduler(pool), WithLeaseParams(params))
	require.NoError(t, err)

	won, err := holder.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(3 * params.RenewalTTL)

	record, err := store.Get(ctx, holder.Key())
	require.NoError(t, err)
	assert.NotNil(t, record, "renewal on the pool keeps the record alive")
	assert.False(t, isClosed(holder.Done()))

	released, err := holder.Release(ctx)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestNewRevisionValidates(t *testing.T) {
	_, err := NewRevision(nil, "", WithScheduler(tick.NewManual()))
	assert.ErrorIs(t, err, types.ErrInvalidLockName)

	for _, name := range []string{"a/b", "../etc", ".."} {
		_, err = NewRevision(nil, name, WithScheduler(tick.NewManual()))
		assert.ErrorIs(t, err, types.ErrInvalidLockName, name)
	}

	_, err = NewRevision(nil, "orders", WithScheduler(tick.NewManual()), WithHolderID("x/y"))
	assert.Error(t, err)

	//ttls so short the renewal interval rounds to zero
	_, err = NewRevision(nil, "orders", WithScheduler(tick.NewManual()),
		WithLeaseParams(types.LeaseParams{InitialTTL: 2, RenewalTTL: 2}))
	assert.ErrorIs(t, err, types.ErrInvalidLeaseTTL)

	_, err = NewRevision(nil, "orders", WithScheduler(tick.NewManual()), WithLeaseParams(types.LeaseParams{}))
	assert.ErrorIs(t, err, types.ErrInvalidLeaseTTL)
}

func TestRevisionLocksWithSharedPrefixAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := fsm.NewStore(ztime.NewManualClock())
	sched := tick.NewManual()

	long, err := NewRevision(store, "orders-archive", WithScheduler(sched), WithLeaseParams(testParams()))
	require.NoError(t, err)
	won, err := long.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, won)

	short := newRevision(t, store, sched)
	won, err = short.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, won, "a holder of orders-archive must not block orders")
}
