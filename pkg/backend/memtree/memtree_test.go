package memtree

import (
	"context"
	"testing"

	"github.com/pixperk/zlock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialNodesArePerParent(t *testing.T) {
	ctx := context.Background()
	session := New().Session()

	first, err := session.CreateEphemeralSequential(ctx, "/zlock/orders/lock-", []byte("a"))
	require.NoError(t, err)
	second, err := session.CreateEphemeralSequential(ctx, "/zlock/orders/lock-", []byte("b"))
	require.NoError(t, err)
	other, err := session.CreateEphemeralSequential(ctx, "/zlock/users/lock-", []byte("c"))
	require.NoError(t, err)

	assert.Equal(t, "/zlock/orders/lock-0000000000", first)
	assert.Equal(t, "/zlock/orders/lock-0000000001", second)
	assert.Equal(t, "/zlock/users/lock-0000000000", other)

	children, err := session.Children(ctx, "/zlock/orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"lock-0000000000", "lock-0000000001"}, children)

	//sequence numbers are not reused after a delete
	require.NoError(t, session.Delete(ctx, second))
	third, err := session.CreateEphemeralSequential(ctx, "/zlock/orders/lock-", nil)
	require.NoError(t, err)
	assert.Equal(t, "/zlock/orders/lock-0000000002", third)
}

func TestCloseDeletesEphemeralNodes(t *testing.T) {
	ctx := context.Background()
	ensemble := New()
	crashed := ensemble.Session()
	alive := ensemble.Session()

	lost, err := crashed.CreateEphemeralSequential(ctx, "/zlock/orders/lock-", []byte("crashed"))
	require.NoError(t, err)
	kept, err := alive.CreateEphemeralSequential(ctx, "/zlock/orders/lock-", []byte("alive"))
	require.NoError(t, err)

	crashed.Close()

	exists, err := alive.Exists(ctx, lost)
	require.NoError(t, err)
	assert.False(t, exists)

	data, ok := ensemble.Data(kept)
	require.True(t, ok)
	assert.Equal(t, "alive", string(data))

	//persistent parents survive the session
	exists, err = alive.Exists(ctx, "/zlock/orders")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = crashed.Children(ctx, "/zlock/orders")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDeleteAndChildrenErrors(t *testing.T) {
	ctx := context.Background()
	session := New().Session()

	assert.ErrorIs(t, session.Delete(ctx, "/missing"), types.ErrNodeNotFound)

	_, err := session.Children(ctx, "/missing")
	assert.ErrorIs(t, err, types.ErrNodeNotFound)

	require.NoError(t, session.EnsurePath(ctx, "/zlock/orders"))
	require.NoError(t, session.EnsurePath(ctx, "/zlock/orders"), "ensure is idempotent")
	assert.ErrorIs(t, session.Delete(ctx, "/zlock"), ErrNotEmpty)

	assert.ErrorIs(t, session.EnsurePath(ctx, "relative"), ErrBadPath)
}
