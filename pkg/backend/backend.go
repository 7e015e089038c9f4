// Package backend defines the primitives the lock synchronizers need from a
// coordination service. The network client behind each implementation is
// expected to be connected and authenticated already.
package backend

import (
	"context"
	"time"

	"github.com/pixperk/zlock/pkg/types"
)

//go:generate mockgen -destination=mock/mock_backend.go -package=mock github.com/pixperk/zlock/pkg/backend KV,Tree

// KV is a revision-ordered key/value store with leases, such as etcd.
type KV interface {
	// Grant creates a lease that expires after ttl unless kept alive.
	Grant(ctx context.Context, ttl time.Duration) (types.LeaseGrant, error)
	// KeepAliveOnce refreshes a lease once and returns its granted TTL.
	// It returns types.ErrLeaseNotFound when the lease is gone.
	KeepAliveOnce(ctx context.Context, leaseID int64) (time.Duration, error)
	// Revoke deletes a lease and every key attached to it.
	Revoke(ctx context.Context, leaseID int64) error

	// Put writes key attached to leaseID and returns the revision of the write.
	Put(ctx context.Context, key, value string, leaseID int64) (int64, error)
	// CompareAndPut writes key only if it currently exists with createRevision.
	CompareAndPut(ctx context.Context, key, value string, leaseID, createRevision int64) (bool, error)
	// Get returns the record at key, or nil when absent.
	Get(ctx context.Context, key string) (*types.KeyValue, error)
	// Range returns all records under prefix ascending by create revision.
	Range(ctx context.Context, prefix string) ([]types.KeyValue, error)
	// Delete removes key and reports how many keys were deleted.
	Delete(ctx context.Context, key string) (int64, error)
}

// Tree is a hierarchical store with ephemeral sequential nodes, such as
// ZooKeeper. Ephemeral nodes live as long as the session that created them.
type Tree interface {
	// EnsurePath creates path and its parents as persistent nodes if missing.
	EnsurePath(ctx context.Context, path string) error
	// CreateEphemeralSequential creates prefix+<sequence> and returns its full path,
	// creating missing parents.
	CreateEphemeralSequential(ctx context.Context, prefix string, data []byte) (string, error)
	// Children lists child names of path in no particular order.
	Children(ctx context.Context, path string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes path, returning types.ErrNodeNotFound if it does not exist.
	Delete(ctx context.Context, path string) error
}
