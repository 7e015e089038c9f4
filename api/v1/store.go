// Package v1 is the wire API of a zlock node: the zlock.v1.Store gRPC service
// and its messages. Messages are plain structs carried by the JSON codec.
package v1

import (
	"time"

	"github.com/pixperk/zlock/pkg/types"
)

type GrantRequest struct {
	TTL time.Duration `json:"ttl"`
}

type GrantResponse struct {
	LeaseID int64         `json:"lease_id"`
	TTL     time.Duration `json:"ttl"`
}

type KeepAliveRequest struct {
	LeaseID int64 `json:"lease_id"`
}

type KeepAliveResponse struct {
	TTL time.Duration `json:"ttl"`
}

type RevokeRequest struct {
	LeaseID int64 `json:"lease_id"`
}

type RevokeResponse struct{}

type PutRequest struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	LeaseID int64  `json:"lease_id"`
}

type PutResponse struct {
	Revision int64 `json:"revision"`
}

// the write happens only if Key exists with CreateRevision
type CompareAndPutRequest struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	LeaseID        int64  `json:"lease_id"`
	CreateRevision int64  `json:"create_revision"`
}

type CompareAndPutResponse struct {
	Succeeded bool `json:"succeeded"`
}

type GetRequest struct {
	Key string `json:"key"`
}

// KV is nil when the key does not exist
type GetResponse struct {
	KV *types.KeyValue `json:"kv,omitempty"`
}

type RangeRequest struct {
	Prefix string `json:"prefix"`
}

type RangeResponse struct {
	KVs []types.KeyValue `json:"kvs"`
}

type DeleteRequest struct {
	Key string `json:"key"`
}

type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type StatusRequest struct{}

type StatusResponse struct {
	NodeID       string `json:"node_id"`
	Addr         string `json:"addr"`
	Leader       string `json:"leader"`
	State        string `json:"state"`
	AppliedIndex uint64 `json:"applied_index"`
	Keys         int    `json:"keys"`
	Leases       int    `json:"leases"`
	Revision     int64  `json:"revision"`
}
