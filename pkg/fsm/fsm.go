package fsm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tm "time"

	"github.com/pixperk/zlock/pkg/time"
	"github.com/pixperk/zlock/pkg/types"
)

// manages the state of a revision-ordered key/value store with leases
// critical :
// - revisions must be strictly monotonic, every mutation bumps the store revision
// - a key keeps its create revision until it is deleted
// - keys attached to a lease must exist only while the lease does
// - expired leases must delete all attached keys
type FSM struct {
	mu sync.RWMutex

	keys   map[string]*types.KeyValue // key -> record
	leases map[int64]*types.Lease     // lease ID -> Lease

	revision    int64 // store revision (monotonic)
	nextLeaseID int64 // next lease ID to assign

	clock time.Clock
}

func NewFSM() *FSM {
	return NewFSMWithClock(time.NewClock())
}

func NewFSMWithClock(clock time.Clock) *FSM {
	return &FSM{
		keys:        make(map[string]*types.KeyValue),
		leases:      make(map[int64]*types.Lease),
		revision:    1, // etcd starts at revision 1 as well
		nextLeaseID: 1, //start lease IDs from 1
		clock:       clock,
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.GrantLeaseCmd:
		return f.applyGrantLease(c)
	case types.KeepAliveCmd:
		return f.applyKeepAlive(c)
	case types.RevokeLeaseCmd:
		return f.applyDropLease(c.LeaseID)
	case types.ExpireLeaseCmd:
		return f.applyDropLease(c.LeaseID)
	case types.PutCmd:
		return f.applyPut(c)
	case types.CompareAndPutCmd:
		return f.applyCompareAndPut(c)
	case types.DeleteCmd:
		return f.applyDelete(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a lease is granted
type GrantLeaseResponse struct {
	LeaseID   int64
	TTL       tm.Duration
	ExpiresAt tm.Duration
}

func (f *FSM) applyGrantLease(cmd types.GrantLeaseCmd) (any, error) {
	if cmd.TTL <= 0 {
		return nil, types.ErrInvalidLeaseTTL
	}

	leaseID := f.nextLeaseID
	f.nextLeaseID++

	expiresAt := time.ExpiresAt(f.clock, cmd.TTL)

	f.leases[leaseID] = &types.Lease{
		LeaseID:   leaseID,
		ExpiresAt: expiresAt,
		TTL:       cmd.TTL,
	}

	return GrantLeaseResponse{
		LeaseID:   leaseID,
		TTL:       cmd.TTL,
		ExpiresAt: expiresAt,
	}, nil
}

// returned when a lease is kept alive
// TTL is the granted TTL of the lease, like etcd's keep-alive response
type KeepAliveResponse struct {
	TTL       tm.Duration
	ExpiresAt tm.Duration
}

func (f *FSM) applyKeepAlive(cmd types.KeepAliveCmd) (any, error) {
	lease, err := f.liveLease(cmd.LeaseID)
	if err != nil {
		return nil, err
	}

	lease.ExpiresAt = time.ExpiresAt(f.clock, lease.TTL)

	return KeepAliveResponse{
		TTL:       lease.TTL,
		ExpiresAt: lease.ExpiresAt,
	}, nil
}

// returned when a lease is revoked or expired
type DropLeaseResponse struct {
	KeysDeleted int
}

func (f *FSM) applyDropLease(leaseID int64) (any, error) {
	if _, exists := f.leases[leaseID]; !exists {
		return nil, types.ErrLeaseNotFound
	}

	//delete all keys attached to this lease in one revision
	keysDeleted := 0
	for key, kv := range f.keys {
		if kv.LeaseID == leaseID {
			delete(f.keys, key)
			keysDeleted++
		}
	}
	if keysDeleted > 0 {
		f.revision++
	}

	delete(f.leases, leaseID)

	return DropLeaseResponse{
		KeysDeleted: keysDeleted,
	}, nil
}

// returned when a key is written
type PutResponse struct {
	Revision  int64
	Succeeded bool
}

func (f *FSM) applyPut(cmd types.PutCmd) (any, error) {
	if cmd.LeaseID != 0 {
		if _, err := f.liveLease(cmd.LeaseID); err != nil {
			return nil, err
		}
	}

	return PutResponse{
		Revision:  f.put(cmd.Key, cmd.Value, cmd.LeaseID),
		Succeeded: true,
	}, nil
}

func (f *FSM) applyCompareAndPut(cmd types.CompareAndPutCmd) (any, error) {
	existing, ok := f.keys[cmd.Key]
	if !ok || existing.CreateRevision != cmd.CreateRevision {
		//compare failed, nothing written
		return PutResponse{Revision: f.revision, Succeeded: false}, nil
	}

	if cmd.LeaseID != 0 {
		if _, err := f.liveLease(cmd.LeaseID); err != nil {
			return nil, err
		}
	}

	return PutResponse{
		Revision:  f.put(cmd.Key, cmd.Value, cmd.LeaseID),
		Succeeded: true,
	}, nil
}

// caller holds f.mu
func (f *FSM) put(key, value string, leaseID int64) int64 {
	f.revision++
	rev := f.revision

	if kv, ok := f.keys[key]; ok {
		kv.Value = value
		kv.ModRevision = rev
		kv.Version++
		kv.LeaseID = leaseID
		return rev
	}

	f.keys[key] = &types.KeyValue{
		Key:            key,
		Value:          value,
		CreateRevision: rev,
		ModRevision:    rev,
		Version:        1,
		LeaseID:        leaseID,
	}
	return rev
}

// returned when a key is deleted
type DeleteResponse struct {
	Deleted  int64
	Revision int64
}

func (f *FSM) applyDelete(cmd types.DeleteCmd) (any, error) {
	if _, ok := f.keys[cmd.Key]; !ok {
		return DeleteResponse{Deleted: 0, Revision: f.revision}, nil
	}

	delete(f.keys, cmd.Key)
	f.revision++

	return DeleteResponse{Deleted: 1, Revision: f.revision}, nil
}

// caller holds f.mu
func (f *FSM) liveLease(leaseID int64) (*types.Lease, error) {
	lease, exists := f.leases[leaseID]
	if !exists {
		return nil, types.ErrLeaseNotFound
	}

	//expired leases are waiting for the expiry loop, they cannot be used any more
	if lease.IsExpired(f.clock.Elapsed()) {
		return nil, types.ErrLeaseExpired
	}
	return lease, nil
}

// returns a copy of the record stored at key
func (f *FSM) Get(key string) (types.KeyValue, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kv, exists := f.keys[key]
	if !exists {
		return types.KeyValue{}, false
	}
	return *kv, true
}

// returns copies of all records under prefix, ascending by create revision
func (f *FSM) Range(prefix string) []types.KeyValue {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kvs []types.KeyValue
	for key, kv := range f.keys {
		if strings.HasPrefix(key, prefix) {
			kvs = append(kvs, *kv)
		}
	}

	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].CreateRevision < kvs[j].CreateRevision
	})
	return kvs
}

// returns a lease by ID
func (f *FSM) GetLease(leaseID int64) (*types.Lease, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lease, exists := f.leases[leaseID]
	if !exists {
		return nil, false
	}
	leaseCopy := *lease
	return &leaseCopy, true
}

// current fsm stats
type Stats struct {
	Keys     int   `json:"keys"`
	Leases   int   `json:"leases"`
	Revision int64 `json:"revision"`
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		Keys:     len(f.keys),
		Leases:   len(f.leases),
		Revision: f.revision,
	}
}

// returns all lease IDs that have expired
func (f *FSM) GetExpiredLeases(now tm.Duration) []int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var expired []int64
	for leaseID, lease := range f.leases {
		if lease.IsExpired(now) {
			expired = append(expired, leaseID)
		}
	}

	return expired
}

func (f *FSM) CurrentTime() tm.Duration {
	return f.clock.Elapsed()
}
