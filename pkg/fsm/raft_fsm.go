package fsm

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pixperk/zlock/pkg/time"
	"github.com/pixperk/zlock/pkg/types"
)

// adapter to bridge Raft FSM with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return NewRaftFSMWithClock(time.NewClock())
}

func NewRaftFSMWithClock(clock time.Clock) *RaftFSM {
	return &RaftFSM{
		fsm: NewFSMWithClock(clock),
	}
}

// returns the wrapped state machine for local reads
func (rf *RaftFSM) GetFSM() *FSM {
	return rf.fsm
}

func (rf *RaftFSM) Apply(log *raft.Log) any {
	//s1 : decode the command envelope
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return err
	}

	//s2 : apply command to FSM
	result, err := rf.fsm.Apply(cmd)
	if err != nil {
		return err
	}

	return result
}

// create a snapshot of the current FSM state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	snapshot := &fsmSnapshot{
		Keys:        make(map[string]*types.KeyValue, len(rf.fsm.keys)),
		Leases:      make(map[int64]*types.Lease, len(rf.fsm.leases)),
		Revision:    rf.fsm.revision,
		NextLeaseID: rf.fsm.nextLeaseID,
	}

	//deep copy keys
	for key, kv := range rf.fsm.keys {
		kvCopy := *kv
		snapshot.Keys[key] = &kvCopy
	}

	//deep copy leases
	for id, lease := range rf.fsm.leases {
		leaseCopy := *lease
		snapshot.Leases[id] = &leaseCopy
	}

	return snapshot, nil
}

// restores FSM state from snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	if snap.Keys == nil {
		snap.Keys = make(map[string]*types.KeyValue)
	}
	if snap.Leases == nil {
		snap.Leases = make(map[int64]*types.Lease)
	}

	//deadlines are relative to the clock of the node that took the snapshot,
	//restart every lease with a full TTL on this node's clock
	for _, lease := range snap.Leases {
		lease.ExpiresAt = time.ExpiresAt(rf.fsm.clock, lease.TTL)
	}

	rf.fsm.keys = snap.Keys
	rf.fsm.leases = snap.Leases
	rf.fsm.revision = snap.Revision
	rf.fsm.nextLeaseID = snap.NextLeaseID

	return nil
}

// point-in-time snapshot of FSM state
type fsmSnapshot struct {
	Keys        map[string]*types.KeyValue `json:"keys"`
	Leases      map[int64]*types.Lease     `json:"leases"`
	Revision    int64                      `json:"revision"`
	NextLeaseID int64                      `json:"next_lease_id"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel() //fail snapshot on error
		return err
	}
	return sink.Close() //mark snapshot as complete
}

// called when snapshot is no longer needed
// we have no resources to clean up here
func (s *fsmSnapshot) Release() {}
