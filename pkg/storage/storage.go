package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// Raft holds the persistent stores of a raft node
// logstore : replicated store commands
// stablestore : current term and vote, survives restarts
// snapshotstore : point-in-time copies of the revision store
type Raft struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	bolt *raftboltdb.BoltStore
}

type Options struct {
	RetainSnapshots int  // snapshots kept on disk, 3 when zero
	NoSync          bool // skip fsync on log writes, tests only
	Logger          hclog.Logger
}

// Open creates or reopens the stores under dataDir.
func Open(dataDir string, opts Options) (*Raft, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.RetainSnapshots <= 0 {
		opts.RetainSnapshots = 3
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	//one bolt file serves as both log and stable store
	bolt, err := raftboltdb.New(raftboltdb.Options{
		Path:   filepath.Join(dataDir, "raft.db"),
		NoSync: opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStoreWithLogger(filepath.Join(dataDir, "snapshots"), opts.RetainSnapshots, opts.Logger)
	if err != nil {
		bolt.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &Raft{
		LogStore:      bolt,
		StableStore:   bolt,
		SnapshotStore: snapshots,
		bolt:          bolt,
	}, nil
}

func (r *Raft) Close() error {
	return r.bolt.Close()
}
