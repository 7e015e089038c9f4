package raft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/fsm"
	"github.com/pixperk/zlock/pkg/metrics"
	"github.com/pixperk/zlock/pkg/storage"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/sirupsen/logrus"
)

// wraps a raft inst with the revision store and serves it as a backend.KV
// writes go through the log on the leader, reads are answered locally
type Node struct {
	raft      *raft.Raft
	fsm       *fsm.FSM
	stores    *storage.Raft
	transport *raft.NetworkTransport
	cfg       *Config
	log       *logrus.Entry
	logWriter io.Closer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ backend.KV = (*Node)(nil)

type Config struct {
	NodeID        uuid.UUID //unique ID for this node
	BindAddr      string    //net addr to bind Raft communication
	AdvertiseAddr string    //addr peers dial, defaults to the bound addr
	DataDir       string    //data directory for Raft storage
	Bootstrap     bool      //if this is the first node in the cluster

	ApplyTimeout   time.Duration // upper bound for one replicated write
	ExpiryInterval time.Duration // how often the leader looks for expired leases
	NoSync         bool          // skip fsync, tests only

	Logger *logrus.Entry
}

func (c *Config) setDefaults() {
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logrus.WithField("component", "raft")
	}
}

func NewNode(cfg *Config) (*Node, error) {
	cfg.setDefaults()
	log := cfg.Logger.WithField("node", cfg.NodeID.String())

	//raft logs through logrus
	logWriter := log.WriterLevel(logrus.InfoLevel)
	hlog := hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Info,
		Output: logWriter,
	})

	raftFSM := fsm.NewRaftFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.Logger = hlog

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	stores, err := storage.Open(cfg.DataDir, storage.Options{
		NoSync: cfg.NoSync,
		Logger: hlog,
	})
	if err != nil {
		logWriter.Close()
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		advertise, err = net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			stores.Close()
			logWriter.Close()
			return nil, fmt.Errorf("failed to resolve advertise addr: %w", err)
		}
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, hlog)
	if err != nil {
		stores.Close()
		logWriter.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, stores.LogStore, stores.StableStore, stores.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		stores.Close()
		logWriter.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed, a restarted node already has a configuration
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			r.Shutdown()
			transport.Close()
			stores.Close()
			logWriter.Close()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	n := &Node{
		raft:      r,
		fsm:       raftFSM.GetFSM(),
		stores:    stores,
		transport: transport,
		cfg:       cfg,
		log:       log,
		logWriter: logWriter,
		stopCh:    make(chan struct{}),
	}

	n.wg.Add(1)
	go n.expiryLoop()

	return n, nil
}

// the leader turns expired leases into replicated ExpireLease commands
func (n *Node) expiryLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
		}

		n.updateMetrics()
		if !n.IsLeader() {
			continue
		}

		for _, leaseID := range n.fsm.GetExpiredLeases(n.fsm.CurrentTime()) {
			_, err := n.apply(context.Background(), types.ExpireLeaseCmd{LeaseID: leaseID})
			switch {
			case err == nil:
				metrics.LeaseExpireTotal.Inc()
				n.log.WithField("lease", leaseID).Debug("lease expired")
			case errors.Is(err, types.ErrLeaseNotFound):
				//revoked between the scan and the apply
			default:
				n.log.WithError(err).WithField("lease", leaseID).Warn("failed to expire lease")
			}
		}
	}
}

func (n *Node) updateMetrics() {
	stats := n.fsm.Stats()
	metrics.StoreKeys.Set(float64(stats.Keys))
	metrics.StoreLeases.Set(float64(stats.Leases))
	metrics.StoreRevision.Set(float64(stats.Revision))
	metrics.RaftAppliedIndex.Set(float64(n.raft.AppliedIndex()))

	if n.IsLeader() {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
	if f := n.raft.GetConfiguration(); f.Error() == nil {
		metrics.RaftPeers.Set(float64(len(f.Configuration().Servers)))
	}
}

// replicate a command to the cluster and return the fsm response
func (n *Node) apply(ctx context.Context, cmd types.Command) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	timeout := n.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, fmt.Errorf("%w (leader %q)", types.ErrNotLeader, n.Leader())
		}
		return nil, fmt.Errorf("failed to apply %s: %w", cmd.Type(), err)
	}

	//the fsm hands back command errors as the response
	if err, ok := future.Response().(error); ok {
		return nil, err
	}
	return future.Response(), nil
}

// reads are served by the leader only so they observe every committed write
func (n *Node) read(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.raft.VerifyLeader().Error(); err != nil {
		return fmt.Errorf("%w (leader %q)", types.ErrNotLeader, n.Leader())
	}
	return nil
}

func (n *Node) Grant(ctx context.Context, ttl time.Duration) (types.LeaseGrant, error) {
	res, err := n.apply(ctx, types.GrantLeaseCmd{TTL: ttl})
	if err != nil {
		return types.LeaseGrant{}, err
	}
	metrics.LeaseGrantTotal.Inc()
	resp := res.(fsm.GrantLeaseResponse)
	return types.LeaseGrant{ID: resp.LeaseID, TTL: resp.TTL}, nil
}

func (n *Node) KeepAliveOnce(ctx context.Context, leaseID int64) (time.Duration, error) {
	res, err := n.apply(ctx, types.KeepAliveCmd{LeaseID: leaseID})
	if err != nil {
		metrics.LeaseKeepAliveTotal.WithLabelValues("failure").Inc()
		//an expired lease waiting for the expiry loop is as good as gone
		if errors.Is(err, types.ErrLeaseExpired) {
			return 0, fmt.Errorf("%w: %w", types.ErrLeaseNotFound, err)
		}
		return 0, err
	}
	metrics.LeaseKeepAliveTotal.WithLabelValues("success").Inc()
	return res.(fsm.KeepAliveResponse).TTL, nil
}

func (n *Node) Revoke(ctx context.Context, leaseID int64) error {
	_, err := n.apply(ctx, types.RevokeLeaseCmd{LeaseID: leaseID})
	return err
}

func (n *Node) Put(ctx context.Context, key, value string, leaseID int64) (int64, error) {
	res, err := n.apply(ctx, types.PutCmd{Key: key, Value: value, LeaseID: leaseID})
	if err != nil {
		return 0, err
	}
	return res.(fsm.PutResponse).Revision, nil
}

func (n *Node) CompareAndPut(ctx context.Context, key, value string, leaseID, createRevision int64) (bool, error) {
	res, err := n.apply(ctx, types.CompareAndPutCmd{
		Key:            key,
		Value:          value,
		LeaseID:        leaseID,
		CreateRevision: createRevision,
	})
	if err != nil {
		return false, err
	}
	return res.(fsm.PutResponse).Succeeded, nil
}

func (n *Node) Get(ctx context.Context, key string) (*types.KeyValue, error) {
	if err := n.read(ctx); err != nil {
		return nil, err
	}
	kv, ok := n.fsm.Get(key)
	if !ok {
		return nil, nil
	}
	return &kv, nil
}

func (n *Node) Range(ctx context.Context, prefix string) ([]types.KeyValue, error) {
	if err := n.read(ctx); err != nil {
		return nil, err
	}
	return n.fsm.Range(prefix), nil
}

func (n *Node) Delete(ctx context.Context, key string) (int64, error) {
	res, err := n.apply(ctx, types.DeleteCmd{Key: key})
	if err != nil {
		return 0, err
	}
	return res.(fsm.DeleteResponse).Deleted, nil
}

// Join adds a voter, only the leader can do it.
func (n *Node) Join(id, addr string) error {
	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, n.cfg.ApplyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return fmt.Errorf("%w (leader %q)", types.ErrNotLeader, n.Leader())
		}
		return fmt.Errorf("failed to add voter %s: %w", id, err)
	}
	return nil
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) Leader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

// raft address of this node
func (n *Node) Addr() string {
	return string(n.transport.LocalAddr())
}

func (n *Node) ID() string {
	return n.cfg.NodeID.String()
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.Leader() != "" {
				return nil
			}
		}
	}
}

// node and store state for the admin endpoints
type Status struct {
	NodeID       string    `json:"node_id"`
	Addr         string    `json:"addr"`
	Leader       string    `json:"leader"`
	State        string    `json:"state"`
	AppliedIndex uint64    `json:"applied_index"`
	Store        fsm.Stats `json:"store"`
}

func (n *Node) Status() Status {
	return Status{
		NodeID:       n.ID(),
		Addr:         n.Addr(),
		Leader:       n.Leader(),
		State:        n.raft.State().String(),
		AppliedIndex: n.raft.AppliedIndex(),
		Store:        n.fsm.Stats(),
	}
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// gracefully shuts down the Raft node
func (n *Node) Shutdown() error {
	close(n.stopCh)
	n.wg.Wait()

	err := n.raft.Shutdown().Error()
	err = errors.Join(err, n.transport.Close(), n.stores.Close())
	n.logWriter.Close()
	return err
}
