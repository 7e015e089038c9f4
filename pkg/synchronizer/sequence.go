package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/metrics"
	"github.com/pixperk/zlock/pkg/types"
)

const (
	nodePrefix  = "lock-"
	sequenceLen = 10
)

// Sequence is a lock held as an ephemeral sequential node in a tree store.
// The contender whose node under root/name/ has the lowest sequence wins.
// The node lives as long as the backend session, so there is no lease to
// renew; the renewal task only checks that the node still exists.
type Sequence struct {
	*lockState
	tree  backend.Tree
	root  string
	cache *PathCache

	//guarded by lockState.mu
	rootReady bool
}

var _ Synchronizer = (*Sequence)(nil)

func NewSequence(tree backend.Tree, name string, opts ...Option) (*Sequence, error) {
	state, o, err := newLockState("sequence", name, opts)
	if err != nil {
		return nil, err
	}
	if o.cache == nil {
		o.cache = NewPathCache()
	}
	return &Sequence{
		lockState: state,
		tree:      tree,
		root:      o.root,
		cache:     o.cache,
	}, nil
}

func (s *Sequence) TryAcquire(ctx context.Context) (bool, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	if s.isHeld() {
		return true, nil
	}
	if err := s.reuseErr(); err != nil {
		return false, err
	}

	start := time.Now()
	won, err := s.tryAcquire(ctx)
	metrics.LockAcquireDuration.WithLabelValues(s.variant).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.LockAcquireTotal.WithLabelValues(s.name, "error").Inc()
		s.log.WithError(err).Debug("acquire failed")
	case won:
		metrics.LockAcquireTotal.WithLabelValues(s.name, "won").Inc()
		metrics.LocksActive.Inc()
		s.log.Debug("lock acquired")
	default:
		metrics.LockAcquireTotal.WithLabelValues(s.name, "not_won").Inc()
	}
	return won, err
}

func (s *Sequence) tryAcquire(ctx context.Context) (bool, error) {
	const op = "acquire"

	//s0 : root path, once per synchronizer, retried after a failure
	if err := s.ensureRoot(ctx); err != nil {
		return false, s.unavailable(op, err)
	}

	//s1 : our ephemeral sequential node
	created, err := s.tree.CreateEphemeralSequential(ctx, s.dir+"/"+nodePrefix, []byte(s.holder))
	if err != nil {
		return false, s.unavailable(op, err)
	}

	//s2 : every contender
	children, err := s.tree.Children(ctx, s.dir)
	if err != nil {
		return false, s.unavailable(op, errors.Join(err, s.withdraw(ctx, created)))
	}

	//s3 : lowest sequence wins
	lowest, ok := lowestSequence(children)
	if !ok || path.Join(s.dir, lowest) != created {
		if err := s.withdraw(ctx, created); err != nil {
			return false, s.unavailable(op, err)
		}
		return false, nil
	}

	s.cache.Put(s.name, s.holder, created)

	s.mu.Lock()
	s.held = true
	s.mu.Unlock()

	s.startRenewal(s.Extend)
	return true, nil
}

func (s *Sequence) ensureRoot(ctx context.Context) error {
	s.mu.Lock()
	ready := s.rootReady
	s.mu.Unlock()
	if ready {
		return nil
	}

	if err := s.tree.EnsurePath(ctx, s.root); err != nil {
		return err
	}

	s.mu.Lock()
	s.rootReady = true
	s.mu.Unlock()
	return nil
}

func (s *Sequence) withdraw(ctx context.Context, node string) error {
	if err := s.tree.Delete(ctx, node); err != nil && !errors.Is(err, types.ErrNodeNotFound) {
		return fmt.Errorf("delete %s: %w", node, err)
	}
	return nil
}

// child with the lowest sequence suffix, nodes that are not ours are ignored
func lowestSequence(children []string) (string, bool) {
	var (
		lowest    string
		lowestSeq int64
		found     bool
	)
	for _, child := range children {
		seq, ok := parseSequence(child)
		if !ok {
			continue
		}
		if !found || seq < lowestSeq {
			lowest, lowestSeq, found = child, seq, true
		}
	}
	return lowest, found
}

func parseSequence(child string) (int64, bool) {
	if !strings.HasPrefix(child, nodePrefix) || len(child) < len(nodePrefix)+sequenceLen {
		return 0, false
	}
	seq, err := strconv.ParseInt(child[len(child)-sequenceLen:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Extend checks that the winning node still exists. A missing node means the
// session that owned it expired.
func (s *Sequence) Extend(ctx context.Context) error {
	const op = "extend"

	if !s.isHeld() {
		return nil
	}
	node, ok := s.cache.Get(s.name, s.holder)
	if !ok {
		return s.markLost(op, fmt.Errorf("no cached node for %s", s.name))
	}

	exists, err := s.tree.Exists(ctx, node)
	if err != nil {
		return s.unavailable(op, err)
	}
	if !exists {
		return s.markLost(op, fmt.Errorf("node %s is gone", node))
	}
	return nil
}

func (s *Sequence) Release(ctx context.Context) (bool, error) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.stopRenewal()

	s.mu.Lock()
	wasHeld := s.held
	s.held = false
	s.mu.Unlock()
	if wasHeld {
		metrics.LocksActive.Dec()
	}

	node, ok := s.cache.Get(s.name, s.holder)
	if !ok {
		metrics.LockReleaseTotal.WithLabelValues(s.name, "noop").Inc()
		return true, nil
	}

	if err := s.tree.Delete(ctx, node); err != nil && !errors.Is(err, types.ErrNodeNotFound) {
		metrics.LockReleaseTotal.WithLabelValues(s.name, "error").Inc()
		s.log.WithError(err).Warn("release failed")
		return false, types.NewLockError(types.ErrReleaseFailed, "release", s.name, err)
	}

	s.cache.Remove(s.name, s.holder)
	metrics.LockReleaseTotal.WithLabelValues(s.name, "released").Inc()
	s.log.Debug("lock released")
	return true, nil
}
