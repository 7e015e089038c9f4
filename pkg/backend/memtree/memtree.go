// Package memtree is an in-memory ephemeral-node ensemble implementing
// backend.Tree. Every Session owns the ephemeral nodes it created; closing the
// session deletes them, the way a ZooKeeper session expiry does.
package memtree

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/types"
)

var (
	ErrSessionClosed = errors.New("memtree: session closed")
	ErrNotEmpty      = errors.New("memtree: node has children")
	ErrBadPath       = errors.New("memtree: invalid path")
)

type node struct {
	data  []byte
	owner int64 // session id for ephemeral nodes, 0 for persistent
}

// Ensemble holds the shared tree. Sessions opened on the same ensemble see
// each other's nodes.
type Ensemble struct {
	mu          sync.Mutex
	nodes       map[string]*node
	sequences   map[string]int64 // parent path -> next sequence
	nextSession int64
}

func New() *Ensemble {
	return &Ensemble{
		nodes:     map[string]*node{"/": {}},
		sequences: make(map[string]int64),
	}
}

// Session opens a new client session on the ensemble.
func (e *Ensemble) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSession++
	return &Session{ensemble: e, id: e.nextSession}
}

// returns the data stored at p
func (e *Ensemble) Data(p string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// number of nodes in the tree, the root included
func (e *Ensemble) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

// caller holds e.mu
func (e *Ensemble) ensure(p string) {
	for _, dir := range ancestors(p) {
		if _, ok := e.nodes[dir]; !ok {
			e.nodes[dir] = &node{}
		}
	}
	if _, ok := e.nodes[p]; !ok {
		e.nodes[p] = &node{}
	}
}

// caller holds e.mu
func (e *Ensemble) children(p string) []string {
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}

	var names []string
	for key := range e.nodes {
		if key == p || !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	return names
}

// caller holds e.mu
func (e *Ensemble) expire(session int64) {
	for key, n := range e.nodes {
		if n.owner == session {
			delete(e.nodes, key)
		}
	}
}

// Session is a backend.Tree bound to one client session.
type Session struct {
	ensemble *Ensemble
	id       int64

	mu     sync.Mutex
	closed bool
}

var _ backend.Tree = (*Session)(nil)

func (s *Session) ID() int64 {
	return s.id
}

// Close ends the session and deletes every ephemeral node it owns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ensemble.mu.Lock()
	s.ensemble.expire(s.id)
	s.ensemble.mu.Unlock()
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) EnsurePath(ctx context.Context, p string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := validate(p); err != nil {
		return err
	}

	s.ensemble.mu.Lock()
	defer s.ensemble.mu.Unlock()
	s.ensemble.ensure(p)
	return nil
}

func (s *Session) CreateEphemeralSequential(ctx context.Context, prefix string, data []byte) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if err := validate(prefix); err != nil {
		return "", err
	}

	e := s.ensemble
	e.mu.Lock()
	defer e.mu.Unlock()

	parent := path.Dir(prefix)
	e.ensure(parent)

	//sequence numbers are per parent and never reused
	seq := e.sequences[parent]
	e.sequences[parent] = seq + 1

	created := fmt.Sprintf("%s%010d", prefix, seq)
	e.nodes[created] = &node{
		data:  append([]byte(nil), data...),
		owner: s.id,
	}
	return created, nil
}

func (s *Session) Children(ctx context.Context, p string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	e := s.ensemble
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.nodes[p]; !ok {
		return nil, types.ErrNodeNotFound
	}
	names := e.children(p)
	sort.Strings(names)
	return names, nil
}

func (s *Session) Exists(ctx context.Context, p string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	s.ensemble.mu.Lock()
	defer s.ensemble.mu.Unlock()
	_, ok := s.ensemble.nodes[p]
	return ok, nil
}

func (s *Session) Delete(ctx context.Context, p string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	e := s.ensemble
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.nodes[p]; !ok || p == "/" {
		return types.ErrNodeNotFound
	}
	if len(e.children(p)) > 0 {
		return ErrNotEmpty
	}
	delete(e.nodes, p)
	return nil
}

func validate(p string) error {
	if !strings.HasPrefix(p, "/") || (len(p) > 1 && strings.HasSuffix(p, "/")) {
		return fmt.Errorf("%w: %q", ErrBadPath, p)
	}
	return nil
}

// ancestors of p, shallowest first, excluding p and the root
func ancestors(p string) []string {
	var dirs []string
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
