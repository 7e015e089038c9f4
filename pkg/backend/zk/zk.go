// Package zk adapts a ZooKeeper connection to backend.Tree.
package zk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/types"
)

// Conn is the subset of *zk.Conn the tree uses.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
	Delete(path string, version int32) error
}

var _ Conn = (*zk.Conn)(nil)

// Tree issues tree operations on one ZooKeeper session.
// The zk client has no context support, so ctx is only checked before each call.
type Tree struct {
	conn Conn
	acl  []zk.ACL
}

var _ backend.Tree = (*Tree)(nil)

func New(conn Conn) *Tree {
	return &Tree{
		conn: conn,
		acl:  zk.WorldACL(zk.PermAll),
	}
}

// Dial connects to the ensemble and returns the tree with a func closing the session.
func Dial(servers []string, sessionTimeout time.Duration) (*Tree, func(), error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("zk connect: %w", err)
	}
	return New(conn), conn.Close, nil
}

func (t *Tree) EnsurePath(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, dir := range append(ancestors(p), p) {
		_, err := t.conn.Create(dir, nil, 0, t.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zk create %s: %w", dir, err)
		}
	}
	return nil
}

func (t *Tree) CreateEphemeralSequential(ctx context.Context, prefix string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	const flags = zk.FlagEphemeral | zk.FlagSequence

	created, err := t.conn.Create(prefix, data, flags, t.acl)
	if errors.Is(err, zk.ErrNoNode) {
		//first contender on this name, create the parent and try again
		if err := t.EnsurePath(ctx, path.Dir(prefix)); err != nil {
			return "", err
		}
		created, err = t.conn.Create(prefix, data, flags, t.acl)
	}
	if err != nil {
		return "", fmt.Errorf("zk create %s: %w", prefix, err)
	}
	return created, nil
}

func (t *Tree) Children(ctx context.Context, p string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	children, _, err := t.conn.Children(p)
	if err != nil {
		return nil, fmt.Errorf("zk children %s: %w", p, mapErr(err))
	}
	return children, nil
}

func (t *Tree) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	exists, _, err := t.conn.Exists(p)
	if err != nil {
		return false, fmt.Errorf("zk exists %s: %w", p, err)
	}
	return exists, nil
}

func (t *Tree) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.conn.Delete(p, -1); err != nil {
		return fmt.Errorf("zk delete %s: %w", p, mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, zk.ErrNoNode) {
		return types.ErrNodeNotFound
	}
	return err
}

// ancestors of p, shallowest first, excluding p and the root
func ancestors(p string) []string {
	var dirs []string
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, "/"+strings.Join(parts[:i], "/"))
	}
	return dirs
}
