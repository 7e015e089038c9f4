package types

import (
	"errors"
	"fmt"
)

var (
	// Lease errors
	ErrLeaseNotFound   = errors.New("lease not found")
	ErrLeaseExpired    = errors.New("lease has expired")
	ErrInvalidLeaseTTL = errors.New("invalid lease TTL")

	// Store errors
	ErrKeyNotFound  = errors.New("key not found")
	ErrNodeNotFound = errors.New("node not found")
	ErrNotLeader    = errors.New("node is not the leader")

	// Lock errors
	ErrInvalidLockName = errors.New("invalid lock name")

	// Lock error kinds, see LockError
	ErrBackendUnavailable = errors.New("coordination backend unavailable")
	ErrRenewalLost        = errors.New("lock lost during renewal")
	ErrReleaseFailed      = errors.New("lock release failed")
)

// LockError is returned by every synchronizer operation that fails.
// Kind is one of ErrBackendUnavailable, ErrRenewalLost or ErrReleaseFailed;
// errors.Is matches both the kind and the underlying backend error.
type LockError struct {
	Kind     error
	Op       string
	LockName string
	Err      error
}

func (e *LockError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: %v", e.Op, e.LockName, e.Kind)
	}
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.LockName, e.Kind, e.Err)
}

func (e *LockError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewLockError(kind error, op, lockName string, err error) *LockError {
	return &LockError{Kind: kind, Op: op, LockName: lockName, Err: err}
}

// Unavailable wraps a backend communication failure.
func Unavailable(op, lockName string, err error) error {
	return NewLockError(ErrBackendUnavailable, op, lockName, err)
}

// IsLost reports whether err means the lock is no longer held.
func IsLost(err error) bool {
	return errors.Is(err, ErrRenewalLost)
}
