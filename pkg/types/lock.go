package types

import (
	"fmt"
	"strings"
)

// a key stored in a revision-ordered store
// revisions are assigned by the store and are strictly monotonic
// the lowest CreateRevision under a lock prefix is the holder
type KeyValue struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	CreateRevision int64  `json:"create_revision"` // revision of the write that created the key
	ModRevision    int64  `json:"mod_revision"`    // revision of the last write to the key
	Version        int64  `json:"version"`         // number of writes since creation
	LeaseID        int64  `json:"lease_id"`        // attached lease, zero when none
}

// a lock name is one path segment under the lock root, so no lock can see
// another lock's records or step outside the root
func ValidateLockName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidLockName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidLockName, name)
	case strings.Contains(name, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidLockName, name)
	}
	return nil
}
