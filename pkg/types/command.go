package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// type of store command
type CommandType uint

const (
	CommandTypeGrantLease CommandType = iota + 1
	CommandTypeKeepAlive
	CommandTypeRevokeLease
	CommandTypeExpireLease
	CommandTypePut
	CommandTypeCompareAndPut
	CommandTypeDelete
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeGrantLease:
		return "grant_lease"
	case CommandTypeKeepAlive:
		return "keep_alive"
	case CommandTypeRevokeLease:
		return "revoke_lease"
	case CommandTypeExpireLease:
		return "expire_lease"
	case CommandTypePut:
		return "put"
	case CommandTypeCompareAndPut:
		return "compare_and_put"
	case CommandTypeDelete:
		return "delete"
	default:
		return fmt.Sprintf("command(%d)", uint(t))
	}
}

// interface all store commands implement
type Command interface {
	Type() CommandType
}

// grants a new lease
type GrantLeaseCmd struct {
	TTL time.Duration
}

func (c GrantLeaseCmd) Type() CommandType { return CommandTypeGrantLease }

// refreshes a lease to its full TTL
type KeepAliveCmd struct {
	LeaseID int64
}

func (c KeepAliveCmd) Type() CommandType { return CommandTypeKeepAlive }

// revokes a lease on request, deleting its keys
type RevokeLeaseCmd struct {
	LeaseID int64
}

func (c RevokeLeaseCmd) Type() CommandType { return CommandTypeRevokeLease }

// expires a lease and deletes all its keys (internal, issued by the expiry loop)
type ExpireLeaseCmd struct {
	LeaseID int64
}

func (c ExpireLeaseCmd) Type() CommandType { return CommandTypeExpireLease }

// writes a key, optionally attached to a lease
type PutCmd struct {
	Key     string
	Value   string
	LeaseID int64
}

func (c PutCmd) Type() CommandType { return CommandTypePut }

// writes a key only if it exists with the given create revision
type CompareAndPutCmd struct {
	Key            string
	Value          string
	LeaseID        int64
	CreateRevision int64
}

func (c CompareAndPutCmd) Type() CommandType { return CommandTypeCompareAndPut }

// deletes a key
type DeleteCmd struct {
	Key string
}

func (c DeleteCmd) Type() CommandType { return CommandTypeDelete }

// envelope replicated through the raft log
type commandEnvelope struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// serializes a command for the raft log
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.Type(), err)
	}
	return json.Marshal(commandEnvelope{Type: cmd.Type(), Payload: payload})
}

// inverse of EncodeCommand
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal command envelope: %w", err)
	}

	var cmd Command
	switch env.Type {
	case CommandTypeGrantLease:
		cmd = decodeInto[GrantLeaseCmd](env.Payload)
	case CommandTypeKeepAlive:
		cmd = decodeInto[KeepAliveCmd](env.Payload)
	case CommandTypeRevokeLease:
		cmd = decodeInto[RevokeLeaseCmd](env.Payload)
	case CommandTypeExpireLease:
		cmd = decodeInto[ExpireLeaseCmd](env.Payload)
	case CommandTypePut:
		cmd = decodeInto[PutCmd](env.Payload)
	case CommandTypeCompareAndPut:
		cmd = decodeInto[CompareAndPutCmd](env.Payload)
	case CommandTypeDelete:
		cmd = decodeInto[DeleteCmd](env.Payload)
	default:
		return nil, fmt.Errorf("unknown command type: %d", env.Type)
	}
	if d, ok := cmd.(decodeFailure); ok {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, d.err)
	}
	return cmd, nil
}

type decodeFailure struct{ err error }

func (decodeFailure) Type() CommandType { return 0 }

func decodeInto[C Command](payload json.RawMessage) Command {
	var c C
	if err := json.Unmarshal(payload, &c); err != nil {
		return decodeFailure{err: err}
	}
	return c
}
