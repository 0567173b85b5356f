package sync

import (
	"fmt"

	"github.com/cutover-sh/cutover/internal/storage"
)

// OperationType identifies the kind of logical operation.
type OperationType string

// Operation types.
const (
	OpWrite  OperationType = "write"
	OpRead   OperationType = "read"
	OpDelete OperationType = "delete"
	OpBulk   OperationType = "bulk"
)

// WriteMode controls how a write fans out across its storage targets.
type WriteMode string

// Write modes.
const (
	// WriteModePrimary requires only the first (primary) target to
	// succeed; remaining targets are written best-effort.
	WriteModePrimary WriteMode = "primary"

	// WriteModeBroadcast requires every target to succeed.
	WriteModeBroadcast WriteMode = "broadcast"

	// WriteModeQuorum requires the strategy's configured quorum.
	WriteModeQuorum WriteMode = "quorum"
)

// Status is the lifecycle status of a dispatched operation.
type Status string

// Operation statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
	StatusCancelled  Status = "cancelled"
)

// Operation is a logical operation targeting one or more storage backends.
// It is a value type; the coordinator copies it into the operation context.
type Operation struct {
	Type    OperationType
	Key     string
	Payload []byte
	Targets []storage.Target

	// Operations holds the sub-operations of a bulk operation. Bulk
	// operations must not nest.
	Operations []Operation
}

// WriteOperation builds a write operation.
func WriteOperation(key string, payload []byte, targets ...storage.Target) Operation {
	return Operation{Type: OpWrite, Key: key, Payload: payload, Targets: targets}
}

// ReadOperation builds a read operation.
func ReadOperation(key string, targets ...storage.Target) Operation {
	return Operation{Type: OpRead, Key: key, Targets: targets}
}

// DeleteOperation builds a delete operation.
func DeleteOperation(key string, targets ...storage.Target) Operation {
	return Operation{Type: OpDelete, Key: key, Targets: targets}
}

// BulkOperation builds a bulk operation from the given sub-operations.
func BulkOperation(ops ...Operation) Operation {
	return Operation{Type: OpBulk, Operations: ops}
}

// Validate rejects operations that cannot be dispatched.
func (o Operation) Validate() error {
	switch o.Type {
	case OpWrite, OpRead, OpDelete:
		if o.Key == "" {
			return fmt.Errorf("%s operation requires a key", o.Type)
		}
		if len(o.Targets) == 0 {
			return fmt.Errorf("%s operation requires at least one storage target", o.Type)
		}
		for _, t := range o.Targets {
			if err := t.Validate(); err != nil {
				return err
			}
		}
	case OpBulk:
		if len(o.Operations) == 0 {
			return fmt.Errorf("bulk operation requires at least one sub-operation")
		}
		for i, sub := range o.Operations {
			if sub.Type == OpBulk {
				return fmt.Errorf("bulk operations must not nest (sub-operation %d)", i)
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("sub-operation %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
	return nil
}

// validWriteMode reports whether mode is a known write mode. The empty mode
// means "use the configured default".
func validWriteMode(mode WriteMode) bool {
	switch mode {
	case "", WriteModePrimary, WriteModeBroadcast, WriteModeQuorum:
		return true
	default:
		return false
	}
}

// operationContext tracks a single in-flight operation. It is created on
// dispatch and removed from the active map on completion or failure.
type operationContext struct {
	operationID string
	operation   Operation
	status      Status
	startTime   int64 // unix millis
	retryCount  int
}
