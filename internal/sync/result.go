package sync

import "time"

// StorageResult is the per-target outcome of an operation.
type StorageResult struct {
	Success  bool          `json:"success"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
	DataSize int           `json:"data_size,omitempty"`
}

// OperationResult is the aggregate outcome of a dispatched operation.
type OperationResult struct {
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`

	// OperationsCompleted counts completed sub-operations for bulk
	// operations, and successful targets otherwise.
	OperationsCompleted int `json:"operations_completed"`

	// StorageResults maps target IDs to their individual outcomes.
	StorageResults map[string]StorageResult `json:"storage_results,omitempty"`

	ConflictsDetected int `json:"conflicts_detected"`
	RepairsPerformed  int `json:"repairs_performed"`

	// Payload carries the value returned by a read operation.
	Payload []byte `json:"-"`

	Duration time.Duration `json:"duration"`
}
