package sync

import "errors"

// Sentinel errors surfaced by the coordinator. They form the taxonomy the
// admin API and callers branch on.
var (
	// ErrCoordinatorOpen is returned when the coordinator-level circuit
	// breaker rejects an operation before dispatch.
	ErrCoordinatorOpen = errors.New("sync coordinator circuit breaker is open")

	// ErrShuttingDown is returned once Shutdown has stopped intake.
	ErrShuttingDown = errors.New("sync coordinator is shutting down")

	// ErrTooManyOperations is returned when the concurrent-operation bound
	// is reached.
	ErrTooManyOperations = errors.New("maximum concurrent operations reached")

	// ErrBackpressure is returned by the write-behind strategy when its
	// queue is full. The write is rejected, never silently dropped.
	ErrBackpressure = errors.New("write-behind queue is full")

	// ErrQuorumNotMet is returned when a write completes its retry budget
	// without reaching the required number of successful targets.
	ErrQuorumNotMet = errors.New("write quorum not met")
)
