// Package sync implements the coordinator that replicates logical operations
// across storage backends under configurable consistency strategies
// (write-through, write-behind, read-repair, periodic reconciliation), guarded
// by circuit breakers and tracked through lifecycle events and metrics.
package sync
