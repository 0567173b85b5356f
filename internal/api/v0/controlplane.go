// Package v0 provides the REST API handlers for the cutover control plane.
package v0

import (
	"context"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/sync"
)

// ControlPlane is the surface the API exposes. The app layer implements it on
// top of the sync coordinator and the migration manager.
type ControlPlane interface {
	// Ready reports whether the control plane can serve traffic.
	Ready(ctx context.Context) error

	// Health returns per-component health snapshots.
	Health() map[string]health.ComponentHealth

	// SyncStats returns coordinator counters.
	SyncStats() sync.Stats

	// SyncEvents returns the sync event log, oldest first.
	SyncEvents() []sync.Event

	// ActiveOperations returns in-flight sync operations.
	ActiveOperations() []sync.ActiveOperation

	// Reconcile triggers a reconciliation run.
	Reconcile(ctx context.Context) (*sync.ReconcileReport, error)

	// BreakerStates returns every circuit breaker's snapshot, keyed by id.
	BreakerStates() map[string]breaker.StateInfo

	// MigrationStatus returns the migration snapshot.
	MigrationStatus() migration.Status

	// MigrationEvents returns the migration event log, oldest first.
	MigrationEvents() []migration.Event

	// SetMigrationPhase moves the migration to the given phase.
	SetMigrationPhase(ctx context.Context, phase migration.Phase) error

	// AdvanceMigration moves to the next phase and returns it.
	AdvanceMigration(ctx context.Context) (migration.Phase, error)

	// RollbackMigration moves to the previous phase and returns it.
	RollbackMigration(ctx context.Context) (migration.Phase, error)

	// RouteReadRequest returns the routing decision for a read. userID and
	// sessionID may be empty.
	RouteReadRequest(ctx context.Context, requestID, userID, sessionID string) (migration.Decision, error)
}
