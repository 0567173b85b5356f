package app

import (
	"context"
	"fmt"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/migration"
	syncpkg "github.com/cutover-sh/cutover/internal/sync"
)

// The App is the control plane the admin API serves.

// Ready reports whether the control plane is accepting traffic.
func (a *App) Ready(_ context.Context) error {
	if !a.ready.Load() {
		return fmt.Errorf("control plane is not running")
	}
	return nil
}

// Health returns per-component health snapshots.
func (a *App) Health() map[string]health.ComponentHealth {
	components := map[string]health.ComponentHealth{
		"sync-coordinator": a.coordinator.Health(),
	}
	for id, h := range a.migration.Health() {
		components[id] = h
	}
	return components
}

// SyncStats returns coordinator counters.
func (a *App) SyncStats() syncpkg.Stats {
	return a.coordinator.Stats()
}

// SyncEvents returns the sync event log, oldest first.
func (a *App) SyncEvents() []syncpkg.Event {
	return a.coordinator.Events()
}

// ActiveOperations returns in-flight sync operations.
func (a *App) ActiveOperations() []syncpkg.ActiveOperation {
	return a.coordinator.ActiveOperations()
}

// Reconcile triggers a reconciliation run.
func (a *App) Reconcile(ctx context.Context) (*syncpkg.ReconcileReport, error) {
	return a.coordinator.Reconcile(ctx)
}

// BreakerStates returns every circuit breaker's snapshot, keyed by id.
func (a *App) BreakerStates() map[string]breaker.StateInfo {
	return a.breakers.States()
}

// MigrationStatus returns the migration snapshot.
func (a *App) MigrationStatus() migration.Status {
	return a.migration.Status()
}

// MigrationEvents returns the migration event log, oldest first.
func (a *App) MigrationEvents() []migration.Event {
	return a.migration.Events()
}

// SetMigrationPhase moves the migration to the given phase.
func (a *App) SetMigrationPhase(ctx context.Context, phase migration.Phase) error {
	return a.migration.SetPhase(ctx, phase)
}

// AdvanceMigration moves to the next phase and returns it.
func (a *App) AdvanceMigration(ctx context.Context) (migration.Phase, error) {
	return a.migration.AdvancePhase(ctx)
}

// RollbackMigration moves to the previous phase and returns it.
func (a *App) RollbackMigration(ctx context.Context) (migration.Phase, error) {
	return a.migration.Rollback(ctx)
}

// RouteReadRequest returns the routing decision for a read.
func (a *App) RouteReadRequest(ctx context.Context, requestID, userID, sessionID string) (migration.Decision, error) {
	return a.migration.RouteReadRequest(ctx, requestID, userID, sessionID)
}
