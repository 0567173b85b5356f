package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/sync"
)

type stubControlPlane struct{}

func (stubControlPlane) Ready(context.Context) error                 { return nil }
func (stubControlPlane) Health() map[string]health.ComponentHealth   { return nil }
func (stubControlPlane) SyncStats() sync.Stats                       { return sync.Stats{} }
func (stubControlPlane) SyncEvents() []sync.Event                    { return nil }
func (stubControlPlane) ActiveOperations() []sync.ActiveOperation    { return nil }
func (stubControlPlane) BreakerStates() map[string]breaker.StateInfo { return nil }
func (stubControlPlane) MigrationStatus() migration.Status           { return migration.Status{} }
func (stubControlPlane) MigrationEvents() []migration.Event          { return nil }

func (stubControlPlane) Reconcile(context.Context) (*sync.ReconcileReport, error) {
	return &sync.ReconcileReport{}, nil
}

func (stubControlPlane) SetMigrationPhase(context.Context, migration.Phase) error { return nil }

func (stubControlPlane) AdvanceMigration(context.Context) (migration.Phase, error) {
	return migration.PhaseCanary, nil
}

func (stubControlPlane) RollbackMigration(context.Context) (migration.Phase, error) {
	return migration.PhaseLegacyOnly, nil
}

func (stubControlPlane) RouteReadRequest(context.Context, string, string, string) (migration.Decision, error) {
	return migration.Decision{}, nil
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer_MountsRoutes(t *testing.T) {
	t.Parallel()

	srv := NewServer(stubControlPlane{}, WithMiddlewares(middleware.RequestID))

	assert.Equal(t, http.StatusOK, get(srv, "/health").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/v0/migration/phase").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/v0/sync/stats").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/metrics").Code)
}

func TestNewServer_MetricsHandler(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	srv := NewServer(stubControlPlane{}, WithMetricsHandler(metrics))

	rec := get(srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}
