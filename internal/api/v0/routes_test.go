package v0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/sync"
)

// fakeControlPlane is a hand-rolled ControlPlane with per-call overrides.
type fakeControlPlane struct {
	readyErr     error
	phase        migration.Phase
	setPhaseErr  error
	routeErr     error
	reconcileErr error
}

func (f *fakeControlPlane) Ready(context.Context) error { return f.readyErr }

func (*fakeControlPlane) Health() map[string]health.ComponentHealth {
	return map[string]health.ComponentHealth{
		"sync-coordinator": {IsHealthy: true, LastCheck: time.Now(), PerformanceScore: 1},
	}
}

func (*fakeControlPlane) SyncStats() sync.Stats {
	return sync.Stats{TotalOperations: 42, SuccessfulOperations: 40, FailedOperations: 2}
}

func (*fakeControlPlane) SyncEvents() []sync.Event {
	return []sync.Event{{Type: sync.EventOperationCompleted, OperationID: "op-1"}}
}

func (*fakeControlPlane) ActiveOperations() []sync.ActiveOperation { return nil }

func (f *fakeControlPlane) Reconcile(context.Context) (*sync.ReconcileReport, error) {
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return &sync.ReconcileReport{RunID: "run-1", KeysScanned: 7}, nil
}

func (*fakeControlPlane) BreakerStates() map[string]breaker.StateInfo {
	return map[string]breaker.StateInfo{
		"legacy-backend": {ID: "legacy-backend", State: "closed"},
	}
}

func (f *fakeControlPlane) MigrationStatus() migration.Status {
	return migration.Status{
		Phase:               f.phase,
		NewSystemPercentage: f.phase.NewSystemPercentage(),
		Strategy:            migration.StrategyConsistentHashing,
	}
}

func (*fakeControlPlane) MigrationEvents() []migration.Event {
	return []migration.Event{{Type: migration.EventPhaseChanged}}
}

func (f *fakeControlPlane) SetMigrationPhase(_ context.Context, phase migration.Phase) error {
	if f.setPhaseErr != nil {
		return f.setPhaseErr
	}
	f.phase = phase
	return nil
}

func (f *fakeControlPlane) AdvanceMigration(context.Context) (migration.Phase, error) {
	f.phase, _ = f.phase.Next()
	return f.phase, nil
}

func (f *fakeControlPlane) RollbackMigration(context.Context) (migration.Phase, error) {
	f.phase, _ = f.phase.Previous()
	return f.phase, nil
}

func (f *fakeControlPlane) RouteReadRequest(_ context.Context, _, _, sessionID string) (migration.Decision, error) {
	if f.routeErr != nil {
		return migration.Decision{}, f.routeErr
	}
	return migration.Decision{UseNewSystem: true, Reason: migration.ReasonConsistentHashing, Confidence: 0.8, Phase: f.phase, SessionID: sessionID}, nil
}

func testRequest(t *testing.T, handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetMigrationPhase(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{phase: migration.PhaseBalanced}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/migration/phase", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PhaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, migration.PhaseBalanced, resp.Phase)
	assert.Equal(t, 0.5, resp.NewSystemPercentage)
}

func TestSetMigrationPhase(t *testing.T) {
	t.Parallel()

	cp := &fakeControlPlane{}
	handler := Router(cp, nil)

	rec := testRequest(t, handler, http.MethodPut, "/migration/phase", []byte(`{"phase":"canary"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, migration.PhaseCanary, cp.phase)
}

func TestSetMigrationPhase_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown phase", `{"phase":"warp_speed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := Router(&fakeControlPlane{}, nil)
			rec := testRequest(t, handler, http.MethodPut, "/migration/phase", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSetMigrationPhase_InternalError(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{setPhaseErr: errors.New("boom")}, nil)
	rec := testRequest(t, handler, http.MethodPut, "/migration/phase", []byte(`{"phase":"canary"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRollbackMigration(t *testing.T) {
	t.Parallel()

	cp := &fakeControlPlane{phase: migration.PhaseBalanced}
	handler := Router(cp, nil)

	rec := testRequest(t, handler, http.MethodPost, "/migration/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PhaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, migration.PhaseInitialRollout, resp.Phase)
}

func TestAdvanceMigration(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodPost, "/migration/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PhaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, migration.PhaseCanary, resp.Phase)
}

func TestRouteRead(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)

	rec := testRequest(t, handler, http.MethodGet, "/migration/route?user=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision migration.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.UseNewSystem)
	assert.Equal(t, migration.ReasonConsistentHashing, decision.Reason)
}

func TestRouteRead_AnonymousAllowed(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/migration/route", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision migration.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Empty(t, decision.SessionID)
}

func TestRouteRead_SessionEchoed(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/migration/route?user=user-1&session=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision migration.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, "sess-1", decision.SessionID)
}

func TestRouteRead_NoBackendAvailable(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{routeErr: migration.ErrNoBackendAvailable}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/migration/route?user=user-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSyncStats(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/sync/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats sync.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(42), stats.TotalOperations)
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodPost, "/sync/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report sync.ReconcileReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 7, report.KeysScanned)
}

func TestReconcile_Error(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{reconcileErr: errors.New("scan failed")}, nil)
	rec := testRequest(t, handler, http.MethodPost, "/sync/reconcile", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetBreakers(t *testing.T) {
	t.Parallel()

	handler := Router(&fakeControlPlane{}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var states map[string]breaker.StateInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	assert.Contains(t, states, "legacy-backend")
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	handler := HealthRouter(&fakeControlPlane{}, nil)

	rec := testRequest(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = testRequest(t, handler, http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = testRequest(t, handler, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")
}

func TestReadiness_NotReady(t *testing.T) {
	t.Parallel()

	handler := HealthRouter(&fakeControlPlane{readyErr: errors.New("draining")}, nil)
	rec := testRequest(t, handler, http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
