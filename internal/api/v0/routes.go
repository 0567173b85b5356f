package v0

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/versions"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// PhaseResponse represents the current migration phase
type PhaseResponse struct {
	Phase               migration.Phase `json:"phase"`
	NewSystemPercentage float64         `json:"new_system_percentage"`
}

// SetPhaseRequest is the body for PUT /migration/phase
type SetPhaseRequest struct {
	Phase string `json:"phase"`
}

// Routes defines the routes for the control plane API with dependency
// injection
type Routes struct {
	cp     ControlPlane
	logger *slog.Logger
}

// NewRoutes creates a new Routes instance with the provided control plane
func NewRoutes(cp ControlPlane, logger *slog.Logger) *Routes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Routes{cp: cp, logger: logger.With("component", "api")}
}

// Router creates a new router for the control plane API
func Router(cp ControlPlane, logger *slog.Logger) http.Handler {
	routes := NewRoutes(cp, logger)

	r := chi.NewRouter()

	r.Route("/migration", func(r chi.Router) {
		r.Get("/phase", routes.getMigrationPhase)
		r.Put("/phase", routes.setMigrationPhase)
		r.Post("/advance", routes.advanceMigration)
		r.Post("/rollback", routes.rollbackMigration)
		r.Get("/status", routes.getMigrationStatus)
		r.Get("/events", routes.getMigrationEvents)
		r.Get("/route", routes.routeRead)
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/stats", routes.getSyncStats)
		r.Get("/events", routes.getSyncEvents)
		r.Get("/operations", routes.getActiveOperations)
		r.Post("/reconcile", routes.reconcile)
	})

	r.Get("/breakers", routes.getBreakers)

	return r
}

// getMigrationPhase handles GET /v0/migration/phase
func (rr *Routes) getMigrationPhase(w http.ResponseWriter, _ *http.Request) {
	status := rr.cp.MigrationStatus()
	rr.writeJSONResponse(w, PhaseResponse{
		Phase:               status.Phase,
		NewSystemPercentage: status.NewSystemPercentage,
	})
}

// setMigrationPhase handles PUT /v0/migration/phase
func (rr *Routes) setMigrationPhase(w http.ResponseWriter, r *http.Request) {
	var req SetPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	phase, err := migration.ParsePhase(req.Phase)
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := rr.cp.SetMigrationPhase(r.Context(), phase); err != nil {
		rr.logger.Error("Failed to set migration phase", "phase", req.Phase, "error", err)
		rr.writeErrorResponse(w, "Failed to set migration phase", http.StatusInternalServerError)
		return
	}

	rr.writeJSONResponse(w, PhaseResponse{
		Phase:               phase,
		NewSystemPercentage: phase.NewSystemPercentage(),
	})
}

// advanceMigration handles POST /v0/migration/advance
func (rr *Routes) advanceMigration(w http.ResponseWriter, r *http.Request) {
	phase, err := rr.cp.AdvanceMigration(r.Context())
	if err != nil {
		rr.logger.Error("Failed to advance migration", "error", err)
		rr.writeErrorResponse(w, "Failed to advance migration", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, PhaseResponse{
		Phase:               phase,
		NewSystemPercentage: phase.NewSystemPercentage(),
	})
}

// rollbackMigration handles POST /v0/migration/rollback
func (rr *Routes) rollbackMigration(w http.ResponseWriter, r *http.Request) {
	phase, err := rr.cp.RollbackMigration(r.Context())
	if err != nil {
		rr.logger.Error("Failed to roll back migration", "error", err)
		rr.writeErrorResponse(w, "Failed to roll back migration", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, PhaseResponse{
		Phase:               phase,
		NewSystemPercentage: phase.NewSystemPercentage(),
	})
}

// getMigrationStatus handles GET /v0/migration/status
func (rr *Routes) getMigrationStatus(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.MigrationStatus())
}

// getMigrationEvents handles GET /v0/migration/events
func (rr *Routes) getMigrationEvents(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.MigrationEvents())
}

// routeRead handles GET /v0/migration/route?user=<id>&session=<id>. Both
// query parameters are optional; anonymous reads are routed by strategy
// alone.
func (rr *Routes) routeRead(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	sessionID := r.URL.Query().Get("session")
	requestID := middleware.GetReqID(r.Context())

	decision, err := rr.cp.RouteReadRequest(r.Context(), requestID, userID, sessionID)
	if err != nil {
		if errors.Is(err, migration.ErrNoBackendAvailable) {
			rr.writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rr.logger.Error("Failed to route read", "request_id", requestID, "user_id", userID, "error", err)
		rr.writeErrorResponse(w, "Failed to route read", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, decision)
}

// getSyncStats handles GET /v0/sync/stats
func (rr *Routes) getSyncStats(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.SyncStats())
}

// getSyncEvents handles GET /v0/sync/events
func (rr *Routes) getSyncEvents(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.SyncEvents())
}

// getActiveOperations handles GET /v0/sync/operations
func (rr *Routes) getActiveOperations(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.ActiveOperations())
}

// reconcile handles POST /v0/sync/reconcile
func (rr *Routes) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := rr.cp.Reconcile(r.Context())
	if err != nil {
		rr.logger.Error("Reconciliation failed", "error", err)
		rr.writeErrorResponse(w, "Reconciliation failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, report)
}

// getBreakers handles GET /v0/breakers
func (rr *Routes) getBreakers(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.cp.BreakerStates())
}

func (rr *Routes) writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rr.logger.Error("Failed to encode response", "error", err)
	}
}

func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		rr.logger.Error("Failed to encode error response", "error", err)
	}
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(cp ControlPlane, logger *slog.Logger) http.Handler {
	routes := NewRoutes(cp, logger)

	r := chi.NewRouter()

	r.Get("/health", routes.healthHandler)
	r.Get("/readiness", routes.readinessHandler)
	r.Get("/version", routes.versionHandler)

	return r
}

// healthHandler handles health check requests
func (rr *Routes) healthHandler(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, map[string]any{
		"status":     "healthy",
		"components": rr.cp.Health(),
	})
}

// readinessHandler handles readiness check requests
func (rr *Routes) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if err := rr.cp.Ready(r.Context()); err != nil {
		rr.writeErrorResponse(w, "Control plane not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	rr.writeJSONResponse(w, map[string]string{"status": "ready"})
}

// versionHandler handles version information requests
func (rr *Routes) versionHandler(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, versions.GetVersionInfo())
}
