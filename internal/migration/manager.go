package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/telemetry"
)

// ErrNoBackendAvailable is returned when both backends' circuit breakers
// reject traffic.
var ErrNoBackendAvailable = errors.New("no storage backend available")

// stickinessClearThreshold is the phase-percentage delta beyond which session
// assignments are discarded; smaller moves keep users pinned to avoid churn.
const stickinessClearThreshold = 0.25

// Decision confidence levels by reason class.
const (
	confidenceOverride   = 1.0
	confidenceStickiness = 0.9
	confidenceStrategy   = 0.8
)

// Config controls the migration manager.
type Config struct {
	// InitialPhase is the phase at startup.
	InitialPhase Phase

	// Strategy selects how users are assigned within the phase percentage.
	Strategy RoutingStrategy

	// SessionTTL expires idle session assignments; SessionSweepInterval is
	// how often the background sweeper runs.
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// LegacyBreakerID and NewBreakerID name the breakers guarding each
	// backend.
	LegacyBreakerID string
	NewBreakerID    string

	// MinRequestsForScoring is how much traffic each backend needs before
	// performance-based routing trusts its success rate.
	MinRequestsForScoring uint64

	// EventLogSize caps the in-memory event log.
	EventLogSize int
}

// DefaultConfig returns a conservative manager configuration starting at
// legacy-only with stable per-user assignment.
func DefaultConfig() Config {
	return Config{
		InitialPhase:          PhaseLegacyOnly,
		Strategy:              StrategyConsistentHashing,
		SessionTTL:            30 * time.Minute,
		SessionSweepInterval:  time.Minute,
		LegacyBreakerID:       "legacy-backend",
		NewBreakerID:          "new-backend",
		MinRequestsForScoring: 100,
		EventLogSize:          maxEventLogSize,
	}
}

// Validate rejects configurations the manager cannot run with.
func (c Config) Validate() error {
	if !c.InitialPhase.Valid() {
		return fmt.Errorf("invalid initial phase %d", int(c.InitialPhase))
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown routing strategy %q", c.Strategy)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}
	if c.LegacyBreakerID == "" || c.NewBreakerID == "" {
		return fmt.Errorf("both backend breaker ids are required")
	}
	if c.EventLogSize <= 0 {
		return fmt.Errorf("event log size must be positive")
	}
	return nil
}

type sessionEntry struct {
	useNew   bool
	lastSeen time.Time
}

// Status is a point-in-time view of the migration, safe to hand to the admin
// API.
type Status struct {
	Phase               Phase             `json:"phase"`
	NewSystemPercentage float64           `json:"new_system_percentage"`
	Strategy            RoutingStrategy   `json:"strategy"`
	ActiveSessions      int               `json:"active_sessions"`
	LegacyBackend       breaker.StateInfo `json:"legacy_backend"`
	NewBackend          breaker.StateInfo `json:"new_backend"`
}

// Manager routes reads between the legacy and new backends according to the
// current phase, with availability overrides and per-user stickiness.
type Manager struct {
	cfg      Config
	breakers *breaker.Manager
	logger   *slog.Logger
	metrics  *telemetry.RoutingMetrics

	legacy *breaker.Breaker
	next   *breaker.Breaker

	phaseMu sync.RWMutex
	phase   Phase

	router router

	sessionMu sync.Mutex
	sessions  map[string]sessionEntry

	events *eventLog

	// now is a test hook for session expiry.
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches OpenTelemetry instruments. A nil value keeps metrics
// disabled.
func WithMetrics(metrics *telemetry.RoutingMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager validates cfg and creates the backend breakers up front so
// availability checks always have a breaker to consult.
func NewManager(cfg Config, breakers *breaker.Manager, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration config: %w", err)
	}
	if breakers == nil {
		return nil, fmt.Errorf("circuit breaker manager is required")
	}

	legacy, err := breakers.GetOrCreate(cfg.LegacyBreakerID, breaker.ResourceInternalService)
	if err != nil {
		return nil, err
	}
	next, err := breakers.GetOrCreate(cfg.NewBreakerID, breaker.ResourceInternalService)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		breakers: breakers,
		logger:   slog.Default().With("component", "migration-manager"),
		legacy:   legacy,
		next:     next,
		phase:    cfg.InitialPhase,
		sessions: make(map[string]sessionEntry),
		events:   newEventLog(cfg.EventLogSize),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.router, err = routerFor(cfg.Strategy, m.backendScores)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// backendScores exposes breaker success rates to the performance router.
func (m *Manager) backendScores() (float64, float64, bool) {
	legacyInfo := m.legacy.StateInfo()
	nextInfo := m.next.StateInfo()
	ok := legacyInfo.TotalRequests >= m.cfg.MinRequestsForScoring &&
		nextInfo.TotalRequests >= m.cfg.MinRequestsForScoring
	return legacyInfo.SuccessRate, nextInfo.SuccessRate, ok
}

// Start launches the session sweeper.
func (m *Manager) Start(ctx context.Context) error {
	if m.cancel != nil {
		return fmt.Errorf("migration manager already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.sweepLoop(runCtx)
	m.logger.Info("Migration manager started",
		"phase", m.Phase().String(), "strategy", string(m.cfg.Strategy))
	return nil
}

// Stop halts the session sweeper.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("migration manager did not stop in time: %w", ctx.Err())
	}
}

// Phase returns the current migration phase.
func (m *Manager) Phase() Phase {
	m.phaseMu.RLock()
	defer m.phaseMu.RUnlock()
	return m.phase
}

// RouteReadRequest decides which backend serves a read. requestID is carried
// through to logs and metrics; userID and sessionID are optional and may be
// empty. Availability overrides take priority over session stickiness, which
// takes priority over the phase percentage and routing strategy. Only
// requests carrying a session id are pinned to their first assignment.
func (m *Manager) RouteReadRequest(ctx context.Context, requestID, userID, sessionID string) (Decision, error) {
	phase := m.Phase()
	percentage := phase.NewSystemPercentage()

	legacyOK := m.legacy.CanExecute()
	newOK := m.next.CanExecute()

	switch {
	case !legacyOK && !newOK:
		return Decision{}, ErrNoBackendAvailable
	case !newOK:
		return m.decide(ctx, requestID, Decision{UseNewSystem: false, Reason: ReasonNewSystemUnavailable, Confidence: confidenceOverride, Phase: phase}), nil
	case !legacyOK:
		return m.decide(ctx, requestID, Decision{UseNewSystem: true, Reason: ReasonLegacyUnavailable, Confidence: confidenceOverride, Phase: phase}), nil
	}

	if sessionID != "" {
		if useNew, ok := m.stickySession(sessionID); ok {
			return m.decide(ctx, requestID, Decision{UseNewSystem: useNew, Reason: ReasonSessionStickiness, Confidence: confidenceStickiness, Phase: phase, SessionID: sessionID}), nil
		}
	}

	var (
		useNew     bool
		reason     string
		confidence = confidenceStrategy
	)
	switch {
	case percentage == 0:
		useNew, reason, confidence = false, ReasonPhaseLegacyOnly, confidenceOverride
	case percentage == 1:
		useNew, reason, confidence = true, ReasonPhaseNewSystemOnly, confidenceOverride
	default:
		useNew, reason = m.router.route(userID, percentage)
	}

	if sessionID != "" {
		m.rememberSession(sessionID, useNew)
	}
	return m.decide(ctx, requestID, Decision{UseNewSystem: useNew, Reason: reason, Confidence: confidence, Phase: phase, SessionID: sessionID}), nil
}

func (m *Manager) decide(ctx context.Context, requestID string, d Decision) Decision {
	d.Timestamp = m.now()
	m.metrics.RecordDecision(ctx, d.UseNewSystem, d.Reason)
	m.logger.Debug("Routed read request",
		"request_id", requestID,
		"use_new_system", d.UseNewSystem,
		"reason", d.Reason,
		"confidence", d.Confidence)
	return d
}

func (m *Manager) stickySession(sessionID string) (bool, bool) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return false, false
	}
	if m.now().Sub(entry.lastSeen) > m.cfg.SessionTTL {
		delete(m.sessions, sessionID)
		return false, false
	}
	entry.lastSeen = m.now()
	m.sessions[sessionID] = entry
	return entry.useNew, true
}

func (m *Manager) rememberSession(sessionID string, useNew bool) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	m.sessions[sessionID] = sessionEntry{useNew: useNew, lastSeen: m.now()}
}

// RecordRequestResult feeds the outcome of a routed read back into the
// backend's breaker. duration is the observed request latency.
func (m *Manager) RecordRequestResult(useNewSystem bool, duration time.Duration, success bool) {
	b := m.legacy
	backend := "legacy"
	if useNewSystem {
		b = m.next
		backend = "new"
	}
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
	m.logger.Debug("Recorded request result",
		"backend", backend, "success", success, "duration", duration)
}

// SetPhase moves the migration to the given phase. Jumps larger than the
// stickiness threshold clear all session assignments.
func (m *Manager) SetPhase(ctx context.Context, to Phase) error {
	return m.transition(ctx, to, EventPhaseChanged, SeverityInfo)
}

// AdvancePhase moves to the next phase and returns it. Advancing past the
// final phase is an error.
func (m *Manager) AdvancePhase(ctx context.Context) (Phase, error) {
	current := m.Phase()
	next, ok := current.Next()
	if !ok {
		return current, fmt.Errorf("migration is already at %s", current)
	}
	if err := m.SetPhase(ctx, next); err != nil {
		return 0, err
	}
	return m.Phase(), nil
}

// Rollback moves to the previous phase and returns it. Rolling back from
// legacy-only is a no-op.
func (m *Manager) Rollback(ctx context.Context) (Phase, error) {
	current := m.Phase()
	prev, ok := current.Previous()
	if !ok {
		return current, nil
	}
	if err := m.transition(ctx, prev, EventRollback, SeverityWarning); err != nil {
		return 0, err
	}
	return m.Phase(), nil
}

func (m *Manager) transition(ctx context.Context, to Phase, eventType EventType, severity Severity) error {
	if !to.Valid() {
		return fmt.Errorf("invalid migration phase %d", int(to))
	}

	m.phaseMu.Lock()
	from := m.phase
	if from == to {
		m.phaseMu.Unlock()
		return nil
	}
	m.phase = to
	m.phaseMu.Unlock()

	delta := math.Abs(to.NewSystemPercentage() - from.NewSystemPercentage())
	cleared := 0
	if delta > stickinessClearThreshold {
		cleared = m.clearSessions()
	}

	m.events.append(Event{
		Type:      eventType,
		Severity:  severity,
		Timestamp: m.now(),
		FromPhase: from,
		ToPhase:   to,
		Details: map[string]string{
			"from_percentage":  fmt.Sprintf("%.2f", from.NewSystemPercentage()),
			"to_percentage":    fmt.Sprintf("%.2f", to.NewSystemPercentage()),
			"sessions_cleared": fmt.Sprintf("%d", cleared),
		},
	})
	if cleared > 0 {
		m.events.append(Event{
			Type:      EventSessionsCleared,
			Severity:  SeverityWarning,
			Timestamp: m.now(),
			FromPhase: from,
			ToPhase:   to,
			Details:   map[string]string{"count": fmt.Sprintf("%d", cleared)},
		})
	}

	m.metrics.RecordPhase(ctx, int64(to))
	m.logger.Info("Migration phase changed",
		"from", from.String(), "to", to.String(),
		"new_system_percentage", to.NewSystemPercentage(),
		"sessions_cleared", cleared)
	return nil
}

func (m *Manager) clearSessions() int {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]sessionEntry)
	return n
}

// CleanupSessions removes assignments idle longer than the session TTL and
// returns how many were removed.
func (m *Manager) CleanupSessions() int {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	cutoff := m.now().Add(-m.cfg.SessionTTL)
	removed := 0
	for userID, entry := range m.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(m.sessions, userID)
			removed++
		}
	}
	return removed
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.CleanupSessions(); removed > 0 {
				m.logger.Debug("Expired migration sessions", "removed", removed)
			}
		}
	}
}

// Events returns the event log, oldest first.
func (m *Manager) Events() []Event {
	return m.events.snapshot()
}

// Status returns a snapshot of the migration state.
func (m *Manager) Status() Status {
	phase := m.Phase()

	m.sessionMu.Lock()
	sessions := len(m.sessions)
	m.sessionMu.Unlock()

	return Status{
		Phase:               phase,
		NewSystemPercentage: phase.NewSystemPercentage(),
		Strategy:            m.cfg.Strategy,
		ActiveSessions:      sessions,
		LegacyBackend:       m.legacy.StateInfo(),
		NewBackend:          m.next.StateInfo(),
	}
}

// Health reports per-backend health derived from the circuit breakers, keyed
// by breaker id.
func (m *Manager) Health() map[string]health.ComponentHealth {
	now := m.now()
	components := make(map[string]health.ComponentHealth, 2)
	for id, info := range map[string]breaker.StateInfo{
		m.cfg.LegacyBreakerID: m.legacy.StateInfo(),
		m.cfg.NewBreakerID:    m.next.StateInfo(),
	} {
		components[id] = health.ComponentHealth{
			IsHealthy:        info.State != breaker.StateOpen.String(),
			LastCheck:        now,
			ErrorCount:       uint64(info.FailureCount),
			UptimeSeconds:    uint64(info.TimeInCurrentState.Seconds()),
			PerformanceScore: info.SuccessRate,
		}
	}
	return components
}
