package migration

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// RoutingStrategy selects how users are assigned to a backend within the
// current phase percentage.
type RoutingStrategy string

// Routing strategies.
const (
	// StrategyRandom routes each request independently.
	StrategyRandom RoutingStrategy = "random"

	// StrategyConsistentHashing gives each user a stable assignment that
	// only changes when the phase percentage does.
	StrategyConsistentHashing RoutingStrategy = "consistent_hashing"

	// StrategyPerformanceBased compares observed backend success rates and
	// falls back to random routing while data is insufficient.
	StrategyPerformanceBased RoutingStrategy = "performance_based"
)

// Valid reports whether s is a known strategy.
func (s RoutingStrategy) Valid() bool {
	switch s {
	case StrategyRandom, StrategyConsistentHashing, StrategyPerformanceBased:
		return true
	default:
		return false
	}
}

// Decision is the outcome of a routing request.
type Decision struct {
	UseNewSystem bool      `json:"use_new_system"`
	Reason       string    `json:"reason"`
	Confidence   float64   `json:"confidence"`
	Phase        Phase     `json:"phase"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
}

// Decision reasons.
const (
	ReasonPhaseLegacyOnly      = "phase_legacy_only"
	ReasonPhaseNewSystemOnly   = "phase_new_system_only"
	ReasonNewSystemUnavailable = "new_system_unavailable"
	ReasonLegacyUnavailable    = "legacy_unavailable"
	ReasonSessionStickiness    = "session_stickiness"
	ReasonRandomAssignment     = "random_assignment"
	ReasonConsistentHashing    = "consistent_hashing"
	ReasonPerformanceBased     = "performance_based"
	ReasonPerformanceFallback  = "performance_fallback_random"
)

// router assigns a user to the new system within the phase percentage.
type router interface {
	// route returns the assignment and the reason describing how it was
	// made.
	route(userID string, percentage float64) (useNew bool, reason string)
}

// randomRouter routes each request independently of the user.
type randomRouter struct {
	rand func() float64
}

func newRandomRouter() *randomRouter {
	return &randomRouter{rand: rand.Float64}
}

func (r *randomRouter) route(_ string, percentage float64) (bool, string) {
	return r.rand() < percentage, ReasonRandomAssignment
}

// consistentHashRouter buckets users by hash so an individual user keeps the
// same backend for as long as the percentage admits their bucket. Requests
// without a user id have no stable bucket and are routed randomly.
type consistentHashRouter struct {
	fallback *randomRouter
}

func newConsistentHashRouter() *consistentHashRouter {
	return &consistentHashRouter{fallback: newRandomRouter()}
}

func (r *consistentHashRouter) route(userID string, percentage float64) (bool, string) {
	if userID == "" {
		return r.fallback.route(userID, percentage)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	bucket := h.Sum32() % 100
	return float64(bucket) < percentage*100, ReasonConsistentHashing
}

// backendScores reports observed success rates for both backends. ok is
// false while either backend lacks enough traffic to judge.
type backendScores func() (legacy, newSystem float64, ok bool)

// performanceRouter prefers the backend with the better observed success
// rate, still honouring the phase percentage as an upper bound on new-system
// traffic. Without sufficient data it falls back to random routing.
type performanceRouter struct {
	scores   backendScores
	fallback *randomRouter
}

func newPerformanceRouter(scores backendScores) *performanceRouter {
	return &performanceRouter{scores: scores, fallback: newRandomRouter()}
}

func (r *performanceRouter) route(userID string, percentage float64) (bool, string) {
	legacy, newSystem, ok := r.scores()
	if !ok {
		useNew, _ := r.fallback.route(userID, percentage)
		return useNew, ReasonPerformanceFallback
	}
	if newSystem < legacy {
		// The new system is underperforming; keep this request on legacy
		// regardless of the rollout percentage.
		return false, ReasonPerformanceBased
	}
	useNew, _ := r.fallback.route(userID, percentage)
	return useNew, ReasonPerformanceBased
}

// routerFor builds the router for a strategy.
func routerFor(strategy RoutingStrategy, scores backendScores) (router, error) {
	switch strategy {
	case StrategyRandom:
		return newRandomRouter(), nil
	case StrategyConsistentHashing:
		return newConsistentHashRouter(), nil
	case StrategyPerformanceBased:
		return newPerformanceRouter(scores), nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", strategy)
	}
}
