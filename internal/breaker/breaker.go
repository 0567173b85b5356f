// Package breaker implements the per-resource circuit breaker state machine
// shared across the control plane, and a manager that caches breakers per
// resource identifier.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

// Circuit breaker states. A breaker starts Closed, opens after
// FailureThreshold consecutive failures, and must pass through HalfOpen
// before closing again.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the wire/log representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// IsOperational reports whether the state admits requests without a probe.
func (s State) IsOperational() bool {
	return s == StateClosed || s == StateHalfOpen
}

// StateInfo is a point-in-time snapshot of a breaker, safe to hand to the
// admin API.
type StateInfo struct {
	ID                 string        `json:"id"`
	State              string        `json:"state"`
	FailureCount       uint32        `json:"failure_count"`
	SuccessCount       uint32        `json:"success_count"`
	SuccessRate        float64       `json:"success_rate"`
	TotalRequests      uint64        `json:"total_requests"`
	DegradedModeActive bool          `json:"degraded_mode_active"`
	LastStateChange    time.Time     `json:"last_state_change"`
	TimeInCurrentState time.Duration `json:"time_in_current_state"`
}

// Breaker is a per-resource failure-isolation state machine. All methods are
// safe for concurrent use; the internal critical sections are short and never
// block on I/O.
type Breaker struct {
	id  string
	cfg Config

	mu              sync.Mutex
	state           State
	failureCount    uint32
	successCount    uint32
	lastFailureTime time.Time
	lastSuccessTime time.Time
	lastStateChange time.Time

	totalRequests  uint64
	totalFailures  uint64
	totalSuccesses uint64

	degradedActive bool
	degradedSince  time.Time

	now func() time.Time
}

// New creates a Breaker after validating its configuration.
func New(id string, cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{
		id:  id,
		cfg: cfg,
		now: time.Now,
	}
	b.lastStateChange = b.now()
	return b, nil
}

// CanExecute reports whether a request may proceed. In Open state, once the
// configured timeout has elapsed since the last failure, the breaker
// transitions to HalfOpen as a side effect and admits a single probe.
func (b *Breaker) CanExecute() bool {
	if !b.cfg.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkDegradedTimeoutLocked()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.lastFailureTime.IsZero() {
			return false
		}
		if b.now().Sub(b.lastFailureTime) >= b.cfg.Timeout {
			b.toHalfOpenLocked()
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess registers a successful call. In HalfOpen, reaching the
// success threshold closes the circuit and exits degraded mode. In Closed,
// success forgives accumulated failures.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.totalSuccesses++
	b.lastSuccessTime = b.now()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.toClosedLocked()
		}
	case StateClosed:
		b.failureCount = 0
	case StateOpen:
		// A success while Open means a caller bypassed CanExecute.
		// Reset failures but keep the circuit open.
		b.failureCount = 0
	}
}

// RecordFailure registers a failed call. In Closed, reaching the failure
// threshold opens the circuit. In HalfOpen, any single failure reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.totalFailures++
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.toOpenLocked()
		}
	case StateHalfOpen:
		b.toOpenLocked()
	case StateOpen:
		// Already open; only the failure time moves.
	}
}

// ForceState is an administrative override. It resets both counters.
func (b *Breaker) ForceState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = state
	b.lastStateChange = b.now()
	b.failureCount = 0
	b.successCount = 0
}

// EnterDegradedMode flags the resource as degraded if degraded mode is
// enabled for this breaker.
func (b *Breaker) EnterDegradedMode() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enterDegradedLocked()
}

// ExitDegradedMode clears the degraded flag.
func (b *Breaker) ExitDegradedMode() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exitDegradedLocked()
}

// ID returns the breaker's resource identifier.
func (b *Breaker) ID() string {
	return b.id
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive-failure accumulator.
func (b *Breaker) FailureCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// SuccessCount returns the consecutive-success accumulator.
func (b *Breaker) SuccessCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successCount
}

// SuccessRate returns the lifetime success ratio, 1.0 when no requests have
// been recorded.
func (b *Breaker) SuccessRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successRateLocked()
}

// DegradedModeActive reports whether the resource is currently degraded.
func (b *Breaker) DegradedModeActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkDegradedTimeoutLocked()
	return b.degradedActive
}

// StateInfo returns a snapshot of the breaker.
func (b *Breaker) StateInfo() StateInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	return StateInfo{
		ID:                 b.id,
		State:              b.state.String(),
		FailureCount:       b.failureCount,
		SuccessCount:       b.successCount,
		SuccessRate:        b.successRateLocked(),
		TotalRequests:      b.totalRequests,
		DegradedModeActive: b.degradedActive,
		LastStateChange:    b.lastStateChange,
		TimeInCurrentState: b.now().Sub(b.lastStateChange),
	}
}

func (b *Breaker) successRateLocked() float64 {
	if b.totalRequests == 0 {
		return 1.0
	}
	return float64(b.totalSuccesses) / float64(b.totalRequests)
}

func (b *Breaker) toOpenLocked() {
	b.state = StateOpen
	b.lastStateChange = b.now()
	b.successCount = 0
	if b.cfg.EnableDegradedMode {
		b.enterDegradedLocked()
	}
}

func (b *Breaker) toHalfOpenLocked() {
	b.state = StateHalfOpen
	b.lastStateChange = b.now()
	b.successCount = 0
	b.failureCount = 0
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.lastStateChange = b.now()
	b.failureCount = 0
	b.successCount = 0
	b.exitDegradedLocked()
}

func (b *Breaker) enterDegradedLocked() {
	if !b.cfg.EnableDegradedMode {
		return
	}
	b.degradedActive = true
	b.degradedSince = b.now()
}

func (b *Breaker) exitDegradedLocked() {
	b.degradedActive = false
	b.degradedSince = time.Time{}
}

func (b *Breaker) checkDegradedTimeoutLocked() {
	if !b.degradedActive || b.degradedSince.IsZero() {
		return
	}
	if b.now().Sub(b.degradedSince) > b.cfg.DegradedModeTimeout {
		b.exitDegradedLocked()
	}
}
