package breaker

import (
	"fmt"
	"time"
)

// ResourceType categorizes the resource a breaker protects. The manager uses
// it to pick a tuned configuration profile when creating a breaker.
type ResourceType string

// Known resource types.
const (
	ResourceHTTPAPI         ResourceType = "http_api"
	ResourceDatabase        ResourceType = "database"
	ResourceKVStore         ResourceType = "kv_store"
	ResourceCache           ResourceType = "cache"
	ResourceObjectStore     ResourceType = "object_store"
	ResourceExternalService ResourceType = "external_service"
	ResourceInternalService ResourceType = "internal_service"
	ResourceAnalysis        ResourceType = "analysis"
)

// Config holds circuit breaker tunables. A Config is immutable once handed to
// a Breaker or Manager.
type Config struct {
	// Enabled toggles breaker enforcement. A disabled breaker admits
	// everything and records nothing but totals.
	Enabled bool

	// FailureThreshold is the number of consecutive failures in Closed
	// state that opens the circuit.
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive successes in HalfOpen
	// state that closes the circuit.
	SuccessThreshold uint32

	// Timeout is how long an Open circuit waits after the last failure
	// before admitting a recovery probe.
	Timeout time.Duration

	// RetryTimeout bounds additional recovery attempts. Zero disables it.
	RetryTimeout time.Duration

	// EnableDegradedMode marks the resource as degraded while the circuit
	// is open, so other components can shed optional work.
	EnableDegradedMode bool

	// DegradedModeTimeout expires degraded mode even without a successful
	// recovery, so a resource whose breaker never closes is not penalized
	// forever.
	DegradedModeTimeout time.Duration

	// MaxBreakers bounds how many breakers a Manager will create.
	MaxBreakers int
}

// DefaultConfig returns the baseline breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		FailureThreshold:    5,
		SuccessThreshold:    3,
		Timeout:             60 * time.Second,
		RetryTimeout:        5 * time.Minute,
		EnableDegradedMode:  true,
		DegradedModeTimeout: 5 * time.Minute,
		MaxBreakers:         100,
	}
}

// HighPerformanceConfig trades failure tolerance for fast recovery probing.
func HighPerformanceConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.Timeout = 30 * time.Second
	cfg.RetryTimeout = 2 * time.Minute
	cfg.MaxBreakers = 200
	return cfg
}

// HighReliabilityConfig tolerates more failures before opening and probes
// recovery conservatively.
func HighReliabilityConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 10
	cfg.SuccessThreshold = 5
	cfg.Timeout = 2 * time.Minute
	cfg.RetryTimeout = 10 * time.Minute
	cfg.DegradedModeTimeout = 10 * time.Minute
	return cfg
}

// CacheOptimizedConfig suits cache backends, which manage their own fallback
// and gain nothing from degraded mode.
func CacheOptimizedConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryTimeout = 3 * time.Minute
	cfg.EnableDegradedMode = false
	return cfg
}

// AnalysisOptimizedConfig suits analysis workloads where a stalled pipeline
// is preferable to partial results.
func AnalysisOptimizedConfig() Config {
	cfg := DefaultConfig()
	cfg.EnableDegradedMode = false
	return cfg
}

// profileFor returns the configuration profile for a resource type, falling
// back to the manager's base configuration.
func profileFor(rt ResourceType, base Config) Config {
	switch rt {
	case ResourceCache:
		return CacheOptimizedConfig()
	case ResourceAnalysis:
		return AnalysisOptimizedConfig()
	default:
		return base
	}
}

// Validate rejects malformed configurations at construction time. A disabled
// breaker is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.FailureThreshold == 0 {
		return fmt.Errorf("failure threshold must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		return fmt.Errorf("success threshold must be greater than 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.EnableDegradedMode && c.DegradedModeTimeout <= 0 {
		return fmt.Errorf("degraded mode timeout must be greater than 0")
	}
	if c.MaxBreakers <= 0 {
		return fmt.Errorf("max breakers must be greater than 0")
	}
	return nil
}
