// Package config provides configuration loading and management for the
// cutover control plane.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/storage"
	syncpkg "github.com/cutover-sh/cutover/internal/sync"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server,omitempty"`
	Logging   LoggingConfig    `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig  `yaml:"telemetry,omitempty"`
	Breakers  BreakersConfig   `yaml:"breakers,omitempty"`
	Sync      SyncConfig       `yaml:"sync"`
	Migration *MigrationConfig `yaml:"migration,omitempty"`
}

// ServerConfig defines the admin API server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`

	// ShutdownTimeout bounds graceful shutdown (e.g. "30s")
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`
}

// LoggingConfig defines structured logging settings
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level,omitempty"`

	// Format is text or json
	Format string `yaml:"format,omitempty"`
}

// TelemetryConfig defines metrics settings
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
}

// BreakersConfig defines the base circuit breaker profile. Resource-specific
// profiles are derived from it at runtime.
type BreakersConfig struct {
	Enabled             *bool  `yaml:"enabled,omitempty"`
	FailureThreshold    uint32 `yaml:"failureThreshold,omitempty"`
	SuccessThreshold    uint32 `yaml:"successThreshold,omitempty"`
	Timeout             string `yaml:"timeout,omitempty"`
	RetryTimeout        string `yaml:"retryTimeout,omitempty"`
	EnableDegradedMode  *bool  `yaml:"enableDegradedMode,omitempty"`
	DegradedModeTimeout string `yaml:"degradedModeTimeout,omitempty"`
	MaxBreakers         int    `yaml:"maxBreakers,omitempty"`
}

// SyncConfig defines the sync coordinator settings. Exactly one of
// writeThrough or writeBehind must be set.
type SyncConfig struct {
	DefaultWriteMode        string `yaml:"defaultWriteMode,omitempty"`
	OperationTimeout        string `yaml:"operationTimeout,omitempty"`
	MaxConcurrentOperations int    `yaml:"maxConcurrentOperations,omitempty"`

	WriteThrough   *WriteThroughConfig   `yaml:"writeThrough,omitempty"`
	WriteBehind    *WriteBehindConfig    `yaml:"writeBehind,omitempty"`
	ReadRepair     *ReadRepairConfig     `yaml:"readRepair,omitempty"`
	Reconciliation *ReconciliationConfig `yaml:"reconciliation,omitempty"`
}

// WriteThroughConfig defines synchronous write settings
type WriteThroughConfig struct {
	RequiredWrites       int    `yaml:"requiredWrites,omitempty"`
	MaxRetries           int    `yaml:"maxRetries,omitempty"`
	RetryInitialInterval string `yaml:"retryInitialInterval,omitempty"`
	ParallelWrites       bool   `yaml:"parallelWrites,omitempty"`
}

// WriteBehindConfig defines queued asynchronous write settings
type WriteBehindConfig struct {
	QueueSize     int    `yaml:"queueSize,omitempty"`
	BatchSize     int    `yaml:"batchSize,omitempty"`
	FlushInterval string `yaml:"flushInterval,omitempty"`
	Compression   bool   `yaml:"compression,omitempty"`
	MaxRetries    int    `yaml:"maxRetries,omitempty"`
}

// ReadRepairConfig defines read divergence detection settings
type ReadRepairConfig struct {
	Probability         float64 `yaml:"probability,omitempty"`
	MaxRepairsPerMinute int     `yaml:"maxRepairsPerMinute,omitempty"`
	AsyncRepair         bool    `yaml:"asyncRepair,omitempty"`
	AsyncQueueSize      int     `yaml:"asyncQueueSize,omitempty"`
}

// ReconciliationConfig defines periodic full-scan comparison settings
type ReconciliationConfig struct {
	// Interval between runs (e.g. "1h"). Empty disables automatic runs.
	Interval string `yaml:"interval,omitempty"`

	// Schedule is an optional cron expression, accepted for compatibility;
	// scheduled runs must be triggered through the admin API.
	Schedule string `yaml:"schedule,omitempty"`

	BatchSize   int    `yaml:"batchSize,omitempty"`
	MaxDuration string `yaml:"maxDuration,omitempty"`
	Incremental bool   `yaml:"incremental,omitempty"`

	// Targets lists the stores to reconcile; the first is the source of
	// truth.
	Targets []storage.Target `yaml:"targets"`
}

// MigrationConfig defines staged read migration settings
type MigrationConfig struct {
	// InitialPhase is a phase name, e.g. "legacy_only" or "canary"
	InitialPhase string `yaml:"initialPhase,omitempty"`

	// Strategy is one of random, consistent_hashing, performance_based
	Strategy string `yaml:"strategy,omitempty"`

	SessionTTL           string `yaml:"sessionTTL,omitempty"`
	SessionSweepInterval string `yaml:"sessionSweepInterval,omitempty"`

	LegacyBreakerID string `yaml:"legacyBreakerId,omitempty"`
	NewBreakerID    string `yaml:"newBreakerId,omitempty"`

	MinRequestsForScoring uint64 `yaml:"minRequestsForScoring,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration. Domain-level invariants
// are enforced again by the packages the config converts into; this pass
// catches parse-level mistakes with file-oriented error messages.
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateDuration(c.Server.ShutdownTimeout, "server.shutdownTimeout"); err != nil {
		return err
	}
	if _, err := c.BreakerConfig(); err != nil {
		return err
	}
	if _, err := c.SyncConfig(); err != nil {
		return err
	}
	if c.Migration != nil {
		if _, err := c.MigrationConfig(); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1h'): %w", field, err)
	}
	return nil
}

func parseDuration(value string, fallback time.Duration, field string) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration (e.g., '30s', '1h'): %w", field, err)
	}
	return d, nil
}

// GetShutdownTimeout returns the server shutdown timeout, defaulting to 30s.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := parseDuration(c.Server.ShutdownTimeout, 30*time.Second, "server.shutdownTimeout")
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetAddress returns the listen address, defaulting to ":8080".
func (c *Config) GetAddress() string {
	if c.Server.Address == "" {
		return ":8080"
	}
	return c.Server.Address
}

// BreakerConfig converts the breakers section into a breaker.Config, applying
// defaults for omitted fields.
func (c *Config) BreakerConfig() (breaker.Config, error) {
	cfg := breaker.DefaultConfig()
	b := c.Breakers

	if b.Enabled != nil {
		cfg.Enabled = *b.Enabled
	}
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.SuccessThreshold > 0 {
		cfg.SuccessThreshold = b.SuccessThreshold
	}
	if b.EnableDegradedMode != nil {
		cfg.EnableDegradedMode = *b.EnableDegradedMode
	}
	if b.MaxBreakers > 0 {
		cfg.MaxBreakers = b.MaxBreakers
	}

	var err error
	if cfg.Timeout, err = parseDuration(b.Timeout, cfg.Timeout, "breakers.timeout"); err != nil {
		return breaker.Config{}, err
	}
	if cfg.RetryTimeout, err = parseDuration(b.RetryTimeout, cfg.RetryTimeout, "breakers.retryTimeout"); err != nil {
		return breaker.Config{}, err
	}
	if cfg.DegradedModeTimeout, err = parseDuration(b.DegradedModeTimeout, cfg.DegradedModeTimeout, "breakers.degradedModeTimeout"); err != nil {
		return breaker.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return breaker.Config{}, fmt.Errorf("breakers: %w", err)
	}
	return cfg, nil
}

// SyncConfig converts the sync section into a sync.Config, applying defaults
// for omitted fields.
func (c *Config) SyncConfig() (syncpkg.Config, error) {
	cfg := syncpkg.DefaultConfig()
	s := c.Sync

	if s.DefaultWriteMode != "" {
		cfg.DefaultWriteMode = syncpkg.WriteMode(s.DefaultWriteMode)
	}
	if s.MaxConcurrentOperations > 0 {
		cfg.MaxConcurrentOperations = s.MaxConcurrentOperations
	}

	var err error
	if cfg.OperationTimeout, err = parseDuration(s.OperationTimeout, cfg.OperationTimeout, "sync.operationTimeout"); err != nil {
		return syncpkg.Config{}, err
	}

	// The default config carries a write-through section; an explicit
	// writeBehind replaces it.
	if s.WriteThrough != nil {
		wt := syncpkg.WriteThroughConfig{
			RequiredWrites:       s.WriteThrough.RequiredWrites,
			MaxRetries:           s.WriteThrough.MaxRetries,
			EnableParallelWrites: s.WriteThrough.ParallelWrites,
		}
		if wt.RetryInitialInterval, err = parseDuration(s.WriteThrough.RetryInitialInterval, 100*time.Millisecond, "sync.writeThrough.retryInitialInterval"); err != nil {
			return syncpkg.Config{}, err
		}
		cfg.WriteThrough = &wt
		cfg.WriteBehind = nil
	}
	if s.WriteBehind != nil {
		wb := syncpkg.WriteBehindConfig{
			QueueSize:         s.WriteBehind.QueueSize,
			BatchSize:         s.WriteBehind.BatchSize,
			EnableCompression: s.WriteBehind.Compression,
			MaxRetries:        s.WriteBehind.MaxRetries,
		}
		if wb.FlushInterval, err = parseDuration(s.WriteBehind.FlushInterval, time.Second, "sync.writeBehind.flushInterval"); err != nil {
			return syncpkg.Config{}, err
		}
		cfg.WriteBehind = &wb
		if s.WriteThrough == nil {
			cfg.WriteThrough = nil
		}
	}

	if s.ReadRepair != nil {
		cfg.ReadRepair = &syncpkg.ReadRepairConfig{
			RepairProbability:   s.ReadRepair.Probability,
			MaxRepairsPerMinute: s.ReadRepair.MaxRepairsPerMinute,
			AsyncRepair:         s.ReadRepair.AsyncRepair,
			AsyncQueueSize:      s.ReadRepair.AsyncQueueSize,
		}
	}

	if s.Reconciliation != nil {
		rc := syncpkg.ReconciliationConfig{
			Schedule:    s.Reconciliation.Schedule,
			BatchSize:   s.Reconciliation.BatchSize,
			Incremental: s.Reconciliation.Incremental,
			Targets:     s.Reconciliation.Targets,
		}
		if rc.BatchSize == 0 {
			rc.BatchSize = 100
		}
		if rc.Interval, err = parseDuration(s.Reconciliation.Interval, 0, "sync.reconciliation.interval"); err != nil {
			return syncpkg.Config{}, err
		}
		if rc.MaxDuration, err = parseDuration(s.Reconciliation.MaxDuration, 10*time.Minute, "sync.reconciliation.maxDuration"); err != nil {
			return syncpkg.Config{}, err
		}
		cfg.Reconciliation = &rc
	}

	if err := cfg.Validate(); err != nil {
		return syncpkg.Config{}, fmt.Errorf("sync: %w", err)
	}
	return cfg, nil
}

// MigrationConfig converts the migration section into a migration.Config,
// applying defaults for omitted fields.
func (c *Config) MigrationConfig() (migration.Config, error) {
	cfg := migration.DefaultConfig()
	m := c.Migration
	if m == nil {
		return cfg, nil
	}

	if m.InitialPhase != "" {
		phase, err := migration.ParsePhase(m.InitialPhase)
		if err != nil {
			return migration.Config{}, fmt.Errorf("migration.initialPhase: %w", err)
		}
		cfg.InitialPhase = phase
	}
	if m.Strategy != "" {
		cfg.Strategy = migration.RoutingStrategy(m.Strategy)
	}
	if m.LegacyBreakerID != "" {
		cfg.LegacyBreakerID = m.LegacyBreakerID
	}
	if m.NewBreakerID != "" {
		cfg.NewBreakerID = m.NewBreakerID
	}
	if m.MinRequestsForScoring > 0 {
		cfg.MinRequestsForScoring = m.MinRequestsForScoring
	}

	var err error
	if cfg.SessionTTL, err = parseDuration(m.SessionTTL, cfg.SessionTTL, "migration.sessionTTL"); err != nil {
		return migration.Config{}, err
	}
	if cfg.SessionSweepInterval, err = parseDuration(m.SessionSweepInterval, cfg.SessionSweepInterval, "migration.sessionSweepInterval"); err != nil {
		return migration.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return migration.Config{}, fmt.Errorf("migration: %w", err)
	}
	return cfg, nil
}
