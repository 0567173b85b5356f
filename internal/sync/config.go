package sync

import (
	"fmt"
	"time"

	"github.com/cutover-sh/cutover/internal/storage"
)

// Config controls the coordinator and its strategies. Exactly one write
// strategy (write-through or write-behind) must be configured; read-repair
// and reconciliation are optional.
type Config struct {
	// DefaultWriteMode applies when a caller does not request a mode.
	DefaultWriteMode WriteMode

	// OperationTimeout bounds each dispatched operation.
	OperationTimeout time.Duration

	// MaxConcurrentOperations bounds the active-operation map. Zero means
	// unbounded.
	MaxConcurrentOperations int

	// ShutdownPollInterval and ShutdownPollAttempts bound the drain loop
	// during Shutdown.
	ShutdownPollInterval time.Duration
	ShutdownPollAttempts int

	// EventLogSize caps the in-memory event log.
	EventLogSize int

	WriteThrough   *WriteThroughConfig
	WriteBehind    *WriteBehindConfig
	ReadRepair     *ReadRepairConfig
	Reconciliation *ReconciliationConfig
}

// WriteThroughConfig controls the synchronous write strategy.
type WriteThroughConfig struct {
	// RequiredWrites is the quorum for WriteModeQuorum.
	RequiredWrites int

	// MaxRetries bounds retry rounds for targets that failed.
	MaxRetries int

	// RetryInitialInterval seeds the exponential backoff between rounds.
	RetryInitialInterval time.Duration

	// EnableParallelWrites fans writes out concurrently per round.
	EnableParallelWrites bool
}

// WriteBehindConfig controls the queued asynchronous write strategy.
type WriteBehindConfig struct {
	QueueSize         int
	BatchSize         int
	FlushInterval     time.Duration
	EnableCompression bool
	MaxRetries        int
}

// ReadRepairConfig controls divergence detection on reads.
type ReadRepairConfig struct {
	// RepairProbability is the chance in [0, 1] that a read triggers a
	// cross-target comparison.
	RepairProbability float64

	// MaxRepairsPerMinute rate-limits healing writes. Zero disables the
	// limit.
	MaxRepairsPerMinute int

	// AsyncRepair performs healing writes on a background worker instead
	// of the read path.
	AsyncRepair    bool
	AsyncQueueSize int
}

// ReconciliationConfig controls the periodic full-scan comparison.
type ReconciliationConfig struct {
	// Targets are the stores to reconcile. The first target is the source
	// of truth; the rest are rewritten when they diverge from it.
	Targets []storage.Target

	// Interval between automatic runs. Zero disables the ticker; runs can
	// still be triggered manually.
	Interval time.Duration

	// Schedule is an optional cron expression, kept for configuration
	// compatibility. Scheduled runs are triggered externally; the
	// coordinator itself only honours Interval.
	Schedule string

	BatchSize   int
	MaxDuration time.Duration

	// Incremental skips entries whose content hash has not changed since
	// the previous run.
	Incremental bool
}

// DefaultConfig returns a write-through coordinator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultWriteMode:        WriteModeBroadcast,
		OperationTimeout:        30 * time.Second,
		MaxConcurrentOperations: 1000,
		ShutdownPollInterval:    time.Second,
		ShutdownPollAttempts:    30,
		EventLogSize:            maxEventLogSize,
		WriteThrough: &WriteThroughConfig{
			RequiredWrites:       1,
			MaxRetries:           3,
			RetryInitialInterval: 100 * time.Millisecond,
			EnableParallelWrites: true,
		},
		ReadRepair: &ReadRepairConfig{
			RepairProbability:   0.1,
			MaxRepairsPerMinute: 60,
		},
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c Config) Validate() error {
	if !validWriteMode(c.DefaultWriteMode) {
		return fmt.Errorf("unknown default write mode %q", c.DefaultWriteMode)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if c.MaxConcurrentOperations < 0 {
		return fmt.Errorf("max concurrent operations must not be negative")
	}
	if c.EventLogSize <= 0 {
		return fmt.Errorf("event log size must be positive")
	}

	if (c.WriteThrough == nil) == (c.WriteBehind == nil) {
		return fmt.Errorf("exactly one write strategy (write-through or write-behind) must be configured")
	}
	if wt := c.WriteThrough; wt != nil {
		if wt.RequiredWrites < 1 {
			return fmt.Errorf("write-through required writes must be at least 1")
		}
		if wt.MaxRetries < 0 {
			return fmt.Errorf("write-through max retries must not be negative")
		}
	}
	if wb := c.WriteBehind; wb != nil {
		if wb.QueueSize <= 0 {
			return fmt.Errorf("write-behind queue size must be positive")
		}
		if wb.BatchSize <= 0 {
			return fmt.Errorf("write-behind batch size must be positive")
		}
		if wb.FlushInterval <= 0 {
			return fmt.Errorf("write-behind flush interval must be positive")
		}
	}
	if rr := c.ReadRepair; rr != nil {
		if rr.RepairProbability < 0 || rr.RepairProbability > 1 {
			return fmt.Errorf("read-repair probability must be within [0, 1]")
		}
		if rr.MaxRepairsPerMinute < 0 {
			return fmt.Errorf("read-repair rate limit must not be negative")
		}
	}
	if rc := c.Reconciliation; rc != nil {
		if len(rc.Targets) < 2 {
			return fmt.Errorf("reconciliation requires at least two targets")
		}
		for _, t := range rc.Targets {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("reconciliation target: %w", err)
			}
		}
		if rc.BatchSize <= 0 {
			return fmt.Errorf("reconciliation batch size must be positive")
		}
		if rc.MaxDuration <= 0 {
			return fmt.Errorf("reconciliation max duration must be positive")
		}
	}
	return nil
}
