package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	gosync "sync"
	"time"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

// readRepair serves reads from the first available target and, on a sampled
// fraction of reads, compares the remaining targets against the value read
// and rewrites any that diverge.
type readRepair struct {
	cfg      ReadRepairConfig
	exec     storage.Executor
	breakers *breaker.Manager
	logger   *slog.Logger

	// rand drives repair sampling; injectable for deterministic tests.
	rand func() float64

	mu              gosync.Mutex
	windowStart     time.Time
	repairsInWindow int

	repairQueue chan repairTask
	cancel      context.CancelFunc
	done        chan struct{}

	counters strategyCounters
}

type repairTask struct {
	target  storage.Target
	key     string
	payload []byte
}

func newReadRepair(cfg ReadRepairConfig, exec storage.Executor, breakers *breaker.Manager, logger *slog.Logger) *readRepair {
	s := &readRepair{
		cfg:      cfg,
		exec:     exec,
		breakers: breakers,
		logger:   logger.With("strategy", "read-repair"),
		rand:     rand.Float64,
	}
	if cfg.AsyncRepair {
		size := cfg.AsyncQueueSize
		if size <= 0 {
			size = 256
		}
		s.repairQueue = make(chan repairTask, size)
	}
	return s
}

func (s *readRepair) Name() string { return "read-repair" }

// Start launches the background repair worker when async repair is enabled.
func (s *readRepair) Start(ctx context.Context) error {
	if !s.cfg.AsyncRepair {
		return nil
	}
	if s.cancel != nil {
		return fmt.Errorf("read-repair strategy already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runRepairWorker(runCtx)
	return nil
}

func (s *readRepair) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("read-repair worker did not stop in time: %w", ctx.Err())
	}
}

func (s *readRepair) Metrics() StrategyMetrics { return s.counters.snapshot(len(s.repairQueue)) }

// ApplyRead implements ReadStrategy. Targets are tried in order; the first
// successful read wins and becomes the canonical value for repair.
func (s *readRepair) ApplyRead(ctx context.Context, op Operation) (*OperationResult, error) {
	start := time.Now()
	results := make(map[string]StorageResult, len(op.Targets))

	var payload []byte
	var source storage.Target
	found := false
	var lastErr error

	for _, t := range op.Targets {
		data, res, err := s.readTarget(ctx, t, op.Key)
		results[t.ID()] = res
		if err == nil {
			payload = data
			source = t
			found = true
			break
		}
		lastErr = err
	}

	elapsed := time.Since(start)
	result := &OperationResult{
		Success:        found,
		StorageResults: results,
		Duration:       elapsed,
	}
	if !found {
		s.counters.recordHandled(elapsed, true)
		return result, fmt.Errorf("read %q failed on all %d targets: %w", op.Key, len(op.Targets), lastErr)
	}

	result.Payload = payload
	result.OperationsCompleted = 1

	if len(op.Targets) > 1 && s.rand() < s.cfg.RepairProbability {
		conflicts, repairs := s.compareAndRepair(ctx, op.Key, payload, source, op.Targets, results)
		result.ConflictsDetected = conflicts
		result.RepairsPerformed = repairs
	}

	s.counters.recordHandled(time.Since(start), false)
	result.Duration = time.Since(start)
	return result, nil
}

func (s *readRepair) readTarget(ctx context.Context, t storage.Target, key string) ([]byte, StorageResult, error) {
	start := time.Now()
	var data []byte
	err := s.breakers.Execute(ctx, t.ID(), resourceTypeFor(t.Kind), func(ctx context.Context) error {
		var readErr error
		data, readErr = s.exec.Read(ctx, t, key)
		return readErr
	})

	res := StorageResult{Success: err == nil, Latency: time.Since(start), DataSize: len(data)}
	if err != nil {
		res.Error = err.Error()
	}
	return data, res, err
}

// compareAndRepair checks the non-source targets against the canonical value
// and rewrites divergent ones, subject to the per-minute repair budget.
func (s *readRepair) compareAndRepair(ctx context.Context, key string, canonical []byte, source storage.Target, targets []storage.Target, results map[string]StorageResult) (conflicts, repairs int) {
	for _, t := range targets {
		if t.ID() == source.ID() {
			continue
		}

		data, res, err := s.readTarget(ctx, t, key)
		if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			// Unreachable target; leave it to reconciliation.
			continue
		}
		results[t.ID()] = res
		if err == nil && bytes.Equal(data, canonical) {
			continue
		}

		conflicts++
		s.logger.Debug("Read repair detected divergence", "key", key, "target", t.ID(), "source", source.ID())

		if !s.allowRepair() {
			continue
		}
		if s.cfg.AsyncRepair {
			select {
			case s.repairQueue <- repairTask{target: t, key: key, payload: canonical}:
				repairs++
			default:
				s.logger.Warn("Repair queue full, skipping repair", "key", key, "target", t.ID())
			}
			continue
		}
		if err := s.repair(ctx, repairTask{target: t, key: key, payload: canonical}); err != nil {
			s.logger.Warn("Inline repair failed", "key", key, "target", t.ID(), "error", err)
			continue
		}
		repairs++
	}
	return conflicts, repairs
}

func (s *readRepair) allowRepair() bool {
	if s.cfg.MaxRepairsPerMinute <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.windowStart) >= time.Minute {
		s.windowStart = now
		s.repairsInWindow = 0
	}
	if s.repairsInWindow >= s.cfg.MaxRepairsPerMinute {
		return false
	}
	s.repairsInWindow++
	return true
}

func (s *readRepair) repair(ctx context.Context, task repairTask) error {
	return s.breakers.Execute(ctx, task.target.ID(), resourceTypeFor(task.target.Kind), func(ctx context.Context) error {
		return s.exec.Write(ctx, task.target, task.key, task.payload)
	})
}

func (s *readRepair) runRepairWorker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.repairQueue:
			if err := s.repair(ctx, task); err != nil {
				s.logger.Warn("Async repair failed", "key", task.key, "target", task.target.ID(), "error", err)
			}
		}
	}
}
