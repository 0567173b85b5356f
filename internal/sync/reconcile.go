package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	RunID             string        `json:"run_id"`
	KeysScanned       int           `json:"keys_scanned"`
	KeysSkipped       int           `json:"keys_skipped"`
	ConflictsDetected int           `json:"conflicts_detected"`
	RepairsPerformed  int           `json:"repairs_performed"`
	Duration          time.Duration `json:"duration"`
}

// reconciler periodically scans the source-of-truth target and rewrites
// replicas that diverge from it. Runs are one-way; deletes propagate through
// regular delete operations, not reconciliation.
type reconciler struct {
	cfg      ReconciliationConfig
	exec     storage.Executor
	breakers *breaker.Manager
	logger   *slog.Logger
	emit     func(Event)

	running atomic.Bool

	// hashes caches the content hash seen for each key during the previous
	// run, so incremental runs skip unchanged entries.
	hashMu gosync.Mutex
	hashes map[string]uint64

	cancel context.CancelFunc
	done   chan struct{}

	counters strategyCounters
}

func newReconciler(cfg ReconciliationConfig, exec storage.Executor, breakers *breaker.Manager, logger *slog.Logger, emit func(Event)) *reconciler {
	if emit == nil {
		emit = func(Event) {}
	}
	return &reconciler{
		cfg:      cfg,
		exec:     exec,
		breakers: breakers,
		logger:   logger.With("strategy", "reconciliation"),
		emit:     emit,
		hashes:   make(map[string]uint64),
	}
}

func (s *reconciler) Name() string { return "reconciliation" }

// Start launches the interval ticker. A zero interval leaves runs to manual
// triggering through RunOnce.
func (s *reconciler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return nil
	}
	if s.cancel != nil {
		return fmt.Errorf("reconciler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	s.logger.Info("Reconciliation loop started", "interval", s.cfg.Interval)
	return nil
}

func (s *reconciler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconciler did not stop in time: %w", ctx.Err())
	}
}

func (s *reconciler) Metrics() StrategyMetrics { return s.counters.snapshot(0) }

func (s *reconciler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Reconciliation run failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single reconciliation pass, bounded by the configured
// maximum duration. Only one run may be active at a time.
func (s *reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("reconciliation already running")
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxDuration)
	defer cancel()

	start := time.Now()
	report := &ReconcileReport{RunID: uuid.New().String()}
	source := s.cfg.Targets[0]
	replicas := s.cfg.Targets[1:]

	s.emit(Event{
		Type:        EventReconciliationStarted,
		OperationID: report.RunID,
		Timestamp:   start,
		Details: map[string]string{
			"source":   source.ID(),
			"replicas": fmt.Sprintf("%d", len(replicas)),
		},
	})

	err := s.exec.Scan(runCtx, source, s.cfg.BatchSize, func(key string, payload []byte) error {
		report.KeysScanned++

		if s.cfg.Incremental {
			h := contentHash(payload)
			if s.seenUnchanged(key, h) {
				report.KeysSkipped++
				return nil
			}
			defer s.remember(key, h)
		}

		for _, replica := range replicas {
			diverged, err := s.compareReplica(runCtx, replica, key, payload)
			if err != nil {
				s.logger.Warn("Reconciliation compare failed", "key", key, "target", replica.ID(), "error", err)
				continue
			}
			if !diverged {
				continue
			}
			report.ConflictsDetected++
			if err := s.rewrite(runCtx, replica, key, payload); err != nil {
				s.logger.Warn("Reconciliation rewrite failed", "key", key, "target", replica.ID(), "error", err)
				continue
			}
			report.RepairsPerformed++
		}
		return nil
	})

	report.Duration = time.Since(start)
	s.counters.recordHandled(report.Duration, err != nil)

	s.logger.Info("Reconciliation run finished",
		"run_id", report.RunID,
		"keys_scanned", report.KeysScanned,
		"keys_skipped", report.KeysSkipped,
		"conflicts", report.ConflictsDetected,
		"repairs", report.RepairsPerformed,
		"duration", report.Duration,
	)
	if err != nil {
		return report, fmt.Errorf("reconciliation scan: %w", err)
	}
	return report, nil
}

func (s *reconciler) compareReplica(ctx context.Context, replica storage.Target, key string, canonical []byte) (bool, error) {
	var data []byte
	err := s.breakers.Execute(ctx, replica.ID(), resourceTypeFor(replica.Kind), func(ctx context.Context) error {
		var readErr error
		data, readErr = s.exec.Read(ctx, replica, key)
		return readErr
	})
	if errors.Is(err, storage.ErrKeyNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !bytes.Equal(data, canonical), nil
}

func (s *reconciler) rewrite(ctx context.Context, replica storage.Target, key string, payload []byte) error {
	return s.breakers.Execute(ctx, replica.ID(), resourceTypeFor(replica.Kind), func(ctx context.Context) error {
		return s.exec.Write(ctx, replica, key, payload)
	})
}

func (s *reconciler) seenUnchanged(key string, h uint64) bool {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	prev, ok := s.hashes[key]
	return ok && prev == h
}

func (s *reconciler) remember(key string, h uint64) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	s.hashes[key] = h
}

func contentHash(payload []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return h.Sum64()
}
