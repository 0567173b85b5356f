package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

// writeThrough applies writes synchronously to every target before the
// operation completes. Failed targets are retried with exponential backoff;
// each round re-attempts only the targets that have not yet succeeded.
type writeThrough struct {
	cfg      WriteThroughConfig
	exec     storage.Executor
	breakers *breaker.Manager
	logger   *slog.Logger

	counters strategyCounters
}

func newWriteThrough(cfg WriteThroughConfig, exec storage.Executor, breakers *breaker.Manager, logger *slog.Logger) *writeThrough {
	return &writeThrough{
		cfg:      cfg,
		exec:     exec,
		breakers: breakers,
		logger:   logger.With("strategy", "write-through"),
	}
}

func (s *writeThrough) Name() string { return "write-through" }

func (s *writeThrough) Start(_ context.Context) error { return nil }

func (s *writeThrough) Stop(_ context.Context) error { return nil }

func (s *writeThrough) Metrics() StrategyMetrics { return s.counters.snapshot(0) }

// requiredSuccesses resolves the write mode into a success count. A quorum
// larger than the target set is kept as-is and will fail, which surfaces the
// misconfiguration instead of silently weakening the guarantee.
func requiredSuccesses(mode WriteMode, targets, quorum int) int {
	switch mode {
	case WriteModePrimary:
		return 1
	case WriteModeQuorum:
		return quorum
	default:
		return targets
	}
}

// ApplyWrite implements WriteStrategy.
func (s *writeThrough) ApplyWrite(ctx context.Context, op Operation, mode WriteMode) (*OperationResult, error) {
	start := time.Now()
	required := requiredSuccesses(mode, len(op.Targets), s.cfg.RequiredWrites)

	results := make(map[string]StorageResult, len(op.Targets))
	pending := op.Targets
	succeeded := 0
	attempt := 0

	round := func() (int, error) {
		if attempt > 0 {
			s.counters.recordRetry()
			s.logger.Debug("Retrying write round",
				"key", op.Key, "attempt", attempt, "pending_targets", len(pending))
		}
		attempt++

		var failed []storage.Target
		if s.cfg.EnableParallelWrites && len(pending) > 1 {
			var mu gosync.Mutex
			g, gctx := errgroup.WithContext(ctx)
			for _, t := range pending {
				g.Go(func() error {
					res := s.applyOne(gctx, op, t)
					mu.Lock()
					defer mu.Unlock()
					results[t.ID()] = res
					if res.Success {
						succeeded++
					} else {
						failed = append(failed, t)
					}
					return nil
				})
			}
			_ = g.Wait()
		} else {
			for _, t := range pending {
				res := s.applyOne(ctx, op, t)
				results[t.ID()] = res
				if res.Success {
					succeeded++
				} else {
					failed = append(failed, t)
				}
			}
		}
		pending = failed

		if succeeded >= required {
			return succeeded, nil
		}
		if len(pending) == 0 {
			// Every target succeeded yet the quorum is still unmet, so
			// no amount of retrying can help.
			return succeeded, backoff.Permanent(ErrQuorumNotMet)
		}
		return succeeded, fmt.Errorf("write round reached %d of %d required successes", succeeded, required)
	}

	bo := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitialInterval > 0 {
		bo.InitialInterval = s.cfg.RetryInitialInterval
	}
	_, retryErr := backoff.Retry(ctx, round,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)+1),
	)

	elapsed := time.Since(start)
	result := &OperationResult{
		Success:             succeeded >= required,
		OperationsCompleted: succeeded,
		StorageResults:      results,
		Duration:            elapsed,
	}
	s.counters.recordHandled(elapsed, !result.Success)

	if result.Success {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if retryErr != nil && (errors.Is(retryErr, context.Canceled) || errors.Is(retryErr, context.DeadlineExceeded)) {
		return result, retryErr
	}
	return result, fmt.Errorf("%w: %d of %d targets succeeded for key %q", ErrQuorumNotMet, succeeded, required, op.Key)
}

// applyOne performs a single guarded write or delete against one target.
func (s *writeThrough) applyOne(ctx context.Context, op Operation, t storage.Target) StorageResult {
	start := time.Now()
	err := s.breakers.Execute(ctx, t.ID(), resourceTypeFor(t.Kind), func(ctx context.Context) error {
		if op.Type == OpDelete {
			return s.exec.Delete(ctx, t, op.Key)
		}
		return s.exec.Write(ctx, t, op.Key, op.Payload)
	})

	res := StorageResult{Success: err == nil, Latency: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if op.Type == OpWrite {
		res.DataSize = len(op.Payload)
	}
	return res
}
