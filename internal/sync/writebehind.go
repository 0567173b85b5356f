package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

// drainTimeout bounds the final flush performed when the strategy stops.
const drainTimeout = 15 * time.Second

// writeBehind acknowledges writes immediately and applies them to targets
// from a background worker, in batches. A full queue rejects the write with
// ErrBackpressure rather than dropping it.
type writeBehind struct {
	cfg      WriteBehindConfig
	exec     storage.Executor
	breakers *breaker.Manager
	logger   *slog.Logger

	queue       chan queuedWrite
	flushSignal chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}

	counters strategyCounters
}

type queuedWrite struct {
	op       Operation
	enqueued time.Time
}

func newWriteBehind(cfg WriteBehindConfig, exec storage.Executor, breakers *breaker.Manager, logger *slog.Logger) *writeBehind {
	return &writeBehind{
		cfg:         cfg,
		exec:        exec,
		breakers:    breakers,
		logger:      logger.With("strategy", "write-behind"),
		queue:       make(chan queuedWrite, cfg.QueueSize),
		flushSignal: make(chan struct{}, 1),
	}
}

func (s *writeBehind) Name() string { return "write-behind" }

// Start launches the flush worker.
func (s *writeBehind) Start(ctx context.Context) error {
	if s.cancel != nil {
		return fmt.Errorf("write-behind strategy already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	s.logger.Info("Write-behind worker started",
		"queue_size", s.cfg.QueueSize, "batch_size", s.cfg.BatchSize, "flush_interval", s.cfg.FlushInterval)
	return nil
}

// Stop drains the queue and stops the worker, honouring ctx's deadline.
func (s *writeBehind) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write-behind worker did not drain in time: %w", ctx.Err())
	}
}

func (s *writeBehind) Metrics() StrategyMetrics { return s.counters.snapshot(len(s.queue)) }

// ApplyWrite enqueues the operation. Success means accepted, not durable.
func (s *writeBehind) ApplyWrite(_ context.Context, op Operation, _ WriteMode) (*OperationResult, error) {
	start := time.Now()
	select {
	case s.queue <- queuedWrite{op: op, enqueued: start}:
	default:
		return nil, fmt.Errorf("%w (capacity %d)", ErrBackpressure, s.cfg.QueueSize)
	}

	// Wake the worker early once a full batch is waiting.
	if len(s.queue) >= s.cfg.BatchSize {
		select {
		case s.flushSignal <- struct{}{}:
		default:
		}
	}

	return &OperationResult{Success: true, Duration: time.Since(start)}, nil
}

func (s *writeBehind) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			s.flush(drainCtx, len(s.queue))
			cancel()
			return
		case <-ticker.C:
			s.flush(ctx, s.cfg.BatchSize)
		case <-s.flushSignal:
			s.flush(ctx, s.cfg.BatchSize)
		}
	}
}

// flush applies up to max queued writes to their targets.
func (s *writeBehind) flush(ctx context.Context, max int) {
	batch := s.drain(max)
	if len(batch) == 0 {
		return
	}
	if s.cfg.EnableCompression {
		batch = coalesceWrites(batch)
	}
	for _, qw := range batch {
		s.flushOne(ctx, qw)
	}
}

func (s *writeBehind) drain(max int) []queuedWrite {
	batch := make([]queuedWrite, 0, max)
	for len(batch) < max {
		select {
		case qw := <-s.queue:
			batch = append(batch, qw)
		default:
			return batch
		}
	}
	return batch
}

// coalesceWrites compresses the batch by keeping only the newest operation
// per key and target set; superseded writes never reach storage.
func coalesceWrites(batch []queuedWrite) []queuedWrite {
	latest := make(map[string]int, len(batch))
	order := make([]string, 0, len(batch))
	for i, qw := range batch {
		sig := coalesceKey(qw.op)
		if _, seen := latest[sig]; !seen {
			order = append(order, sig)
		}
		latest[sig] = i
	}
	out := make([]queuedWrite, 0, len(order))
	for _, sig := range order {
		out = append(out, batch[latest[sig]])
	}
	return out
}

func coalesceKey(op Operation) string {
	ids := make([]string, 0, len(op.Targets)+1)
	ids = append(ids, op.Key)
	for _, t := range op.Targets {
		ids = append(ids, t.ID())
	}
	return strings.Join(ids, "|")
}

func (s *writeBehind) flushOne(ctx context.Context, qw queuedWrite) {
	failed := false
	for _, t := range qw.op.Targets {
		if err := s.writeTarget(ctx, qw.op, t); err != nil {
			failed = true
			s.logger.Warn("Write-behind flush failed",
				"key", qw.op.Key, "target", t.ID(), "error", err)
		}
	}
	s.counters.recordHandled(time.Since(qw.enqueued), failed)
}

func (s *writeBehind) writeTarget(ctx context.Context, op Operation, t storage.Target) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.breakers.Execute(ctx, t.ID(), resourceTypeFor(t.Kind), func(ctx context.Context) error {
			if op.Type == OpDelete {
				return s.exec.Delete(ctx, t, op.Key)
			}
			return s.exec.Write(ctx, t, op.Key, op.Payload)
		})
		if err == nil || attempt >= s.cfg.MaxRetries || ctx.Err() != nil {
			return err
		}
		s.counters.recordRetry()
	}
}
