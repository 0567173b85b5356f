package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/health"
	"github.com/cutover-sh/cutover/internal/storage"
	"github.com/cutover-sh/cutover/internal/telemetry"
)

// coordinatorBreakerID guards the coordinator as a whole, on top of the
// per-target breakers the strategies consult.
const coordinatorBreakerID = "sync-coordinator"

// ActiveOperation is a snapshot of one in-flight operation.
type ActiveOperation struct {
	OperationID string        `json:"operation_id"`
	Type        OperationType `json:"type"`
	Key         string        `json:"key,omitempty"`
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
}

// Coordinator dispatches logical operations to consistency strategies and
// tracks their lifecycle. It holds no locks across storage I/O; the active
// map and counters use short critical sections only.
type Coordinator struct {
	cfg      Config
	exec     storage.Executor
	breakers *breaker.Manager
	logger   *slog.Logger
	metrics  *telemetry.SyncMetrics

	events *eventLog
	stats  *statsTracker

	activeMu gosync.Mutex
	active   map[string]*operationContext

	accepting atomic.Bool
	startedAt time.Time

	strategies []Strategy
	write      WriteStrategy
	read       ReadStrategy
	reconciler *reconciler
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics attaches OpenTelemetry instruments. A nil value keeps metrics
// disabled.
func WithMetrics(m *telemetry.SyncMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator validates cfg and builds the configured strategies.
func NewCoordinator(cfg Config, exec storage.Executor, breakers *breaker.Manager, opts ...CoordinatorOption) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync config: %w", err)
	}
	if exec == nil {
		return nil, fmt.Errorf("storage executor is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("circuit breaker manager is required")
	}

	c := &Coordinator{
		cfg:      cfg,
		exec:     exec,
		breakers: breakers,
		logger:   slog.Default().With("component", "sync-coordinator"),
		events:   newEventLog(cfg.EventLogSize),
		stats:    newStatsTracker(),
		active:   make(map[string]*operationContext),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.WriteThrough != nil {
		wt := newWriteThrough(*cfg.WriteThrough, exec, breakers, c.logger)
		c.write = wt
		c.strategies = append(c.strategies, wt)
	} else {
		wb := newWriteBehind(*cfg.WriteBehind, exec, breakers, c.logger)
		c.write = wb
		c.strategies = append(c.strategies, wb)
	}

	// Reads always go through the read-repair strategy; without a
	// read-repair section it runs with zero repair probability and only
	// serves first-available reads.
	rrCfg := ReadRepairConfig{}
	if cfg.ReadRepair != nil {
		rrCfg = *cfg.ReadRepair
	}
	rr := newReadRepair(rrCfg, exec, breakers, c.logger)
	c.read = rr
	c.strategies = append(c.strategies, rr)

	if cfg.Reconciliation != nil {
		rec := newReconciler(*cfg.Reconciliation, exec, breakers, c.logger, c.events.append)
		c.reconciler = rec
		c.strategies = append(c.strategies, rec)
	}

	return c, nil
}

// Start opens the coordinator for operations and launches strategy workers.
func (c *Coordinator) Start(ctx context.Context) error {
	for _, s := range c.strategies {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting %s strategy: %w", s.Name(), err)
		}
	}
	c.startedAt = time.Now()
	c.accepting.Store(true)
	c.logger.Info("Sync coordinator started",
		"write_strategy", c.write.Name(),
		"default_write_mode", string(c.cfg.DefaultWriteMode),
		"reconciliation", c.reconciler != nil,
	)
	return nil
}

// Write dispatches a write with the default write mode.
func (c *Coordinator) Write(ctx context.Context, key string, payload []byte, targets ...storage.Target) (*OperationResult, error) {
	return c.Dispatch(ctx, WriteOperation(key, payload, targets...))
}

// Read dispatches a read.
func (c *Coordinator) Read(ctx context.Context, key string, targets ...storage.Target) (*OperationResult, error) {
	return c.Dispatch(ctx, ReadOperation(key, targets...))
}

// Delete dispatches a delete with the default write mode.
func (c *Coordinator) Delete(ctx context.Context, key string, targets ...storage.Target) (*OperationResult, error) {
	return c.Dispatch(ctx, DeleteOperation(key, targets...))
}

// Bulk dispatches the given sub-operations as one bulk operation.
func (c *Coordinator) Bulk(ctx context.Context, ops ...Operation) (*OperationResult, error) {
	return c.Dispatch(ctx, BulkOperation(ops...))
}

// Dispatch executes op with the configured default write mode.
func (c *Coordinator) Dispatch(ctx context.Context, op Operation) (*OperationResult, error) {
	return c.DispatchWithMode(ctx, op, c.cfg.DefaultWriteMode)
}

// DispatchWithMode executes op, tracking it in the active map and the event
// log. Writes and deletes honour the given write mode.
func (c *Coordinator) DispatchWithMode(ctx context.Context, op Operation, mode WriteMode) (*OperationResult, error) {
	if !c.accepting.Load() {
		return nil, ErrShuttingDown
	}
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation: %w", err)
	}
	if !validWriteMode(mode) {
		return nil, fmt.Errorf("unknown write mode %q", mode)
	}
	if mode == "" {
		mode = c.cfg.DefaultWriteMode
	}

	operationID := uuid.New().String()

	guard, err := c.breakers.GetOrCreate(coordinatorBreakerID, breaker.ResourceInternalService)
	if err != nil {
		return nil, err
	}
	if !guard.CanExecute() {
		c.events.append(Event{
			Type:        EventCircuitBreakerTriggered,
			OperationID: operationID,
			Timestamp:   time.Now(),
			Details:     map[string]string{"breaker": coordinatorBreakerID},
		})
		return nil, fmt.Errorf("%w (operation %s)", ErrCoordinatorOpen, operationID)
	}

	octx, err := c.registerOperation(operationID, op)
	if err != nil {
		return nil, err
	}
	defer c.removeOperation(operationID)

	c.metrics.OperationStarted(ctx)
	defer c.metrics.OperationFinished(ctx)

	c.events.append(Event{
		Type:        EventOperationStarted,
		OperationID: operationID,
		Timestamp:   time.Now(),
		Details: map[string]string{
			"type": string(op.Type),
			"key":  op.Key,
		},
	})

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	result, opErr := c.route(opCtx, op, mode)
	duration := time.Since(start)

	if result == nil {
		result = &OperationResult{Duration: duration}
	}
	result.OperationID = operationID

	success := opErr == nil && result.Success
	octx.status = completionStatus(success, opErr)

	if success {
		guard.RecordSuccess()
	} else {
		guard.RecordFailure()
	}
	c.stats.recordOperation(success, duration)
	c.metrics.RecordOperation(ctx, string(op.Type), duration, success)
	c.emitCompletion(operationID, op, result, duration, opErr)

	if opErr != nil {
		return result, fmt.Errorf("operation %s: %w", operationID, opErr)
	}
	return result, nil
}

// route hands the operation to its strategy and records per-target stats.
func (c *Coordinator) route(ctx context.Context, op Operation, mode WriteMode) (*OperationResult, error) {
	switch op.Type {
	case OpWrite, OpDelete:
		result, err := c.write.ApplyWrite(ctx, op, mode)
		c.recordStorageResults(op, result)
		return result, err
	case OpRead:
		result, err := c.read.ApplyRead(ctx, op)
		c.recordStorageResults(op, result)
		return result, err
	case OpBulk:
		return c.routeBulk(ctx, op, mode)
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// routeBulk executes sub-operations in order. The bulk operation succeeds
// only when every sub-operation does; per-target results are keyed by
// "<key>/<target id>" to avoid collisions across sub-operations.
func (c *Coordinator) routeBulk(ctx context.Context, op Operation, mode WriteMode) (*OperationResult, error) {
	aggregate := &OperationResult{
		Success:        true,
		StorageResults: make(map[string]StorageResult),
	}
	var firstErr error

	for i, sub := range op.Operations {
		result, err := c.route(ctx, sub, mode)
		if err == nil && result != nil && result.Success {
			aggregate.OperationsCompleted++
		} else {
			aggregate.Success = false
			if firstErr == nil {
				if err == nil {
					err = fmt.Errorf("sub-operation %d failed", i)
				}
				firstErr = fmt.Errorf("sub-operation %d (%s %q): %w", i, sub.Type, sub.Key, err)
			}
		}
		if result == nil {
			continue
		}
		aggregate.ConflictsDetected += result.ConflictsDetected
		aggregate.RepairsPerformed += result.RepairsPerformed
		for id, res := range result.StorageResults {
			aggregate.StorageResults[fmt.Sprintf("%s/%s", sub.Key, id)] = res
		}
	}
	return aggregate, firstErr
}

func (c *Coordinator) recordStorageResults(op Operation, result *OperationResult) {
	if result == nil {
		return
	}
	for id, res := range result.StorageResults {
		c.stats.recordStorage(id, op.Type, res)
	}
}

func (c *Coordinator) registerOperation(operationID string, op Operation) (*operationContext, error) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	if c.cfg.MaxConcurrentOperations > 0 && len(c.active) >= c.cfg.MaxConcurrentOperations {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManyOperations, c.cfg.MaxConcurrentOperations)
	}
	octx := &operationContext{
		operationID: operationID,
		operation:   op,
		status:      StatusInProgress,
		startTime:   time.Now().UnixMilli(),
	}
	c.active[operationID] = octx
	return octx, nil
}

func (c *Coordinator) removeOperation(operationID string) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	delete(c.active, operationID)
}

func completionStatus(success bool, err error) Status {
	switch {
	case success:
		return StatusCompleted
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	case errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

func (c *Coordinator) emitCompletion(operationID string, op Operation, result *OperationResult, duration time.Duration, opErr error) {
	if result.ConflictsDetected > 0 {
		c.events.append(Event{
			Type:        EventConflictDetected,
			OperationID: operationID,
			Timestamp:   time.Now(),
			Details: map[string]string{
				"key":       op.Key,
				"conflicts": fmt.Sprintf("%d", result.ConflictsDetected),
			},
		})
	}
	if result.RepairsPerformed > 0 {
		c.events.append(Event{
			Type:        EventRepairInitiated,
			OperationID: operationID,
			Timestamp:   time.Now(),
			Details: map[string]string{
				"key":     op.Key,
				"repairs": fmt.Sprintf("%d", result.RepairsPerformed),
			},
		})
	}

	event := Event{
		Type:        EventOperationCompleted,
		OperationID: operationID,
		Timestamp:   time.Now(),
		Duration:    duration,
		Details:     map[string]string{"type": string(op.Type), "key": op.Key},
	}
	if opErr != nil || !result.Success {
		event.Type = EventOperationFailed
		if opErr != nil {
			event.Error = opErr.Error()
		}
		c.logger.Warn("Sync operation failed",
			"operation_id", operationID, "type", string(op.Type), "key", op.Key,
			"duration", duration, "error", opErr)
	} else {
		c.logger.Debug("Sync operation completed",
			"operation_id", operationID, "type", string(op.Type), "key", op.Key,
			"duration", duration)
	}
	c.events.append(event)
}

// Reconcile triggers a reconciliation run outside the periodic schedule.
func (c *Coordinator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if c.reconciler == nil {
		return nil, fmt.Errorf("reconciliation is not configured")
	}
	return c.reconciler.RunOnce(ctx)
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.activeMu.Lock()
	active := len(c.active)
	c.activeMu.Unlock()

	strategies := make(map[string]StrategyMetrics, len(c.strategies))
	for _, s := range c.strategies {
		strategies[s.Name()] = s.Metrics()
	}
	return c.stats.snapshot(active, strategies)
}

// Events returns the event log, oldest first.
func (c *Coordinator) Events() []Event {
	return c.events.snapshot()
}

// Health returns the coordinator's component health snapshot.
func (c *Coordinator) Health() health.ComponentHealth {
	stats := c.Stats()
	score := 1.0
	if stats.TotalOperations > 0 {
		score = float64(stats.SuccessfulOperations) / float64(stats.TotalOperations)
	}
	var uptime uint64
	if !c.startedAt.IsZero() {
		uptime = uint64(time.Since(c.startedAt).Seconds())
	}
	return health.ComponentHealth{
		IsHealthy:        c.accepting.Load(),
		LastCheck:        time.Now(),
		ErrorCount:       stats.FailedOperations,
		UptimeSeconds:    uptime,
		PerformanceScore: score,
	}
}

// ActiveOperations returns a snapshot of in-flight operations.
func (c *Coordinator) ActiveOperations() []ActiveOperation {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()

	ops := make([]ActiveOperation, 0, len(c.active))
	for _, octx := range c.active {
		ops = append(ops, ActiveOperation{
			OperationID: octx.operationID,
			Type:        octx.operation.Type,
			Key:         octx.operation.Key,
			Status:      octx.status,
			StartedAt:   time.UnixMilli(octx.startTime),
		})
	}
	return ops
}

// Shutdown stops intake, waits for in-flight operations to drain within the
// configured polling budget, then stops the strategies.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.accepting.Store(false)

	var drainErr error
	for attempt := 0; ; attempt++ {
		c.activeMu.Lock()
		remaining := len(c.active)
		c.activeMu.Unlock()
		if remaining == 0 {
			break
		}
		if attempt >= c.cfg.ShutdownPollAttempts {
			drainErr = fmt.Errorf("%d operations still active after drain budget", remaining)
			break
		}
		c.logger.Info("Waiting for active operations to drain",
			"remaining", remaining, "attempt", attempt+1, "max_attempts", c.cfg.ShutdownPollAttempts)
		select {
		case <-ctx.Done():
			drainErr = fmt.Errorf("drain interrupted: %w", ctx.Err())
		case <-time.After(c.cfg.ShutdownPollInterval):
			continue
		}
		break
	}

	var stopErrs []error
	for _, s := range c.strategies {
		if err := s.Stop(ctx); err != nil {
			stopErrs = append(stopErrs, fmt.Errorf("stopping %s strategy: %w", s.Name(), err))
		}
	}

	c.logger.Info("Sync coordinator stopped")
	return errors.Join(append([]error{drainErr}, stopErrs...)...)
}
