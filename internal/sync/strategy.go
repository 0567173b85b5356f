package sync

import (
	"context"
	"sync"
	"time"
)

//go:generate mockgen -destination=mocks/mock_strategy.go -package=mocks -source=strategy.go Strategy,WriteStrategy,ReadStrategy

// Strategy is the common surface of every consistency strategy. Strategies
// with background work run it between Start and Stop; purely synchronous
// strategies treat both as no-ops.
type Strategy interface {
	// Name identifies the strategy in events, stats, and logs.
	Name() string

	// Start launches any background workers.
	Start(ctx context.Context) error

	// Stop flushes pending work and stops background workers. It respects
	// the deadline carried by ctx.
	Stop(ctx context.Context) error

	// Metrics returns a snapshot of the strategy's counters.
	Metrics() StrategyMetrics
}

// WriteStrategy applies writes and deletes across targets.
type WriteStrategy interface {
	Strategy

	// ApplyWrite executes a write or delete operation under the given
	// mode. It returns a result describing per-target outcomes even when
	// it also returns an error.
	ApplyWrite(ctx context.Context, op Operation, mode WriteMode) (*OperationResult, error)
}

// ReadStrategy serves reads, optionally repairing divergent targets.
type ReadStrategy interface {
	Strategy

	// ApplyRead reads the operation's key, preferring the first target.
	ApplyRead(ctx context.Context, op Operation) (*OperationResult, error)
}

// strategyCounters is the shared mutable state behind Metrics snapshots.
type strategyCounters struct {
	mu         sync.Mutex
	handled    uint64
	failures   uint64
	retries    uint64
	lastRun    time.Time
	avgLatency time.Duration
}

func (c *strategyCounters) recordHandled(latency time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handled++
	if failed {
		c.failures++
	}
	c.lastRun = time.Now()
	c.avgLatency = blendLatency(c.avgLatency, latency)
}

func (c *strategyCounters) recordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

func (c *strategyCounters) snapshot(queueDepth int) StrategyMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StrategyMetrics{
		OperationsHandled: c.handled,
		Failures:          c.failures,
		Retries:           c.retries,
		QueueDepth:        queueDepth,
		LastRun:           c.lastRun,
		AverageLatency:    c.avgLatency,
	}
}
