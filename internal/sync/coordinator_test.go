package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
	"github.com/cutover-sh/cutover/internal/storage/inmemory"
)

func newTestCoordinator(t *testing.T, cfg Config, store storage.Executor) (*Coordinator, *breaker.Manager) {
	t.Helper()
	breakers := newTestBreakers(t)
	c, err := NewCoordinator(cfg, store, breakers, WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, breakers
}

func TestNewCoordinator_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "no write strategy",
			mutate: func(c *Config) { c.WriteThrough = nil },
		},
		{
			name: "both write strategies",
			mutate: func(c *Config) {
				c.WriteBehind = &WriteBehindConfig{QueueSize: 1, BatchSize: 1, FlushInterval: time.Second}
			},
		},
		{
			name:   "zero quorum",
			mutate: func(c *Config) { c.WriteThrough.RequiredWrites = 0 },
		},
		{
			name:   "zero operation timeout",
			mutate: func(c *Config) { c.OperationTimeout = 0 },
		},
		{
			name:   "repair probability out of range",
			mutate: func(c *Config) { c.ReadRepair.RepairProbability = 1.5 },
		},
		{
			name: "reconciliation with single target",
			mutate: func(c *Config) {
				c.Reconciliation = &ReconciliationConfig{
					Targets:     []storage.Target{kvTarget("only")},
					BatchSize:   10,
					MaxDuration: time.Second,
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := NewCoordinator(cfg, inmemory.NewStore(), newTestBreakers(t))
			require.Error(t, err)
		})
	}
}

func TestCoordinator_WriteReadDelete(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	next := kvTarget("next")
	c, _ := newTestCoordinator(t, writeThroughConfig(), store)
	ctx := context.Background()

	written, err := c.Write(ctx, "user:1", []byte("alice"), legacy, next)
	require.NoError(t, err)
	assert.True(t, written.Success)
	assert.NotEmpty(t, written.OperationID)

	read, err := c.Read(ctx, "user:1", legacy, next)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), read.Payload)

	deleted, err := c.Delete(ctx, "user:1", legacy, next)
	require.NoError(t, err)
	assert.True(t, deleted.Success)

	_, err = c.Read(ctx, "user:1", legacy, next)
	require.Error(t, err)
}

func TestCoordinator_BulkAggregatesSubOperations(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	c, _ := newTestCoordinator(t, writeThroughConfig(), store)

	result, err := c.Bulk(context.Background(),
		WriteOperation("user:1", []byte("alice"), legacy),
		WriteOperation("user:2", []byte("bob"), legacy),
	)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.OperationsCompleted)
	assert.Equal(t, 2, store.Len(legacy))
}

func TestCoordinator_BulkFailsWhenSubOperationFails(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	broken := kvTarget("broken")
	store.FailTarget(broken, errors.New("down"))
	c, _ := newTestCoordinator(t, writeThroughConfig(), store)

	result, err := c.Bulk(context.Background(),
		WriteOperation("user:1", []byte("alice"), legacy),
		WriteOperation("user:2", []byte("bob"), broken),
	)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.OperationsCompleted)
}

func TestCoordinator_RejectsInvalidOperations(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, writeThroughConfig(), inmemory.NewStore())
	ctx := context.Background()

	_, err := c.Write(ctx, "", []byte("x"), kvTarget("legacy"))
	require.Error(t, err)

	_, err = c.Write(ctx, "user:1", []byte("x"))
	require.Error(t, err)

	_, err = c.DispatchWithMode(ctx, WriteOperation("user:1", []byte("x"), kvTarget("legacy")), WriteMode("bogus"))
	require.Error(t, err)
}

func TestCoordinator_FastFailsWhenBreakerOpen(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	c, breakers := newTestCoordinator(t, writeThroughConfig(), store)

	guard, err := breakers.GetOrCreate(coordinatorBreakerID, breaker.ResourceInternalService)
	require.NoError(t, err)
	guard.ForceState(breaker.StateOpen)

	_, err = c.Write(context.Background(), "user:1", []byte("alice"), legacy)
	require.ErrorIs(t, err, ErrCoordinatorOpen)

	// Rejected before dispatch: nothing reached storage and nothing is
	// tracked as in flight.
	assert.Equal(t, 0, store.Len(legacy))
	assert.Empty(t, c.ActiveOperations())

	events := c.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, EventCircuitBreakerTriggered, events[len(events)-1].Type)
	assert.NotEmpty(t, events[len(events)-1].OperationID)
}

func TestCoordinator_ShutdownStopsIntake(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, writeThroughConfig(), inmemory.NewStore())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	_, err := c.Write(context.Background(), "user:1", []byte("alice"), kvTarget("legacy"))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestCoordinator_MaxConcurrentOperations(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	release := make(chan struct{})
	blocking := &blockingExecutor{Executor: store, release: release}

	cfg := writeThroughConfig()
	cfg.MaxConcurrentOperations = 1
	c, _ := newTestCoordinator(t, cfg, blocking)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Write(context.Background(), "user:1", []byte("alice"), legacy)
	}()

	require.Eventually(t, func() bool {
		return len(c.ActiveOperations()) == 1
	}, time.Second, time.Millisecond)

	_, err := c.Write(context.Background(), "user:2", []byte("bob"), legacy)
	require.ErrorIs(t, err, ErrTooManyOperations)

	close(release)
	<-done
}

func TestCoordinator_OperationTimeout(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	blocking := &blockingExecutor{Executor: store, release: make(chan struct{})}

	cfg := writeThroughConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	c, _ := newTestCoordinator(t, cfg, blocking)

	_, err := c.Write(context.Background(), "user:1", []byte("alice"), legacy)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_StatsAndEvents(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	broken := kvTarget("broken")
	store.FailTarget(broken, errors.New("down"))
	c, _ := newTestCoordinator(t, writeThroughConfig(), store)
	ctx := context.Background()

	_, err := c.Write(ctx, "user:1", []byte("alice"), legacy)
	require.NoError(t, err)
	_, err = c.Write(ctx, "user:2", []byte("bob"), broken)
	require.Error(t, err)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.TotalOperations)
	assert.Equal(t, uint64(1), stats.SuccessfulOperations)
	assert.Equal(t, uint64(1), stats.FailedOperations)
	assert.Zero(t, stats.ActiveOperations)
	assert.Positive(t, stats.AverageLatency)
	assert.Contains(t, stats.Strategies, "write-through")
	assert.Contains(t, stats.Storage, legacy.ID())
	assert.Equal(t, uint64(1), stats.Storage[broken.ID()].Failures)

	var types []EventType
	for _, e := range c.Events() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, EventOperationStarted)
	assert.Contains(t, types, EventOperationCompleted)
	assert.Contains(t, types, EventOperationFailed)
}

func TestCoordinator_Health(t *testing.T) {
	t.Parallel()

	c, err := NewCoordinator(writeThroughConfig(), inmemory.NewStore(), newTestBreakers(t), WithLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, c.Health().IsHealthy)

	require.NoError(t, c.Start(ctx))
	_, err = c.Write(ctx, "user:1", []byte("alice"), kvTarget("legacy"))
	require.NoError(t, err)

	h := c.Health()
	assert.True(t, h.IsHealthy)
	assert.Zero(t, h.ErrorCount)
	assert.Equal(t, 1.0, h.PerformanceScore)

	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.Health().IsHealthy)
}

func TestCoordinator_ReconcileOnDemand(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	source := kvTarget("source")
	replica := kvTarget("replica")
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, source, "user:1", []byte("alice")))

	cfg := writeThroughConfig()
	cfg.Reconciliation = &ReconciliationConfig{
		Targets:     []storage.Target{source, replica},
		BatchSize:   100,
		MaxDuration: 5 * time.Second,
	}
	c, _ := newTestCoordinator(t, cfg, store)

	report, err := c.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RepairsPerformed)

	payload, err := store.Read(ctx, replica, "user:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), payload)
}

func TestCoordinator_ReconcileUnconfigured(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, writeThroughConfig(), inmemory.NewStore())

	_, err := c.Reconcile(context.Background())
	require.Error(t, err)
}
