package sync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

func kvTarget(name string) storage.Target {
	return storage.Target{Kind: storage.KindKeyValue, Name: name, Namespace: "test"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBreakers(t *testing.T) *breaker.Manager {
	t.Helper()
	m, err := breaker.NewManager(breaker.DefaultConfig(), breaker.WithLogger(testLogger()))
	require.NoError(t, err)
	return m
}

// flakyExecutor wraps an Executor and fails the first failWrites write calls.
type flakyExecutor struct {
	storage.Executor
	failWrites int
	writeErr   error
	calls      int
}

func (f *flakyExecutor) Write(ctx context.Context, target storage.Target, key string, payload []byte) error {
	f.calls++
	if f.calls <= f.failWrites {
		return f.writeErr
	}
	return f.Executor.Write(ctx, target, key, payload)
}

// blockingExecutor blocks writes until release is closed, or the context is
// cancelled.
type blockingExecutor struct {
	storage.Executor
	release chan struct{}
}

func (b *blockingExecutor) Write(ctx context.Context, target storage.Target, key string, payload []byte) error {
	select {
	case <-b.release:
		return b.Executor.Write(ctx, target, key, payload)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeThroughConfig() Config {
	cfg := DefaultConfig()
	cfg.OperationTimeout = 5 * time.Second
	cfg.WriteThrough.MaxRetries = 0
	cfg.WriteThrough.RetryInitialInterval = time.Millisecond
	return cfg
}
