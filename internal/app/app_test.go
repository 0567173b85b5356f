package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutover-sh/cutover/internal/config"
	"github.com/cutover-sh/cutover/internal/migration"
	"github.com/cutover-sh/cutover/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()

	a, err := New(
		WithConfig(&config.Config{}),
		WithAddress("127.0.0.1:0"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return a
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New()
	require.Error(t, err)
}

func TestApp_NotReadyBeforeRun(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	require.Error(t, a.Ready(context.Background()))

	health := a.Health()
	assert.False(t, health["sync-coordinator"].IsHealthy)
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a := testApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return a.Ready(context.Background()) == nil
	}, time.Second, 10*time.Millisecond)

	target := storage.Target{Kind: storage.KindKeyValue, Name: "legacy", Namespace: "test"}
	result, err := a.Coordinator().Write(ctx, "user:1", []byte("alice"), target)
	require.NoError(t, err)
	assert.True(t, result.Success)

	decision, err := a.Migration().RouteReadRequest(ctx, "req-1", "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, migration.PhaseLegacyOnly, decision.Phase)

	cancel()
	require.NoError(t, <-done)
	require.Error(t, a.Ready(context.Background()))
}

func TestApp_ControlPlaneSurfaces(t *testing.T) {
	t.Parallel()

	a := testApp(t)

	assert.Zero(t, a.SyncStats().TotalOperations)
	assert.Empty(t, a.ActiveOperations())
	assert.Contains(t, a.BreakerStates(), "legacy-backend")
	assert.Equal(t, migration.PhaseLegacyOnly, a.MigrationStatus().Phase)
}
