package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cutover-sh/cutover/internal/storage"
	"github.com/cutover-sh/cutover/internal/storage/inmemory"
	"github.com/cutover-sh/cutover/internal/storage/mocks"
)

func TestWriteThrough_BroadcastWritesAllTargets(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	next := kvTarget("next")
	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 1, EnableParallelWrites: true}, store, newTestBreakers(t), testLogger())

	op := WriteOperation("user:1", []byte("alice"), legacy, next)
	result, err := s.ApplyWrite(context.Background(), op, WriteModeBroadcast)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.OperationsCompleted)
	assert.Len(t, result.StorageResults, 2)

	for _, target := range []storage.Target{legacy, next} {
		payload, err := store.Read(context.Background(), target, "user:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("alice"), payload)
	}
}

func TestWriteThrough_QuorumMetDespiteFailure(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	next := kvTarget("next")
	store.FailTarget(next, errors.New("kv unavailable"))

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 1}, store, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), WriteOperation("user:1", []byte("alice"), legacy, next), WriteModeQuorum)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.OperationsCompleted)
	assert.True(t, result.StorageResults[legacy.ID()].Success)
	assert.False(t, result.StorageResults[next.ID()].Success)
	assert.Contains(t, result.StorageResults[next.ID()].Error, "kv unavailable")
}

func TestWriteThrough_QuorumNotMet(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	next := kvTarget("next")
	store.FailTarget(legacy, errors.New("down"))
	store.FailTarget(next, errors.New("down"))

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 2, MaxRetries: 1, RetryInitialInterval: time.Millisecond}, store, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), WriteOperation("user:1", []byte("alice"), legacy, next), WriteModeQuorum)

	require.ErrorIs(t, err, ErrQuorumNotMet)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.OperationsCompleted)
}

func TestWriteThrough_RetriesOnlyFailedTargets(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	flaky := &flakyExecutor{Executor: store, failWrites: 1, writeErr: errors.New("transient")}

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 1, MaxRetries: 2, RetryInitialInterval: time.Millisecond}, flaky, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), WriteOperation("user:1", []byte("alice"), legacy), WriteModeBroadcast)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, flaky.calls)

	metrics := s.Metrics()
	assert.Equal(t, uint64(1), metrics.OperationsHandled)
	assert.Equal(t, uint64(1), metrics.Retries)
}

func TestWriteThrough_PrimaryModeSucceedsWithFailedSecondary(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	next := kvTarget("next")
	store.FailTarget(next, errors.New("down"))

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 2}, store, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), WriteOperation("user:1", []byte("alice"), legacy, next), WriteModePrimary)

	require.NoError(t, err)
	assert.True(t, result.Success)
	// The secondary was still attempted.
	assert.Len(t, result.StorageResults, 2)
}

func TestWriteThrough_SequentialWritesFollowTargetOrder(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	legacy := kvTarget("legacy")
	next := kvTarget("next")

	gomock.InOrder(
		exec.EXPECT().Write(gomock.Any(), legacy, "user:1", []byte("alice")).Return(nil),
		exec.EXPECT().Write(gomock.Any(), next, "user:1", []byte("alice")).Return(nil),
	)

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 1}, exec, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), WriteOperation("user:1", []byte("alice"), legacy, next), WriteModeBroadcast)

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestWriteThrough_DeleteRemovesKey(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	legacy := kvTarget("legacy")
	require.NoError(t, store.Write(context.Background(), legacy, "user:1", []byte("alice")))

	s := newWriteThrough(WriteThroughConfig{RequiredWrites: 1}, store, newTestBreakers(t), testLogger())

	result, err := s.ApplyWrite(context.Background(), DeleteOperation("user:1", legacy), WriteModeBroadcast)

	require.NoError(t, err)
	assert.True(t, result.Success)
	_, err = store.Read(context.Background(), legacy, "user:1")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}
