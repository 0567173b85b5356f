package migration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistentHashRouter_StablePerUser(t *testing.T) {
	t.Parallel()

	r := newConsistentHashRouter()
	for i := 0; i < 20; i++ {
		userID := fmt.Sprintf("user-%d", i)
		first, reason := r.route(userID, 0.5)
		assert.Equal(t, ReasonConsistentHashing, reason)
		for j := 0; j < 5; j++ {
			again, _ := r.route(userID, 0.5)
			assert.Equal(t, first, again, "user %s flapped", userID)
		}
	}
}

func TestConsistentHashRouter_Boundaries(t *testing.T) {
	t.Parallel()

	r := newConsistentHashRouter()
	for i := 0; i < 50; i++ {
		userID := fmt.Sprintf("user-%d", i)
		atZero, _ := r.route(userID, 0)
		assert.False(t, atZero)
		atFull, _ := r.route(userID, 1)
		assert.True(t, atFull)
	}
}

func TestConsistentHashRouter_AnonymousFallsBackToRandom(t *testing.T) {
	t.Parallel()

	r := newConsistentHashRouter()
	r.fallback.rand = func() float64 { return 0.2 }

	useNew, reason := r.route("", 0.5)
	assert.True(t, useNew)
	assert.Equal(t, ReasonRandomAssignment, reason)

	useNew, reason = r.route("", 0.1)
	assert.False(t, useNew)
	assert.Equal(t, ReasonRandomAssignment, reason)
}

func TestRandomRouter_HonoursPercentage(t *testing.T) {
	t.Parallel()

	r := &randomRouter{rand: func() float64 { return 0.3 }}

	useNew, reason := r.route("user-1", 0.5)
	assert.True(t, useNew)
	assert.Equal(t, ReasonRandomAssignment, reason)

	useNew, _ = r.route("user-1", 0.1)
	assert.False(t, useNew)
}

func TestPerformanceRouter_FallsBackWithoutData(t *testing.T) {
	t.Parallel()

	r := newPerformanceRouter(func() (float64, float64, bool) { return 0, 0, false })
	r.fallback.rand = func() float64 { return 0.0 }

	useNew, reason := r.route("user-1", 0.5)
	assert.True(t, useNew)
	assert.Equal(t, ReasonPerformanceFallback, reason)
}

func TestPerformanceRouter_KeepsLegacyWhenNewUnderperforms(t *testing.T) {
	t.Parallel()

	r := newPerformanceRouter(func() (float64, float64, bool) { return 0.99, 0.80, true })
	r.fallback.rand = func() float64 { return 0.0 }

	useNew, reason := r.route("user-1", 0.9)
	assert.False(t, useNew)
	assert.Equal(t, ReasonPerformanceBased, reason)
}

func TestPerformanceRouter_AdmitsNewWhenHealthy(t *testing.T) {
	t.Parallel()

	r := newPerformanceRouter(func() (float64, float64, bool) { return 0.95, 0.99, true })
	r.fallback.rand = func() float64 { return 0.0 }

	useNew, reason := r.route("user-1", 0.5)
	assert.True(t, useNew)
	assert.Equal(t, ReasonPerformanceBased, reason)
}

func TestRouterFor_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := routerFor(RoutingStrategy("psychic"), nil)
	require.Error(t, err)
}
