package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.Timeout = 30 * time.Second
	return cfg
}

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b, err := New("test", cfg)
	require.NoError(t, err)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.FailureThreshold = 0
	_, err := New("bad", cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.SuccessThreshold = 0
	_, err = New("bad", cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Timeout = 0
	_, err = New("bad", cfg)
	assert.Error(t, err)
}

func TestBreaker_OpensAtExactlyFailureThreshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b, _ := newTestBreaker(t, cfg)

	for i := uint32(1); i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State(), "failure %d should leave the circuit closed", i)
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessForgivesFailuresWhileClosed(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, uint32(0), b.FailureCount())

	// The counter restarts; two more failures must not open the circuit.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenAdmitsProbeAfterTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b, now := newTestBreaker(t, cfg)

	for i := uint32(0); i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	assert.False(t, b.CanExecute())

	*now = now.Add(cfg.Timeout - time.Second)
	assert.False(t, b.CanExecute())

	*now = now.Add(time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State(), "admitting the probe must flip the state")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, testConfig())
	b.ForceState(StateHalfOpen)

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenClosesAtSuccessThreshold(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b, _ := newTestBreaker(t, cfg)
	b.ForceState(StateHalfOpen)

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.FailureCount())
	assert.Equal(t, uint32(0), b.SuccessCount())
}

func TestBreaker_ForceStateResetsCounters(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, testConfig())
	b.RecordFailure()
	b.RecordFailure()

	b.ForceState(StateClosed)
	assert.Equal(t, uint32(0), b.FailureCount())
	assert.Equal(t, uint32(0), b.SuccessCount())
}

func TestBreaker_DegradedModeLifecycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EnableDegradedMode = true
	cfg.DegradedModeTimeout = time.Minute
	b, now := newTestBreaker(t, cfg)

	for i := uint32(0); i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.DegradedModeActive(), "opening the circuit enters degraded mode")

	// Degraded mode auto-expires even without a successful recovery.
	*now = now.Add(cfg.DegradedModeTimeout + time.Second)
	assert.False(t, b.DegradedModeActive())
}

func TestBreaker_ClosingExitsDegradedMode(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SuccessThreshold = 1
	b, _ := newTestBreaker(t, cfg)

	for i := uint32(0); i < cfg.FailureThreshold; i++ {
		b.RecordFailure()
	}
	require.True(t, b.DegradedModeActive())

	b.ForceState(StateHalfOpen)
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.DegradedModeActive())
}

func TestBreaker_DisabledAlwaysExecutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	b, err := New("disabled", cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.CanExecute())
}

func TestBreaker_SuccessRate(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, testConfig())
	assert.Equal(t, 1.0, b.SuccessRate(), "no traffic means a perfect score")

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.InDelta(t, 0.5, b.SuccessRate(), 1e-9)
}

func TestBreaker_StateInfoSnapshot(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(t, testConfig())
	b.RecordFailure()

	info := b.StateInfo()
	assert.Equal(t, "test", info.ID)
	assert.Equal(t, "closed", info.State)
	assert.Equal(t, uint32(1), info.FailureCount)
	assert.Equal(t, uint64(1), info.TotalRequests)
}

// Full recovery cycle: two failures open the circuit, a forced half-open
// probe plus two successes close it with clean counters.
func TestBreaker_RecoveryScenario(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.SuccessThreshold = 2
	b, _ := newTestBreaker(t, cfg)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.ForceState(StateHalfOpen)
	b.RecordSuccess()
	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.FailureCount())
	assert.Equal(t, uint32(0), b.SuccessCount())
}
