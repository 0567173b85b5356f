package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call.
// The wrapped operation is never invoked in that case.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyBreakers is returned when creating a breaker would exceed the
// manager's configured bound.
var ErrTooManyBreakers = errors.New("maximum number of circuit breakers reached")

// Manager lazily creates and caches breakers per resource identifier,
// applying type-specific configuration profiles.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager after validating the base configuration.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default().With("component", "breaker-manager"),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetOrCreate returns the breaker for id, creating it with the profile for
// the given resource type on first use. Creation is idempotent per id; the
// resource type of the first caller wins.
func (m *Manager) GetOrCreate(id string, rt ResourceType) (*Breaker, error) {
	m.mu.RLock()
	b, ok := m.breakers[id]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; another goroutine may have won.
	if b, ok := m.breakers[id]; ok {
		return b, nil
	}
	if len(m.breakers) >= m.cfg.MaxBreakers {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManyBreakers, m.cfg.MaxBreakers)
	}

	b, err := New(id, profileFor(rt, m.cfg))
	if err != nil {
		return nil, err
	}
	m.breakers[id] = b
	m.logger.Debug("Created circuit breaker", "id", id, "resource_type", string(rt))
	return b, nil
}

// Get returns the breaker for id if it exists.
func (m *Manager) Get(id string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[id]
	return b, ok
}

// Execute runs op guarded by the breaker for id. A rejected admission check
// returns ErrCircuitOpen without invoking op; otherwise the op's outcome is
// recorded against the breaker and its error returned unchanged.
func (m *Manager) Execute(ctx context.Context, id string, rt ResourceType, op func(context.Context) error) error {
	b, err := m.GetOrCreate(id, rt)
	if err != nil {
		return err
	}

	if !b.CanExecute() {
		return fmt.Errorf("%w for %q", ErrCircuitOpen, id)
	}

	if err := op(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// States returns a snapshot of every managed breaker, keyed by id.
func (m *Manager) States() map[string]StateInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]StateInfo, len(m.breakers))
	for id, b := range m.breakers {
		states[id] = b.StateInfo()
	}
	return states
}
