package storage

import "context"

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks -source=executor.go Executor

// Executor executes logical operations against a single storage target.
// Implementations own connections, pooling, and transactions; the control
// plane only dispatches by descriptor.
type Executor interface {
	// Write stores payload under key in the given target.
	Write(ctx context.Context, target Target, key string, payload []byte) error

	// Read returns the payload stored under key, or ErrKeyNotFound.
	Read(ctx context.Context, target Target, key string) ([]byte, error)

	// Delete removes key from the target. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, target Target, key string) error

	// Scan visits every key/payload pair in the target in batches of at
	// most batchSize, stopping early if fn returns an error or ctx is
	// cancelled.
	Scan(ctx context.Context, target Target, batchSize int, fn func(key string, payload []byte) error) error
}
