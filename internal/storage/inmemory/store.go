// Package inmemory provides an in-process storage executor used by tests and
// the development server. It honors the Executor contract, including
// per-target isolation, but performs no real I/O.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/cutover-sh/cutover/internal/storage"
)

// Store is an in-memory storage.Executor. Data is isolated per target id.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte

	// failures maps target id to an error returned by every call against
	// that target, for failure-path testing.
	failures map[string]error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		data:     make(map[string]map[string][]byte),
		failures: make(map[string]error),
	}
}

// FailTarget makes every operation against the target return err. Passing a
// nil err clears the injection.
func (s *Store) FailTarget(target storage.Target, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, target.ID())
		return
	}
	s.failures[target.ID()] = err
}

// Write stores payload under key.
func (s *Store) Write(ctx context.Context, target storage.Target, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[target.ID()]; err != nil {
		return err
	}

	bucket, ok := s.data[target.ID()]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[target.ID()] = bucket
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	bucket[key] = cp
	return nil
}

// Read returns the payload stored under key.
func (s *Store) Read(ctx context.Context, target storage.Target, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[target.ID()]; err != nil {
		return nil, err
	}

	payload, ok := s.data[target.ID()][key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp, nil
}

// Delete removes key from the target.
func (s *Store) Delete(ctx context.Context, target storage.Target, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[target.ID()]; err != nil {
		return err
	}

	delete(s.data[target.ID()], key)
	return nil
}

// Scan visits every key in the target in deterministic (sorted) order.
func (s *Store) Scan(ctx context.Context, target storage.Target, batchSize int, fn func(key string, payload []byte) error) error {
	s.mu.RLock()
	if err := s.failures[target.ID()]; err != nil {
		s.mu.RUnlock()
		return err
	}
	bucket := s.data[target.ID()]
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	payloads := make(map[string][]byte, len(bucket))
	for k, v := range bucket {
		cp := make([]byte, len(v))
		copy(cp, v)
		payloads[k] = cp
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for i, k := range keys {
		if batchSize > 0 && i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(k, payloads[k]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of keys stored for the target.
func (s *Store) Len(target storage.Target) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[target.ID()])
}
