// Package dedup claims idempotency keys so that re-delivered events map to the
// execution that was started for them the first time.
package dedup

import (
	"context"
	"sync"
)

// Store binds an idempotency key to the first execution id that claims it.
type Store interface {
	// Claim atomically binds key to executionID. If the key is already bound
	// it returns the bound id and claimed is false.
	Claim(ctx context.Context, key, executionID string) (boundID string, claimed bool, err error)

	// Lookup returns the execution id bound to key, if any.
	Lookup(ctx context.Context, key string) (boundID string, found bool, err error)

	// Release drops a claim whose execution record could not be created.
	Release(ctx context.Context, key, executionID string) error

	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]string)}
}

func (s *MemoryStore) Claim(_ context.Context, key, executionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bound, ok := s.claims[key]; ok {
		return bound, false, nil
	}

	s.claims[key] = executionID

	return executionID, true, nil
}

func (s *MemoryStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bound, ok := s.claims[key]

	return bound, ok, nil
}

func (s *MemoryStore) Release(_ context.Context, key, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims[key] == executionID {
		delete(s.claims, key)
	}

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
