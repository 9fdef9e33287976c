package session

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store backend. It is the default for a
// standalone bridge and the test double for everything else.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	bc     broadcaster
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get returns the value for key and whether it was present.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set stores value under key and notifies subscribers.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	old, hadOld := s.values[key]
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	s.mu.Unlock()

	change := Change{Key: key, New: stored}
	if hadOld {
		change.Old = old
	}
	s.bc.publish(change)
	return nil
}

// Delete removes key and notifies subscribers if it was present.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	old, hadOld := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()

	if hadOld {
		s.bc.publish(Change{Key: key, Old: old})
	}
	return nil
}

// Subscribe registers a change callback.
func (s *MemoryStore) Subscribe(fn func(Change)) {
	s.bc.subscribe(fn)
}
