package kv

import (
	"context"
	"strings"
	"sync"
)

type memEntry struct {
	value   []byte
	version uint64
}

// MemStore is a process-local Store. It keeps a version counter per key so
// Update exhibits the same conflict semantics as the Redis implementation,
// which makes it suitable both for tests and for running without Redis.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]memEntry
}

// NewMemStore creates an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]memEntry)}
}

// Get returns a copy of the value for key, or ErrNotFound.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set writes the value for key unconditionally.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.data[key]
	s.data[key] = memEntry{value: append([]byte(nil), value...), version: e.version + 1}
	return nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns copies of all pairs whose key starts with prefix.
func (s *MemStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for k, e := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = append([]byte(nil), e.value...)
		}
	}
	return out, nil
}

// Update reads the value and its version, computes the next value outside
// the lock, then writes only if the version is unchanged. This mirrors the
// WATCH-based transaction of the Redis store so concurrent writers observe
// real conflicts.
func (s *MemStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.RLock()
	e, ok := s.data[key]
	var current []byte
	if ok {
		current = append([]byte(nil), e.value...)
	}
	version := e.version
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	latest, exists := s.data[key]
	if (ok != exists) || (exists && latest.version != version) {
		return ErrConflict
	}
	s.data[key] = memEntry{value: append([]byte(nil), next...), version: version + 1}
	return nil
}
