// Package kv provides the persistent key-value layer used for short-term
// memory entries and consolidation task records. Keys are namespaced by
// record kind (e.g. "stm:", "task:").
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// ErrConflict is returned by Update when the key was modified concurrently.
// Callers are expected to retry with backoff or accept the loss.
var ErrConflict = errors.New("kv: concurrent modification")

// UpdateFunc computes the next value for a key. current is nil when the key
// does not exist yet.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a key-value store with a check-then-set primitive.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns all key/value pairs whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Update performs one optimistic read-modify-write attempt. The write
	// succeeds only if the key was not modified between the read and the
	// write; otherwise ErrConflict is returned and nothing is written.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
