// Package store defines the persistent keyed-store contract the engines write
// through. Keys are composite (namespace, ref) tuples so every entity gets its
// own slot; values are opaque bytes. Each call is atomic on its own; the
// engines layer their read-modify-write discipline on top.
package store

import (
	"context"
	"strconv"
	"sync"
)

// Key addresses one stored entity.
type Key struct {
	Namespace string
	Ref       string
}

// NumericKey builds a key for an entity addressed by a uint64 id.
func NumericKey(namespace string, id uint64) Key {
	return Key{Namespace: namespace, Ref: strconv.FormatUint(id, 10)}
}

// String renders the key in its canonical "namespace:ref" form, which the
// Redis and Postgres adapters use verbatim.
func (k Key) String() string {
	return k.Namespace + ":" + k.Ref
}

// Store is the minimal keyed-store capability. Adapters in internal/infra
// back it with Redis or Postgres; MemoryStore backs it for tests and
// single-process runs.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	Remove(ctx context.Context, key Key) error
	Has(ctx context.Context, key Key) (bool, error)
}

// MemoryStore is a process-local Store. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key.String()]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key.String()] = cp
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key.String())
	return nil
}

func (m *MemoryStore) Has(_ context.Context, key Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key.String()]
	return ok, nil
}

// Len reports the number of stored keys. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
