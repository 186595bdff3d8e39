package knowledge

import (
	"context"
	"strings"
	"sync"
)

// InMemoryObjectStore is a map-backed ObjectStore, used in tests and local
// runs without a Postgres instance.
type InMemoryObjectStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryObjectStore returns an empty InMemoryObjectStore.
func NewInMemoryObjectStore() *InMemoryObjectStore {
	return &InMemoryObjectStore{data: make(map[string][]byte)}
}

// Put stores value under key.
func (m *InMemoryObjectStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Get returns the value stored under key, or (nil, nil) when absent.
func (m *InMemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// List returns every key with the given prefix.
func (m *InMemoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var _ ObjectStore = (*InMemoryObjectStore)(nil)
