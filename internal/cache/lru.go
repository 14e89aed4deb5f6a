package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryStore is an in-process LRU of embeddings keyed by fingerprint. A capacity of zero
// or less means unbounded.
type MemoryStore struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type lruEntry struct {
	key   string
	value []float32
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the embedding for key and marks it recently used.
func (m *MemoryStore) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true, nil
}

// Put stores value for key. An existing entry is kept as is; entries are immutable.
func (m *MemoryStore) Put(_ context.Context, key string, value []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.order.MoveToFront(elem)
		return nil
	}
	m.items[key] = m.order.PushFront(&lruEntry{key: key, value: value})

	if m.capacity > 0 && m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*lruEntry).key)
	}
	return nil
}

// Delete removes key if present.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.order.Remove(elem)
		delete(m.items, key)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
