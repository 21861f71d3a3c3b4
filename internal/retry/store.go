// Package retry keeps messages that could not be delivered so they can be
// replayed later.
package retry

import (
	"context"
	"maps"
	"sync"
)

// Store persists queue entries as encoded values keyed by message id.
type Store interface {
	Put(ctx context.Context, queue string, id int64, value []byte) error
	Delete(ctx context.Context, queue string, id int64) error
	List(ctx context.Context, queue string) (map[int64][]byte, error)
	Len(ctx context.Context, queue string) (int, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	queues map[string]map[int64][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[string]map[int64][]byte),
	}
}

func (m *MemoryStore) Put(_ context.Context, queue string, id int64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queue]
	if !ok {
		q = make(map[int64][]byte)
		m.queues[queue] = q
	}

	q[id] = value

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, queue string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.queues[queue], id)

	return nil
}

func (m *MemoryStore) List(_ context.Context, queue string) (map[int64][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.queues[queue]), nil
}

func (m *MemoryStore) Len(_ context.Context, queue string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.queues[queue]), nil
}
