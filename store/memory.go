package store

import (
	"maps"
	"slices"
	"sync"
)

// Memory is a map-backed store, safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	tiles map[int64][]byte
}

func NewMemory() *Memory {
	return &Memory{tiles: make(map[int64][]byte)}
}

func (m *Memory) Get(key int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tiles == nil {
		return nil, ErrClosed
	}
	if data, ok := m.tiles[key]; ok {
		return data, nil
	}
	return make([]byte, 0), nil
}

func (m *Memory) Put(key int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tiles == nil {
		return ErrClosed
	}
	m.tiles[key] = slices.Clone(data)
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles)
}

// Visit calls visitor for every entry in ascending key order.
func (m *Memory) Visit(visitor func(key int64, data []byte) error) error {
	m.mu.RLock()
	keys := slices.Sorted(maps.Keys(m.tiles))
	m.mu.RUnlock()

	for _, key := range keys {
		data, err := m.Get(key)
		if err != nil {
			return err
		}
		if err := visitor(key, data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Finalize() error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles = nil
	return nil
}
