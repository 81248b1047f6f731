package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore implements both StateStore and BackupStore in-process.
// Used for local development without AWS credentials and for tests;
// values are JSON round-tripped so serialization behaves like the
// real tiers.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (m *MemoryStore) put(key string, item interface{}) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal '%s': %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = body
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) get(key string, out interface{}) (bool, error) {
	m.mu.RLock()
	body, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal '%s': %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// Put implements StateStore.
func (m *MemoryStore) Put(_ context.Context, table, key string, item interface{}) error {
	return m.put(table+"/"+key, item)
}

// Get implements StateStore.
func (m *MemoryStore) Get(_ context.Context, table, key string, out interface{}) (bool, error) {
	return m.get(table+"/"+key, out)
}

// Delete implements StateStore.
func (m *MemoryStore) Delete(_ context.Context, table, key string) error {
	m.delete(table + "/" + key)
	return nil
}

// PutObject implements BackupStore.
func (m *MemoryStore) PutObject(_ context.Context, key string, item interface{}) error {
	return m.put("backup/"+key, item)
}

// GetObject implements BackupStore.
func (m *MemoryStore) GetObject(_ context.Context, key string, out interface{}) (bool, error) {
	return m.get("backup/"+key, out)
}

// DeleteObject implements BackupStore.
func (m *MemoryStore) DeleteObject(_ context.Context, key string) error {
	m.delete("backup/" + key)
	return nil
}

// Len reports how many entries are stored. Handy in tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
