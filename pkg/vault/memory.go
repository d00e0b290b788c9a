package vault

import (
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. It is used by tests and by the
// memory backend; nothing survives process exit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	failFn  func(op, key string) error
	writes  []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// FailWith installs a hook consulted before every operation. A non-nil return
// aborts the operation with that error wrapped in a StoreError.
func (m *MemoryStore) FailWith(fn func(op, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

func (m *MemoryStore) fail(op, key string) error {
	if m.failFn == nil {
		return nil
	}
	return storeErr("memory", op, key, m.failFn(op, key))
}

// Write implements Store.
func (m *MemoryStore) Write(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("write", key); err != nil {
		return err
	}
	m.entries[key] = append([]byte(nil), value...)
	m.writes = append(m.writes, key)
	return nil
}

// Read implements Store.
func (m *MemoryStore) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("read", key); err != nil {
		return nil, err
	}
	value, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete", key); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

// Keys returns the stored record names in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteLog returns the record names in the order they were written.
func (m *MemoryStore) WriteLog() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.writes...)
}
