package flagstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]Flag),
	}
}

// Seed registers a flag with an initial enabled state, creating it if
// needed. Meant for tests and local development.
func (m *MemoryStore) Seed(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = Flag{Name: name, Enabled: enabled, UpdatedAt: time.Now().UTC()}
}

// IsEnabled reports whether the named flag is on.
func (m *MemoryStore) IsEnabled(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false, ErrNotFound
	}
	return flag.Enabled, nil
}

// SetFlag toggles the named flag.
func (m *MemoryStore) SetFlag(ctx context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if !exists {
		return ErrNotFound
	}
	flag.Enabled = enabled
	flag.UpdatedAt = time.Now().UTC()
	m.flags[name] = flag
	return nil
}

// ListFlags returns every flag in the store.
func (m *MemoryStore) ListFlags(ctx context.Context) ([]Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Flag, 0, len(m.flags))
	for _, flag := range m.flags {
		result = append(result, flag)
	}
	return result, nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}
