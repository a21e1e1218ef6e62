package pointer

import (
	"sync"

	"ckpt-go/internal/ckpt"
)

// MemoryStore is an in-memory PointerStore, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	name string
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read() (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name, m.name != "", nil
}

func (m *MemoryStore) Commit(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return nil
}

var _ ckpt.PointerStore = (*MemoryStore)(nil)
