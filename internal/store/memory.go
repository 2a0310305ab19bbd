package store

import (
	"context"
	"sync"

	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// MemoryStore keeps ledger state in memory. Data is lost on restart -
// it backs sessions that have no durable storage configured, and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	state *ledger.State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements ledger.Store. It returns a copy so callers cannot
// mutate the stored state.
func (m *MemoryStore) Load(ctx context.Context) (*ledger.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, nil
	}
	return normalize(m.state.Clone()), nil
}

// Save implements ledger.Store.
func (m *MemoryStore) Save(ctx context.Context, state *ledger.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = state.Clone()
	return nil
}

var _ ledger.Store = (*MemoryStore)(nil)
