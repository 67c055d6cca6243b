package delegation

import (
	"context"
	"strings"
	"sync"
)

// Store persists one delegation per owner address. Keys are normalized
// case-insensitively.
type Store interface {
	Put(ctx context.Context, owner string, d *Delegation) error
	Get(ctx context.Context, owner string) (*Delegation, error)
	Exists(ctx context.Context, owner string) (bool, error)
	Delete(ctx context.Context, owner string) error
}

// MemoryStore is an in-memory delegation store for demo/development mode.
type MemoryStore struct {
	delegations map[string]*Delegation
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory delegation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		delegations: make(map[string]*Delegation),
	}
}

func (m *MemoryStore) Put(_ context.Context, owner string, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Caveats = append([]Caveat(nil), d.Caveats...)
	m.delegations[strings.ToLower(owner)] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, owner string) (*Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[strings.ToLower(owner)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	cp.Caveats = append([]Caveat(nil), d.Caveats...)
	return &cp, nil
}

func (m *MemoryStore) Exists(_ context.Context, owner string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.delegations[strings.ToLower(owner)]
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delegations, strings.ToLower(owner))
	return nil
}

var _ Store = (*MemoryStore)(nil)
