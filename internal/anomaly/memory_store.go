package anomaly

import (
	"context"
	"sync"
)

// MemoryModelStore is an in-memory ModelStore for demo/test use.
type MemoryModelStore struct {
	mu    sync.RWMutex
	state *ModelState
}

// Compile-time check.
var _ ModelStore = (*MemoryModelStore)(nil)

// NewMemoryModelStore creates an in-memory model store.
func NewMemoryModelStore() *MemoryModelStore {
	return &MemoryModelStore{}
}

func (s *MemoryModelStore) Save(_ context.Context, state *ModelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.state = &cp
	return nil
}

func (s *MemoryModelStore) Load(_ context.Context) (*ModelState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}
