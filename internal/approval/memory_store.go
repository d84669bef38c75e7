package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demo/test use. The single mutex
// gives Transition the same compare-and-swap guarantee as the postgres
// store: concurrent resolvers race to exactly one winner.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory approval request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.Status == StatusPending {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status, resolvedBy string, resolvedAt time.Time, notes string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || req.Status != StatusPending {
		return false, nil
	}
	req.Status = to
	req.ResolvedBy = resolvedBy
	req.ResolvedAt = &resolvedAt
	req.Notes = notes
	return true, nil
}

func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Request
	for _, req := range s.requests {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			at := now
			req.ResolvedAt = &at
			out = append(out, copyRequest(req))
		}
	}
	return out, nil
}

func copyRequest(req *Request) *Request {
	cp := *req
	if req.Transaction != nil {
		tx := *req.Transaction
		cp.Transaction = &tx
	}
	cp.Reasons = append([]string(nil), req.Reasons...)
	cp.EligibleRoles = append([]string(nil), req.EligibleRoles...)
	if req.ResolvedAt != nil {
		at := *req.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}
