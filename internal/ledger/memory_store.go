package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryHistory is an in-memory implementation of History for demo/test use.
type MemoryHistory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	byAcct   map[string][]*Transaction
	all      []*Transaction
}

// Compile-time check.
var _ History = (*MemoryHistory)(nil)

// NewMemoryHistory creates an in-memory transaction history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		accounts: make(map[string]*Account),
		byAcct:   make(map[string][]*Transaction),
	}
}

func (h *MemoryHistory) GetAccount(_ context.Context, id string) (*Account, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	acct, ok := h.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (h *MemoryHistory) RecordAccount(_ context.Context, acct *Account) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *acct
	h.accounts[acct.ID] = &cp
	return nil
}

func (h *MemoryHistory) Record(_ context.Context, tx *Transaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *tx
	h.byAcct[tx.AccountID] = append(h.byAcct[tx.AccountID], &cp)
	h.all = append(h.all, &cp)
	return nil
}

func (h *MemoryHistory) RecentByAccount(_ context.Context, accountID string, since time.Time, limit int) ([]*Transaction, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return filterNewestFirst(h.byAcct[accountID], since, limit), nil
}

func (h *MemoryHistory) CompletedSince(_ context.Context, since time.Time, limit int) ([]*Transaction, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return filterNewestFirst(h.all, since, limit), nil
}

// filterNewestFirst copies completed transactions at or after since,
// sorted newest first and capped at limit.
func filterNewestFirst(txs []*Transaction, since time.Time, limit int) []*Transaction {
	out := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status != StatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(since) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
