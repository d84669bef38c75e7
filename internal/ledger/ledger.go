// Package ledger holds the transaction and account records consumed by the
// risk engine, plus the time-windowed history queries it needs. The ledger
// itself (balances, postings, settlement) lives in a separate system; this
// package only models the read surface the risk and approval engines depend
// on, with postgres and in-memory implementations.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types with special approval handling.
const (
	TypeDeposit               = "deposit"
	TypeWithdrawal            = "withdrawal"
	TypeTransfer              = "transfer"
	TypeInternationalTransfer = "international_transfer"
	TypeLargeWithdrawal       = "large_withdrawal"
)

// Transaction statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transaction is a single money movement on an account.
type Transaction struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Account is the slice of account state the risk engine cares about.
type Account struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// History provides ordered, time-windowed access to transaction records.
type History interface {
	// GetAccount returns the account, or nil if unknown.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// RecentByAccount returns the account's completed transactions created at
	// or after since, newest first, capped at limit.
	RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]*Transaction, error)

	// CompletedSince returns completed transactions across all accounts
	// created at or after since, newest first, capped at limit. Used as the
	// training sample source.
	CompletedSince(ctx context.Context, since time.Time, limit int) ([]*Transaction, error)

	// Record persists a transaction observation.
	Record(ctx context.Context, tx *Transaction) error

	// RecordAccount persists an account record.
	RecordAccount(ctx context.Context, acct *Account) error
}
