package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresHistory is a PostgreSQL-backed implementation of History.
type PostgresHistory struct {
	db *sql.DB
}

// Compile-time check.
var _ History = (*PostgresHistory)(nil)

// NewPostgresHistory creates a PostgreSQL-backed transaction history.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// Migrate creates the history tables if they don't exist.
func (h *PostgresHistory) Migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id         VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS account_transactions (
			id         VARCHAR(64) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			amount     NUMERIC(20,6) NOT NULL,
			type       VARCHAR(32) NOT NULL,
			status     VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_account_transactions_account
			ON account_transactions (account_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_account_transactions_completed
			ON account_transactions (created_at DESC) WHERE status = 'completed';
	`)
	return err
}

func (h *PostgresHistory) GetAccount(ctx context.Context, id string) (*Account, error) {
	var acct Account
	err := h.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM accounts WHERE id = $1
	`, id).Scan(&acct.ID, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func (h *PostgresHistory) RecordAccount(ctx context.Context, acct *Account) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, acct.ID, acct.CreatedAt)
	if err != nil {
		return fmt.Errorf("record account: %w", err)
	}
	return nil
}

func (h *PostgresHistory) Record(ctx context.Context, tx *Transaction) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO account_transactions (id, account_id, amount, type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.AccountID, tx.Amount.String(), tx.Type, tx.Status, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func (h *PostgresHistory) RecentByAccount(ctx context.Context, accountID string, since time.Time, limit int) ([]*Transaction, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, account_id, amount, type, status, created_at
		FROM account_transactions
		WHERE account_id = $1 AND status = 'completed' AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, accountID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	return scanTransactions(rows)
}

func (h *PostgresHistory) CompletedSince(ctx context.Context, since time.Time, limit int) ([]*Transaction, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, account_id, amount, type, status, created_at
		FROM account_transactions
		WHERE status = 'completed' AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed transactions: %w", err)
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		tx := &Transaction{}
		var amountStr string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &amountStr, &tx.Type, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amountStr, err)
		}
		tx.Amount = amount
		out = append(out, tx)
	}
	return out, rows.Err()
}
