package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists approval requests in PostgreSQL. Terminal
// transitions use a status-guarded UPDATE so at most one of any set of
// racing resolvers wins, across all processes sharing the database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed approval request store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the approval_requests table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approval_requests (
			id             VARCHAR(64) PRIMARY KEY,
			tx_snapshot    JSONB NOT NULL,
			requester_id   VARCHAR(64) NOT NULL,
			level          VARCHAR(32) NOT NULL,
			status         VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'expired')),
			reasons        TEXT[] NOT NULL DEFAULT '{}',
			eligible_roles TEXT[] NOT NULL DEFAULT '{}',
			created_at     TIMESTAMPTZ NOT NULL,
			expires_at     TIMESTAMPTZ NOT NULL,
			resolved_by    VARCHAR(64),
			resolved_at    TIMESTAMPTZ,
			notes          TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_approval_requests_pending
			ON approval_requests (created_at DESC) WHERE status = 'pending';
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	txJSON, err := json.Marshal(req.Transaction)
	if err != nil {
		return fmt.Errorf("marshal transaction snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, tx_snapshot, requester_id, level, status, reasons, eligible_roles, created_at, expires_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		req.ID, txJSON, req.RequesterID, string(req.Level), string(req.Status),
		pq.Array(req.Reasons), pq.Array(req.EligibleRoles),
		req.CreatedAt, req.ExpiresAt, req.Notes,
	)
	if err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

const requestColumns = `
	id, tx_snapshot, requester_id, level, status, reasons, eligible_roles,
	created_at, expires_at, resolved_by, resolved_at, notes`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+requestColumns+`
		FROM approval_requests
		WHERE id = $1
	`, id)

	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+requestColumns+`
		FROM approval_requests
		WHERE status = 'pending'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending approval requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, resolvedBy string, resolvedAt time.Time, notes string) (bool, error) {
	// Compare-and-swap on status: only a pending row transitions.
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $2, resolved_by = $3, resolved_at = $4, notes = $5
		WHERE id = $1 AND status = 'pending'
	`, id, string(to), resolvedBy, resolvedAt, notes)
	if err != nil {
		return false, fmt.Errorf("transition approval request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE approval_requests
		SET status = 'expired', resolved_at = $1
		WHERE status = 'pending' AND expires_at < $1
		RETURNING`+requestColumns+`
	`, now)
	if err != nil {
		return nil, fmt.Errorf("expire approval requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	req := &Request{}
	var (
		txJSON     []byte
		level      string
		status     string
		reasons    pq.StringArray
		roles      pq.StringArray
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &txJSON, &req.RequesterID, &level, &status, &reasons, &roles,
		&req.CreatedAt, &req.ExpiresAt, &resolvedBy, &resolvedAt, &req.Notes,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(txJSON, &req.Transaction); err != nil {
		return nil, fmt.Errorf("unmarshal transaction snapshot: %w", err)
	}
	req.Level = Level(level)
	req.Status = Status(status)
	req.Reasons = []string(reasons)
	req.EligibleRoles = []string(roles)
	if resolvedBy.Valid {
		req.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		req.ResolvedAt = &at
	}
	return req, nil
}
