// Package approval implements the tiered approval workflow that gates
// high-risk financial operations behind human authorization.
//
// A request is created PENDING and moves exactly once to APPROVED, REJECTED,
// or EXPIRED; terminal states are immutable. The requester can never act on
// their own request (maker-checker), and only roles at or above the
// request's approval level may resolve it.
package approval

import (
	"context"
	"time"

	"github.com/tmorval/riskgate/internal/ledger"
)

// Level is the minimum approver authority a request requires.
type Level string

const (
	LevelNone               Level = "none"
	LevelManager            Level = "manager"
	LevelOperationsManager  Level = "operations_manager"
	LevelSeniorManager      Level = "senior_manager"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s != StatusPending }

// eligibleRoles maps an approval level to the exact role set allowed to
// resolve requests at that level.
var eligibleRoles = map[Level][]string{
	LevelManager:           {"manager", "operations_manager", "senior_manager"},
	LevelOperationsManager: {"operations_manager", "senior_manager"},
	LevelSeniorManager:     {"senior_manager"},
}

// EligibleRoles returns the roles allowed to resolve a request at the given
// level. The returned slice is a copy.
func EligibleRoles(level Level) []string {
	roles := eligibleRoles[level]
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}

// RoleCanResolve reports whether role is in the eligible set for level.
func RoleCanResolve(role string, level Level) bool {
	for _, r := range eligibleRoles[level] {
		if r == role {
			return true
		}
	}
	return false
}

// Rank orders levels by authority, lowest first.
func (l Level) Rank() int {
	switch l {
	case LevelManager:
		return 1
	case LevelOperationsManager:
		return 2
	case LevelSeniorManager:
		return 3
	default:
		return 0
	}
}

// Request is a single approval request. The transaction is snapshotted at
// creation time and never refreshed. Requests are retained indefinitely as
// an audit trail.
type Request struct {
	ID            string              `json:"id"`
	Transaction   *ledger.Transaction `json:"transaction"`
	RequesterID   string              `json:"requesterId"`
	Level         Level               `json:"level"`
	Status        Status              `json:"status"`
	Reasons       []string            `json:"reasons"`
	EligibleRoles []string            `json:"eligibleRoles"`
	CreatedAt     time.Time           `json:"createdAt"`
	ExpiresAt     time.Time           `json:"expiresAt"`
	ResolvedBy    string              `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time          `json:"resolvedAt,omitempty"`
	Notes         string              `json:"notes,omitempty"`
}

// Store persists approval requests. Implementations must guarantee
// at-most-one terminal transition per request: Transition and ExpireDue
// apply compare-and-swap semantics on the pending status.
type Store interface {
	Create(ctx context.Context, req *Request) error

	// Get returns the request, or nil if unknown.
	Get(ctx context.Context, id string) (*Request, error)

	// ListPending returns all pending requests, newest first.
	ListPending(ctx context.Context) ([]*Request, error)

	// Transition moves a request out of PENDING. It returns false (and no
	// error) when the request was not pending, so concurrent resolvers race
	// to exactly one winner.
	Transition(ctx context.Context, id string, to Status, resolvedBy string, resolvedAt time.Time, notes string) (bool, error)

	// ExpireDue transitions every pending request whose expiry has passed to
	// EXPIRED and returns the transitioned requests. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) ([]*Request, error)
}
