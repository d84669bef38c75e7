//go:build integration

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/tmorval/riskgate/internal/testutil"
)

func TestPostgresApproval_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	req := storeReq("apr_pg1", now)
	req.Reasons = []string{"high value threshold"}
	if err := store.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "apr_pg1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing request")
	}
	if got.Status != StatusPending || got.Level != LevelManager {
		t.Errorf("got = %+v", got)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != "high value threshold" {
		t.Errorf("Reasons = %v", got.Reasons)
	}
	if got.Transaction == nil || got.Transaction.ID != "txn_apr_pg1" {
		t.Errorf("Transaction snapshot = %+v", got.Transaction)
	}
	if !got.ExpiresAt.Equal(req.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, req.ExpiresAt)
	}

	missing, err := store.Get(ctx, "apr_missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("Get missing = %v, want nil", missing)
	}
}

func TestPostgresApproval_TransitionCAS(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Create(ctx, storeReq("apr_pg2", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := store.Transition(ctx, "apr_pg2", StatusApproved, "checker_1", now, "fine")
	if err != nil || !ok {
		t.Fatalf("first Transition = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = store.Transition(ctx, "apr_pg2", StatusRejected, "checker_2", now, "no")
	if err != nil {
		t.Fatalf("second Transition: %v", err)
	}
	if ok {
		t.Error("transition out of a terminal state must fail")
	}

	got, _ := store.Get(ctx, "apr_pg2")
	if got.Status != StatusApproved || got.ResolvedBy != "checker_1" {
		t.Errorf("got = %+v, want approved by checker_1", got)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not recorded")
	}
}

func TestPostgresApproval_ListPendingAndExpireDue(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = store.Create(ctx, storeReq("apr_due", now.Add(-25*time.Hour)))
	_ = store.Create(ctx, storeReq("apr_fresh", now))

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "apr_fresh" {
		t.Errorf("pending = %v, want [apr_fresh, apr_due]", pending)
	}

	expired, err := store.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "apr_due" {
		t.Fatalf("expired = %v, want [apr_due]", expired)
	}

	// Idempotent: nothing left to expire.
	expired, _ = store.ExpireDue(ctx, now)
	if len(expired) != 0 {
		t.Errorf("second ExpireDue = %v, want empty", expired)
	}

	pending, _ = store.ListPending(ctx)
	if len(pending) != 1 || pending[0].ID != "apr_fresh" {
		t.Errorf("pending after sweep = %v", pending)
	}
}
