package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tmorval/riskgate/internal/audit"
	"github.com/tmorval/riskgate/internal/idgen"
	"github.com/tmorval/riskgate/internal/ledger"
	"github.com/tmorval/riskgate/internal/metrics"
	"github.com/tmorval/riskgate/internal/syncutil"
)

// Typed failures surfaced to callers. Everything else the engine emits
// (audit events, security alerts, feed broadcasts) is fire-and-forget.
var (
	ErrNotFound         = errors.New("approval: request not found")
	ErrPermissionDenied = errors.New("approval: role not eligible for this approval level")
	ErrSelfApproval     = errors.New("approval: requester cannot resolve their own request")
	ErrExpired          = errors.New("approval: request has expired")
	ErrAlreadyFinalized = errors.New("approval: request already finalized")
)

// Audit operation types emitted by the engine.
const (
	OpRequestCreated = "APPROVAL_REQUEST_CREATED"
	OpGranted        = "APPROVAL_GRANTED"
	OpRejected       = "APPROVAL_REJECTED"
	OpExpired        = "APPROVAL_EXPIRED"
)

// DefaultTTL is how long a request stays actionable after creation.
// ExpiresAt is fixed at creation time and never extended.
const DefaultTTL = 24 * time.Hour

// rejectionAlertAmount is the transaction amount at or above which a
// rejection also raises a security alert.
var rejectionAlertAmount = decimal.NewFromInt(10000)

// Broadcaster receives approval lifecycle events for live feeds.
// Implementations must not block.
type Broadcaster interface {
	BroadcastApproval(event string, req *Request)
}

// Engine owns the approval request lifecycle: creation, approval,
// rejection, expiry, and the periodic cleanup sweep.
type Engine struct {
	store  Store
	sink   audit.Sink
	alerts audit.AlertSink
	feed   Broadcaster
	ttl    time.Duration
	now    func() time.Time
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithTTL overrides the default request lifetime.
func WithTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithBroadcaster wires a live event feed.
func WithBroadcaster(b Broadcaster) EngineOption {
	return func(e *Engine) { e.feed = b }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an approval workflow engine.
func NewEngine(store Store, sink audit.Sink, alerts audit.AlertSink, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		sink:   sink,
		alerts: alerts,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens a PENDING request for the transaction at the given level.
// Senior-manager and operations-manager levels also raise a security alert.
func (e *Engine) Create(ctx context.Context, tx *ledger.Transaction, requesterID string, level Level, reasons []string) (*Request, error) {
	now := e.now()
	req := &Request{
		ID:            idgen.WithPrefix("apr_"),
		Transaction:   tx,
		RequesterID:   requesterID,
		Level:         level,
		Status:        StatusPending,
		Reasons:       append([]string(nil), reasons...),
		EligibleRoles: EligibleRoles(level),
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.ttl),
	}

	if err := e.store.Create(ctx, req); err != nil {
		return nil, err
	}
	metrics.ApprovalRequestsTotal.WithLabelValues(string(level)).Inc()

	e.emitAudit(requesterID, OpRequestCreated, req, map[string]any{
		"level":   string(level),
		"reasons": req.Reasons,
	})
	if level == LevelSeniorManager || level == LevelOperationsManager {
		e.emitAlert("high_level_approval_requested", audit.SeverityWarning, requesterID,
			"approval requested at level "+string(level), map[string]any{
				"request_id": req.ID,
				"amount":     tx.Amount.String(),
				"tx_type":    tx.Type,
			})
	}
	e.broadcast("approval_created", req)

	e.logger.Info("approval request created",
		"request_id", req.ID, "level", string(level), "requester", requesterID)
	return req, nil
}

// Approve transitions a pending request to APPROVED. An expired request is
// lazily transitioned to EXPIRED as a side effect and ErrExpired returned.
func (e *Engine) Approve(ctx context.Context, id, approverID, approverRole, notes string) (*Request, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	req, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.Status.Terminal() {
		return nil, ErrAlreadyFinalized
	}
	if approverID == req.RequesterID {
		return nil, ErrSelfApproval
	}
	if !RoleCanResolve(approverRole, req.Level) {
		return nil, ErrPermissionDenied
	}

	now := e.now()
	if now.After(req.ExpiresAt) {
		if ok, err := e.store.Transition(ctx, id, StatusExpired, "", now, ""); err != nil {
			return nil, err
		} else if ok {
			req.Status = StatusExpired
			metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusExpired)).Inc()
			e.emitAudit(approverID, OpExpired, req, nil)
			e.broadcast("approval_expired", req)
		}
		return nil, ErrExpired
	}

	ok, err := e.store.Transition(ctx, id, StatusApproved, approverID, now, notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race to another resolver.
		return nil, ErrAlreadyFinalized
	}

	req.Status = StatusApproved
	req.ResolvedBy = approverID
	req.ResolvedAt = &now
	req.Notes = notes
	metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusApproved)).Inc()

	e.emitAudit(approverID, OpGranted, req, map[string]any{
		"approver_role": approverRole,
		"notes":         notes,
	})
	e.broadcast("approval_approved", req)

	e.logger.Info("approval granted",
		"request_id", id, "approver", approverID, "role", approverRole)
	return req, nil
}

// Reject transitions a pending request to REJECTED. Rejection carries no
// expiry check: an expired-but-unswept request can still be rejected.
// Rejections of transactions at or above the alert amount raise a
// security alert.
func (e *Engine) Reject(ctx context.Context, id, approverID, approverRole, reason string) (*Request, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	req, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.Status.Terminal() {
		return nil, ErrAlreadyFinalized
	}
	if approverID == req.RequesterID {
		return nil, ErrSelfApproval
	}
	if !RoleCanResolve(approverRole, req.Level) {
		return nil, ErrPermissionDenied
	}

	now := e.now()
	ok, err := e.store.Transition(ctx, id, StatusRejected, approverID, now, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyFinalized
	}

	req.Status = StatusRejected
	req.ResolvedBy = approverID
	req.ResolvedAt = &now
	req.Notes = reason
	metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusRejected)).Inc()

	e.emitAudit(approverID, OpRejected, req, map[string]any{
		"approver_role": approverRole,
		"reason":        reason,
	})
	if req.Transaction != nil && req.Transaction.Amount.GreaterThanOrEqual(rejectionAlertAmount) {
		e.emitAlert("high_value_approval_rejected", audit.SeverityCritical, approverID,
			"high-value transaction rejected: "+reason, map[string]any{
				"request_id": req.ID,
				"amount":     req.Transaction.Amount.String(),
				"requester":  req.RequesterID,
			})
	}
	e.broadcast("approval_rejected", req)

	e.logger.Info("approval rejected",
		"request_id", id, "approver", approverID, "reason", reason)
	return req, nil
}

// Get returns a request by id.
func (e *Engine) Get(ctx context.Context, id string) (*Request, error) {
	req, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// ListPending returns pending requests newest first. A non-empty forRole
// filters to requests that role is eligible to resolve.
func (e *Engine) ListPending(ctx context.Context, forRole string) ([]*Request, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if forRole == "" {
		return pending, nil
	}
	out := make([]*Request, 0, len(pending))
	for _, req := range pending {
		if RoleCanResolve(forRole, req.Level) {
			out = append(out, req)
		}
	}
	return out, nil
}

// CleanupExpired transitions every overdue pending request to EXPIRED and
// returns the count processed. Safe to call repeatedly: a second immediate
// call processes zero.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := e.store.ExpireDue(ctx, e.now())
	if err != nil {
		return 0, err
	}
	for _, req := range expired {
		metrics.ApprovalResolutionsTotal.WithLabelValues(string(StatusExpired)).Inc()
		e.emitAudit("system", OpExpired, req, nil)
		e.broadcast("approval_expired", req)
	}
	if len(expired) > 0 {
		e.logger.Info("expired approval requests swept", "count", len(expired))
	}
	return len(expired), nil
}

// emitAudit records an audit event best-effort off the caller's path.
func (e *Engine) emitAudit(actor, op string, req *Request, changes map[string]any) {
	if e.sink == nil {
		return
	}
	metadata := map[string]any{
		"requester": req.RequesterID,
		"level":     string(req.Level),
		"status":    string(req.Status),
	}
	go e.sink.LogFinancialOperation(context.Background(), actor, op, "approval_request", req.ID, changes, metadata)
}

// emitAlert raises a security alert best-effort off the caller's path.
func (e *Engine) emitAlert(eventType, severity, actorID, description string, details map[string]any) {
	if e.alerts == nil {
		return
	}
	go e.alerts.Emit(context.Background(), eventType, severity, actorID, description, details)
}

func (e *Engine) broadcast(event string, req *Request) {
	if e.feed != nil {
		e.feed.BroadcastApproval(event, req)
	}
}
