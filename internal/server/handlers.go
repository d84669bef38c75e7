package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tmorval/riskgate/internal/anomaly"
	"github.com/tmorval/riskgate/internal/approval"
	"github.com/tmorval/riskgate/internal/idgen"
	"github.com/tmorval/riskgate/internal/ledger"
	"github.com/tmorval/riskgate/internal/logging"
	"github.com/tmorval/riskgate/internal/metrics"
	"github.com/tmorval/riskgate/internal/pagination"
	"github.com/tmorval/riskgate/internal/risk"
	"github.com/tmorval/riskgate/internal/traces"
)

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// evaluateRequest is the body for POST /v1/transactions/evaluate.
type evaluateRequest struct {
	Transaction struct {
		ID        string          `json:"id"`
		AccountID string          `json:"accountId" binding:"required"`
		Amount    decimal.Decimal `json:"amount" binding:"required"`
		Type      string          `json:"type" binding:"required"`
		Status    string          `json:"status"`
		CreatedAt time.Time       `json:"createdAt"`
	} `json:"transaction" binding:"required"`
	ActorID   string `json:"actorId" binding:"required"`
	ActorRole string `json:"actorRole" binding:"required"`
}

// evaluateHandler runs the full pipeline: score the transaction, classify
// it against the approval rules, and open an approval request when one is
// required.
func (s *Server) evaluateHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	if req.Transaction.Amount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must not be negative",
		})
		return
	}

	tx := &ledger.Transaction{
		ID:        req.Transaction.ID,
		AccountID: req.Transaction.AccountID,
		Amount:    req.Transaction.Amount,
		Type:      req.Transaction.Type,
		Status:    req.Transaction.Status,
		CreatedAt: req.Transaction.CreatedAt,
	}
	if tx.ID == "" {
		tx.ID = idgen.WithPrefix("txn_")
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	assessment := s.riskService.Evaluate(ctx, tx)
	classification := risk.Classify(tx, req.ActorRole, assessment.Score0to10())

	response := gin.H{
		"transaction":    tx,
		"assessment":     assessment,
		"classification": classification,
	}

	if classification.RequiresApproval {
		request, err := s.engine.Create(ctx, tx, req.ActorID, classification.Level, classification.Reasons)
		if err != nil {
			logging.L(ctx).Error("failed to create approval request", "tx", tx.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to create approval request",
			})
			return
		}
		response["approvalRequest"] = request
	}

	// Record the observation so future evaluations see this account activity.
	go func() {
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.Record(recordCtx, tx); err != nil {
			s.logger.Warn("failed to record transaction", "tx", tx.ID, "error", err)
		}
	}()

	c.JSON(http.StatusOK, response)
}

// -----------------------------------------------------------------------------
// Model lifecycle
// -----------------------------------------------------------------------------

// trainHandler runs a synchronous training pass over recent history.
func (s *Server) trainHandler(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "model.train")
	defer span.End()

	result, err := s.trainer.Train(ctx)
	if err != nil {
		var insufficient *anomaly.InsufficientSamplesError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusConflict, gin.H{
				"error":            "insufficient_samples",
				"message":          insufficient.Error(),
				"samplesAvailable": insufficient.Available,
				"samplesRequired":  insufficient.Required,
			})
			return
		}
		logging.L(ctx).Error("training failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "training_failed",
			"message": "Model training failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trainedAt":   result.TrainedAt,
		"sampleCount": result.SampleCount,
	})
}

// modelInfoHandler reports the live model's training metadata.
func (s *Server) modelInfoHandler(c *gin.Context) {
	trainedAt, sampleCount := s.scorer.Info()

	info := gin.H{
		"trained":     s.scorer.Trained(),
		"sampleCount": sampleCount,
	}
	if !trainedAt.IsZero() {
		info["trainedAt"] = trainedAt
	}
	c.JSON(http.StatusOK, info)
}

// -----------------------------------------------------------------------------
// Approvals
// -----------------------------------------------------------------------------

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) listApprovalsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	}

	pending, err := s.engine.ListPending(ctx, c.Query("for_role"))
	if err != nil {
		logging.L(ctx).Error("failed to list approvals", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list pending approvals",
		})
		return
	}
	metrics.PendingApprovals.Set(float64(len(pending)))

	if cursor != nil {
		filtered := pending[:0]
		for _, req := range pending {
			if cursor.After(req.CreatedAt, req.ID) {
				filtered = append(filtered, req)
			}
		}
		pending = filtered
	}

	page, next, hasMore := pagination.ComputePage(pending, limit, func(req *approval.Request) (time.Time, string) {
		return req.CreatedAt, req.ID
	})
	if page == nil {
		page = []*approval.Request{}
	}

	resp := gin.H{
		"approvals": page,
		"count":     len(page),
		"hasMore":   hasMore,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getApprovalHandler(c *gin.Context) {
	ctx := c.Request.Context()

	req, err := s.engine.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Approval request not found",
			})
			return
		}
		logging.L(ctx).Error("failed to get approval", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load approval request",
		})
		return
	}
	c.JSON(http.StatusOK, req)
}

// resolveRequest is the body for approve/reject calls.
type resolveRequest struct {
	ApproverID   string `json:"approverId" binding:"required"`
	ApproverRole string `json:"approverRole" binding:"required"`
	Notes        string `json:"notes"`
	Reason       string `json:"reason"`
}

func (s *Server) approveHandler(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "approval.approve", traces.ApprovalID(id))
	defer span.End()

	req, err := s.engine.Approve(ctx, id, body.ApproverID, body.ApproverRole, body.Notes)
	if err != nil {
		s.writeApprovalError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) rejectHandler(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	if body.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_reason",
			"message": "reason is required when rejecting",
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "approval.reject", traces.ApprovalID(id))
	defer span.End()

	req, err := s.engine.Reject(ctx, id, body.ApproverID, body.ApproverRole, body.Reason)
	if err != nil {
		s.writeApprovalError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// writeApprovalError maps the engine's sentinel errors to HTTP statuses.
func (s *Server) writeApprovalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Approval request not found",
		})
	case errors.Is(err, approval.ErrSelfApproval):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "self_approval",
			"message": "Requester cannot resolve their own request",
		})
	case errors.Is(err, approval.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "permission_denied",
			"message": "Role is not eligible to resolve this request",
		})
	case errors.Is(err, approval.ErrExpired):
		c.JSON(http.StatusGone, gin.H{
			"error":   "expired",
			"message": "Approval request has expired",
		})
	case errors.Is(err, approval.ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_finalized",
			"message": "Approval request is already resolved",
		})
	default:
		logging.L(c.Request.Context()).Error("approval operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Approval operation failed",
		})
	}
}
