package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmorval/riskgate/internal/anomaly"
	"github.com/tmorval/riskgate/internal/audit"
	"github.com/tmorval/riskgate/internal/features"
	"github.com/tmorval/riskgate/internal/ledger"
	"github.com/tmorval/riskgate/internal/metrics"
	"github.com/tmorval/riskgate/internal/traces"
)

// historyWindow bounds the per-account history fetch feeding feature
// extraction. 365 days covers the days-since-last-transaction cap; the
// limit covers the 100-transaction averaging window with slack.
const (
	historyWindowDays = 365
	historyLimit      = 500
)

// Assessment is the outcome of evaluating one transaction. A degraded
// assessment (scoring failure) carries risk level "unknown" and the error
// detail; it never blocks the transaction.
type Assessment struct {
	IsAnomaly bool              `json:"isAnomaly"`
	RiskScore float64           `json:"riskScore"`
	RiskLevel anomaly.RiskLevel `json:"riskLevel"`
	RawScore  float64           `json:"rawScore"`
	Features  *features.Vector  `json:"features,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Score0to10 rescales the normalized risk score to the 0-10 range the
// classifier rules use.
func (a *Assessment) Score0to10() float64 { return a.RiskScore * 10 }

// Service runs the evaluation pipeline: fetch context, extract features,
// score, bucket. Evaluation fails open: an internal failure produces a
// safe default assessment rather than an error.
type Service struct {
	history ledger.History
	scorer  *anomaly.Scorer
	sink    audit.Sink
	logger  *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithAuditSink wires evaluation audit events.
func WithAuditSink(sink audit.Sink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates an evaluation service.
func NewService(history ledger.History, scorer *anomaly.Scorer, opts ...ServiceOption) *Service {
	s := &Service{
		history: history,
		scorer:  scorer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate scores a transaction against its account's history. Never
// returns an error: failures degrade to a level-"unknown" assessment.
func (s *Service) Evaluate(ctx context.Context, tx *ledger.Transaction) *Assessment {
	ctx, span := traces.StartSpan(ctx, "risk.evaluate",
		traces.TransactionID(tx.ID), traces.AccountID(tx.AccountID))
	defer span.End()

	start := time.Now()
	assessment := s.evaluate(ctx, tx)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.EvaluationsTotal.WithLabelValues(string(assessment.RiskLevel)).Inc()
	span.SetAttributes(traces.RiskLevel(string(assessment.RiskLevel)))

	if s.sink != nil {
		a := *assessment
		go s.sink.LogFinancialOperation(context.Background(), "system", "TRANSACTION_EVALUATED",
			"transaction", tx.ID, nil, map[string]any{
				"risk_level": string(a.RiskLevel),
				"risk_score": a.RiskScore,
				"is_anomaly": a.IsAnomaly,
			})
	}
	return assessment
}

func (s *Service) evaluate(ctx context.Context, tx *ledger.Transaction) *Assessment {
	account, err := s.history.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return s.degraded(tx, "account lookup failed", err)
	}

	since := tx.CreatedAt.AddDate(0, 0, -historyWindowDays)
	history, err := s.history.RecentByAccount(ctx, tx.AccountID, since, historyLimit)
	if err != nil {
		return s.degraded(tx, "history fetch failed", err)
	}

	vec := features.Extract(tx, account, history)
	raw, err := s.scorer.RawScore(vec.Slice())
	if err != nil {
		return s.degraded(tx, "scoring failed", err)
	}

	return &Assessment{
		IsAnomaly: anomaly.IsAnomaly(raw),
		RiskScore: anomaly.NormalizedRiskScore(raw),
		RiskLevel: anomaly.LevelFor(raw),
		RawScore:  raw,
		Features:  vec,
	}
}

// degraded builds the fail-open assessment and records the failure.
func (s *Service) degraded(tx *ledger.Transaction, stage string, err error) *Assessment {
	s.logger.Error("evaluation degraded", "tx", tx.ID, "stage", stage, "error", err)
	metrics.EvaluationFailuresTotal.Inc()
	return &Assessment{
		RiskLevel: anomaly.LevelUnknown,
		Error:     stage + ": " + err.Error(),
	}
}
