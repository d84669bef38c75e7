package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tmorval/riskgate/internal/anomaly"
	"github.com/tmorval/riskgate/internal/ledger"
)

// failingHistory errors on every lookup.
type failingHistory struct {
	ledger.History
}

func (f *failingHistory) GetAccount(context.Context, string) (*ledger.Account, error) {
	return nil, errors.New("database unavailable")
}

func serviceTx() *ledger.Transaction {
	return &ledger.Transaction{
		ID:        "txn_1",
		AccountID: "acct_1",
		Amount:    decimal.NewFromInt(200),
		Type:      ledger.TypeTransfer,
		Status:    ledger.StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestEvaluateUntrainedModel(t *testing.T) {
	history := ledger.NewMemoryHistory()
	scorer := anomaly.NewScorer(anomaly.NewMemoryModelStore())
	svc := NewService(history, scorer)

	a := svc.Evaluate(context.Background(), serviceTx())

	// Untrained model scores 0: low risk, not an anomaly.
	if a.RawScore != 0 {
		t.Errorf("RawScore = %v, want 0", a.RawScore)
	}
	if a.IsAnomaly {
		t.Error("untrained model should not flag anomalies")
	}
	if a.RiskLevel != anomaly.LevelLow {
		t.Errorf("RiskLevel = %v, want low", a.RiskLevel)
	}
	if a.RiskScore != 0 {
		t.Errorf("RiskScore = %v, want 0", a.RiskScore)
	}
	if a.Features == nil {
		t.Error("assessment should carry the feature snapshot")
	}
	if a.Error != "" {
		t.Errorf("Error = %q, want empty", a.Error)
	}
}

func TestEvaluateFailsOpen(t *testing.T) {
	scorer := anomaly.NewScorer(anomaly.NewMemoryModelStore())
	svc := NewService(&failingHistory{}, scorer)

	a := svc.Evaluate(context.Background(), serviceTx())

	// Failure degrades to the safe default; it never propagates.
	if a.IsAnomaly {
		t.Error("degraded assessment must not flag an anomaly")
	}
	if a.RiskScore != 0 {
		t.Errorf("RiskScore = %v, want 0", a.RiskScore)
	}
	if a.RiskLevel != anomaly.LevelUnknown {
		t.Errorf("RiskLevel = %v, want unknown", a.RiskLevel)
	}
	if a.Error == "" {
		t.Error("degraded assessment should carry the error detail")
	}
}

func TestEvaluateScore0to10(t *testing.T) {
	a := &Assessment{RiskScore: 0.73}
	if got := a.Score0to10(); got != 7.3 {
		t.Errorf("Score0to10 = %v, want 7.3", got)
	}
}

func TestEvaluateRiskScoreBounds(t *testing.T) {
	history := ledger.NewMemoryHistory()
	scorer := anomaly.NewScorer(anomaly.NewMemoryModelStore())
	svc := NewService(history, scorer)

	a := svc.Evaluate(context.Background(), serviceTx())
	if a.RiskScore < 0 || a.RiskScore > 1 {
		t.Errorf("RiskScore = %v, out of [0, 1]", a.RiskScore)
	}
}
