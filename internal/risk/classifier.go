// Package risk decides whether a transaction needs human approval and at
// what level, combining static business rules with the anomaly score.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/tmorval/riskgate/internal/approval"
	"github.com/tmorval/riskgate/internal/ledger"
)

// Amount thresholds for the classification rules, in currency units.
var (
	criticalValueThreshold = decimal.NewFromInt(50000)
	highValueThreshold     = decimal.NewFromInt(10000)
	cashierLimit           = decimal.NewFromInt(5000)
)

// HighAnomalyScore is the 0-10 scale anomaly score at which senior-manager
// approval kicks in.
const HighAnomalyScore = 7.0

// Classification is the classifier's verdict for one transaction.
type Classification struct {
	RequiresApproval bool           `json:"requiresApproval"`
	Level            approval.Level `json:"approvalLevel"`
	Reasons          []string       `json:"reasons"`
}

// Classify applies the rule set in fixed order. Every matching rule
// overwrites the running level, so the last match decides — not the most
// severe one. Callers relying on severity ordering must not: the rule
// order here is the contract.
func Classify(tx *ledger.Transaction, actorRole string, score0to10 float64) Classification {
	var c Classification

	if tx.Amount.GreaterThanOrEqual(criticalValueThreshold) {
		c.match(approval.LevelSeniorManager, "critical value threshold")
	}
	if tx.Amount.GreaterThanOrEqual(highValueThreshold) {
		c.match(approval.LevelManager, "high value threshold")
	}
	if actorRole == "cashier" && tx.Amount.GreaterThanOrEqual(cashierLimit) {
		c.match(approval.LevelManager, "cashier limit")
	}
	if tx.Type == ledger.TypeInternationalTransfer || tx.Type == ledger.TypeLargeWithdrawal {
		c.match(approval.LevelOperationsManager, "special-handling type")
	}
	if score0to10 >= HighAnomalyScore {
		c.match(approval.LevelSeniorManager, "high anomaly score")
	}

	if !c.RequiresApproval {
		c.Level = approval.LevelNone
	}
	return c
}

func (c *Classification) match(level approval.Level, reason string) {
	c.RequiresApproval = true
	c.Level = level
	c.Reasons = append(c.Reasons, reason)
}
