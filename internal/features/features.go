// Package features turns a transaction plus its account's recent history
// into the fixed-order numeric vector the anomaly model consumes.
//
// Extraction never fails: when history or account data is unavailable the
// documented default values are substituted instead.
package features

import (
	"time"

	"github.com/tmorval/riskgate/internal/ledger"
)

// Caps and fallbacks for individual features.
const (
	MaxDaysSinceLastTx = 365.0
	MaxAccountAgeDays  = 3650.0
	MaxAmountRatio     = 100.0
	MaxVelocityScore   = 50.0

	// BaselineAvgAmount is the assumed average amount for accounts with no
	// completed history, in currency units.
	BaselineAvgAmount = 100.0

	// avgWindow is how many recent transactions feed the average-amount
	// baseline.
	avgWindow = 100
)

// Vector is the fixed-order feature encoding of a transaction's context.
type Vector struct {
	Amount           float64 `json:"amount"`
	HourOfDay        float64 `json:"hourOfDay"`
	DayOfWeek        float64 `json:"dayOfWeek"`
	IsWeekend        float64 `json:"isWeekend"`
	DaysSinceLastTx  float64 `json:"daysSinceLastTx"`
	TxCount24h       float64 `json:"txCount24h"`
	AmountVsAvgRatio float64 `json:"amountVsAvgRatio"`
	AccountAgeDays   float64 `json:"accountAgeDays"`
	VelocityScore    float64 `json:"velocityScore"`
}

// Names lists the feature order used by Slice.
var Names = []string{
	"amount",
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"days_since_last_tx",
	"tx_count_24h",
	"amount_vs_avg_ratio",
	"account_age_days",
	"velocity_score",
}

// Dim is the feature vector dimensionality.
const Dim = 9

// Slice returns the vector's values in fixed order for model input.
func (v *Vector) Slice() []float64 {
	return []float64{
		v.Amount,
		v.HourOfDay,
		v.DayOfWeek,
		v.IsWeekend,
		v.DaysSinceLastTx,
		v.TxCount24h,
		v.AmountVsAvgRatio,
		v.AccountAgeDays,
		v.VelocityScore,
	}
}

// Extract builds the feature vector for tx. history must contain the
// account's prior completed transactions (tx itself excluded), newest first;
// account may be nil when unknown.
func Extract(tx *ledger.Transaction, account *ledger.Account, history []*ledger.Transaction) *Vector {
	at := tx.CreatedAt
	amount, _ := tx.Amount.Float64()

	// Monday=0 ... Sunday=6; weekend is dow >= 5.
	dow := float64((int(at.Weekday()) + 6) % 7)
	isWeekend := 0.0
	if dow >= 5 {
		isWeekend = 1.0
	}

	ageDays := 1.0
	if account != nil && !account.CreatedAt.IsZero() && !account.CreatedAt.After(at) {
		ageDays = min(at.Sub(account.CreatedAt).Hours()/24, MaxAccountAgeDays)
	}

	// No prior transaction: fall back to the account age.
	daysSinceLast := ageDays
	if len(history) > 0 {
		daysSinceLast = min(at.Sub(history[0].CreatedAt).Hours()/24, MaxDaysSinceLastTx)
	}

	var count24h, count7d float64
	dayAgo := at.Add(-24 * time.Hour)
	weekAgo := at.Add(-7 * 24 * time.Hour)
	for _, h := range history {
		if h.CreatedAt.After(dayAgo) {
			count24h++
		}
		if h.CreatedAt.After(weekAgo) {
			count7d++
		}
	}

	avg := BaselineAvgAmount
	if len(history) > 0 {
		n := min(len(history), avgWindow)
		sum := 0.0
		for _, h := range history[:n] {
			a, _ := h.Amount.Float64()
			sum += a
		}
		avg = sum / float64(n)
	}
	ratio := MaxAmountRatio
	if avg > 0 {
		ratio = min(amount/avg, MaxAmountRatio)
	}

	return &Vector{
		Amount:           amount,
		HourOfDay:        float64(at.Hour()),
		DayOfWeek:        dow,
		IsWeekend:        isWeekend,
		DaysSinceLastTx:  daysSinceLast,
		TxCount24h:       count24h,
		AmountVsAvgRatio: ratio,
		AccountAgeDays:   ageDays,
		VelocityScore:    min(count7d/7, MaxVelocityScore),
	}
}
