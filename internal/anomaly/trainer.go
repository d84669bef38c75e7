package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tmorval/riskgate/internal/features"
	"github.com/tmorval/riskgate/internal/ledger"
	"github.com/tmorval/riskgate/internal/metrics"
)

// Default training sample source policy.
const (
	DefaultWindowDays = 90
	DefaultMaxSamples = 10000
)

// Trainer assembles training samples from historical completed transactions
// and drives the scorer's batch training. Training is the only long-running
// operation in the system and must run off the synchronous scoring path.
type Trainer struct {
	scorer     *Scorer
	history    ledger.History
	windowDays int
	maxSamples int
	logger     *slog.Logger
}

// TrainerOption configures the Trainer.
type TrainerOption func(*Trainer)

// WithWindowDays overrides the history window for training samples.
func WithWindowDays(days int) TrainerOption {
	return func(t *Trainer) { t.windowDays = days }
}

// WithMaxSamples overrides the cap on most-recent samples per run.
func WithMaxSamples(n int) TrainerOption {
	return func(t *Trainer) { t.maxSamples = n }
}

// WithTrainerLogger sets a structured logger.
func WithTrainerLogger(l *slog.Logger) TrainerOption {
	return func(t *Trainer) { t.logger = l }
}

// NewTrainer creates a trainer with the default source policy.
func NewTrainer(scorer *Scorer, history ledger.History, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		scorer:     scorer,
		history:    history,
		windowDays: DefaultWindowDays,
		maxSamples: DefaultMaxSamples,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fetches completed transactions from the training window, extracts a
// feature vector for each one against its account's earlier history, and
// retrains the scorer. Returns *InsufficientSamplesError when too few
// samples exist; the persisted model stays untouched in that case.
func (t *Trainer) Train(ctx context.Context) (*TrainingResult, error) {
	since := time.Now().Add(-time.Duration(t.windowDays) * 24 * time.Hour)
	txs, err := t.history.CompletedSince(ctx, since, t.maxSamples)
	if err != nil {
		return nil, fmt.Errorf("fetch training transactions: %w", err)
	}

	samples, err := t.buildSamples(ctx, txs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := t.scorer.Train(ctx, samples)
	if err != nil {
		var insufficient *InsufficientSamplesError
		if errors.As(err, &insufficient) {
			metrics.TrainingRunsTotal.WithLabelValues("insufficient_samples").Inc()
		} else {
			metrics.TrainingRunsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.TrainingRunsTotal.WithLabelValues("success").Inc()
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	metrics.TrainingSampleCount.Set(float64(result.SampleCount))
	t.logger.Info("training run complete",
		"samples", result.SampleCount,
		"window_days", t.windowDays,
		"duration", time.Since(start).String())
	return result, nil
}

// buildSamples extracts one feature vector per transaction. Each vector is
// computed against the transaction's prior history only, so a sample never
// sees its own future.
func (t *Trainer) buildSamples(ctx context.Context, txs []*ledger.Transaction) ([][]float64, error) {
	byAccount := make(map[string][]*ledger.Transaction)
	for _, tx := range txs {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	samples := make([][]float64, 0, len(txs))
	for accountID, group := range byAccount {
		acct, err := t.history.GetAccount(ctx, accountID)
		if err != nil {
			// Extraction degrades to defaults on missing account data.
			t.logger.Warn("training: account lookup failed", "account", accountID, "error", err)
			acct = nil
		}

		// Oldest first, so the prior-history slice grows as we walk.
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		prior := make([]*ledger.Transaction, 0, len(group))
		for _, tx := range group {
			vec := features.Extract(tx, acct, prior)
			samples = append(samples, vec.Slice())
			// Newest first for the next iteration.
			prior = append([]*ledger.Transaction{tx}, prior...)
		}
	}
	return samples, nil
}
