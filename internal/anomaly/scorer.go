package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Score thresholds on the raw scale (lower = more anomalous).
const (
	AnomalyThreshold  = -0.5
	HighRiskThreshold = -0.8
)

// RiskLevel buckets a raw score for human consumption.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"

	// LevelUnknown marks a degraded assessment produced after a scoring
	// failure (fail-open).
	LevelUnknown RiskLevel = "unknown"
)

// LevelFor maps a raw score to its risk level.
func LevelFor(raw float64) RiskLevel {
	switch {
	case raw < HighRiskThreshold:
		return LevelCritical
	case raw < AnomalyThreshold:
		return LevelHigh
	case raw < 0:
		return LevelMedium
	default:
		return LevelLow
	}
}

// NormalizedRiskScore maps a raw score into [0, 1]: 0 at the anomaly
// threshold and above, 1 at twice the threshold and below.
func NormalizedRiskScore(raw float64) float64 {
	score := (AnomalyThreshold - raw) / -AnomalyThreshold
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// IsAnomaly reports whether a raw score crosses the anomaly threshold.
func IsAnomaly(raw float64) bool { return raw < AnomalyThreshold }

// TrainingResult summarizes a successful training run.
type TrainingResult struct {
	TrainedAt   time.Time `json:"trainedAt"`
	SampleCount int       `json:"sampleCount"`
}

// InsufficientSamplesError reports a training request that did not meet the
// minimum sample requirement. The persisted model state is left untouched.
type InsufficientSamplesError struct {
	Available int
	Required  int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("anomaly: insufficient training samples: %d available, %d required", e.Available, e.Required)
}

// snapshot is one immutable trained model; Score readers grab the current
// snapshot via an atomic pointer and never block on training.
type snapshot struct {
	forest      *Forest
	scaler      *Scaler
	trainedAt   time.Time
	sampleCount int
}

// Scorer holds the live model and owns its lifecycle: load on start, score
// concurrently, retrain in batch, persist, and publish the replacement via
// an atomic pointer swap.
type Scorer struct {
	model      atomic.Pointer[snapshot]
	store      ModelStore
	minSamples int
	logger     *slog.Logger
}

// ScorerOption configures the Scorer.
type ScorerOption func(*Scorer)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) ScorerOption {
	return func(s *Scorer) { s.logger = l }
}

// WithMinSamples overrides the minimum training sample count.
func WithMinSamples(n int) ScorerOption {
	return func(s *Scorer) { s.minSamples = n }
}

// DefaultMinSamples is the training floor when none is configured.
const DefaultMinSamples = 100

// NewScorer creates a scorer with an untrained model. Call LoadPersisted to
// pick up a previously trained state.
func NewScorer(store ModelStore, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		store:      store,
		minSamples: DefaultMinSamples,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.model.Store(&snapshot{forest: NewForest(), scaler: &Scaler{}})
	return s
}

// LoadPersisted replaces the live model with the persisted state, if any.
// A missing state is not an error: the scorer keeps its untrained model,
// which scores every vector as 0 until the first training run.
func (s *Scorer) LoadPersisted(ctx context.Context) error {
	state, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load model state: %w", err)
	}
	if state == nil {
		s.logger.Info("no persisted model state, starting untrained")
		return nil
	}

	forest := NewForest()
	if err := json.Unmarshal(state.Forest, forest); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	scaler := &Scaler{}
	if err := json.Unmarshal(state.Scaler, scaler); err != nil {
		return fmt.Errorf("decode scaler: %w", err)
	}

	s.model.Store(&snapshot{
		forest:      forest,
		scaler:      scaler,
		trainedAt:   state.TrainedAt,
		sampleCount: state.SampleCount,
	})
	s.logger.Info("model state loaded",
		"trained_at", state.TrainedAt.Format(time.RFC3339),
		"sample_count", state.SampleCount)
	return nil
}

// RawScore scores a feature vector against the current model snapshot.
// Safe for unlimited concurrent callers.
func (s *Scorer) RawScore(v []float64) (float64, error) {
	m := s.model.Load()
	return m.forest.RawScore(m.scaler.Transform(v))
}

// Trained reports whether the live model has been fitted.
func (s *Scorer) Trained() bool {
	return s.model.Load().forest.Fitted()
}

// Info returns training metadata for the live model, or zero values when
// untrained.
func (s *Scorer) Info() (trainedAt time.Time, sampleCount int) {
	m := s.model.Load()
	return m.trainedAt, m.sampleCount
}

// Train fits a fresh scaler and forest on the samples, persists the new
// model state, and atomically publishes it. Below the minimum sample count
// it returns *InsufficientSamplesError and both the live and persisted
// models are left untouched.
func (s *Scorer) Train(ctx context.Context, samples [][]float64) (*TrainingResult, error) {
	if len(samples) < s.minSamples {
		return nil, &InsufficientSamplesError{Available: len(samples), Required: s.minSamples}
	}

	scaler := &Scaler{}
	scaler.Fit(samples)

	forest := NewForest()
	if err := forest.Fit(scaler.TransformAll(samples)); err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	forestJSON, err := json.Marshal(forest)
	if err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	scalerJSON, err := json.Marshal(scaler)
	if err != nil {
		return nil, fmt.Errorf("encode scaler: %w", err)
	}

	now := time.Now().UTC()
	state := &ModelState{
		Forest:      forestJSON,
		Scaler:      scalerJSON,
		TrainedAt:   now,
		SampleCount: len(samples),
	}
	if err := s.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("persist model state: %w", err)
	}

	// Write-new, then flip: concurrent RawScore calls see either the old or
	// the new snapshot, never a partial model.
	s.model.Store(&snapshot{
		forest:      forest,
		scaler:      scaler,
		trainedAt:   now,
		sampleCount: len(samples),
	})

	s.logger.Info("model trained", "sample_count", len(samples))
	return &TrainingResult{TrainedAt: now, SampleCount: len(samples)}, nil
}
