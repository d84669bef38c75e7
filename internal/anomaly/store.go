package anomaly

import (
	"context"
	"encoding/json"
	"time"
)

// ModelState is the persisted form of a trained model: serialized forest and
// scaler parameters plus training metadata. One state exists per deployment;
// retraining replaces it wholesale, never partially.
type ModelState struct {
	Forest      json.RawMessage `json:"forest"`
	Scaler      json.RawMessage `json:"scaler"`
	TrainedAt   time.Time       `json:"trainedAt"`
	SampleCount int             `json:"sampleCount"`
}

// ModelStore persists the model state artifact.
type ModelStore interface {
	// Save atomically replaces the persisted state.
	Save(ctx context.Context, state *ModelState) error
	// Load returns the persisted state, or nil if none exists yet.
	Load(ctx context.Context) (*ModelState, error)
}
