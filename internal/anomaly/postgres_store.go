package anomaly

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresModelStore persists the model state in PostgreSQL as a single
// versioned row, replaced wholesale in one statement on every save.
type PostgresModelStore struct {
	db *sql.DB
}

// Compile-time check.
var _ ModelStore = (*PostgresModelStore)(nil)

// NewPostgresModelStore creates a PostgreSQL-backed model store.
func NewPostgresModelStore(db *sql.DB) *PostgresModelStore {
	return &PostgresModelStore{db: db}
}

// Migrate creates the model_states table if it doesn't exist.
func (s *PostgresModelStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS model_states (
			id           SMALLINT PRIMARY KEY CHECK (id = 1),
			version      BIGINT NOT NULL DEFAULT 1,
			forest       JSONB NOT NULL,
			scaler       JSONB NOT NULL,
			trained_at   TIMESTAMPTZ NOT NULL,
			sample_count INTEGER NOT NULL
		);
	`)
	return err
}

func (s *PostgresModelStore) Save(ctx context.Context, state *ModelState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_states (id, version, forest, scaler, trained_at, sample_count)
		VALUES (1, 1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			version      = model_states.version + 1,
			forest       = EXCLUDED.forest,
			scaler       = EXCLUDED.scaler,
			trained_at   = EXCLUDED.trained_at,
			sample_count = EXCLUDED.sample_count
	`, []byte(state.Forest), []byte(state.Scaler), state.TrainedAt, state.SampleCount)
	if err != nil {
		return fmt.Errorf("save model state: %w", err)
	}
	return nil
}

func (s *PostgresModelStore) Load(ctx context.Context) (*ModelState, error) {
	state := &ModelState{}
	var forest, scaler []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT forest, scaler, trained_at, sample_count
		FROM model_states
		WHERE id = 1
	`).Scan(&forest, &scaler, &state.TrainedAt, &state.SampleCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load model state: %w", err)
	}
	state.Forest = forest
	state.Scaler = scaler
	return state, nil
}
