package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrainingSampleRepository stores classified utterances for later NLU
// model retraining (spec §9 Open Question: low-confidence/fallback
// classifications are the most valuable samples, so callers log both
// successful and fallback classifications with their source).
type TrainingSampleRepository struct {
	pool *pgxpool.Pool
}

func NewTrainingSampleRepository(pool *pgxpool.Pool) *TrainingSampleRepository {
	return &TrainingSampleRepository{pool: pool}
}

// Save records one classified utterance. source is "nlu" or "fallback".
func (r *TrainingSampleRepository) Save(ctx context.Context, text, intent string, confidence float64, source string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO training_samples (text, intent, confidence, source)
		VALUES ($1, $2, $3, $4)
	`, text, intent, confidence, source)
	if err != nil {
		return fmt.Errorf("save training sample: %w", err)
	}
	return nil
}
