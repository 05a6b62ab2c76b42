package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PredictionStorage implements the PredictionStorage interface for Badger
type PredictionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.PredictionStorage = (*PredictionStorage)(nil)

// NewPredictionStorage creates a new PredictionStorage instance
func NewPredictionStorage(db *BadgerDB, logger arbor.ILogger) *PredictionStorage {
	return &PredictionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PredictionStorage) Store(ctx context.Context, prediction *models.Prediction) error {
	if prediction.JobID == "" {
		return fmt.Errorf("%w: prediction job ID is required", common.ErrValidation)
	}
	if err := s.db.Store().Upsert(prediction.JobID, prediction); err != nil {
		return fmt.Errorf("failed to store prediction: %w", err)
	}
	return nil
}

func (s *PredictionStorage) Get(ctx context.Context, jobID string) (*models.Prediction, error) {
	var prediction models.Prediction
	if err := s.db.Store().Get(jobID, &prediction); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: prediction for job %s", common.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return &prediction, nil
}

// ListUncertain returns the least confident predictions first, capped at
// limit. Feeds the uncertainty sweep.
func (s *PredictionStorage) ListUncertain(ctx context.Context, confidenceThreshold float64, limit int) ([]*models.Prediction, error) {
	var predictions []models.Prediction
	if err := s.db.Store().Find(&predictions, badgerhold.Where("Confidence").Lt(confidenceThreshold)); err != nil {
		return nil, fmt.Errorf("failed to find uncertain predictions: %w", err)
	}

	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].Confidence < predictions[j].Confidence
	})
	if limit > 0 && len(predictions) > limit {
		predictions = predictions[:limit]
	}

	result := make([]*models.Prediction, len(predictions))
	for i := range predictions {
		result[i] = &predictions[i]
	}
	return result, nil
}

func (s *PredictionStorage) ListAll(ctx context.Context) ([]*models.Prediction, error) {
	var predictions []models.Prediction
	if err := s.db.Store().Find(&predictions, nil); err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	result := make([]*models.Prediction, len(predictions))
	for i := range predictions {
		result[i] = &predictions[i]
	}
	return result, nil
}

func (s *PredictionStorage) Delete(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Prediction{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	return nil
}
