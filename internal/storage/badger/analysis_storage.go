package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AnalysisStorage implements the AnalysisStorage interface for Badger
type AnalysisStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.AnalysisStorage = (*AnalysisStorage)(nil)

// NewAnalysisStorage creates a new AnalysisStorage instance
func NewAnalysisStorage(db *BadgerDB, logger arbor.ILogger) *AnalysisStorage {
	return &AnalysisStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AnalysisStorage) Store(ctx context.Context, analysis *models.TextAnalysis) error {
	if analysis.JobID == "" {
		return fmt.Errorf("%w: analysis job ID is required", common.ErrValidation)
	}
	if err := s.db.Store().Upsert(analysis.Key(), analysis); err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}
	return nil
}

func (s *AnalysisStorage) Get(ctx context.Context, jobID string, chunkIndex int) (*models.TextAnalysis, error) {
	var analysis models.TextAnalysis
	if err := s.db.Store().Get(models.AnalysisKey(jobID, chunkIndex), &analysis); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: analysis %d of job %s", common.ErrNotFound, chunkIndex, jobID)
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &analysis, nil
}

func (s *AnalysisStorage) GetAggregate(ctx context.Context, jobID string) (*models.TextAnalysis, error) {
	return s.Get(ctx, jobID, -1)
}

// ListByJob returns only chunk analyses, in chunk order. The aggregate is
// excluded so callers can merge without self-reference.
func (s *AnalysisStorage) ListByJob(ctx context.Context, jobID string) ([]*models.TextAnalysis, error) {
	query := badgerhold.Where("JobID").Eq(jobID).And("ChunkIndex").Ge(0).SortBy("ChunkIndex")

	var analyses []models.TextAnalysis
	if err := s.db.Store().Find(&analyses, query); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	result := make([]*models.TextAnalysis, len(analyses))
	for i := range analyses {
		result[i] = &analyses[i]
	}
	return result, nil
}

func (s *AnalysisStorage) DeleteByJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.TextAnalysis{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete analyses: %w", err)
	}
	return nil
}
