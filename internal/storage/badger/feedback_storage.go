package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// FeedbackStorage implements the FeedbackStorage interface for Badger
type FeedbackStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.FeedbackStorage = (*FeedbackStorage)(nil)

// NewFeedbackStorage creates a new FeedbackStorage instance
func NewFeedbackStorage(db *BadgerDB, logger arbor.ILogger) *FeedbackStorage {
	return &FeedbackStorage{
		db:     db,
		logger: logger,
	}
}

func (s *FeedbackStorage) Store(ctx context.Context, record *models.FeedbackRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: feedback ID is required", common.ErrValidation)
	}
	if record.JobID == "" {
		return fmt.Errorf("%w: feedback job ID is required", common.ErrValidation)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Weight == 0 {
		record.Weight = record.TrainingWeight()
	}

	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	return nil
}

func (s *FeedbackStorage) Get(ctx context.Context, id string) (*models.FeedbackRecord, error) {
	var record models.FeedbackRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: feedback %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return &record, nil
}

func (s *FeedbackStorage) ListUnprocessed(ctx context.Context, limit int) ([]*models.FeedbackRecord, error) {
	query := badgerhold.Where("Processed").Eq(false).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.FeedbackRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed feedback: %w", err)
	}

	result := make([]*models.FeedbackRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FeedbackStorage) ListSince(ctx context.Context, cutoff time.Time) ([]*models.FeedbackRecord, error) {
	var records []models.FeedbackRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("CreatedAt").Ge(cutoff).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list feedback since cutoff: %w", err)
	}

	result := make([]*models.FeedbackRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *FeedbackStorage) MarkProcessed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		var record models.FeedbackRecord
		if err := s.db.Store().Get(id, &record); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return fmt.Errorf("failed to load feedback %s: %w", id, err)
		}
		record.Processed = true
		if err := s.db.Store().Update(id, &record); err != nil {
			return fmt.Errorf("failed to mark feedback %s processed: %w", id, err)
		}
	}
	return nil
}

func (s *FeedbackStorage) CountUnprocessed(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.FeedbackRecord{}, badgerhold.Where("Processed").Eq(false))
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed feedback: %w", err)
	}
	return int(n), nil
}

func (s *FeedbackStorage) DeleteByJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.FeedbackRecord{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}
