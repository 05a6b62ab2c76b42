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

// ChunkStorage implements the ChunkStorage interface for Badger
type ChunkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ChunkStorage = (*ChunkStorage)(nil)

// NewChunkStorage creates a new ChunkStorage instance
func NewChunkStorage(db *BadgerDB, logger arbor.ILogger) *ChunkStorage {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChunkStorage) Store(ctx context.Context, chunk *models.Chunk) error {
	if chunk.JobID == "" {
		return fmt.Errorf("%w: chunk job ID is required", common.ErrValidation)
	}
	if chunk.PageStart < 1 || chunk.PageEnd < chunk.PageStart {
		return fmt.Errorf("%w: invalid chunk page range %d-%d", common.ErrValidation, chunk.PageStart, chunk.PageEnd)
	}

	if err := s.db.Store().Upsert(chunk.Key(), chunk); err != nil {
		return fmt.Errorf("failed to store chunk: %w", err)
	}
	return nil
}

func (s *ChunkStorage) Get(ctx context.Context, jobID string, index int) (*models.Chunk, error) {
	var chunk models.Chunk
	if err := s.db.Store().Get(models.ChunkKey(jobID, index), &chunk); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: chunk %d of job %s", common.ErrNotFound, index, jobID)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &chunk, nil
}

// GetByPage returns every chunk whose page window covers the page. Overlap
// pages belong to two chunks; both are returned in index order.
func (s *ChunkStorage) GetByPage(ctx context.Context, jobID string, page int) ([]*models.Chunk, error) {
	query := badgerhold.Where("JobID").Eq(jobID).
		And("PageStart").Le(page).
		And("PageEnd").Ge(page).
		SortBy("Index")

	var chunks []models.Chunk
	if err := s.db.Store().Find(&chunks, query); err != nil {
		return nil, fmt.Errorf("failed to find chunks by page: %w", err)
	}

	result := make([]*models.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

func (s *ChunkStorage) ListByJob(ctx context.Context, jobID string) ([]*models.Chunk, error) {
	var chunks []models.Chunk
	if err := s.db.Store().Find(&chunks, badgerhold.Where("JobID").Eq(jobID).SortBy("Index")); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	result := make([]*models.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

func (s *ChunkStorage) CountByJob(ctx context.Context, jobID string) (int, error) {
	n, err := s.db.Store().Count(&models.Chunk{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(n), nil
}

func (s *ChunkStorage) DeleteByJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.Chunk{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
