package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job ID is required", common.ErrValidation)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("%w: job %s", common.ErrAlreadyExists, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: job %s", common.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) Update(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job ID is required", common.ErrValidation)
	}
	if err := s.db.Store().Update(job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: job %s", common.ErrNotFound, job.ID)
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("%w: job %s", common.ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// CompareAndSetStatus moves the job between statuses inside one transaction
// so concurrent workers cannot both claim the same transition.
func (s *JobStorage) CompareAndSetStatus(ctx context.Context, id string, expected, next models.JobStatus) (*models.Job, error) {
	if !models.CanTransition(expected, next) {
		return nil, &common.StateError{Current: string(expected), Required: string(next)}
	}

	var updated *models.Job
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, id, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: job %s", common.ErrNotFound, id)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}
		if job.Status != expected {
			return &common.StateError{Current: string(job.Status), Required: string(expected)}
		}

		job.Status = next
		switch next {
		case models.JobStatusProcessing:
			job.MarkStarted()
		case models.JobStatusCompleted, models.JobStatusFailed:
			job.MarkCompleted()
		}

		if err := s.db.Store().TxUpdate(tx, id, &job); err != nil {
			return fmt.Errorf("failed to update job status: %w", err)
		}
		updated = &job
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", id).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("Job status transitioned")
	return updated, nil
}

// UpdateProgress rewrites only the progress fields inside one transaction.
// A status transition racing this write is never clobbered by a stale copy
// of the row.
func (s *JobStorage) UpdateProgress(ctx context.Context, id string, progress models.Progress) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(tx, id, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: job %s", common.ErrNotFound, id)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}

		job.Progress = progress
		if err := s.db.Store().TxUpdate(tx, id, &job); err != nil {
			return fmt.Errorf("failed to update job progress: %w", err)
		}
		return nil
	})
}

func (s *JobStorage) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error) {
	if ownerID == "" {
		// Listing without an owner yields nothing rather than everything.
		return []*models.Job{}, nil
	}

	query := badgerhold.Where("OwnerID").Eq(ownerID).SortBy("CreatedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) Count(ctx context.Context) (int, error) {
	n, err := s.db.Store().Count(&models.Job{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(n), nil
}

func (s *JobStorage) CountByStatus(ctx context.Context) (map[string]int, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	counts := make(map[string]int)
	for i := range jobs {
		counts[string(jobs[i].Status)]++
	}
	return counts, nil
}

// CountByMonth buckets jobs by creation month ("2006-01"), optionally
// scoped to one owner.
func (s *JobStorage) CountByMonth(ctx context.Context, ownerID string) (map[string]int, error) {
	var query *badgerhold.Query
	if ownerID != "" {
		query = badgerhold.Where("OwnerID").Eq(ownerID)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	counts := make(map[string]int)
	for i := range jobs {
		counts[jobs[i].CreatedAt.Format("2006-01")]++
	}
	return counts, nil
}
