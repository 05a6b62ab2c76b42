package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	jobs        *JobStorage
	chunks      *ChunkStorage
	analyses    *AnalysisStorage
	predictions *PredictionStorage
	feedback    *FeedbackStorage
	artifacts   *ArtifactStorage
	snapshots   *SnapshotStorage
	logger      arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		jobs:        NewJobStorage(db, logger),
		chunks:      NewChunkStorage(db, logger),
		analyses:    NewAnalysisStorage(db, logger),
		predictions: NewPredictionStorage(db, logger),
		feedback:    NewFeedbackStorage(db, logger),
		artifacts:   NewArtifactStorage(db, logger),
		snapshots:   NewSnapshotStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Jobs returns the Job storage interface
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Chunks returns the Chunk storage interface
func (m *Manager) Chunks() interfaces.ChunkStorage {
	return m.chunks
}

// Analyses returns the Analysis storage interface
func (m *Manager) Analyses() interfaces.AnalysisStorage {
	return m.analyses
}

// Predictions returns the Prediction storage interface
func (m *Manager) Predictions() interfaces.PredictionStorage {
	return m.predictions
}

// Feedback returns the Feedback storage interface
func (m *Manager) Feedback() interfaces.FeedbackStorage {
	return m.feedback
}

// Artifacts returns the model Artifact storage interface
func (m *Manager) Artifacts() interfaces.ArtifactStorage {
	return m.artifacts
}

// Snapshots returns the dashboard Snapshot storage interface
func (m *Manager) Snapshots() interfaces.SnapshotStorage {
	return m.snapshots
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// DeleteJobCascade removes the job and every dependent record in one
// transaction. Either the job and all of its chunks, analyses, prediction,
// and feedback disappear together, or nothing does.
func (m *Manager) DeleteJobCascade(ctx context.Context, jobID string) error {
	store := m.db.Store()
	err := store.Badger().Update(func(tx *badgerdb.Txn) error {
		if err := store.TxDeleteMatching(tx, &models.Chunk{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
			return fmt.Errorf("cascade delete chunks: %w", err)
		}
		if err := store.TxDeleteMatching(tx, &models.TextAnalysis{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
			return fmt.Errorf("cascade delete analyses: %w", err)
		}
		if err := store.TxDelete(tx, jobID, &models.Prediction{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("cascade delete prediction: %w", err)
		}
		if err := store.TxDeleteMatching(tx, &models.FeedbackRecord{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
			return fmt.Errorf("cascade delete feedback: %w", err)
		}
		if err := store.TxDelete(tx, jobID, &models.Job{}); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: job %s", common.ErrNotFound, jobID)
			}
			return fmt.Errorf("cascade delete job: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().Str("job_id", jobID).Msg("Job and dependent records deleted")
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
