package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/arremate/internal/models"
)

// JobStorage - persistence for job lifecycle records
type JobStorage interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id string) error

	// CompareAndSetStatus atomically moves the job from one status to
	// another. It fails with a state error when the stored status no
	// longer matches expected.
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.JobStatus) (*models.Job, error)

	// UpdateProgress persists only the progress fields, leaving status
	// and the rest of the row to concurrent writers.
	UpdateProgress(ctx context.Context, id string, progress models.Progress) error

	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	// CountByMonth buckets jobs by creation month ("2006-01"); an empty
	// ownerID covers all tenants.
	CountByMonth(ctx context.Context, ownerID string) (map[string]int, error)
}

// ChunkStorage - persistence for extracted page-window chunks
type ChunkStorage interface {
	Store(ctx context.Context, chunk *models.Chunk) error
	Get(ctx context.Context, jobID string, index int) (*models.Chunk, error)
	GetByPage(ctx context.Context, jobID string, page int) ([]*models.Chunk, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.Chunk, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
	DeleteByJob(ctx context.Context, jobID string) error
}

// AnalysisStorage - persistence for per-chunk and aggregate text analyses
type AnalysisStorage interface {
	Store(ctx context.Context, analysis *models.TextAnalysis) error
	Get(ctx context.Context, jobID string, chunkIndex int) (*models.TextAnalysis, error)
	GetAggregate(ctx context.Context, jobID string) (*models.TextAnalysis, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.TextAnalysis, error)
	DeleteByJob(ctx context.Context, jobID string) error
}

// PredictionStorage - persistence for ensemble scoring results
type PredictionStorage interface {
	Store(ctx context.Context, prediction *models.Prediction) error
	Get(ctx context.Context, jobID string) (*models.Prediction, error)
	ListUncertain(ctx context.Context, confidenceThreshold float64, limit int) ([]*models.Prediction, error)
	ListAll(ctx context.Context) ([]*models.Prediction, error)
	Delete(ctx context.Context, jobID string) error
}

// FeedbackStorage - persistence for labeled outcomes feeding retraining
type FeedbackStorage interface {
	Store(ctx context.Context, record *models.FeedbackRecord) error
	Get(ctx context.Context, id string) (*models.FeedbackRecord, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*models.FeedbackRecord, error)
	ListSince(ctx context.Context, cutoff time.Time) ([]*models.FeedbackRecord, error)
	MarkProcessed(ctx context.Context, ids []string) error
	CountUnprocessed(ctx context.Context) (int, error)
	DeleteByJob(ctx context.Context, jobID string) error
}

// ArtifactStorage - registry index of trained model versions
type ArtifactStorage interface {
	Store(ctx context.Context, artifact *models.ModelArtifact) error
	Get(ctx context.Context, name, version string) (*models.ModelArtifact, error)
	Latest(ctx context.Context, name string) (*models.ModelArtifact, error)
	ListVersions(ctx context.Context, name string) ([]*models.ModelArtifact, error)
}

// SnapshotStorage - cached dashboard aggregates, one row per scope
type SnapshotStorage interface {
	Store(ctx context.Context, snapshot *models.DashboardSnapshot) error
	Get(ctx context.Context, scope string) (*models.DashboardSnapshot, error)
}

// StorageManager - owns the badger connection and hands out typed stores
type StorageManager interface {
	Jobs() JobStorage
	Chunks() ChunkStorage
	Analyses() AnalysisStorage
	Predictions() PredictionStorage
	Feedback() FeedbackStorage
	Artifacts() ArtifactStorage
	Snapshots() SnapshotStorage

	// DeleteJobCascade removes the job record and every dependent record
	// (chunks, analyses, prediction, feedback) in one transaction.
	DeleteJobCascade(ctx context.Context, jobID string) error

	Close() error
}
