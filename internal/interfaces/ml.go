package interfaces

import (
	"context"

	"github.com/ternarybob/arremate/internal/models"
)

// TrainedModel - one immutable fitted model version
type TrainedModel interface {
	Name() string
	Version() string

	// Predict returns class probabilities {high, medium, low} and a
	// confidence for one feature row.
	Predict(features []float64) (probs map[string]float64, confidence float64)
}

// ModelTrainer - fits a new model version from weighted samples
type ModelTrainer interface {
	Name() string
	Train(ctx context.Context, samples []models.TrainingSample) (TrainedModel, error)
}

// ModelRegistry - versioned storage of trained models. Versions are
// immutable once registered; handles returned by Active never change
// behavior mid-scoring.
type ModelRegistry interface {
	Register(ctx context.Context, model TrainedModel, meta *models.ModelArtifact) error
	Active(ctx context.Context, name string) (TrainedModel, *models.ModelArtifact, error)
	Load(ctx context.Context, name, version string) (TrainedModel, error)
	Versions(ctx context.Context, name string) ([]*models.ModelArtifact, error)
}

// EnhancedSignals - extra inputs available when the enhanced feature
// strategy produced the vector
type EnhancedSignals struct {
	RubricScore          float64 // 0-100 from the fixed five-axis rubric
	ExtractionConfidence float64 // 0-100 quality estimate of the analysis
}

// ScoringService - runs the weighted ensemble over a job's features.
// enhanced is nil when the original strategy was used.
type ScoringService interface {
	Score(ctx context.Context, jobID string, features *models.FeatureVector, enhanced *EnhancedSignals) (*models.Prediction, error)
}

// LearningService - background improvement loop
type LearningService interface {
	// SweepUncertain flags low-confidence predictions for review.
	SweepUncertain(ctx context.Context) (int, error)

	// ProcessFeedback drains unprocessed feedback into the training log.
	ProcessFeedback(ctx context.Context) (int, error)

	// Retrain fits and registers new model versions when the retrain
	// conditions hold, or unconditionally when force is set.
	Retrain(ctx context.Context, reason string, force bool) (bool, error)
}

// DashboardService - read-through cached operational aggregates
type DashboardService interface {
	// Stats returns the snapshot for one scope: an empty userID covers
	// all tenants, a non-empty one only that user's jobs and leads.
	Stats(ctx context.Context, userID string) (*models.DashboardSnapshot, error)
	Invalidate()
}
