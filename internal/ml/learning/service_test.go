package learning

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/ml"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
	"github.com/ternarybob/arremate/internal/storage/badger"
)

type fixture struct {
	storage *badger.Manager
	objects *objectstore.FilesystemStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	store, err := objectstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	registry := ml.NewRegistry(manager.Artifacts(), store, logger)
	trainers := []interfaces.ModelTrainer{
		ml.NewForestTrainer(11),
		ml.NewBoostingTrainer(),
	}

	cfg := common.NewDefaultConfig().Learning
	service := NewService(manager, registry, trainers, store, &cfg, logger)
	return &fixture{storage: manager, objects: store, service: service}
}

func storedPrediction(jobID string, score, confidence float64, at time.Time) *models.Prediction {
	return &models.Prediction{
		JobID:      jobID,
		Score:      score,
		Class:      models.ClassifyScore(score),
		Confidence: confidence,
		Features: models.FeatureVector{
			TextLength:   score * 100,
			AuctionScore: score / 100,
			LangPT:       0.9,
		},
		PredictedAt: at,
	}
}

func TestSweepFlagsLowConfidenceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction("job_a", 55, 0.2, now)))
	require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction("job_b", 80, 0.9, now)))

	flagged, err := f.service.SweepUncertain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)

	// A second sweep does not re-flag the same job.
	flagged, err = f.service.SweepUncertain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, flagged)

	// The request landed in the pending queue with the questionnaire.
	key := fmt.Sprintf("feedback/%s.jsonl", now.Format("2006-01"))
	rc, err := f.objects.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	require.True(t, scanner.Scan())
	var request FeedbackRequest
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &request))
	assert.Equal(t, "job_a", request.JobID)
	assert.Len(t, request.Questions, 3)
	assert.False(t, scanner.Scan())
}

func TestSweepFlagsMemberDisagreement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := storedPrediction("job_split", 60, 0.8, time.Now().UTC())
	p.Votes = []models.ModelVote{
		{ModelName: models.ModelForest, Score: 85, Weight: 0.6},
		{ModelName: models.ModelBoosting, Score: 40, Weight: 0.4},
	}
	require.NoError(t, f.storage.Predictions().Store(ctx, p))

	flagged, err := f.service.SweepUncertain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
}

func TestProcessFeedbackBelowThresholdIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.storage.Feedback().Store(ctx, &models.FeedbackRecord{
		ID: "fb_1", JobID: "job_a", Source: models.FeedbackSourceUser, ActualClass: models.LeadHigh,
	}))

	processed, err := f.service.ProcessFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	remaining, err := f.storage.Feedback().CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestProcessFeedbackRetrainsAndArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 30; i++ {
		jobID := fmt.Sprintf("job_%02d", i)
		score := 30.0
		if i%2 == 0 {
			score = 85
		}
		require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction(jobID, score, 0.8, now)))
	}
	for i := 0; i < 20; i++ {
		class := models.LeadLow
		if i%2 == 0 {
			class = models.LeadHigh
		}
		require.NoError(t, f.storage.Feedback().Store(ctx, &models.FeedbackRecord{
			ID:          fmt.Sprintf("fb_%02d", i),
			JobID:       fmt.Sprintf("job_%02d", i),
			Source:      models.FeedbackSourceUser,
			ActualClass: class,
		}))
	}

	processed, err := f.service.ProcessFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, processed)

	remaining, err := f.storage.Feedback().CountUnprocessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// Both members got a fresh version.
	forest, err := f.storage.Artifacts().Latest(ctx, models.ModelForest)
	require.NoError(t, err)
	assert.Equal(t, "v1", forest.Version)
	assert.Equal(t, 30, forest.SampleCount)
	assert.Equal(t, 20, forest.FeedbackUsed)
	for _, metric := range []string{"accuracy", "precision", "recall", "f1"} {
		require.Contains(t, forest.Metrics, metric)
		assert.GreaterOrEqual(t, forest.Metrics[metric], 0.0)
		assert.LessOrEqual(t, forest.Metrics[metric], 1.0)
	}

	_, err = f.storage.Artifacts().Latest(ctx, models.ModelBoosting)
	require.NoError(t, err)

	// Processed feedback was archived.
	archived, err := f.objects.List(ctx, "feedback/processed/")
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestBuildDatasetScalesWeightByReviewAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction("job_a", 80, 0.9, time.Now().UTC())))
	require.NoError(t, f.storage.Feedback().Store(ctx, &models.FeedbackRecord{
		ID: "fb_a", JobID: "job_a", Source: models.FeedbackSourceUser, ActualClass: models.LeadHigh,
		Answers: map[string]bool{"edital_valido": true, "oportunidade_real": false},
	}))

	samples, used, err := f.service.buildDataset(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, used)
	require.Len(t, samples, 1)

	// User weight 2.0 scaled by 0.75 for a half-yes questionnaire.
	assert.InDelta(t, 1.5, samples[0].Weight, 1e-9)
}

type constantClassModel struct{ class string }

func (m constantClassModel) Name() string    { return "constant" }
func (m constantClassModel) Version() string { return "v0" }
func (m constantClassModel) Predict(features []float64) (map[string]float64, float64) {
	return map[string]float64{m.class: 1}, 1
}

func TestEvaluateTrainingMetrics(t *testing.T) {
	samples := []models.TrainingSample{
		{Class: models.LeadHigh},
		{Class: models.LeadHigh},
		{Class: models.LeadHigh},
		{Class: models.LeadLow},
	}

	metrics := evaluate(constantClassModel{class: models.LeadHigh}, samples)

	assert.InDelta(t, 0.75, metrics["accuracy"], 1e-9)
	// Macro averages over high, medium, low: only the high class scores.
	assert.InDelta(t, 0.25, metrics["precision"], 1e-9)
	assert.InDelta(t, 1.0/3.0, metrics["recall"], 1e-9)
	assert.InDelta(t, (2*0.75*1.0/1.75)/3.0, metrics["f1"], 1e-9)
}

func TestRetrainDueWithoutModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction("job_a", 80, 0.8, time.Now().UTC())))
	require.NoError(t, f.storage.Predictions().Store(ctx, storedPrediction("job_b", 20, 0.8, time.Now().UTC())))

	trained, err := f.service.Retrain(ctx, "daily", false)
	require.NoError(t, err)
	assert.True(t, trained)
}

func TestRetrainSkipsWhenFreshAndQuiet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Healthy recent predictions and a model trained after them.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.storage.Predictions().Store(ctx,
			storedPrediction(fmt.Sprintf("job_%d", i), 80, 0.95, time.Now().UTC().Add(-time.Hour))))
	}
	trained, err := f.service.Retrain(ctx, "bootstrap", true)
	require.NoError(t, err)
	require.True(t, trained)

	trained, err = f.service.Retrain(ctx, "daily", false)
	require.NoError(t, err)
	assert.False(t, trained)
}

func TestRetrainWithNoSamples(t *testing.T) {
	f := newFixture(t)

	trained, err := f.service.Retrain(context.Background(), "daily", true)
	require.NoError(t, err)
	assert.False(t, trained)
}
