package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"gonum.org/v1/gonum/stat"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

const performanceWindow = 7 * 24 * time.Hour

// Service runs the background learning loop: the uncertainty sweep, the
// feedback batch, and scheduled retraining of the ensemble members.
type Service struct {
	storage  interfaces.StorageManager
	registry interfaces.ModelRegistry
	trainers []interfaces.ModelTrainer
	log      *feedbackLog
	config   *common.LearningConfig
	logger   arbor.ILogger

	// retrainMu serializes retrains so two schedules never fit at once.
	retrainMu sync.Mutex

	// swept remembers jobs already flagged this process lifetime so the
	// sweep does not re-request feedback every six hours.
	sweptMu sync.Mutex
	swept   map[string]bool
}

var _ interfaces.LearningService = (*Service)(nil)

func NewService(
	storage interfaces.StorageManager,
	registry interfaces.ModelRegistry,
	trainers []interfaces.ModelTrainer,
	objects interfaces.ObjectStore,
	config *common.LearningConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:  storage,
		registry: registry,
		trainers: trainers,
		log:      &feedbackLog{objects: objects},
		config:   config,
		logger:   logger,
		swept:    make(map[string]bool),
	}
}

// SweepUncertain flags predictions with low confidence or disagreeing
// members and appends a review request for each to the pending queue.
// Returns the number of new requests written.
func (s *Service) SweepUncertain(ctx context.Context) (int, error) {
	predictions, err := s.storage.Predictions().ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("uncertainty sweep: %w", err)
	}

	var requests []FeedbackRequest
	s.sweptMu.Lock()
	for _, p := range predictions {
		if s.swept[p.JobID] {
			continue
		}
		if !p.IsUncertain(s.config.ConfidenceThreshold, s.config.DisagreementThreshold) {
			continue
		}
		s.swept[p.JobID] = true
		requests = append(requests, FeedbackRequest{
			JobID:       p.JobID,
			Score:       p.Score,
			Class:       p.Class,
			Confidence:  p.Confidence,
			Summary:     s.jobSummary(ctx, p.JobID),
			Questions:   reviewQuestions,
			RequestedAt: time.Now().UTC(),
		})
	}
	s.sweptMu.Unlock()

	if err := s.log.appendRequests(ctx, requests); err != nil {
		return 0, err
	}
	if len(requests) > 0 {
		s.logger.Info().Int("flagged", len(requests)).Msg("Uncertainty sweep flagged predictions for review")
	}
	return len(requests), nil
}

func (s *Service) jobSummary(ctx context.Context, jobID string) string {
	aggregate, err := s.storage.Analyses().GetAggregate(ctx, jobID)
	if err != nil {
		return ""
	}
	return aggregate.Summary
}

// ProcessFeedback drains unprocessed feedback. When enough labels have
// accumulated it retrains the ensemble, then archives and marks the
// records processed.
func (s *Service) ProcessFeedback(ctx context.Context) (int, error) {
	pending, err := s.storage.Feedback().ListUnprocessed(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("feedback batch: %w", err)
	}
	if len(pending) < s.config.MinFeedbackForRetrain {
		s.logger.Debug().
			Int("pending", len(pending)).
			Int("required", s.config.MinFeedbackForRetrain).
			Msg("Feedback below retrain threshold")
		return 0, nil
	}

	if _, err := s.Retrain(ctx, "feedback_batch", true); err != nil {
		return 0, err
	}

	if err := s.log.archive(ctx, pending); err != nil {
		return 0, err
	}

	ids := make([]string, len(pending))
	for i, record := range pending {
		ids[i] = record.ID
	}
	if err := s.storage.Feedback().MarkProcessed(ctx, ids); err != nil {
		return 0, fmt.Errorf("feedback batch: %w", err)
	}

	s.logger.Info().Int("processed", len(pending)).Msg("Feedback batch processed")
	return len(pending), nil
}

// Retrain fits every registered trainer on the current dataset. Unless
// force is set, it first checks the auto-retrain conditions: enough new
// samples, estimated performance below the floor, or a stale model.
func (s *Service) Retrain(ctx context.Context, reason string, force bool) (bool, error) {
	s.retrainMu.Lock()
	defer s.retrainMu.Unlock()

	if !force {
		due, why := s.retrainDue(ctx)
		if !due {
			s.logger.Debug().Str("reason", reason).Msg("Retrain conditions not met")
			return false, nil
		}
		reason = why
	}

	samples, feedbackUsed, err := s.buildDataset(ctx)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		s.logger.Warn().Str("reason", reason).Msg("No training samples available, skipping retrain")
		return false, nil
	}

	for _, trainer := range s.trainers {
		model, err := trainer.Train(ctx, samples)
		if err != nil {
			return false, fmt.Errorf("retrain %s: %w", trainer.Name(), err)
		}

		metrics := evaluate(model, samples)
		metrics["mean_confidence"] = s.performanceEstimate(ctx)
		meta := &models.ModelArtifact{
			SampleCount:  len(samples),
			FeedbackUsed: feedbackUsed,
			Metrics:      metrics,
		}
		if err := s.registry.Register(ctx, model, meta); err != nil {
			return false, fmt.Errorf("retrain %s: %w", trainer.Name(), err)
		}
	}

	s.logger.Info().
		Str("reason", reason).
		Int("samples", len(samples)).
		Int("feedback_used", feedbackUsed).
		Msg("Retrained ensemble")
	return true, nil
}

// retrainDue evaluates the auto-retrain conditions against the newest
// forest artifact. A system with no trained model is always due.
func (s *Service) retrainDue(ctx context.Context) (bool, string) {
	latest, err := s.storage.Artifacts().Latest(ctx, models.ModelForest)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return true, "no_trained_model"
		}
		return false, ""
	}

	newSamples, err := s.newSampleCount(ctx, latest.TrainedAt)
	if err == nil && newSamples >= s.config.MinNewSamples {
		return true, "new_samples"
	}

	if perf := s.performanceEstimate(ctx); perf > 0 && perf < s.config.PerformanceFloor {
		return true, "performance_floor"
	}

	age := time.Since(latest.TrainedAt)
	if age > time.Duration(s.config.MaxModelAgeDays)*24*time.Hour {
		return true, "model_age"
	}
	return false, ""
}

func (s *Service) newSampleCount(ctx context.Context, since time.Time) (int, error) {
	predictions, err := s.storage.Predictions().ListAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range predictions {
		if p.PredictedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// performanceEstimate is the mean confidence of the last week of
// predictions. A confidence proxy, not a labeled accuracy; artifact
// metrics record it under mean_confidence.
func (s *Service) performanceEstimate(ctx context.Context) float64 {
	predictions, err := s.storage.Predictions().ListAll(ctx)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-performanceWindow)
	var confs []float64
	for _, p := range predictions {
		if p.PredictedAt.After(cutoff) {
			confs = append(confs, p.Confidence)
		}
	}
	if len(confs) == 0 {
		return 0
	}
	return stat.Mean(confs, nil)
}

// evaluate scores a freshly fitted model against its own training set
// and reports accuracy plus macro-averaged precision, recall, and F1.
// An in-sample estimate, optimistic by construction, but enough to
// compare versions and catch a degenerate fit.
func evaluate(model interfaces.TrainedModel, samples []models.TrainingSample) map[string]float64 {
	classes := []string{models.LeadHigh, models.LeadMedium, models.LeadLow}
	truePos := make(map[string]float64)
	falsePos := make(map[string]float64)
	falseNeg := make(map[string]float64)
	correct := 0

	for _, sample := range samples {
		probs, _ := model.Predict(sample.Features.Slice())
		predicted := ""
		best := -1.0
		for _, class := range classes {
			if p := probs[class]; p > best {
				best = p
				predicted = class
			}
		}
		if predicted == sample.Class {
			correct++
			truePos[predicted]++
		} else {
			falsePos[predicted]++
			falseNeg[sample.Class]++
		}
	}

	metrics := map[string]float64{}
	if len(samples) == 0 {
		return metrics
	}
	metrics["accuracy"] = float64(correct) / float64(len(samples))

	var precisionSum, recallSum, f1Sum float64
	for _, class := range classes {
		precision := 0.0
		if denom := truePos[class] + falsePos[class]; denom > 0 {
			precision = truePos[class] / denom
		}
		recall := 0.0
		if denom := truePos[class] + falseNeg[class]; denom > 0 {
			recall = truePos[class] / denom
		}
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		precisionSum += precision
		recallSum += recall
		f1Sum += f1
	}
	n := float64(len(classes))
	metrics["precision"] = precisionSum / n
	metrics["recall"] = recallSum / n
	metrics["f1"] = f1Sum / n
	return metrics
}

// buildDataset assembles training rows from every stored prediction.
// Jobs with feedback use the reviewed class at double weight; the rest
// are pseudo-labeled with their own predicted class at weight one.
func (s *Service) buildDataset(ctx context.Context) ([]models.TrainingSample, int, error) {
	predictions, err := s.storage.Predictions().ListAll(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("build dataset: %w", err)
	}

	feedback, err := s.storage.Feedback().ListSince(ctx, time.Time{})
	if err != nil {
		return nil, 0, fmt.Errorf("build dataset: %w", err)
	}
	labelByJob := make(map[string]*models.FeedbackRecord, len(feedback))
	for _, record := range feedback {
		// Later records win; ListSince is sorted by CreatedAt.
		labelByJob[record.JobID] = record
	}

	samples := make([]models.TrainingSample, 0, len(predictions))
	feedbackUsed := 0
	for _, p := range predictions {
		sample := models.TrainingSample{Features: p.Features}
		if record, ok := labelByJob[p.JobID]; ok {
			sample.Class = record.ActualClass
			sample.Weight = record.TrainingWeight()
			if score, ok := record.AnswerScore(); ok {
				// Reviewers who answered mostly no temper the label.
				sample.Weight *= 0.5 + score/2
			}
			feedbackUsed++
		} else {
			sample.Class = p.Class
			sample.Weight = 1
		}
		samples = append(samples, sample)
	}
	return samples, feedbackUsed, nil
}
