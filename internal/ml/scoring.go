package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"gonum.org/v1/gonum/stat"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/services/features"
)

// Ensemble member weights before renormalization.
const (
	forestWeight   = 0.6
	boostingWeight = 0.4
)

// Rubric blend weights for enhanced mode, gated on extraction confidence.
const (
	rubricWeightConfident = 0.7
	rubricWeightDefault   = 0.4
	rubricConfidenceGate  = 70.0
)

// Scorer runs the weighted model ensemble over a job's feature vector.
// With no trained models it degrades to a fixed dummy prediction so the
// pipeline completes end to end on a fresh install.
type Scorer struct {
	registry interfaces.ModelRegistry
	logger   arbor.ILogger
}

var _ interfaces.ScoringService = (*Scorer)(nil)

func NewScorer(registry interfaces.ModelRegistry, logger arbor.ILogger) *Scorer {
	return &Scorer{registry: registry, logger: logger}
}

func (s *Scorer) Score(ctx context.Context, jobID string, fv *models.FeatureVector, enhanced *interfaces.EnhancedSignals) (*models.Prediction, error) {
	if fv == nil {
		return nil, fmt.Errorf("%w: missing feature vector for job %s", common.ErrValidation, jobID)
	}
	start := time.Now()
	row := fv.Slice()

	votes, importance, distribution, err := s.memberVotes(ctx, row)
	if err != nil {
		return nil, err
	}

	pred := &models.Prediction{
		JobID:       jobID,
		Features:    *fv,
		Strategy:    features.StrategyOriginal,
		Importance:  importance,
		PredictedAt: time.Now().UTC(),
	}

	if len(votes) == 0 {
		// Untrained system: fixed neutral prediction.
		pred.Score = 50
		pred.Confidence = 0.5
		pred.Class = models.LeadMedium
		pred.Probabilities = map[string]float64{
			models.LeadHigh:   0.25,
			models.LeadMedium: 0.5,
			models.LeadLow:    0.25,
		}
		pred.Duration = time.Since(start)
		s.logger.Debug().Str("job_id", jobID).Msg("No trained models, returning dummy prediction")
		return pred, nil
	}

	scores := make([]float64, len(votes))
	confs := make([]float64, len(votes))
	weights := make([]float64, len(votes))
	for i, v := range votes {
		scores[i] = v.Score
		confs[i] = v.Confidence
		weights[i] = v.Weight
	}

	pred.Votes = votes
	pred.Score = clipScore(stat.Mean(scores, weights))
	pred.Confidence = stat.Mean(confs, weights)
	pred.Probabilities = distribution

	if enhanced != nil {
		pred.Strategy = features.StrategyEnhanced
		pred.RubricScore = enhanced.RubricScore

		w := rubricWeightDefault
		if enhanced.ExtractionConfidence > rubricConfidenceGate {
			w = rubricWeightConfident
		}
		pred.Score = clipScore(w*enhanced.RubricScore + (1-w)*pred.Score)
	}

	pred.Class = models.ClassifyScore(pred.Score)
	pred.Duration = time.Since(start)

	s.logger.Info().
		Str("job_id", jobID).
		Float64("score", pred.Score).
		Str("class", pred.Class).
		Float64("confidence", pred.Confidence).
		Int("members", len(votes)).
		Msg("Scored job")
	return pred, nil
}

// memberVotes collects one vote per available model. Weights are the
// fixed member weights renormalized over the models actually present.
// The returned distribution is the weight-blended per-class probability
// map across members.
func (s *Scorer) memberVotes(ctx context.Context, row []float64) ([]models.ModelVote, map[string]float64, map[string]float64, error) {
	type member struct {
		name   string
		weight float64
	}
	wanted := []member{
		{models.ModelForest, forestWeight},
		{models.ModelBoosting, boostingWeight},
	}

	var votes []models.ModelVote
	importance := make(map[string]float64)
	distribution := make(map[string]float64)
	totalWeight := 0.0

	for _, m := range wanted {
		model, meta, err := s.registry.Active(ctx, m.name)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return nil, nil, nil, fmt.Errorf("scoring: load %s: %w", m.name, err)
		}

		probs, confidence := model.Predict(row)
		for class, p := range probs {
			distribution[class] += m.weight * p
		}

		// Classifiers vote with the probability-expectation score; the
		// regressor votes with its own clipped output.
		score := clipScore(expectationScore(probs))
		if reg, ok := model.(interface{ Score([]float64) float64 }); ok {
			score = reg.Score(row)
		}

		votes = append(votes, models.ModelVote{
			ModelName:  m.name,
			Version:    meta.Version,
			Score:      score,
			Confidence: confidence,
			Weight:     m.weight,
		})
		totalWeight += m.weight

		if ip, ok := model.(interface{ Importance() map[string]float64 }); ok {
			for feature, v := range ip.Importance() {
				importance[feature] += m.weight * v
			}
		}
	}

	if totalWeight > 0 {
		for i := range votes {
			votes[i].Weight /= totalWeight
		}
		for feature := range importance {
			importance[feature] /= totalWeight
		}
		for class := range distribution {
			distribution[class] /= totalWeight
		}
	}
	if len(importance) == 0 {
		importance = nil
	}
	if len(distribution) == 0 {
		distribution = nil
	}
	return votes, importance, distribution, nil
}
