package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

const (
	boostingRounds       = 60
	boostingLearningRate = 0.1
)

// stump is one boosting round: a single-split regressor on the residuals.
type stump struct {
	Feature    int     `json:"feature"`
	Threshold  float64 `json:"threshold"`
	LeftValue  float64 `json:"left_value"`
	RightValue float64 `json:"right_value"`
}

func (s *stump) predict(row []float64) float64 {
	if row[s.Feature] <= s.Threshold {
		return s.LeftValue
	}
	return s.RightValue
}

// BoostingModel is a gradient-boosted stump regressor trained on the
// class score targets. Its raw output is clipped to [0, 100] and mapped
// back to class probabilities by the fixed piecewise table.
type BoostingModel struct {
	ModelName    string  `json:"name"`
	ModelVersion string  `json:"version"`
	BasePred     float64 `json:"base_pred"`
	LearningRate float64 `json:"learning_rate"`
	Stumps       []stump `json:"stumps"`
}

var _ interfaces.TrainedModel = (*BoostingModel)(nil)

func (m *BoostingModel) Name() string    { return m.ModelName }
func (m *BoostingModel) Version() string { return m.ModelVersion }

// Score runs the additive model and clips to the score range.
func (m *BoostingModel) Score(features []float64) float64 {
	pred := m.BasePred
	for i := range m.Stumps {
		pred += m.LearningRate * m.Stumps[i].predict(features)
	}
	return clipScore(pred)
}

func (m *BoostingModel) Predict(features []float64) (map[string]float64, float64) {
	score := m.Score(features)
	probs := scoreDistribution(score)

	// Confidence grows with distance from the nearest class boundary.
	confidence := boundaryConfidence(score)
	return probs, confidence
}

// boundaryConfidence maps distance from the 50 and 75 score boundaries
// into [0.3, 0.9]. Scores sitting on a boundary are the least certain.
func boundaryConfidence(score float64) float64 {
	nearest := math.Min(
		math.Abs(score-models.MediumLeadThreshold),
		math.Abs(score-models.HighLeadThreshold),
	)
	confidence := 0.3 + nearest/25*0.6
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}

// Importance weighs each feature by the magnitude of the stump splits
// that use it, normalized to sum to 1.
func (m *BoostingModel) Importance() map[string]float64 {
	counts := make([]float64, models.FeatureDimensions)
	total := 0.0
	for i := range m.Stumps {
		s := &m.Stumps[i]
		mag := math.Abs(s.LeftValue - s.RightValue)
		counts[s.Feature] += mag
		total += mag
	}
	return importanceMap(counts, total)
}

// BoostingTrainer fits BoostingModel versions by least-squares gradient
// boosting against the class targets.
type BoostingTrainer struct{}

var _ interfaces.ModelTrainer = (*BoostingTrainer)(nil)

func NewBoostingTrainer() *BoostingTrainer {
	return &BoostingTrainer{}
}

func (t *BoostingTrainer) Name() string { return models.ModelBoosting }

func (t *BoostingTrainer) Train(ctx context.Context, samples []models.TrainingSample) (interfaces.TrainedModel, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("boosting: no training samples")
	}

	rows := toRows(samples)
	targets := make([]float64, len(rows))
	for i, r := range rows {
		targets[i] = classTargets[classes[r.class]]
	}

	base := weightedMean(rows, targets)
	model := &BoostingModel{
		ModelName:    models.ModelBoosting,
		BasePred:     base,
		LearningRate: boostingLearningRate,
		Stumps:       make([]stump, 0, boostingRounds),
	}

	preds := make([]float64, len(rows))
	for i := range preds {
		preds[i] = base
	}

	residuals := make([]float64, len(rows))
	for round := 0; round < boostingRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range rows {
			residuals[i] = targets[i] - preds[i]
		}

		s, ok := fitStump(rows, residuals)
		if !ok {
			break
		}
		model.Stumps = append(model.Stumps, s)
		for i, r := range rows {
			preds[i] += boostingLearningRate * s.predict(r.features)
		}
	}

	return model, nil
}

func weightedMean(rows []trainingRow, values []float64) float64 {
	sum, total := 0.0, 0.0
	for i, r := range rows {
		sum += r.weight * values[i]
		total += r.weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// fitStump finds the single split minimizing weighted squared error on
// the residuals. Scans every feature; stumps are cheap.
func fitStump(rows []trainingRow, residuals []float64) (stump, bool) {
	dims := len(rows[0].features)
	best := stump{Feature: -1}
	bestErr := math.Inf(1)

	for feature := 0; feature < dims; feature++ {
		values := make([]float64, 0, len(rows))
		for _, r := range rows {
			values = append(values, r.features[feature])
		}
		sort.Float64s(values)

		for i := 1; i < len(values); i++ {
			if values[i] == values[i-1] {
				continue
			}
			threshold := (values[i] + values[i-1]) / 2

			var leftSum, leftW, rightSum, rightW float64
			for j, r := range rows {
				if r.features[feature] <= threshold {
					leftSum += r.weight * residuals[j]
					leftW += r.weight
				} else {
					rightSum += r.weight * residuals[j]
					rightW += r.weight
				}
			}
			if leftW == 0 || rightW == 0 {
				continue
			}
			leftVal, rightVal := leftSum/leftW, rightSum/rightW

			sqErr := 0.0
			for j, r := range rows {
				var pred float64
				if r.features[feature] <= threshold {
					pred = leftVal
				} else {
					pred = rightVal
				}
				d := residuals[j] - pred
				sqErr += r.weight * d * d
			}
			if sqErr < bestErr {
				bestErr = sqErr
				best = stump{Feature: feature, Threshold: threshold, LeftValue: leftVal, RightValue: rightVal}
			}
		}
	}

	return best, best.Feature >= 0
}

func decodeBoosting(data []byte) (*BoostingModel, error) {
	var m BoostingModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("boosting: decode model: %w", err)
	}
	if len(m.Stumps) == 0 && m.BasePred == 0 {
		return nil, fmt.Errorf("boosting: model %s is empty", m.ModelVersion)
	}
	return &m, nil
}
