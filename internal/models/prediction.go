package models

import (
	"math"
	"time"
)

// Lead classification thresholds on the ensemble score.
const (
	HighLeadThreshold   = 75.0
	MediumLeadThreshold = 50.0
)

// Lead classes.
const (
	LeadHigh   = "high"
	LeadMedium = "medium"
	LeadLow    = "low"
)

// ClassifyScore maps a 0-100 score onto a lead class.
func ClassifyScore(score float64) string {
	switch {
	case score >= HighLeadThreshold:
		return LeadHigh
	case score >= MediumLeadThreshold:
		return LeadMedium
	default:
		return LeadLow
	}
}

// ModelVote is one member model's contribution to an ensemble prediction.
type ModelVote struct {
	ModelName  string  `json:"model_name"`
	Version    string  `json:"version"`
	Score      float64 `json:"score"` // 0-100
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Prediction is the scored outcome for one job. Score is 0-100; Class is
// derived from Score by the fixed thresholds.
type Prediction struct {
	JobID       string        `json:"job_id"`
	Score       float64       `json:"score"`
	Class       string        `json:"class"`
	Confidence  float64       `json:"confidence"`
	Votes       []ModelVote   `json:"votes"`
	Features    FeatureVector `json:"features"`

	// Probabilities is the ensemble's weighted class distribution.
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	Strategy    string        `json:"strategy"` // feature strategy used: original | enhanced
	RubricScore float64       `json:"rubric_score,omitempty"`

	// Importance maps feature names to their combined weight in the
	// ensemble decision. Only features that influenced a member appear.
	Importance map[string]float64 `json:"importance,omitempty"`

	Duration    time.Duration `json:"duration"`
	PredictedAt time.Time     `json:"predicted_at"`
}

// IsUncertain reports whether the prediction qualifies for the learning
// loop's uncertainty sweep: low confidence, or member vote scores whose
// standard deviation (on the 0-1 scale) exceeds the disagreement threshold.
func (p *Prediction) IsUncertain(confidenceThreshold, disagreementThreshold float64) bool {
	if p.Confidence < confidenceThreshold {
		return true
	}
	if len(p.Votes) < 2 {
		return false
	}

	mean := 0.0
	for _, v := range p.Votes {
		mean += v.Score
	}
	mean /= float64(len(p.Votes))

	variance := 0.0
	for _, v := range p.Votes {
		d := v.Score - mean
		variance += d * d
	}
	variance /= float64(len(p.Votes))

	return math.Sqrt(variance)/100.0 > disagreementThreshold
}
