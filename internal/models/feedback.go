package models

import (
	"time"

	"github.com/ternarybob/arremate/internal/common"
)

// FeedbackSource distinguishes human labels from pipeline-generated ones.
type FeedbackSource string

const (
	FeedbackSourceUser        FeedbackSource = "user"
	FeedbackSourcePseudoLabel FeedbackSource = "pseudo_label"
)

// FeedbackRecord is one labeled outcome tied back to a prediction. Human
// feedback carries double the training weight of pseudo-labels.
type FeedbackRecord struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	UserID         string         `json:"user_id,omitempty"`
	Source         FeedbackSource `json:"source"`
	PredictedScore float64        `json:"predicted_score"`
	PredictedClass string         `json:"predicted_class"`
	ActualClass    string         `json:"actual_class"` // high | medium | low
	Comment        string         `json:"comment,omitempty"`

	// Answers holds the reviewer's yes/no replies keyed by review
	// question. See AnswerScore.
	Answers map[string]bool `json:"answers,omitempty"`

	Weight    float64   `json:"weight"` // 2.0 for user feedback, 1.0 for pseudo-labels
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserFeedback builds a user-sourced record correcting a prediction.
func NewUserFeedback(jobID, userID, actualClass, comment string, answers map[string]bool, p *Prediction) *FeedbackRecord {
	return &FeedbackRecord{
		ID:             common.NewFeedbackID(),
		JobID:          jobID,
		UserID:         userID,
		Source:         FeedbackSourceUser,
		PredictedScore: p.Score,
		PredictedClass: p.Class,
		ActualClass:    actualClass,
		Comment:        comment,
		Answers:        answers,
		Weight:         2.0,
		CreatedAt:      time.Now().UTC(),
	}
}

// AnswerScore converts the yes/no review answers to the [0,1] scale as
// the fraction answered yes. ok is false when no answers were given.
func (f *FeedbackRecord) AnswerScore() (score float64, ok bool) {
	if len(f.Answers) == 0 {
		return 0, false
	}
	yes := 0
	for _, answer := range f.Answers {
		if answer {
			yes++
		}
	}
	return float64(yes) / float64(len(f.Answers)), true
}

// TrainingWeight returns the sample weight for retraining.
func (f *FeedbackRecord) TrainingWeight() float64 {
	if f.Weight > 0 {
		return f.Weight
	}
	if f.Source == FeedbackSourceUser {
		return 2.0
	}
	return 1.0
}
