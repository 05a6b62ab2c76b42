package models

import "time"

// Model names known to the registry.
const (
	ModelForest   = "forest"
	ModelBoosting = "boosting"
)

// ModelArtifact describes one immutable trained model version held in the
// registry. The serialized parameters live in the object store under
// models/{name}/{version}/model.json; the artifact record is the index entry.
type ModelArtifact struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"` // Monotonic, e.g. v17
	StorageKey   string             `json:"storage_key"`
	Dimensions   int                `json:"dimensions"`
	TrainedAt    time.Time          `json:"trained_at"`
	SampleCount  int                `json:"sample_count"`
	FeedbackUsed int                `json:"feedback_used"`
	Metrics      map[string]float64 `json:"metrics,omitempty"` // accuracy, mean_confidence, etc.
}

// Key returns the composite registry key "{name}:{version}".
func (m *ModelArtifact) Key() string {
	return m.Name + ":" + m.Version
}

// TrainingSample is one labeled row used to fit a model version.
type TrainingSample struct {
	Features FeatureVector `json:"features"`
	Class    string        `json:"class"` // high | medium | low
	Weight   float64       `json:"weight"`
}
