package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

const (
	forestTrees         = 25
	forestMaxDepth      = 8
	forestFeatureSubset = 7 // roughly sqrt of the vector width
)

// DefaultForestSeed keeps production training runs reproducible.
const DefaultForestSeed int64 = 1337

// ForestModel is a bagged ensemble of gini trees over the fixed feature
// vector. It is the classifier member of the scoring ensemble.
type ForestModel struct {
	ModelName    string      `json:"name"`
	ModelVersion string      `json:"version"`
	Seed         int64       `json:"seed"`
	Trees        []*treeNode `json:"trees"`
}

var _ interfaces.TrainedModel = (*ForestModel)(nil)

func (m *ForestModel) Name() string    { return m.ModelName }
func (m *ForestModel) Version() string { return m.ModelVersion }

// Predict averages per-tree class distributions. Confidence is the top
// class probability rescaled against a uniform vote.
func (m *ForestModel) Predict(features []float64) (map[string]float64, float64) {
	sums := make([]float64, len(classes))
	for _, tree := range m.Trees {
		probs := tree.predict(features)
		for i, p := range probs {
			sums[i] += p
		}
	}

	probs := make(map[string]float64, len(classes))
	top := 0.0
	for i, class := range classes {
		p := sums[i] / float64(len(m.Trees))
		probs[class] = p
		if p > top {
			top = p
		}
	}

	// A uniform vote (top == 1/3) means zero confidence.
	uniform := 1 / float64(len(classes))
	confidence := (top - uniform) / (1 - uniform)
	if confidence < 0 {
		confidence = 0
	}
	return probs, confidence
}

// Importance counts how often each feature is used as a split across the
// forest, normalized to sum to 1.
func (m *ForestModel) Importance() map[string]float64 {
	counts := make([]float64, models.FeatureDimensions)
	total := 0.0
	for _, tree := range m.Trees {
		walkSplits(tree, func(feature int) {
			counts[feature]++
			total++
		})
	}
	return importanceMap(counts, total)
}

func walkSplits(n *treeNode, visit func(feature int)) {
	if n == nil || n.isLeaf() {
		return
	}
	visit(n.Feature)
	walkSplits(n.Left, visit)
	walkSplits(n.Right, visit)
}

func importanceMap(counts []float64, total float64) map[string]float64 {
	out := make(map[string]float64)
	if total == 0 {
		return out
	}
	names := models.FeatureNames()
	for i, c := range counts {
		if c > 0 {
			out[names[i]] = c / total
		}
	}
	return out
}

// ForestTrainer fits ForestModel versions with bootstrap sampling. The
// seed is fixed per trainer so retrains on the same data reproduce the
// same model.
type ForestTrainer struct {
	seed int64
}

var _ interfaces.ModelTrainer = (*ForestTrainer)(nil)

func NewForestTrainer(seed int64) *ForestTrainer {
	return &ForestTrainer{seed: seed}
}

func (t *ForestTrainer) Name() string { return models.ModelForest }

func (t *ForestTrainer) Train(ctx context.Context, samples []models.TrainingSample) (interfaces.TrainedModel, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("forest: no training samples")
	}
	rows := toRows(samples)
	rng := rand.New(rand.NewSource(t.seed))

	model := &ForestModel{
		ModelName: models.ModelForest,
		Seed:      t.seed,
		Trees:     make([]*treeNode, 0, forestTrees),
	}

	for i := 0; i < forestTrees; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		boot := bootstrap(rows, rng)
		model.Trees = append(model.Trees, buildTree(boot, 0, forestMaxDepth, forestFeatureSubset, rng))
	}
	return model, nil
}

// bootstrap draws len(rows) rows with replacement, weight-preserving.
func bootstrap(rows []trainingRow, rng *rand.Rand) []trainingRow {
	out := make([]trainingRow, len(rows))
	for i := range out {
		out[i] = rows[rng.Intn(len(rows))]
	}
	return out
}

func decodeForest(data []byte) (*ForestModel, error) {
	var m ForestModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("forest: decode model: %w", err)
	}
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("forest: model %s has no trees", m.ModelVersion)
	}
	return &m, nil
}
