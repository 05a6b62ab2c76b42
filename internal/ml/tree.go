package ml

import (
	"math/rand"
	"sort"

	"github.com/ternarybob/arremate/internal/models"
)

// treeNode is one node of a serialized decision tree. Leaves carry class
// probability vectors indexed like classes; internal nodes split on
// feature <= threshold.
type treeNode struct {
	Feature   int        `json:"feature,omitempty"`
	Threshold float64    `json:"threshold,omitempty"`
	Left      *treeNode  `json:"left,omitempty"`
	Right     *treeNode  `json:"right,omitempty"`
	Probs     []float64  `json:"probs,omitempty"`
}

func (n *treeNode) isLeaf() bool {
	return n.Left == nil && n.Right == nil
}

func (n *treeNode) predict(row []float64) []float64 {
	node := n
	for !node.isLeaf() {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Probs
}

// trainingRow pairs a feature row with its class index and sample weight.
type trainingRow struct {
	features []float64
	class    int
	weight   float64
}

func toRows(samples []models.TrainingSample) []trainingRow {
	rows := make([]trainingRow, 0, len(samples))
	for _, s := range samples {
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		rows = append(rows, trainingRow{
			features: s.Features.Slice(),
			class:    classIndex(s.Class),
			weight:   w,
		})
	}
	return rows
}

// buildTree grows a depth-limited tree with weighted gini splits on a
// random feature subset per node.
func buildTree(rows []trainingRow, depth, maxDepth, featureSubset int, rng *rand.Rand) *treeNode {
	if len(rows) == 0 {
		return &treeNode{Probs: uniformProbs()}
	}
	if depth >= maxDepth || pure(rows) || len(rows) < 4 {
		return &treeNode{Probs: classProbs(rows)}
	}

	feature, threshold, ok := bestSplit(rows, featureSubset, rng)
	if !ok {
		return &treeNode{Probs: classProbs(rows)}
	}

	var left, right []trainingRow
	for _, r := range rows {
		if r.features[feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Probs: classProbs(rows)}
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(left, depth+1, maxDepth, featureSubset, rng),
		Right:     buildTree(right, depth+1, maxDepth, featureSubset, rng),
	}
}

func pure(rows []trainingRow) bool {
	for _, r := range rows[1:] {
		if r.class != rows[0].class {
			return false
		}
	}
	return true
}

func uniformProbs() []float64 {
	p := make([]float64, len(classes))
	for i := range p {
		p[i] = 1 / float64(len(classes))
	}
	return p
}

func classProbs(rows []trainingRow) []float64 {
	probs := make([]float64, len(classes))
	total := 0.0
	for _, r := range rows {
		probs[r.class] += r.weight
		total += r.weight
	}
	if total == 0 {
		return uniformProbs()
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// bestSplit scans a random feature subset for the lowest weighted gini.
func bestSplit(rows []trainingRow, featureSubset int, rng *rand.Rand) (int, float64, bool) {
	dims := len(rows[0].features)
	perm := rng.Perm(dims)
	if featureSubset > 0 && featureSubset < dims {
		perm = perm[:featureSubset]
	}

	bestFeature, bestThreshold := -1, 0.0
	bestScore := gini(rows)

	for _, feature := range perm {
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

			var left, right []trainingRow
			for _, r := range rows {
				if r.features[feature] <= threshold {
					left = append(left, r)
				} else {
					right = append(right, r)
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}

			score := (weightOf(left)*gini(left) + weightOf(right)*gini(right)) / weightOf(rows)
			if score < bestScore {
				bestScore, bestFeature, bestThreshold = score, feature, threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(rows []trainingRow) float64 {
	probs := classProbs(rows)
	impurity := 1.0
	for _, p := range probs {
		impurity -= p * p
	}
	return impurity
}

func weightOf(rows []trainingRow) float64 {
	total := 0.0
	for _, r := range rows {
		total += r.weight
	}
	return total
}
