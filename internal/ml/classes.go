package ml

import "github.com/ternarybob/arremate/internal/models"

// classes in fixed index order used by every model.
var classes = []string{models.LeadLow, models.LeadMedium, models.LeadHigh}

// classTargets maps a lead class onto its representative score. The
// classifier's expectation score and the regressor's training targets both
// come from this table.
var classTargets = map[string]float64{
	models.LeadLow:    20,
	models.LeadMedium: 60,
	models.LeadHigh:   90,
}

func classIndex(class string) int {
	for i, c := range classes {
		if c == class {
			return i
		}
	}
	return 1 // default medium
}

// expectationScore converts class probabilities into a 0-100 score:
// 20*P(low) + 60*P(medium) + 90*P(high).
func expectationScore(probs map[string]float64) float64 {
	score := 0.0
	for class, p := range probs {
		score += classTargets[class] * p
	}
	return score
}

// scoreDistribution derives class probabilities from a regression score by
// a fixed piecewise table. The regressor has no native class output; this
// keeps its votes comparable with the classifier's.
func scoreDistribution(score float64) map[string]float64 {
	switch {
	case score >= models.HighLeadThreshold:
		return map[string]float64{models.LeadLow: 0.05, models.LeadMedium: 0.15, models.LeadHigh: 0.80}
	case score >= models.MediumLeadThreshold:
		return map[string]float64{models.LeadLow: 0.15, models.LeadMedium: 0.70, models.LeadHigh: 0.15}
	case score >= 30:
		return map[string]float64{models.LeadLow: 0.60, models.LeadMedium: 0.30, models.LeadHigh: 0.10}
	default:
		return map[string]float64{models.LeadLow: 0.85, models.LeadMedium: 0.10, models.LeadHigh: 0.05}
	}
}

func clipScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
