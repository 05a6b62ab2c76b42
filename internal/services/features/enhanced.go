package features

import (
	"strings"

	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// Enhanced is the richer feature strategy. It starts from the original
// vector, then reweights the judgment scores by entity confidence and point
// priority so documents with strong, well-anchored findings separate from
// keyword-only noise. Selected per job via the enhanced_analysis option.
type Enhanced struct {
	base *Original
}

var _ interfaces.FeatureStrategy = (*Enhanced)(nil)

func NewEnhanced() *Enhanced {
	return &Enhanced{base: NewOriginal()}
}

func (e *Enhanced) Name() string {
	return StrategyEnhanced
}

func (e *Enhanced) Extract(analysis *models.TextAnalysis, fullText string) *models.FeatureVector {
	f := e.base.Extract(analysis, fullText)

	conf := meanEntityConfidence(analysis.Entities)

	// Confidence-weighted judgment scores. Raw counts stay untouched so
	// the vector remains comparable across strategies.
	f.AuctionScore = blendConfidence(f.AuctionScore, conf)
	f.LegalComplianceScore = blendConfidence(f.LegalComplianceScore, conf)
	f.InvestmentViabilityScore = blendConfidence(f.InvestmentViabilityScore, conf)
	f.AuctionUrgencyScore = blendConfidence(f.AuctionUrgencyScore, conf)

	// High-priority alerts raise the risk signal beyond keyword density.
	for _, p := range analysis.Points {
		if p.Status == models.PointStatusAlert && p.Priority == models.PriorityHigh {
			f.RiskLevelScore += 0.15
		}
	}
	if f.RiskLevelScore > 1 {
		f.RiskLevelScore = 1
	}

	return f
}

// ExtractionConfidence is the 0-100 quality estimate of what the analyzer
// pulled out of the document. It gates the rubric blend weight in scoring.
func (e *Enhanced) ExtractionConfidence(analysis *models.TextAnalysis, fullText string) float64 {
	score := 0.0

	// Anchored findings are the strongest signal.
	anchored := 0
	for _, p := range analysis.Points {
		if p.Page > 0 {
			anchored++
		}
	}
	score += saturate(anchored, 6) * 40

	score += meanEntityConfidence(analysis.Entities) * 30

	if analysis.LanguageConf > 0 {
		score += analysis.LanguageConf * 15
	}
	if len(strings.TrimSpace(fullText)) > 500 {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Rubric scores an analysis on the five fixed axes:
// financial attractiveness 0-30, legal quality 0-25, document quality 0-20,
// opportunity 0-15, risk mitigation 0-10. Total 0-100.
func (e *Enhanced) Rubric(analysis *models.TextAnalysis, f *models.FeatureVector) float64 {
	score := 0.0

	// Financial attractiveness.
	fin := 0.0
	if f.HasFinancialValues > 0 {
		fin += 10
	}
	if f.MaxFinancialValue > 50000 {
		fin += 10
	}
	fin += saturate(int(f.FinancialKeywordCount), 10) * 10
	score += clampAxis(fin, 30)

	// Legal quality.
	legal := f.LegalComplianceScore * 15
	legal += saturate(int(f.LegalAuthorityMention), 5) * 10
	score += clampAxis(legal, 25)

	// Document quality.
	doc := f.Readability * 8
	doc += saturate(int(f.EntityCount), 15) * 12
	score += clampAxis(doc, 20)

	// Opportunity.
	opp := f.InvestmentViabilityScore * 10
	opp += saturate(int(f.DiscountIndicators), 3) * 5
	score += clampAxis(opp, 15)

	// Risk mitigation: fewer risk signals score higher.
	score += clampAxis((1-f.RiskLevelScore)*10, 10)

	return score
}

func meanEntityConfidence(entities []models.Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entities {
		sum += e.Confidence
	}
	return sum / float64(len(entities))
}

// blendConfidence pulls a score toward its confidence-discounted value.
func blendConfidence(score, confidence float64) float64 {
	if confidence <= 0 {
		return score * 0.5
	}
	return score * (0.5 + confidence/2)
}

func clampAxis(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
