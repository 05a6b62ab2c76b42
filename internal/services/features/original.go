package features

import (
	"strconv"
	"strings"

	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// Strategy names accepted by job options and recorded on predictions.
const (
	StrategyOriginal = "original"
	StrategyEnhanced = "enhanced"
)

// Original is the baseline feature strategy: raw keyword counts and simple
// normalized scores. Every model version to date was trained on vectors
// from one of the two fixed strategies, so their behavior never changes.
type Original struct{}

var _ interfaces.FeatureStrategy = (*Original)(nil)

func NewOriginal() *Original {
	return &Original{}
}

func (o *Original) Name() string {
	return StrategyOriginal
}

func (o *Original) Extract(analysis *models.TextAnalysis, fullText string) *models.FeatureVector {
	lower := strings.ToLower(fullText)
	stats := computeTextStats(fullText)

	f := &models.FeatureVector{
		TextLength:     float64(stats.length),
		WordCount:      float64(stats.words),
		SentenceCount:  float64(stats.sentences),
		ParagraphCount: float64(stats.paragraphs),
		Readability:    readability(stats),
	}

	setLanguageSlots(f, analysis.Language, analysis.LanguageConf)
	fillEntityCounts(f, analysis.Entities)
	fillFinancial(f, analysis.Entities, lower)

	f.UrgencyKeywordCount = float64(countKeywords(lower, urgencyKeywords))
	f.UrgencyScore = saturate(int(f.UrgencyKeywordCount), 5)
	if hasDeadlinePoint(analysis) {
		f.DeadlineMentioned = 1
	}

	f.AuctionScore = auctionScore(analysis, lower)
	f.LegalNotificationCount = float64(countKeywords(lower, legalNotificationKeywords))
	f.ValuationIndicatorCount = float64(countKeywords(lower, valuationIndicatorKeywords))
	f.PropertyStatusScore = propertyStatusScore(lower)
	f.LegalRestrictionCount = float64(countKeywords(lower, legalRestrictionKeywords))

	f.LegalComplianceScore = saturate(countKeywords(lower, complianceKeywords), 4)
	f.RiskLevelScore = saturate(countKeywords(lower, riskKeywords), 5)
	f.LegalAuthorityMention = float64(countKeywords(lower, authorityKeywords))

	f.DiscountIndicators = float64(countKeywords(lower, discountKeywords))
	f.MarketValueMentions = float64(countKeywords(lower, marketValueKeywords))
	f.AuctionUrgencyScore = saturate(countKeywords(lower, auctionUrgencyKeywords), 3)
	f.InvestmentViabilityScore = investmentViability(analysis, f)

	fillDerived(f)
	return f
}

// Shared fillers used by both strategies.

func setLanguageSlots(f *models.FeatureVector, lang string, conf float64) {
	if conf <= 0 {
		conf = 0.5
	}
	switch lang {
	case "pt":
		f.LangPT = conf
	case "en":
		f.LangEN = conf
	case "es":
		f.LangES = conf
	case "fr":
		f.LangFR = conf
	case "de":
		f.LangDE = conf
	default:
		f.LangOther = conf
	}
}

func fillEntityCounts(f *models.FeatureVector, entities []models.Entity) {
	f.EntityCount = float64(len(entities))
	for _, e := range entities {
		switch e.Type {
		case models.EntityCNPJ:
			f.CNPJCount++
		case models.EntityCPF:
			f.CPFCount++
		case models.EntityPhone:
			f.PhoneCount++
		case models.EntityEmail:
			f.EmailCount++
		case models.EntityMoney:
			f.MoneyCount++
		case models.EntityCompany:
			f.CompanyCount++
		}
	}
}

func fillFinancial(f *models.FeatureVector, entities []models.Entity, lower string) {
	for _, e := range entities {
		if e.Type != models.EntityMoney {
			continue
		}
		v := parseMoneyValue(e.Normalized)
		if v > f.MaxFinancialValue {
			f.MaxFinancialValue = v
		}
		f.TotalFinancialValue += v
	}
	if f.MaxFinancialValue > 0 {
		f.HasFinancialValues = 1
	}
	f.FinancialKeywordCount = float64(countKeywords(lower, financialKeywords))
}

func hasDeadlinePoint(analysis *models.TextAnalysis) bool {
	for _, p := range analysis.Points {
		if p.Category == models.CategoryDeadline {
			return true
		}
	}
	return false
}

func auctionScore(analysis *models.TextAnalysis, lower string) float64 {
	score := 0.0
	for _, p := range analysis.Points {
		if p.Key == "indicios_leilao" {
			score += 0.6
		}
		if p.Key == "cpc_889_compliance" {
			score += 0.2
		}
	}
	score += saturate(countKeywords(lower, auctionUrgencyKeywords), 5) * 0.2
	if score > 1 {
		score = 1
	}
	return score
}

// propertyStatusScore is signed: positive occupancy signals push it up,
// negative ones pull it down.
func propertyStatusScore(lower string) float64 {
	score := saturate(countKeywords(lower, propertyPositiveKeywords), 3) -
		saturate(countKeywords(lower, propertyNegativeKeywords), 3)
	return score
}

func investmentViability(analysis *models.TextAnalysis, f *models.FeatureVector) float64 {
	score := 0.0
	for _, p := range analysis.Points {
		if p.Key == "investment_opportunity" {
			score += 0.5
		}
	}
	if f.HasFinancialValues > 0 {
		score += 0.2
	}
	score += f.AuctionScore * 0.2
	score += f.PropertyStatusScore * 0.1
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func fillDerived(f *models.FeatureVector) {
	if f.WordCount > 0 {
		f.EntityDensity = f.EntityCount / f.WordCount
	}
	if f.TextLength > 0 {
		f.FinancialDensity = f.MoneyCount / (f.TextLength / 1000)
	}

	// Contact completeness: share of {phone, email, address-like entity}
	// present. Address counts through the entity total minus typed counts
	// being positive is unreliable, so only phone and email weigh in along
	// with company identification.
	have := 0.0
	if f.PhoneCount > 0 {
		have++
	}
	if f.EmailCount > 0 {
		have++
	}
	if f.CompanyCount > 0 || f.CNPJCount > 0 {
		have++
	}
	f.ContactCompleteness = have / 3
}

func parseMoneyValue(normalized string) float64 {
	// Normalized money entities carry "300.000,00" formatting.
	clean := strings.ReplaceAll(normalized, ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return v
}
