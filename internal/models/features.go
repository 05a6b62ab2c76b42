package models

// FeatureDimensions is the fixed width of every feature vector. Models are
// trained and scored against exactly this many inputs; changing it requires
// a new model version.
const FeatureDimensions = 40

// FeatureVector holds the numeric representation of one analyzed document.
// Dimensions group as: size (4), language one-hot scaled by detector
// confidence (6), readability (1), entity counts (7), financial (4),
// urgency (3), judicial (5), compliance (3), opportunity (4), derived (3).
type FeatureVector struct {
	// Size
	TextLength     float64 `json:"text_length"`
	WordCount      float64 `json:"word_count"`
	SentenceCount  float64 `json:"sentence_count"`
	ParagraphCount float64 `json:"paragraph_count"`

	// Language one-hot, active slot carries the detector confidence.
	LangPT    float64 `json:"lang_pt"`
	LangEN    float64 `json:"lang_en"`
	LangES    float64 `json:"lang_es"`
	LangFR    float64 `json:"lang_fr"`
	LangDE    float64 `json:"lang_de"`
	LangOther float64 `json:"lang_other"`

	Readability float64 `json:"readability"`

	// Entities
	EntityCount  float64 `json:"entity_count"`
	CNPJCount    float64 `json:"cnpj_count"`
	CPFCount     float64 `json:"cpf_count"`
	PhoneCount   float64 `json:"phone_count"`
	EmailCount   float64 `json:"email_count"`
	MoneyCount   float64 `json:"money_count"`
	CompanyCount float64 `json:"company_count"`

	// Financial
	HasFinancialValues    float64 `json:"has_financial_values"`
	MaxFinancialValue     float64 `json:"max_financial_value"`
	TotalFinancialValue   float64 `json:"total_financial_value"`
	FinancialKeywordCount float64 `json:"financial_keyword_count"`

	// Urgency
	UrgencyScore        float64 `json:"urgency_score"`
	UrgencyKeywordCount float64 `json:"urgency_keyword_count"`
	DeadlineMentioned   float64 `json:"deadline_mentioned"`

	// Judicial auction
	AuctionScore            float64 `json:"auction_score"`
	LegalNotificationCount  float64 `json:"legal_notification_count"`
	ValuationIndicatorCount float64 `json:"valuation_indicator_count"`
	PropertyStatusScore     float64 `json:"property_status_score"`
	LegalRestrictionCount   float64 `json:"legal_restriction_count"`

	// Compliance
	LegalComplianceScore  float64 `json:"legal_compliance_score"`
	RiskLevelScore        float64 `json:"risk_level_score"`
	LegalAuthorityMention float64 `json:"legal_authority_mentions"`

	// Opportunity
	DiscountIndicators       float64 `json:"discount_indicators"`
	MarketValueMentions      float64 `json:"market_value_mentions"`
	AuctionUrgencyScore      float64 `json:"auction_urgency_score"`
	InvestmentViabilityScore float64 `json:"investment_viability_score"`

	// Derived densities
	EntityDensity       float64 `json:"entity_density"`
	FinancialDensity    float64 `json:"financial_density"`
	ContactCompleteness float64 `json:"contact_completeness"`
}

// featureNames fixes the canonical dimension order used by Slice and
// FromSlice. Index i of a training row corresponds to featureNames[i].
var featureNames = []string{
	"text_length", "word_count", "sentence_count", "paragraph_count",
	"lang_pt", "lang_en", "lang_es", "lang_fr", "lang_de", "lang_other",
	"readability",
	"entity_count", "cnpj_count", "cpf_count", "phone_count", "email_count", "money_count", "company_count",
	"has_financial_values", "max_financial_value", "total_financial_value", "financial_keyword_count",
	"urgency_score", "urgency_keyword_count", "deadline_mentioned",
	"auction_score", "legal_notification_count", "valuation_indicator_count", "property_status_score", "legal_restriction_count",
	"legal_compliance_score", "risk_level_score", "legal_authority_mentions",
	"discount_indicators", "market_value_mentions", "auction_urgency_score", "investment_viability_score",
	"entity_density", "financial_density", "contact_completeness",
}

// FeatureNames returns the canonical dimension names in slice order.
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Slice flattens the vector into the canonical dimension order.
func (f *FeatureVector) Slice() []float64 {
	return []float64{
		f.TextLength, f.WordCount, f.SentenceCount, f.ParagraphCount,
		f.LangPT, f.LangEN, f.LangES, f.LangFR, f.LangDE, f.LangOther,
		f.Readability,
		f.EntityCount, f.CNPJCount, f.CPFCount, f.PhoneCount, f.EmailCount, f.MoneyCount, f.CompanyCount,
		f.HasFinancialValues, f.MaxFinancialValue, f.TotalFinancialValue, f.FinancialKeywordCount,
		f.UrgencyScore, f.UrgencyKeywordCount, f.DeadlineMentioned,
		f.AuctionScore, f.LegalNotificationCount, f.ValuationIndicatorCount, f.PropertyStatusScore, f.LegalRestrictionCount,
		f.LegalComplianceScore, f.RiskLevelScore, f.LegalAuthorityMention,
		f.DiscountIndicators, f.MarketValueMentions, f.AuctionUrgencyScore, f.InvestmentViabilityScore,
		f.EntityDensity, f.FinancialDensity, f.ContactCompleteness,
	}
}

// FromSlice rebuilds a vector from a canonical-order row. Rows of the wrong
// width return false.
func FromSlice(row []float64) (FeatureVector, bool) {
	if len(row) != FeatureDimensions {
		return FeatureVector{}, false
	}
	var f FeatureVector
	f.TextLength, f.WordCount, f.SentenceCount, f.ParagraphCount = row[0], row[1], row[2], row[3]
	f.LangPT, f.LangEN, f.LangES, f.LangFR, f.LangDE, f.LangOther = row[4], row[5], row[6], row[7], row[8], row[9]
	f.Readability = row[10]
	f.EntityCount, f.CNPJCount, f.CPFCount, f.PhoneCount, f.EmailCount, f.MoneyCount, f.CompanyCount = row[11], row[12], row[13], row[14], row[15], row[16], row[17]
	f.HasFinancialValues, f.MaxFinancialValue, f.TotalFinancialValue, f.FinancialKeywordCount = row[18], row[19], row[20], row[21]
	f.UrgencyScore, f.UrgencyKeywordCount, f.DeadlineMentioned = row[22], row[23], row[24]
	f.AuctionScore, f.LegalNotificationCount, f.ValuationIndicatorCount, f.PropertyStatusScore, f.LegalRestrictionCount = row[25], row[26], row[27], row[28], row[29]
	f.LegalComplianceScore, f.RiskLevelScore, f.LegalAuthorityMention = row[30], row[31], row[32]
	f.DiscountIndicators, f.MarketValueMentions, f.AuctionUrgencyScore, f.InvestmentViabilityScore = row[33], row[34], row[35], row[36]
	f.EntityDensity, f.FinancialDensity, f.ContactCompleteness = row[37], row[38], row[39]
	return f, true
}
