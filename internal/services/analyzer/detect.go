package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ternarybob/arremate/internal/models"
)

// pageIndex maps text offsets onto 1-based page numbers using the
// decomposer's page separators.
type pageIndex struct {
	marks []pageMark
	base  int
}

type pageMark struct {
	offset int
	page   int
}

func buildPageIndex(text string, basePage int) *pageIndex {
	if basePage < 1 {
		basePage = 1
	}
	idx := &pageIndex{base: basePage}
	for _, loc := range pageSeparatorPattern.FindAllStringSubmatchIndex(text, -1) {
		page := 0
		for _, c := range text[loc[2]:loc[3]] {
			page = page*10 + int(c-'0')
		}
		idx.marks = append(idx.marks, pageMark{offset: loc[0], page: page})
	}
	return idx
}

// at returns the page owning the given offset.
func (p *pageIndex) at(offset int) int {
	page := p.base
	for _, m := range p.marks {
		if m.offset > offset {
			break
		}
		page = m.page
	}
	return page
}

// Stopword samples per supported language. Scoring is share-of-hits, which
// is crude but reliable for the legal boilerplate these documents carry.
var languageStopwords = map[string][]string{
	"pt": {" de ", " que ", " não ", " nao ", " com ", " para ", " uma ", " dos ", " pela ", " será ", " sera "},
	"en": {" the ", " and ", " that ", " with ", " shall ", " of ", " this "},
	"es": {" el ", " los ", " una ", " por ", " con ", " según ", " segun "},
	"fr": {" le ", " les ", " une ", " avec ", " pour ", " dans "},
	"de": {" der ", " die ", " und ", " mit ", " für ", " das "},
}

func detectLanguage(lower string) (string, float64) {
	best, bestHits, total := "pt", 0, 0
	for lang, words := range languageStopwords {
		hits := 0
		for _, w := range words {
			hits += strings.Count(lower, w)
		}
		total += hits
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	if total == 0 {
		return "pt", 0.5
	}
	return best, float64(bestHits) / float64(total)
}

func detectDocumentType(lower string) (string, int) {
	for _, dt := range documentTypeKeywords {
		if off := firstKeywordOffset(lower, dt.keywords); off >= 0 {
			return dt.docType, off
		}
	}
	return "", -1
}

func detectPropertyType(lower string) (string, int) {
	bestType, bestOff := "", -1
	for _, pt := range propertyTypes {
		if off := firstKeywordOffset(lower, pt.keywords); off >= 0 {
			if bestOff < 0 || off < bestOff {
				bestType, bestOff = pt.propType, off
			}
		}
	}
	return bestType, bestOff
}

func firstKeywordOffset(lower string, keywords []string) int {
	best := -1
	for _, kw := range keywords {
		if off := strings.Index(lower, kw); off >= 0 && (best < 0 || off < best) {
			best = off
		}
	}
	return best
}

// finValue is one categorized financial figure.
type finValue struct {
	point  models.AnalysisPoint
	offset int
	amount float64
}

// financialContextWindow is how far back from an R$ match the category
// keywords are searched.
const financialContextWindow = 60

// extractFinancialValues captures the first high-value (>1000) R$ amount
// for each known category, with the page it appears on.
func extractFinancialValues(text, lower string, pages *pageIndex) []finValue {
	type category struct {
		key      string
		title    string
		keywords []string
	}
	categories := []category{
		{"lance_minimo", "Lance mínimo", minBidKeywords},
		{"avaliacao", "Valor de avaliação", valuationKeywords},
		{"custas", "Custas e comissões", costsKeywords},
	}
	found := make(map[string]bool)

	var values []finValue
	for _, loc := range moneyPattern.FindAllStringSubmatchIndex(text, -1) {
		amount := parseMoney(text[loc[2]:loc[3]])
		if amount <= 1000 {
			continue
		}

		windowStart := loc[0] - financialContextWindow
		if windowStart < 0 {
			windowStart = 0
		}
		window := lower[windowStart:loc[0]]

		for _, cat := range categories {
			if found[cat.key] || firstKeywordOffset(window, cat.keywords) < 0 {
				continue
			}
			found[cat.key] = true
			values = append(values, finValue{
				point: models.AnalysisPoint{
					Key:      cat.key,
					Category: models.CategoryFinancial,
					Status:   models.PointStatusInfo,
					Priority: models.PriorityMedium,
					Title:    cat.title,
					Detail:   cat.title + ": " + formatMoney(amount),
					Value:    formatMoney(amount),
					Page:     pages.at(loc[0]),
				},
				offset: loc[0],
				amount: amount,
			})
			break
		}
	}
	return values
}

func opportunityValues(values []finValue) (minBid, valuation float64, ok bool) {
	for _, fv := range values {
		switch fv.point.Key {
		case "lance_minimo":
			minBid = fv.amount
		case "avaliacao":
			valuation = fv.amount
		}
	}
	return minBid, valuation, minBid > 0 && valuation > minBid
}

// findContextualDate returns the first date that appears within one line of
// any of the context keywords.
func findContextualDate(text, lower string, keywords []string) (string, int, bool) {
	for _, loc := range datePattern.FindAllStringIndex(text, -1) {
		windowStart := loc[0] - 80
		if windowStart < 0 {
			windowStart = 0
		}
		if firstKeywordOffset(lower[windowStart:loc[0]], keywords) >= 0 {
			return text[loc[0]:loc[1]], loc[0], true
		}
	}
	return "", 0, false
}

func findAuctioneerPhone(text, lower string) (string, int, bool) {
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		windowStart := loc[0] - 80
		if windowStart < 0 {
			windowStart = 0
		}
		if firstKeywordOffset(lower[windowStart:loc[0]], auctioneerKeywords) >= 0 {
			return text[loc[0]:loc[1]], loc[0], true
		}
	}
	return "", 0, false
}

func findOfficialEmail(text string) (string, int, bool) {
	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		email := strings.ToLower(text[loc[0]:loc[1]])
		for _, hint := range officialEmailHints {
			if strings.Contains(email, hint) {
				return text[loc[0]:loc[1]], loc[0], true
			}
		}
	}
	return "", 0, false
}

// extractEntities collects every typed span with its page anchor. Spans are
// emitted in document order.
func extractEntities(text string, pages *pageIndex) []models.Entity {
	type matchSpec struct {
		entityType string
		pattern    interface {
			FindAllStringIndex(string, int) [][]int
		}
		confidence float64
	}
	specs := []matchSpec{
		{models.EntityMoney, moneyPattern, 0.95},
		{models.EntityProcessNumber, processPattern, 0.98},
		{models.EntityCNPJ, cnpjPattern, 0.95},
		{models.EntityCPF, cpfPattern, 0.9},
		{models.EntityPhone, phonePattern, 0.7},
		{models.EntityEmail, emailPattern, 0.9},
		{models.EntityDeadline, datePattern, 0.7},
		{models.EntityCourt, courtPattern, 0.8},
		{models.EntityAddress, addressPattern, 0.6},
		{models.EntityCompany, companyPattern, 0.6},
	}

	type span struct {
		entity models.Entity
		offset int
	}
	var spans []span
	claimed := make(map[string]bool) // CPF pattern is a subset of CNPJ's tail

	for _, spec := range specs {
		for _, loc := range spec.pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			key := spec.entityType + "\x00" + value
			if claimed[key] {
				continue
			}
			claimed[key] = true
			spans = append(spans, span{
				entity: models.Entity{
					Type:       spec.entityType,
					Value:      strings.TrimSpace(value),
					Normalized: normalizeEntity(spec.entityType, value),
					Page:       pages.at(loc[0]),
					Confidence: spec.confidence,
				},
				offset: loc[0],
			})
		}
	}

	// Document order, type order breaking ties on identical offsets.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].offset < spans[j-1].offset; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}

	entities := make([]models.Entity, len(spans))
	for i, sp := range spans {
		entities[i] = sp.entity
	}
	return entities
}

func normalizeEntity(entityType, value string) string {
	switch entityType {
	case models.EntityMoney:
		stripped := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "R$"))
		return strings.TrimSpace(stripped)
	case models.EntityCNPJ, models.EntityCPF, models.EntityPhone:
		var digits strings.Builder
		for _, c := range value {
			if c >= '0' && c <= '9' {
				digits.WriteRune(c)
			}
		}
		return digits.String()
	case models.EntityEmail:
		return strings.ToLower(strings.TrimSpace(value))
	default:
		return ""
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
