package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// Service implements rule-based content analysis for judicial auction
// documents. Analysis is a pure function of the text: the same input always
// yields the same ordered point list.
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.ContentAnalyzer = (*Service)(nil)

// NewService creates a new analyzer service
func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

// candidate carries a point plus its first-detection offset for stable
// in-category ordering.
type candidate struct {
	point  models.AnalysisPoint
	offset int
}

var categoryRank = func() map[string]int {
	ranks := make(map[string]int, len(models.PointCategoryOrder))
	for i, cat := range models.PointCategoryOrder {
		ranks[cat] = i
	}
	return ranks
}()

// AnalyzeChunk analyzes one extracted chunk. Page anchors come from the
// "--- Page N ---" separators in the chunk text.
func (s *Service) AnalyzeChunk(ctx context.Context, chunk *models.Chunk) (*models.TextAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	analysis := s.analyzeText(chunk.Text, chunk.PageStart)
	analysis.JobID = chunk.JobID
	analysis.ChunkIndex = chunk.Index
	analysis.AnalyzedAt = time.Now().UTC()

	s.logger.Debug().
		Str("job_id", chunk.JobID).
		Int("chunk", chunk.Index).
		Int("points", len(analysis.Points)).
		Int("entities", len(analysis.Entities)).
		Msg("Chunk analyzed")
	return analysis, nil
}

// Aggregate merges chunk analyses into the job-level analysis. Points that
// overlap pages produce in two chunks keep their first occurrence; the
// investment opportunity is recomputed across chunks so a minimum bid and a
// valuation found in different chunks still pair up.
func (s *Service) Aggregate(ctx context.Context, jobID string, analyses []*models.TextAnalysis) (*models.TextAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sorted := make([]*models.TextAnalysis, len(analyses))
	copy(sorted, analyses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	merged := &models.TextAnalysis{
		JobID:      jobID,
		ChunkIndex: -1,
		AnalyzedAt: time.Now().UTC(),
	}

	seenPoints := make(map[string]bool)
	seenEntities := make(map[string]bool)

	for _, a := range sorted {
		if merged.DocumentType == "" && a.DocumentType != "" {
			merged.DocumentType = a.DocumentType
		}
		if merged.PropertyType == "" && a.PropertyType != "" {
			merged.PropertyType = a.PropertyType
		}
		if merged.Language == "" || a.LanguageConf > merged.LanguageConf {
			merged.Language = a.Language
			merged.LanguageConf = a.LanguageConf
		}
		for _, p := range a.Points {
			if seenPoints[p.Key] {
				continue
			}
			seenPoints[p.Key] = true
			merged.Points = append(merged.Points, p)
		}
		for _, e := range a.Entities {
			dedupe := e.Type + "\x00" + e.Normalized
			if e.Normalized == "" {
				dedupe = e.Type + "\x00" + e.Value
			}
			if seenEntities[dedupe] {
				continue
			}
			seenEntities[dedupe] = true
			merged.Entities = append(merged.Entities, e)
		}
	}

	s.recomputeOpportunity(merged, seenPoints)
	merged.Points = merged.PointsByCategory()
	merged.Summary = buildSummary(merged)
	return merged, nil
}

// recomputeOpportunity pairs a minimum bid with a valuation across chunk
// boundaries when no single chunk saw both.
func (s *Service) recomputeOpportunity(merged *models.TextAnalysis, seen map[string]bool) {
	if seen["investment_opportunity"] {
		return
	}

	var minBid, valuation float64
	for _, p := range merged.Points {
		switch p.Key {
		case "lance_minimo":
			minBid = parseMoney(strings.TrimPrefix(p.Value, "R$ "))
		case "avaliacao":
			valuation = parseMoney(strings.TrimPrefix(p.Value, "R$ "))
		}
	}
	if minBid > 0 && valuation > minBid {
		merged.Points = append(merged.Points, opportunityPoint(minBid, valuation, 0))
	}
}

// analyzeText runs every detector over one text and returns the ordered
// analysis. basePage anchors findings when the text has no page separators.
func (s *Service) analyzeText(text string, basePage int) *models.TextAnalysis {
	pages := buildPageIndex(text, basePage)
	lower := strings.ToLower(text)

	analysis := &models.TextAnalysis{}
	analysis.Language, analysis.LanguageConf = detectLanguage(lower)

	var cands []candidate

	// geral: document type, property type.
	if docType, off := detectDocumentType(lower); docType != "" {
		analysis.DocumentType = docType
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "tipo_documento",
			Category: models.CategoryGeneral,
			Status:   models.PointStatusInfo,
			Priority: models.PriorityLow,
			Title:    "Tipo de documento",
			Detail:   fmt.Sprintf("Documento identificado como %s", docType),
			Value:    docType,
			Page:     pages.at(off),
		}, off})
	} else {
		analysis.DocumentType = "documento jurídico"
	}

	if propType, off := detectPropertyType(lower); propType != "" {
		analysis.PropertyType = propType
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "tipo_imovel",
			Category: models.CategoryGeneral,
			Status:   models.PointStatusInfo,
			Priority: models.PriorityLow,
			Title:    "Tipo de bem",
			Detail:   fmt.Sprintf("Bem identificado como %s", propType),
			Value:    propType,
			Page:     pages.at(off),
		}, off})
	}

	// leilão: auction confirmation and CPC 889 alert.
	if off := firstKeywordOffset(lower, auctionKeywords); off >= 0 {
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "indicios_leilao",
			Category: models.CategoryAuction,
			Status:   models.PointStatusPositive,
			Priority: models.PriorityHigh,
			Title:    "Leilão judicial confirmado",
			Detail:   "O documento contém indicadores de leilão judicial",
			Page:     pages.at(off),
		}, off})
	}

	if loc := cpc889Pattern.FindStringIndex(text); loc != nil {
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "cpc_889_compliance",
			Category: models.CategoryAuction,
			Status:   models.PointStatusAlert,
			Priority: models.PriorityHigh,
			Title:    "Notificação do art. 889 do CPC",
			Detail:   "Verificar se todas as partes do art. 889 do CPC foram notificadas",
			Page:     pages.at(loc[0]),
		}, loc[0]})
	}

	// financeiro: contextual money values.
	values := extractFinancialValues(text, lower, pages)
	for _, fv := range values {
		cands = append(cands, candidate{fv.point, fv.offset})
	}

	// investimento: discount between valuation and minimum bid.
	if minBid, valuation, ok := opportunityValues(values); ok {
		off := 0
		for _, fv := range values {
			if fv.point.Key == "lance_minimo" {
				off = fv.offset
			}
		}
		cands = append(cands, candidate{opportunityPoint(minBid, valuation, pages.at(off)), off})
	}

	// financeiro: debt alert anchored to the first mention.
	if off := firstKeywordOffset(lower, debtKeywords); off >= 0 {
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "divida_onus",
			Category: models.CategoryFinancial,
			Status:   models.PointStatusAlert,
			Priority: models.PriorityHigh,
			Title:    "Dívidas ou ônus sobre o bem",
			Detail:   "O documento menciona dívidas, ônus ou gravames; verificar a matrícula",
			Page:     pages.at(off),
		}, off})
	}

	// prazo: one alert per deadline context that has a nearby date.
	for _, dc := range deadlineContexts {
		if date, off, ok := findContextualDate(text, lower, dc.keywords); ok {
			cands = append(cands, candidate{models.AnalysisPoint{
				Key:      dc.key,
				Category: models.CategoryDeadline,
				Status:   models.PointStatusAlert,
				Priority: models.PriorityMedium,
				Title:    dc.title,
				Detail:   fmt.Sprintf("%s: %s", dc.title, date),
				Value:    date,
				Page:     pages.at(off),
			}, off})
		}
	}

	// contato: auctioneer phone and official e-mail.
	if phone, off, ok := findAuctioneerPhone(text, lower); ok {
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "telefone_leiloeiro",
			Category: models.CategoryContact,
			Status:   models.PointStatusPositive,
			Priority: models.PriorityLow,
			Title:    "Contato do leiloeiro",
			Value:    phone,
			Detail:   fmt.Sprintf("Telefone do leiloeiro: %s", phone),
			Page:     pages.at(off),
		}, off})
	}
	if email, off, ok := findOfficialEmail(text); ok {
		cands = append(cands, candidate{models.AnalysisPoint{
			Key:      "email_oficial",
			Category: models.CategoryContact,
			Status:   models.PointStatusPositive,
			Priority: models.PriorityLow,
			Title:    "E-mail oficial",
			Value:    email,
			Detail:   fmt.Sprintf("E-mail institucional: %s", email),
			Page:     pages.at(off),
		}, off})
	}

	// Deterministic ordering: category rank, then first detection offset.
	sort.SliceStable(cands, func(i, j int) bool {
		ri, rj := categoryRank[cands[i].point.Category], categoryRank[cands[j].point.Category]
		if ri != rj {
			return ri < rj
		}
		return cands[i].offset < cands[j].offset
	})

	analysis.Points = make([]models.AnalysisPoint, len(cands))
	for i, c := range cands {
		analysis.Points[i] = c.point
	}

	analysis.Entities = extractEntities(text, pages)
	return analysis
}

func opportunityPoint(minBid, valuation float64, page int) models.AnalysisPoint {
	discount := (valuation - minBid) / valuation * 100
	return models.AnalysisPoint{
		Key:      "investment_opportunity",
		Category: models.CategoryInvestment,
		Status:   models.PointStatusPositive,
		Priority: models.PriorityHigh,
		Title:    "Oportunidade de investimento",
		Detail: fmt.Sprintf("Lance mínimo %s abaixo da avaliação %s",
			formatMoney(minBid), formatMoney(valuation)),
		Value: fmt.Sprintf("%.1f%%", discount),
		Page:  page,
	}
}

func buildSummary(a *models.TextAnalysis) string {
	var b strings.Builder
	b.WriteString(capitalize(a.DocumentType))
	if a.PropertyType != "" {
		b.WriteString(" de ")
		b.WriteString(a.PropertyType)
	}
	b.WriteString(fmt.Sprintf(" com %d pontos de análise e %d entidades identificadas", len(a.Points), len(a.Entities)))
	return b.String()
}

// parseMoney converts "300.000,00" to 300000.00.
func parseMoney(raw string) float64 {
	normalized := strings.ReplaceAll(raw, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatMoney(v float64) string {
	// Brazilian grouping: 300000.00 -> "R$ 300.000,00".
	whole := int64(v)
	cents := int64((v-float64(whole))*100 + 0.5)

	digits := strconv.FormatInt(whole, 10)
	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(d)
	}
	return fmt.Sprintf("R$ %s,%02d", grouped.String(), cents)
}
