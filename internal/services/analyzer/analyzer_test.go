package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/models"
)

func newTestService() *Service {
	return NewService(arbor.NewLogger())
}

func analyzeChunkText(t *testing.T, text string, index, pageStart int) *models.TextAnalysis {
	t.Helper()
	analysis, err := newTestService().AnalyzeChunk(context.Background(), &models.Chunk{
		JobID:     "job_1",
		Index:     index,
		PageStart: pageStart,
		PageEnd:   pageStart + 4,
		Text:      text,
	})
	require.NoError(t, err)
	return analysis
}

func pointByKey(points []models.AnalysisPoint, key string) *models.AnalysisPoint {
	for i := range points {
		if points[i].Key == key {
			return &points[i]
		}
	}
	return nil
}

func TestCPC889Alert(t *testing.T) {
	text := "--- Page 1 ---\n\nEDITAL DE LEILÃO. Ficam intimados nos termos do art. 889 do CPC os executados."
	analysis := analyzeChunkText(t, text, 0, 1)

	p := pointByKey(analysis.Points, "cpc_889_compliance")
	require.NotNil(t, p)
	assert.Equal(t, models.PointStatusAlert, p.Status)
	assert.Equal(t, models.CategoryAuction, p.Category)
	assert.Equal(t, models.PriorityHigh, p.Priority)
	assert.Equal(t, 1, p.Page)
}

func TestFinancialOpportunity(t *testing.T) {
	text := "--- Page 2 ---\n\nO valor da avaliação R$ 300.000,00 consta do laudo.\n\n" +
		"--- Page 5 ---\n\nO lance mínimo R$ 200.000,00 para a primeira praça."
	analysis := analyzeChunkText(t, text, 0, 2)

	valuation := pointByKey(analysis.Points, "avaliacao")
	require.NotNil(t, valuation)
	assert.Equal(t, "R$ 300.000,00", valuation.Value)
	assert.Equal(t, 2, valuation.Page)

	minBid := pointByKey(analysis.Points, "lance_minimo")
	require.NotNil(t, minBid)
	assert.Equal(t, "R$ 200.000,00", minBid.Value)
	assert.Equal(t, 5, minBid.Page)

	opp := pointByKey(analysis.Points, "investment_opportunity")
	require.NotNil(t, opp)
	assert.Equal(t, "33.3%", opp.Value)
	assert.Equal(t, models.CategoryInvestment, opp.Category)
}

func TestLowValuesIgnored(t *testing.T) {
	// Values at or under 1000 are noise (fees, stamps).
	text := "Custas no valor de R$ 350,00 e lance mínimo R$ 900,00."
	analysis := analyzeChunkText(t, text, 0, 1)

	assert.Nil(t, pointByKey(analysis.Points, "custas"))
	assert.Nil(t, pointByKey(analysis.Points, "lance_minimo"))
}

func TestFirstHighValueWinsPerCategory(t *testing.T) {
	text := "lance mínimo R$ 150.000,00 na primeira praça; lance mínimo R$ 75.000,00 na segunda."
	analysis := analyzeChunkText(t, text, 0, 1)

	minBid := pointByKey(analysis.Points, "lance_minimo")
	require.NotNil(t, minBid)
	assert.Equal(t, "R$ 150.000,00", minBid.Value)
}

func TestPointOrderingIsDeterministic(t *testing.T) {
	text := "--- Page 1 ---\n\nEDITAL DE LEILÃO de imóvel. Contato do leiloeiro (11) 98888-7777. " +
		"Valor da avaliação R$ 300.000,00. Lance mínimo R$ 200.000,00. " +
		"Pagamento até 10/03/2026. Consta hipoteca sobre o bem. Art. 889 do CPC."

	first := analyzeChunkText(t, text, 0, 1)
	second := analyzeChunkText(t, text, 0, 1)
	assert.Equal(t, first.Points, second.Points)

	// Category blocks follow the fixed order.
	lastRank := -1
	for _, p := range first.Points {
		rank := categoryRank[p.Category]
		assert.GreaterOrEqual(t, rank, lastRank, "point %s out of category order", p.Key)
		lastRank = rank
	}
}

func TestEntities(t *testing.T) {
	text := "--- Page 1 ---\n\nProcesso 1234567-89.2024.8.26.0100 da 2ª Vara Cível. " +
		"Executada: Construtora Alfa Ltda, CNPJ 12.345.678/0001-90. " +
		"Contato: leiloeiro oficial, tel (11) 98888-7777, email contato@tjsp.jus.br."
	analysis := analyzeChunkText(t, text, 0, 1)

	byType := make(map[string][]models.Entity)
	for _, e := range analysis.Entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	require.Len(t, byType[models.EntityProcessNumber], 1)
	assert.Equal(t, "1234567-89.2024.8.26.0100", byType[models.EntityProcessNumber][0].Value)

	require.Len(t, byType[models.EntityCNPJ], 1)
	assert.Equal(t, "12345678000190", byType[models.EntityCNPJ][0].Normalized)

	require.NotEmpty(t, byType[models.EntityPhone])
	require.NotEmpty(t, byType[models.EntityEmail])
	assert.Equal(t, "contato@tjsp.jus.br", byType[models.EntityEmail][0].Normalized)
	require.NotEmpty(t, byType[models.EntityCourt])
}

func TestDocumentAndPropertyType(t *testing.T) {
	text := "EDITAL de leilão de apartamento no centro."
	analysis := analyzeChunkText(t, text, 0, 1)

	assert.Equal(t, "edital", analysis.DocumentType)
	assert.Equal(t, "apartamento", analysis.PropertyType)
	assert.Equal(t, "pt", analysis.Language)
}

func TestAggregatePairsValuesAcrossChunks(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// Valuation in chunk 0, minimum bid only in chunk 1.
	first, err := s.AnalyzeChunk(ctx, &models.Chunk{
		JobID: "job_1", Index: 0, PageStart: 1, PageEnd: 5,
		Text: "--- Page 2 ---\n\nvalor da avaliação R$ 300.000,00 do imóvel em leilão",
	})
	require.NoError(t, err)
	second, err := s.AnalyzeChunk(ctx, &models.Chunk{
		JobID: "job_1", Index: 1, PageStart: 5, PageEnd: 9,
		Text: "--- Page 5 ---\n\nlance mínimo R$ 200.000,00 em primeira praça",
	})
	require.NoError(t, err)

	merged, err := s.Aggregate(ctx, "job_1", []*models.TextAnalysis{second, first})
	require.NoError(t, err)
	assert.Equal(t, -1, merged.ChunkIndex)

	opp := pointByKey(merged.Points, "investment_opportunity")
	require.NotNil(t, opp)
	assert.Equal(t, "33.3%", opp.Value)
}

func TestAggregateDeduplicatesOverlapFindings(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// Page 5 is shared by both windows; its auction keyword fires twice.
	text := "--- Page 5 ---\n\nLEILÃO judicial do imóvel."
	first, err := s.AnalyzeChunk(ctx, &models.Chunk{JobID: "job_1", Index: 0, PageStart: 1, PageEnd: 5, Text: text})
	require.NoError(t, err)
	second, err := s.AnalyzeChunk(ctx, &models.Chunk{JobID: "job_1", Index: 1, PageStart: 5, PageEnd: 9, Text: text})
	require.NoError(t, err)

	merged, err := s.Aggregate(ctx, "job_1", []*models.TextAnalysis{first, second})
	require.NoError(t, err)

	count := 0
	for _, p := range merged.Points {
		if p.Key == "indicios_leilao" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseAndFormatMoney(t *testing.T) {
	assert.Equal(t, 300000.0, parseMoney("300.000,00"))
	assert.Equal(t, 1234.56, parseMoney("1.234,56"))
	assert.Equal(t, "R$ 300.000,00", formatMoney(300000))
	assert.Equal(t, "R$ 1.234,56", formatMoney(1234.56))
	assert.Equal(t, "R$ 950,00", formatMoney(950))
}
