package features

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arremate/internal/models"
)

func sampleAnalysis() *models.TextAnalysis {
	return &models.TextAnalysis{
		JobID:        "job_1",
		DocumentType: "edital",
		Language:     "pt",
		LanguageConf: 0.9,
		Points: []models.AnalysisPoint{
			{Key: "indicios_leilao", Category: models.CategoryAuction, Status: models.PointStatusPositive, Priority: models.PriorityHigh, Page: 1},
			{Key: "cpc_889_compliance", Category: models.CategoryAuction, Status: models.PointStatusAlert, Priority: models.PriorityHigh, Page: 1},
			{Key: "lance_minimo", Category: models.CategoryFinancial, Value: "R$ 200.000,00", Page: 5},
			{Key: "avaliacao", Category: models.CategoryFinancial, Value: "R$ 300.000,00", Page: 2},
			{Key: "investment_opportunity", Category: models.CategoryInvestment, Value: "33.3%", Page: 5},
			{Key: "prazo_pagamento", Category: models.CategoryDeadline, Value: "10/03/2026", Page: 6},
		},
		Entities: []models.Entity{
			{Type: models.EntityMoney, Value: "R$ 300.000,00", Normalized: "300.000,00", Confidence: 0.95},
			{Type: models.EntityMoney, Value: "R$ 200.000,00", Normalized: "200.000,00", Confidence: 0.95},
			{Type: models.EntityPhone, Value: "(11) 98888-7777", Normalized: "11988887777", Confidence: 0.7},
			{Type: models.EntityEmail, Value: "contato@tjsp.jus.br", Normalized: "contato@tjsp.jus.br", Confidence: 0.9},
			{Type: models.EntityCNPJ, Value: "12.345.678/0001-90", Normalized: "12345678000190", Confidence: 0.95},
		},
	}
}

const sampleText = `EDITAL DE LEILÃO judicial. O valor da avaliação R$ 300.000,00 e lance mínimo
R$ 200.000,00 para a primeira praça. Pagamento em depósito até 10/03/2026.
Ficam intimados nos termos do art. 889 do CPC. Contato do leiloeiro (11) 98888-7777.`

func TestOriginalVectorShape(t *testing.T) {
	f := NewOriginal().Extract(sampleAnalysis(), sampleText)

	require.Len(t, f.Slice(), models.FeatureDimensions)

	assert.Equal(t, float64(len(sampleText)), f.TextLength)
	assert.Greater(t, f.WordCount, 20.0)
	assert.Equal(t, 0.9, f.LangPT)
	assert.Zero(t, f.LangEN)

	assert.Equal(t, 5.0, f.EntityCount)
	assert.Equal(t, 2.0, f.MoneyCount)
	assert.Equal(t, 1.0, f.PhoneCount)
	assert.Equal(t, 1.0, f.EmailCount)
	assert.Equal(t, 1.0, f.CNPJCount)

	assert.Equal(t, 1.0, f.HasFinancialValues)
	assert.Equal(t, 300000.0, f.MaxFinancialValue)
	assert.Equal(t, 500000.0, f.TotalFinancialValue)

	assert.Equal(t, 1.0, f.DeadlineMentioned)
	assert.Greater(t, f.AuctionScore, 0.5)
	assert.Greater(t, f.InvestmentViabilityScore, 0.5)
	assert.Equal(t, 1.0, f.ContactCompleteness)
}

func TestOriginalIsDeterministic(t *testing.T) {
	a := NewOriginal().Extract(sampleAnalysis(), sampleText)
	b := NewOriginal().Extract(sampleAnalysis(), sampleText)
	assert.Equal(t, a, b)
}

func TestEmptyInputsYieldZeroVector(t *testing.T) {
	f := NewOriginal().Extract(&models.TextAnalysis{Language: "pt"}, "")

	assert.Zero(t, f.TextLength)
	assert.Zero(t, f.EntityCount)
	assert.Zero(t, f.HasFinancialValues)
	assert.Zero(t, f.EntityDensity)
	assert.Zero(t, f.FinancialDensity)
}

func TestEnhancedReweightsJudgmentScores(t *testing.T) {
	analysis := sampleAnalysis()
	original := NewOriginal().Extract(analysis, sampleText)
	enhanced := NewEnhanced().Extract(analysis, sampleText)

	// Counts are strategy-independent.
	assert.Equal(t, original.EntityCount, enhanced.EntityCount)
	assert.Equal(t, original.MoneyCount, enhanced.MoneyCount)
	assert.Equal(t, original.MaxFinancialValue, enhanced.MaxFinancialValue)

	// High-priority alert raises risk.
	assert.Greater(t, enhanced.RiskLevelScore, original.RiskLevelScore)
}

func TestExtractionConfidence(t *testing.T) {
	e := NewEnhanced()

	rich := e.ExtractionConfidence(sampleAnalysis(), strings.Repeat(sampleText, 3))
	poor := e.ExtractionConfidence(&models.TextAnalysis{}, "curto")

	assert.Greater(t, rich, 70.0)
	assert.Less(t, poor, 20.0)
	assert.LessOrEqual(t, rich, 100.0)
}

func TestRubricBounds(t *testing.T) {
	e := NewEnhanced()
	analysis := sampleAnalysis()
	f := e.Extract(analysis, sampleText)

	score := e.Rubric(analysis, f)
	assert.Greater(t, score, 30.0)
	assert.LessOrEqual(t, score, 100.0)

	empty := e.Rubric(&models.TextAnalysis{}, &models.FeatureVector{})
	assert.GreaterOrEqual(t, empty, 0.0)
	assert.LessOrEqual(t, empty, 100.0)
}

func TestReadabilityBounds(t *testing.T) {
	stats := computeTextStats("Uma frase curta. Outra frase simples aqui.")
	r := readability(stats)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.LessOrEqual(t, r, 1.0)
}
