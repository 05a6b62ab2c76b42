package models

import "time"

// Entity is a typed span recognized in extracted text.
type Entity struct {
	Type       string  `json:"type"` // money, phone, email, process_number, court, deadline, address, cnpj, cpf, company
	Value      string  `json:"value"`
	Normalized string  `json:"normalized,omitempty"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
}

// Entity type names produced by the analyzer.
const (
	EntityMoney         = "money"
	EntityPhone         = "phone"
	EntityEmail         = "email"
	EntityProcessNumber = "process_number"
	EntityCourt         = "court"
	EntityDeadline      = "deadline"
	EntityAddress       = "address"
	EntityCNPJ          = "cnpj"
	EntityCPF           = "cpf"
	EntityCompany       = "company"
)

// AnalysisPoint categories, in the deterministic order points are emitted.
const (
	CategoryGeneral    = "geral"
	CategoryAuction    = "leilão"
	CategoryInvestment = "investimento"
	CategoryFinancial  = "financeiro"
	CategoryDeadline   = "prazo"
	CategoryContact    = "contato"
)

// PointCategoryOrder fixes the emission order of analysis points so two runs
// over the same text produce identical output.
var PointCategoryOrder = []string{
	CategoryGeneral,
	CategoryAuction,
	CategoryInvestment,
	CategoryFinancial,
	CategoryDeadline,
	CategoryContact,
}

// Analysis point priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Analysis point statuses.
const (
	PointStatusAlert    = "alerta"
	PointStatusInfo     = "informativo"
	PointStatusPositive = "positivo"
)

// AnalysisPoint is one extracted finding: a compliance alert, a financial
// figure, a deadline, a contact, or an investment signal.
type AnalysisPoint struct {
	Key      string `json:"key"`      // Stable identifier, e.g. cpc_889_compliance, lance_minimo
	Category string `json:"category"` // One of PointCategoryOrder
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Value    string `json:"value,omitempty"` // Formatted figure where applicable, e.g. "R$ 150.000,00" or "33.3%"
	Page     int    `json:"page,omitempty"`  // 1-based page the finding was anchored to
}

// TextAnalysis is the per-chunk (and, aggregated, per-job) analyzer output.
type TextAnalysis struct {
	JobID        string          `json:"job_id"`
	ChunkIndex   int             `json:"chunk_index"` // -1 for the job-level aggregate
	DocumentType string          `json:"document_type"`
	PropertyType string          `json:"property_type,omitempty"`
	Language     string          `json:"language"`
	LanguageConf float64         `json:"language_confidence"`
	Points       []AnalysisPoint `json:"points"`
	Entities     []Entity        `json:"entities"`
	Summary      string          `json:"summary,omitempty"`
	AnalyzedAt   time.Time       `json:"analyzed_at"`
}

// Key returns the composite storage key "{jobID}:{chunkIndex}". The job-level
// aggregate uses index -1 and sorts before all chunk analyses.
func (a *TextAnalysis) Key() string {
	if a.ChunkIndex < 0 {
		return a.JobID + ":aggregate"
	}
	return chunkKey(a.JobID, a.ChunkIndex)
}

// AnalysisKey builds the composite key used by the analysis store.
func AnalysisKey(jobID string, chunkIndex int) string {
	if chunkIndex < 0 {
		return jobID + ":aggregate"
	}
	return chunkKey(jobID, chunkIndex)
}

// PointsByCategory returns the points grouped and ordered per
// PointCategoryOrder, preserving in-category insertion order.
func (a *TextAnalysis) PointsByCategory() []AnalysisPoint {
	ordered := make([]AnalysisPoint, 0, len(a.Points))
	for _, cat := range PointCategoryOrder {
		for _, p := range a.Points {
			if p.Category == cat {
				ordered = append(ordered, p)
			}
		}
	}
	// Unknown categories trail in insertion order.
	known := make(map[string]bool, len(PointCategoryOrder))
	for _, cat := range PointCategoryOrder {
		known[cat] = true
	}
	for _, p := range a.Points {
		if !known[p.Category] {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
