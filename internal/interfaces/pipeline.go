package interfaces

import (
	"context"

	"github.com/ternarybob/arremate/internal/models"
)

// ChunkPlan - one planned page window before extraction
type ChunkPlan struct {
	Index     int
	PageStart int
	PageEnd   int
}

// DocumentInfo - validated metadata for an uploaded PDF
type DocumentInfo struct {
	PageCount   int
	SizeBytes   int64
	ContentHash string
	Encrypted   bool
	Version     string
	Title       string
	Author      string
	HasImages   bool
	HasForms    bool
}

// PDFDecomposer - validates documents and streams extracted chunks
type PDFDecomposer interface {
	// Validate checks the document at path and returns its metadata.
	// Encrypted, oversized, and malformed documents fail with typed errors.
	Validate(ctx context.Context, path string) (*DocumentInfo, error)

	// PlanChunks computes the dense overlapping page windows for a page
	// count using the configured chunk size and overlap.
	PlanChunks(pageCount int) []ChunkPlan

	// ExtractChunks extracts planned chunks concurrently and delivers them
	// on the returned channel in plan order. The channel is bounded; slow
	// consumers apply back-pressure to extraction. The channel closes when
	// extraction finishes or ctx is cancelled.
	ExtractChunks(ctx context.Context, path string, plans []ChunkPlan) (<-chan *models.Chunk, <-chan error)
}

// ContentAnalyzer - rule-based analysis of extracted text
type ContentAnalyzer interface {
	// AnalyzeChunk produces the findings and entities for one chunk.
	AnalyzeChunk(ctx context.Context, chunk *models.Chunk) (*models.TextAnalysis, error)

	// Aggregate merges per-chunk analyses into the job-level analysis,
	// de-duplicating findings that overlap pages share.
	Aggregate(ctx context.Context, jobID string, analyses []*models.TextAnalysis) (*models.TextAnalysis, error)
}

// FeatureStrategy - maps an aggregate analysis onto the fixed-width vector
type FeatureStrategy interface {
	Name() string
	Extract(analysis *models.TextAnalysis, fullText string) *models.FeatureVector
}

// PipelineOrchestrator - drives a job through its processing stages
type PipelineOrchestrator interface {
	// Submit enqueues an uploaded job for processing.
	Submit(ctx context.Context, jobID string) error

	// Retry requeues a failed job from the beginning.
	Retry(ctx context.Context, jobID string) error

	// Revoke abandons in-flight work for a deleted job.
	Revoke(ctx context.Context, jobID string) error
}
