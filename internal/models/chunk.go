package models

// ChunkStatus tracks a chunk through extraction and analysis.
type ChunkStatus string

const (
	ChunkStatusExtracted ChunkStatus = "extracted"
	ChunkStatusAnalyzed  ChunkStatus = "analyzed"
	ChunkStatusFailed    ChunkStatus = "failed"
)

// ImageMeta describes an embedded image without its pixel data.
type ImageMeta struct {
	Page       int    `json:"page"`
	Index      int    `json:"index"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorSpace string `json:"color_space,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
}

// Chunk is a contiguous page window of a job's document. Chunks of one job
// are dense and ordered by Index; adjacent chunks share exactly the
// configured overlap-page count. Pages are 1-based inclusive.
type Chunk struct {
	JobID       string      `json:"job_id"`
	Index       int         `json:"index"`
	PageStart   int         `json:"page_start"`
	PageEnd     int         `json:"page_end"`
	Text        string      `json:"text"`
	CleanedText string      `json:"cleaned_text,omitempty"`
	Images      []ImageMeta `json:"images,omitempty"`
	Status      ChunkStatus `json:"status"`
}

// Key returns the composite storage key "{jobID}:{index}".
// Zero-padding keeps badgerhold key iteration in index order.
func (c *Chunk) Key() string {
	return chunkKey(c.JobID, c.Index)
}

func chunkKey(jobID string, index int) string {
	const digits = "0123456789"
	// Fixed-width 6-digit index.
	buf := []byte{'0', '0', '0', '0', '0', '0'}
	for i := 5; i >= 0 && index > 0; i-- {
		buf[i] = digits[index%10]
		index /= 10
	}
	return jobID + ":" + string(buf)
}

// ChunkKey builds the composite key used by the chunk store.
func ChunkKey(jobID string, index int) string {
	return chunkKey(jobID, index)
}

// ContainsPage reports whether the chunk's window covers page n.
func (c *Chunk) ContainsPage(n int) bool {
	return n >= c.PageStart && n <= c.PageEnd
}

// PageSpan returns the number of pages in the chunk window.
func (c *Chunk) PageSpan() int {
	return c.PageEnd - c.PageStart + 1
}
