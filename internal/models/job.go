package models

import (
	"time"
)

// JobStatus is the processing state of a submitted document.
// Transitions advance monotonically through
// uploaded -> processing -> analyzing -> completed | failed.
// A failed job may transition back to uploaded on explicit retry.
type JobStatus string

const (
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusProcessing JobStatus = "processing"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// validTransitions encodes the job state machine. Keys are (from, to) pairs.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusUploaded:   {JobStatusProcessing: true, JobStatusFailed: true},
	JobStatusProcessing: {JobStatusAnalyzing: true, JobStatusFailed: true},
	JobStatusAnalyzing:  {JobStatusCompleted: true, JobStatusFailed: true},
	JobStatusFailed:     {JobStatusUploaded: true}, // explicit retry only
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to JobStatus) bool {
	return validTransitions[from][to]
}

// JobOptions is the small closed set of per-job settings that used to live
// in a free-form config bag. Optional fields stay zero when unused.
type JobOptions struct {
	TempPath         string `json:"temp_path,omitempty"`         // Scratch copy during upload; removed after persist
	ActiveTaskID     string `json:"active_task_id,omitempty"`    // Queue task currently driving the job
	TotalPages       int    `json:"total_pages,omitempty"`       // Filled by pdf.validate
	EnhancedAnalysis bool   `json:"enhanced_analysis,omitempty"` // Selects the enhanced feature strategy
}

// Progress is the {current, total, stage} tuple the status API reports.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

// Job represents one submitted document and its processing lifecycle.
type Job struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Filename    string     `json:"filename"`
	Title       string     `json:"title,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
	ContentHash string     `json:"content_hash"`
	PageCount   int        `json:"page_count"` // Filled after decomposition
	Status      JobStatus  `json:"status"`
	Progress    Progress   `json:"progress"`
	Options     JobOptions `json:"options"`
	RetryCount  int        `json:"retry_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StorageKey returns the object store key for the original document,
// layout documents/{owner}/{jobId}/{filename}.
func (j *Job) StorageKey() string {
	return "documents/" + j.OwnerID + "/" + j.ID + "/" + j.Filename
}

// StoragePrefix returns the object store prefix owning all of the job's objects.
func (j *Job) StoragePrefix() string {
	return "documents/" + j.OwnerID + "/" + j.ID + "/"
}

// IsTerminal returns true when no further pipeline work is scheduled.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkStarted stamps the processing start time once.
func (j *Job) MarkStarted() {
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
}

// MarkCompleted stamps the completion time.
func (j *Job) MarkCompleted() {
	now := time.Now().UTC()
	j.CompletedAt = &now
}
