package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"uploaded to processing", JobStatusUploaded, JobStatusProcessing, true},
		{"processing to analyzing", JobStatusProcessing, JobStatusAnalyzing, true},
		{"analyzing to completed", JobStatusAnalyzing, JobStatusCompleted, true},
		{"any stage to failed", JobStatusProcessing, JobStatusFailed, true},
		{"failed to uploaded on retry", JobStatusFailed, JobStatusUploaded, true},
		{"no skipping stages", JobStatusUploaded, JobStatusAnalyzing, false},
		{"no backwards move", JobStatusAnalyzing, JobStatusProcessing, false},
		{"completed is terminal", JobStatusCompleted, JobStatusProcessing, false},
		{"completed cannot fail", JobStatusCompleted, JobStatusFailed, false},
		{"failed cannot complete directly", JobStatusFailed, JobStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobStorageKey(t *testing.T) {
	job := &Job{
		ID:       "job_abc",
		OwnerID:  "550e8400-e29b-41d4-a716-446655440000",
		Filename: "edital.pdf",
	}

	assert.Equal(t, "documents/550e8400-e29b-41d4-a716-446655440000/job_abc/edital.pdf", job.StorageKey())
	assert.Equal(t, "documents/550e8400-e29b-41d4-a716-446655440000/job_abc/", job.StoragePrefix())
}

func TestJobIsTerminal(t *testing.T) {
	job := &Job{Status: JobStatusAnalyzing}
	assert.False(t, job.IsTerminal())

	job.Status = JobStatusCompleted
	assert.True(t, job.IsTerminal())

	job.Status = JobStatusFailed
	assert.True(t, job.IsTerminal())
}

func TestMarkStartedIsIdempotent(t *testing.T) {
	job := &Job{}
	job.MarkStarted()
	first := job.StartedAt
	job.MarkStarted()
	assert.Equal(t, first, job.StartedAt)
}
