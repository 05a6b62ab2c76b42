package models

import (
	"encoding/json"
	"time"
)

// Queue names. Each carries one kind of work and has its own depth cap.
const (
	QueuePDF           = "pdf"
	QueueML            = "ml"
	QueueAnalysis      = "analysis"
	QueueNotifications = "notifications"
	QueuePriority      = "priority"
)

// QueueNames lists every named queue for depth reporting and recovery scans.
var QueueNames = []string{QueuePDF, QueueML, QueueAnalysis, QueueNotifications, QueuePriority}

// Task kinds routed through the queues.
const (
	TaskProcessDocument = "pipeline.process_document"
	TaskAnalyzeChunk    = "analysis.chunk"
	TaskAggregate       = "analysis.aggregate"
	TaskScoreJob        = "ml.score"
	TaskRetrain         = "ml.retrain"
	TaskNotify          = "notify.job_event"
)

// Task priority levels. Lower values dequeue first within a queue.
const (
	PriorityUrgent = 0
	PriorityNormal = 1
	PriorityBulk   = 2
)

// Task is one unit of queued work. Payload is kind-specific JSON.
type Task struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Kind         string          `json:"kind"`
	JobID        string          `json:"job_id,omitempty"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timeout      time.Duration   `json:"timeout,omitempty"` // Per-attempt time limit; zero uses the handler default
	ReceiveCount int             `json:"receive_count"`
	MaxReceive   int             `json:"max_receive"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	LeasedUntil  time.Time       `json:"leased_until,omitempty"`
}

// ExceededReceives reports whether the task has burned its delivery budget
// and must be dead-lettered instead of redelivered.
func (t *Task) ExceededReceives() bool {
	return t.MaxReceive > 0 && t.ReceiveCount >= t.MaxReceive
}

// DeadLetter is the audit record kept when a task exhausts redelivery.
type DeadLetter struct {
	TaskID       string          `json:"task_id"`
	Queue        string          `json:"queue"`
	Kind         string          `json:"kind"`
	JobID        string          `json:"job_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ReceiveCount int             `json:"receive_count"`
	LastError    string          `json:"last_error,omitempty"`
	DeadAt       time.Time       `json:"dead_at"`
}

// ProcessDocumentPayload starts the pipeline for an uploaded job.
type ProcessDocumentPayload struct {
	JobID string `json:"job_id"`
}

// AnalyzeChunkPayload analyzes one extracted chunk.
type AnalyzeChunkPayload struct {
	JobID      string `json:"job_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// AggregatePayload merges chunk analyses and hands off to scoring.
type AggregatePayload struct {
	JobID       string `json:"job_id"`
	TotalChunks int    `json:"total_chunks"`
}

// ScoreJobPayload runs feature extraction and the ensemble for a job.
type ScoreJobPayload struct {
	JobID string `json:"job_id"`
}

// RetrainPayload triggers a model retraining cycle.
type RetrainPayload struct {
	Reason string `json:"reason"` // scheduled | feedback_threshold | drift | manual
}

// NotifyPayload reports a job lifecycle event.
type NotifyPayload struct {
	JobID  string `json:"job_id"`
	Event  string `json:"event"` // completed | failed | scored
	Detail string `json:"detail,omitempty"`
}
