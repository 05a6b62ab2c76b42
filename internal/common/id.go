package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewTaskID generates a unique queue task ID
func NewTaskID() string {
	return uuid.New().String()
}

// NewFeedbackID generates a unique feedback record ID
// Format: fb_<uuid>
func NewFeedbackID() string {
	return "fb_" + uuid.New().String()
}

// IsUUIDv4 reports whether s parses as a version 4 UUID. Used to validate
// the userId field on uploads.
func IsUUIDv4(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4
}
