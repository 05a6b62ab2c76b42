package models

import "time"

// ScopeGlobal is the snapshot scope covering all tenants. Any other scope
// value is an owner ID and carries only that tenant's jobs and leads.
const ScopeGlobal = "global"

// DashboardSnapshot is the cached aggregate the stats endpoint serves.
// Snapshots are rebuilt read-through when the cached copy expires and are
// keyed by scope so tenants never see each other's numbers.
type DashboardSnapshot struct {
	Scope          string            `json:"scope"`
	TotalJobs      int               `json:"total_jobs"`
	JobsByStatus   map[string]int    `json:"jobs_by_status"`
	MonthlyJobs    map[string]int    `json:"monthly_jobs"` // "2006-01" -> count
	LeadsByClass   map[string]int    `json:"leads_by_class"`
	AverageScore   float64           `json:"average_score"`
	QueueDepths    map[string]int    `json:"queue_depths"`
	DeadLetters    int               `json:"dead_letters"`
	ActiveModels   map[string]string `json:"active_models"` // name -> version
	PendingReviews int               `json:"pending_reviews"`
	GeneratedAt    time.Time         `json:"generated_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// Fresh reports whether the snapshot is still servable at time now.
func (s *DashboardSnapshot) Fresh(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
