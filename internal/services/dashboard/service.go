package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"gonum.org/v1/gonum/stat"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// Service serves the operational dashboard aggregates. Snapshots are
// cached in memory and in badger with a TTL; a miss or expiry rebuilds
// the snapshot read-through.
type Service struct {
	storage  interfaces.StorageManager
	queue    interfaces.TaskQueue
	registry interfaces.ModelRegistry
	config   *common.DashboardConfig
	logger   arbor.ILogger

	mu sync.Mutex
	// cached holds the in-memory copy per scope; staleAfter marks the
	// last Invalidate so a persisted snapshot from before it is not
	// served.
	cached     map[string]*models.DashboardSnapshot
	staleAfter time.Time
}

var _ interfaces.DashboardService = (*Service)(nil)

func NewService(
	storage interfaces.StorageManager,
	queue interfaces.TaskQueue,
	registry interfaces.ModelRegistry,
	config *common.DashboardConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:  storage,
		queue:    queue,
		registry: registry,
		config:   config,
		logger:   logger,
		cached:   make(map[string]*models.DashboardSnapshot),
	}
}

// Stats returns the snapshot for one scope, rebuilding it when stale.
// An empty userID serves the all-tenant scope; a non-empty one covers
// only that user's jobs and leads.
func (s *Service) Stats(ctx context.Context, userID string) (*models.DashboardSnapshot, error) {
	now := time.Now().UTC()
	scope := models.ScopeGlobal
	if userID != "" {
		scope = userID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached := s.cached[scope]; cached != nil && cached.Fresh(now) {
		return cached, nil
	}

	// The persisted snapshot survives restarts within its TTL.
	if stored, err := s.storage.Snapshots().Get(ctx, scope); err == nil && stored.Fresh(now) && stored.GeneratedAt.After(s.staleAfter) {
		s.cached[scope] = stored
		return stored, nil
	}

	snapshot, err := s.build(ctx, scope, userID, now)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Snapshots().Store(ctx, snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist dashboard snapshot")
	}
	s.cached[scope] = snapshot
	return snapshot, nil
}

// Invalidate drops every cached snapshot so the next Stats call rebuilds.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = make(map[string]*models.DashboardSnapshot)
	s.staleAfter = time.Now().UTC()
	s.mu.Unlock()
}

// build assembles one scope's snapshot. Jobs, monthly counts, leads, and
// the average score are tenant-scoped; queue depths, dead letters, active
// models, and pending reviews are operational and identical in every scope.
func (s *Service) build(ctx context.Context, scope, userID string, now time.Time) (*models.DashboardSnapshot, error) {
	start := time.Now()

	var (
		total    int
		byStatus map[string]int
		ownedIDs map[string]bool
	)
	if userID == "" {
		err := common.Retry(ctx, func() error {
			var err error
			total, err = s.storage.Jobs().Count(ctx)
			if err != nil {
				return err
			}
			byStatus, err = s.storage.Jobs().CountByStatus(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		jobs, err := s.storage.Jobs().ListByOwner(ctx, userID, 0, 0)
		if err != nil {
			return nil, err
		}
		total = len(jobs)
		byStatus = make(map[string]int)
		ownedIDs = make(map[string]bool, len(jobs))
		for _, job := range jobs {
			byStatus[string(job.Status)]++
			ownedIDs[job.ID] = true
		}
	}

	monthly, err := s.storage.Jobs().CountByMonth(ctx, userID)
	if err != nil {
		return nil, err
	}

	predictions, err := s.storage.Predictions().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	leadsByClass := make(map[string]int)
	var scores []float64
	for _, p := range predictions {
		if ownedIDs != nil && !ownedIDs[p.JobID] {
			continue
		}
		leadsByClass[p.Class]++
		scores = append(scores, p.Score)
	}
	averageScore := 0.0
	if len(scores) > 0 {
		averageScore = stat.Mean(scores, nil)
	}

	depths, err := s.queue.Depths(ctx)
	if err != nil {
		return nil, err
	}
	deadLetters, err := s.queue.CountDeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	pendingReviews, err := s.storage.Feedback().CountUnprocessed(ctx)
	if err != nil {
		return nil, err
	}

	activeModels := make(map[string]string)
	for _, name := range []string{models.ModelForest, models.ModelBoosting} {
		_, meta, err := s.registry.Active(ctx, name)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return nil, err
		}
		activeModels[name] = meta.Version
	}

	snapshot := &models.DashboardSnapshot{
		Scope:          scope,
		TotalJobs:      total,
		JobsByStatus:   byStatus,
		MonthlyJobs:    monthly,
		LeadsByClass:   leadsByClass,
		AverageScore:   averageScore,
		QueueDepths:    depths,
		DeadLetters:    deadLetters,
		ActiveModels:   activeModels,
		PendingReviews: pendingReviews,
		GeneratedAt:    now,
		ExpiresAt:      now.Add(s.config.CacheTTL),
	}

	s.logger.Debug().
		Str("scope", scope).
		Int("total_jobs", total).
		Str("build_time", time.Since(start).String()).
		Msg("Dashboard snapshot rebuilt")
	return snapshot, nil
}
