package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/interfaces"
)

// jobEntry represents a registered scheduled job with metadata
type jobEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
	lastError string
}

// Scheduler runs background jobs on cron schedules. Each job gets
// at-most-one-in-flight semantics: a tick that arrives while the previous
// run is still going is skipped, not queued.
type Scheduler struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex // Protects jobs map and per-job isRunning flags
	jobs    map[string]*jobEntry
	running bool
	cancel  context.CancelFunc
}

var _ interfaces.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a new scheduler
func NewScheduler(logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// AddJob registers a named job on a cron schedule. Must be called before
// Start.
func (s *Scheduler) AddJob(name, schedule string, fn func(ctx context.Context) error) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already registered: %s", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  fn,
	}

	cronID, err := s.cron.AddFunc(schedule, func() { s.runJob(name) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job", name).
		Str("schedule", schedule).
		Msg("Scheduled job registered")
	return nil
}

// Start begins the scheduler
func (s *Scheduler) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	_, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight runs to return
func (s *Scheduler) Stop() error {
	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	if s.cancel != nil {
		s.cancel()
	}
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// runJob executes one job, skipping the tick when the previous run is still
// in flight.
func (s *Scheduler) runJob(name string) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().
			Str("job", name).
			Msg("Previous run still in flight, skipping tick")
		return
	}
	entry.isRunning = true
	s.jobMu.Unlock()

	defer func() {
		s.jobMu.Lock()
		entry.isRunning = false
		now := time.Now()
		entry.lastRun = &now
		s.jobMu.Unlock()
	}()

	s.logger.Debug().Str("job", name).Msg("Scheduled job starting")
	startTime := time.Now()

	if err := entry.handler(context.Background()); err != nil {
		s.jobMu.Lock()
		entry.lastError = err.Error()
		s.jobMu.Unlock()

		s.logger.Error().
			Err(err).
			Str("job", name).
			Dur("duration", time.Since(startTime)).
			Msg("Scheduled job failed")
		return
	}

	s.logger.Info().
		Str("job", name).
		Dur("duration", time.Since(startTime)).
		Msg("Scheduled job completed")
}
