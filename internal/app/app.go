package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/handlers"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/ml"
	"github.com/ternarybob/arremate/internal/ml/learning"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
	"github.com/ternarybob/arremate/internal/pipeline"
	"github.com/ternarybob/arremate/internal/queue"
	"github.com/ternarybob/arremate/internal/services/analyzer"
	"github.com/ternarybob/arremate/internal/services/dashboard"
	"github.com/ternarybob/arremate/internal/services/pdf"
	"github.com/ternarybob/arremate/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager *badger.Manager
	Objects        interfaces.ObjectStore
	Queue          interfaces.TaskQueue

	Orchestrator *pipeline.Orchestrator
	Registry     interfaces.ModelRegistry
	Scorer       interfaces.ScoringService
	Learning     interfaces.LearningService
	Dashboard    interfaces.DashboardService

	Workers   interfaces.WorkerPool
	Scheduler interfaces.Scheduler

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	UploadHandler *handlers.UploadHandler
	JobHandler    *handlers.JobHandler
	MLHandler     *handlers.MLHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.initHandlers()

	if err := app.recoverInFlight(); err != nil {
		logger.Warn().Err(err).Msg("Startup recovery incomplete")
	}

	if err := app.Workers.Start(app.ctx); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := app.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("objectstore", cfg.Storage.ObjectStore.Backend).
		Bool("learning_enabled", cfg.Learning.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage opens badger and the object store, then builds the task
// queue on the same badger instance.
func (a *App) initStorage() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	objects, err := objectstore.New(a.ctx, a.Config.Storage.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to create object store: %w", err)
	}
	a.Objects = objects

	taskQueue, err := queue.NewBadgerQueue(manager.DB().Store().Badger(), &a.Config.Queue, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create task queue: %w", err)
	}
	a.Queue = taskQueue
	a.Logger.Debug().Int("concurrency", a.Config.Queue.Concurrency).Msg("Task queue initialized")

	return nil
}

// initServices builds the pipeline, ML stack, worker pool, and schedules.
func (a *App) initServices() error {
	a.Registry = ml.NewRegistry(a.StorageManager.Artifacts(), a.Objects, a.Logger)
	a.Scorer = ml.NewScorer(a.Registry, a.Logger)

	a.Orchestrator = pipeline.NewOrchestrator(
		a.StorageManager,
		a.Objects,
		a.Queue,
		pdf.NewDecomposer(&a.Config.Pipeline, a.Logger),
		analyzer.NewService(a.Logger),
		a.Scorer,
		&a.Config.Pipeline,
		a.Logger,
	)

	trainers := []interfaces.ModelTrainer{
		ml.NewForestTrainer(ml.DefaultForestSeed),
		ml.NewBoostingTrainer(),
	}
	a.Learning = learning.NewService(
		a.StorageManager, a.Registry, trainers, a.Objects,
		&a.Config.Learning, a.Logger,
	)

	a.Dashboard = dashboard.NewService(
		a.StorageManager, a.Queue, a.Registry,
		&a.Config.Dashboard, a.Logger,
	)

	a.Workers = queue.NewWorkerPool(a.Queue, &a.Config.Queue, a.Logger)
	for kind, handler := range a.Orchestrator.Handlers() {
		a.Workers.Register(kind, handler)
	}
	a.Workers.Register(models.TaskRetrain, a.handleRetrainTask)

	a.Scheduler = queue.NewScheduler(a.Logger)
	if err := a.registerSchedules(); err != nil {
		return err
	}

	return nil
}

// registerSchedules wires the learning loop crons and the lease recovery
// sweep.
func (a *App) registerSchedules() error {
	if err := a.Scheduler.AddJob("queue_recovery", "*/5 * * * *", func(ctx context.Context) error {
		n, err := a.Queue.RecoverExpired(ctx)
		if n > 0 {
			a.Logger.Info().Int("recovered", n).Msg("Requeued tasks with lapsed leases")
		}
		return err
	}); err != nil {
		return err
	}

	if !a.Config.Learning.Enabled {
		a.Logger.Info().Msg("Learning loop disabled, skipping schedules")
		return nil
	}

	if err := a.Scheduler.AddJob("uncertainty_sweep", a.Config.Learning.UncertaintySchedule, func(ctx context.Context) error {
		n, err := a.Learning.SweepUncertain(ctx)
		if n > 0 {
			a.Logger.Info().Int("flagged", n).Msg("Uncertain predictions queued for review")
		}
		return err
	}); err != nil {
		return err
	}

	if err := a.Scheduler.AddJob("feedback_batch", a.Config.Learning.FeedbackBatchSchedule, func(ctx context.Context) error {
		n, err := a.Learning.ProcessFeedback(ctx)
		if n > 0 {
			a.Logger.Info().Int("processed", n).Msg("Feedback batch processed")
		}
		return err
	}); err != nil {
		return err
	}

	return a.Scheduler.AddJob("auto_retrain", a.Config.Learning.AutoRetrainSchedule, func(ctx context.Context) error {
		trained, err := a.Learning.Retrain(ctx, "scheduled", false)
		if trained {
			a.Logger.Info().Msg("Scheduled retraining registered new model versions")
		}
		return err
	})
}

// handleRetrainTask runs queued retraining requests on the worker pool so
// manual triggers share the same serialization as scheduled ones.
func (a *App) handleRetrainTask(ctx context.Context, task *models.Task) error {
	var payload models.RetrainPayload
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("%w: bad retrain payload: %v", common.ErrValidation, err)
		}
	}
	if payload.Reason == "" {
		payload.Reason = "manual"
	}
	_, err := a.Learning.Retrain(ctx, payload.Reason, payload.Reason == "manual")
	return err
}

// recoverInFlight makes leased tasks from a previous run visible again.
// Jobs interrupted mid-stage resume when their tasks are redelivered.
func (a *App) recoverInFlight() error {
	n, err := a.Queue.RecoverExpired(a.ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.Logger.Info().Int("recovered", n).Msg("Recovered in-flight tasks from previous run")
	}
	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.UploadHandler = handlers.NewUploadHandler(
		a.StorageManager, a.Objects, a.Orchestrator,
		&a.Config.Pipeline, a.Logger,
	)
	a.JobHandler = handlers.NewJobHandler(
		a.StorageManager, a.Objects, a.Orchestrator,
		a.Dashboard, a.Config.Storage.ObjectStore.PresignTTL, a.Logger,
	)
	a.MLHandler = handlers.NewMLHandler(
		a.StorageManager, a.Queue, a.Registry,
		a.Learning, a.Dashboard, a.Logger,
	)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}
	if a.Workers != nil {
		if err := a.Workers.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
