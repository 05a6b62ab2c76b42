package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/services/features"
)

// Pipeline stages reported through job progress.
const (
	StageValidating  = "validating"
	StageChunking    = "chunking"
	StageAnalyzing   = "analyzing"
	StageAggregating = "aggregating"
	StageScoring     = "scoring"
	StageCompleted   = "completed"
)

// Orchestrator drives jobs through validate -> chunk -> analyze ->
// aggregate -> score. Stage transitions go through CompareAndSetStatus so
// a redelivered task can never move a job backwards.
type Orchestrator struct {
	storage    interfaces.StorageManager
	objects    interfaces.ObjectStore
	queue      interfaces.TaskQueue
	decomposer interfaces.PDFDecomposer
	analyzer   interfaces.ContentAnalyzer
	original   *features.Original
	enhanced   *features.Enhanced
	scorer     interfaces.ScoringService
	config     *common.PipelineConfig
	logger     arbor.ILogger

	// revoked holds jobs deleted while tasks were still in flight. Their
	// remaining tasks ack as no-ops.
	revokedMu sync.Mutex
	revoked   map[string]bool
}

var _ interfaces.PipelineOrchestrator = (*Orchestrator)(nil)

func NewOrchestrator(
	storage interfaces.StorageManager,
	objects interfaces.ObjectStore,
	queue interfaces.TaskQueue,
	decomposer interfaces.PDFDecomposer,
	analyzer interfaces.ContentAnalyzer,
	scorer interfaces.ScoringService,
	config *common.PipelineConfig,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		storage:    storage,
		objects:    objects,
		queue:      queue,
		decomposer: decomposer,
		analyzer:   analyzer,
		original:   features.NewOriginal(),
		enhanced:   features.NewEnhanced(),
		scorer:     scorer,
		config:     config,
		logger:     logger,
		revoked:    make(map[string]bool),
	}
}

// Submit enqueues processing for an uploaded job.
func (o *Orchestrator) Submit(ctx context.Context, jobID string) error {
	job, err := o.storage.Jobs().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusUploaded {
		return common.NewStateError(string(job.Status), string(models.JobStatusUploaded))
	}

	task := &models.Task{
		ID:       common.NewTaskID(),
		Queue:    models.QueuePDF,
		Kind:     models.TaskProcessDocument,
		JobID:    jobID,
		Priority: models.PriorityNormal,
		Timeout:  o.stageTimeout(models.TaskProcessDocument),
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		return err
	}

	job.Options.ActiveTaskID = task.ID
	if err := o.storage.Jobs().Update(ctx, job); err != nil {
		return err
	}

	o.logger.Info().Str("job_id", jobID).Str("task_id", task.ID).Msg("Job submitted for processing")
	return nil
}

// Retry resets a failed job and resubmits it. The original document must
// still exist in the object store.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) error {
	job, err := o.storage.Jobs().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusFailed {
		return common.NewStateError(string(job.Status), string(models.JobStatusFailed))
	}

	exists, err := o.objects.Exists(ctx, job.StorageKey())
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: original document missing for job %s", common.ErrConflict, jobID)
	}

	job, err = o.storage.Jobs().CompareAndSetStatus(ctx, jobID, models.JobStatusFailed, models.JobStatusUploaded)
	if err != nil {
		return err
	}

	// Stale rows from the failed run are removed before the rerun.
	if err := o.storage.Chunks().DeleteByJob(ctx, jobID); err != nil {
		return err
	}
	if err := o.storage.Analyses().DeleteByJob(ctx, jobID); err != nil {
		return err
	}

	job.RetryCount++
	job.Error = ""
	job.Progress = models.Progress{}
	job.CompletedAt = nil
	if err := o.storage.Jobs().Update(ctx, job); err != nil {
		return err
	}

	o.revokedMu.Lock()
	delete(o.revoked, jobID)
	o.revokedMu.Unlock()

	o.logger.Info().Str("job_id", jobID).Int("retry_count", job.RetryCount).Msg("Job reset for retry")
	return o.Submit(ctx, jobID)
}

// Revoke abandons in-flight work for a deleted job and removes its
// scratch file. Queued tasks for the job ack as no-ops when dequeued.
func (o *Orchestrator) Revoke(ctx context.Context, jobID string) error {
	o.revokedMu.Lock()
	o.revoked[jobID] = true
	o.revokedMu.Unlock()

	job, err := o.storage.Jobs().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Options.TempPath != "" {
		if err := os.Remove(job.Options.TempPath); err != nil && !os.IsNotExist(err) {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove scratch file")
		}
	}
	return nil
}

func (o *Orchestrator) isRevoked(jobID string) bool {
	o.revokedMu.Lock()
	defer o.revokedMu.Unlock()
	return o.revoked[jobID]
}

// failJob moves the job to failed from whatever stage it is in and emits
// the failure notification.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	job, err := o.storage.Jobs().Get(ctx, jobID)
	if err != nil {
		return
	}
	if job.IsTerminal() {
		return
	}

	job, err = o.storage.Jobs().CompareAndSetStatus(ctx, jobID, job.Status, models.JobStatusFailed)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Could not mark job failed")
		return
	}
	job.Error = cause.Error()
	job.MarkCompleted()
	if err := o.storage.Jobs().Update(ctx, job); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Could not record job failure")
		return
	}

	o.removeScratch(job)
	o.notify(ctx, jobID, "failed", cause.Error())
	o.logger.Warn().Err(cause).Str("job_id", jobID).Msg("Job failed")
}

func (o *Orchestrator) removeScratch(job *models.Job) {
	if job.Options.TempPath == "" {
		return
	}
	if err := os.Remove(job.Options.TempPath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to remove scratch file")
	}
}

// notify enqueues a lifecycle event. Notification loss is tolerated;
// saturation here never fails the pipeline step.
func (o *Orchestrator) notify(ctx context.Context, jobID, event, detail string) {
	payload, _ := json.Marshal(models.NotifyPayload{JobID: jobID, Event: event, Detail: detail})
	task := &models.Task{
		ID:       common.NewTaskID(),
		Queue:    models.QueueNotifications,
		Kind:     models.TaskNotify,
		JobID:    jobID,
		Priority: models.PriorityBulk,
		Payload:  payload,
		Timeout:  o.stageTimeout(models.TaskNotify),
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Str("event", event).Msg("Dropped notification")
	}
}

// updateProgress persists only the progress fields. Status and the rest of
// the row stay untouched so a concurrent CAS transition is never overwritten
// with a stale copy.
func (o *Orchestrator) updateProgress(ctx context.Context, job *models.Job, current, total int, stage string) {
	job.Progress = models.Progress{Current: current, Total: total, Stage: stage}
	if err := o.storage.Jobs().UpdateProgress(ctx, job.ID, job.Progress); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist progress")
	}
}

// stageTimeout returns the configured soft limit for a pipeline stage.
func (o *Orchestrator) stageTimeout(kind string) time.Duration {
	switch kind {
	case models.TaskProcessDocument:
		return o.config.ChunkTimeout
	case models.TaskAnalyzeChunk, models.TaskAggregate:
		return o.config.AnalysisTimeout
	case models.TaskScoreJob, models.TaskRetrain:
		return o.config.MLTimeout
	default:
		return o.config.UploadTimeout
	}
}
