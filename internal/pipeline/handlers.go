package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// Handlers returns the task handlers for every pipeline kind, wrapped
// with the step middleware. The worker pool registers them by kind.
func (o *Orchestrator) Handlers() map[string]interfaces.TaskHandler {
	return map[string]interfaces.TaskHandler{
		models.TaskProcessDocument: o.wrap(models.TaskProcessDocument, o.handleProcessDocument),
		models.TaskAnalyzeChunk:    o.wrap(models.TaskAnalyzeChunk, o.handleAnalyzeChunk),
		models.TaskAggregate:       o.wrap(models.TaskAggregate, o.handleAggregate),
		models.TaskScoreJob:        o.wrap(models.TaskScoreJob, o.handleScoreJob),
		models.TaskNotify:          o.wrap(models.TaskNotify, o.handleNotify),
	}
}

// handleProcessDocument validates the uploaded PDF, extracts its chunk
// windows, and fans out one analysis task per chunk. A retryable failure
// after the uploaded -> processing transition leaves the job in processing
// with this task still its active one; the redelivery resumes the stage
// instead of acking as a no-op. Chunk storage is an upsert and chunk
// analysis is idempotent, so a resumed extraction is safe.
func (o *Orchestrator) handleProcessDocument(ctx context.Context, task *models.Task) error {
	job, ok, err := o.loadJob(ctx, task.JobID)
	if err != nil || !ok {
		return err
	}
	resuming := job.Status == models.JobStatusProcessing && job.Options.ActiveTaskID == task.ID
	if job.Status != models.JobStatusUploaded && !resuming {
		return nil
	}

	if !resuming {
		job, err = o.storage.Jobs().CompareAndSetStatus(ctx, job.ID, models.JobStatusUploaded, models.JobStatusProcessing)
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				return nil
			}
			return err
		}
		job.MarkStarted()
		if err := o.storage.Jobs().Update(ctx, job); err != nil {
			return err
		}
	}
	o.updateProgress(ctx, job, 0, 0, StageValidating)

	path, cleanup, err := o.materialize(ctx, job)
	if err != nil {
		o.failJob(ctx, job.ID, err)
		return nil
	}
	defer cleanup()

	info, err := o.decomposer.Validate(ctx, path)
	if err != nil {
		if common.IsRetryable(err) {
			return err
		}
		o.failJob(ctx, job.ID, err)
		return nil
	}

	job.PageCount = info.PageCount
	job.ContentHash = info.ContentHash
	job.Options.TotalPages = info.PageCount
	if job.Title == "" && info.Title != "" {
		job.Title = info.Title
	}
	if err := o.storage.Jobs().Update(ctx, job); err != nil {
		return err
	}

	plans := o.decomposer.PlanChunks(info.PageCount)
	o.updateProgress(ctx, job, 0, len(plans), StageChunking)

	chunks, errs := o.decomposer.ExtractChunks(ctx, path, plans)
	stored := 0
	for chunk := range chunks {
		if err := o.storage.Chunks().Store(ctx, chunk); err != nil {
			o.failJob(ctx, job.ID, err)
			return nil
		}
		if err := o.enqueueAnalyzeChunk(ctx, job.ID, chunk.Index); err != nil {
			o.failJob(ctx, job.ID, err)
			return nil
		}
		stored++
		o.updateProgress(ctx, job, stored, len(plans), StageChunking)
	}
	if err := <-errs; err != nil {
		o.failJob(ctx, job.ID, err)
		return nil
	}

	o.removeScratch(job)
	job.Options.TempPath = ""
	if err := o.storage.Jobs().Update(ctx, job); err != nil {
		return err
	}

	job, err = o.storage.Jobs().CompareAndSetStatus(ctx, job.ID, models.JobStatusProcessing, models.JobStatusAnalyzing)
	if err != nil {
		return err
	}
	o.updateProgress(ctx, job, 0, len(plans), StageAnalyzing)

	o.logger.Info().
		Str("job_id", job.ID).
		Int("pages", info.PageCount).
		Int("chunks", len(plans)).
		Msg("Document decomposed")

	// Chunk analyses that raced ahead of the status change would otherwise
	// never trigger aggregation.
	return o.maybeAggregate(ctx, job)
}

func (o *Orchestrator) enqueueAnalyzeChunk(ctx context.Context, jobID string, index int) error {
	payload, _ := json.Marshal(models.AnalyzeChunkPayload{JobID: jobID, ChunkIndex: index})
	return o.queue.Enqueue(ctx, &models.Task{
		ID:       common.NewTaskID(),
		Queue:    models.QueueAnalysis,
		Kind:     models.TaskAnalyzeChunk,
		JobID:    jobID,
		Priority: models.PriorityNormal,
		Payload:  payload,
		Timeout:  o.stageTimeout(models.TaskAnalyzeChunk),
	})
}

// handleAnalyzeChunk analyzes one chunk and, when it is the last one,
// hands the job to aggregation. A chunk whose analysis already exists is
// only re-checked for completion.
func (o *Orchestrator) handleAnalyzeChunk(ctx context.Context, task *models.Task) error {
	var payload models.AnalyzeChunkPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("malformed analyze payload: %v", err)
	}

	job, ok, err := o.loadJob(ctx, payload.JobID)
	if err != nil || !ok {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	if _, err := o.storage.Analyses().Get(ctx, payload.JobID, payload.ChunkIndex); err == nil {
		return o.maybeAggregate(ctx, job)
	}

	chunk, err := o.storage.Chunks().Get(ctx, payload.JobID, payload.ChunkIndex)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}

	analysis, err := o.analyzer.AnalyzeChunk(ctx, chunk)
	if err != nil {
		return err
	}
	if err := o.storage.Analyses().Store(ctx, analysis); err != nil {
		return err
	}

	chunk.Status = models.ChunkStatusAnalyzed
	if err := o.storage.Chunks().Store(ctx, chunk); err != nil {
		return err
	}

	job.Progress.Current++
	o.updateProgress(ctx, job, job.Progress.Current, job.Progress.Total, StageAnalyzing)

	return o.maybeAggregate(ctx, job)
}

// maybeAggregate enqueues the aggregation task once every chunk of an
// analyzing job has its analysis. Duplicate triggers are harmless; the
// aggregate handler is idempotent.
func (o *Orchestrator) maybeAggregate(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobStatusAnalyzing {
		return nil
	}

	total, err := o.storage.Chunks().CountByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	done, err := o.countChunkAnalyses(ctx, job.ID)
	if err != nil {
		return err
	}
	if total == 0 || done < total {
		return nil
	}

	payload, _ := json.Marshal(models.AggregatePayload{JobID: job.ID, TotalChunks: total})
	return o.queue.Enqueue(ctx, &models.Task{
		ID:       common.NewTaskID(),
		Queue:    models.QueueAnalysis,
		Kind:     models.TaskAggregate,
		JobID:    job.ID,
		Priority: models.PriorityUrgent,
		Payload:  payload,
		Timeout:  o.stageTimeout(models.TaskAggregate),
	})
}

func (o *Orchestrator) countChunkAnalyses(ctx context.Context, jobID string) (int, error) {
	analyses, err := o.storage.Analyses().ListByJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range analyses {
		if a.ChunkIndex >= 0 {
			n++
		}
	}
	return n, nil
}

// handleAggregate merges chunk analyses into the job-level analysis and
// hands off to scoring.
func (o *Orchestrator) handleAggregate(ctx context.Context, task *models.Task) error {
	var payload models.AggregatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("malformed aggregate payload: %v", err)
	}

	job, ok, err := o.loadJob(ctx, payload.JobID)
	if err != nil || !ok {
		return err
	}
	if job.Status != models.JobStatusAnalyzing {
		return nil
	}

	analyses, err := o.storage.Analyses().ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	chunkAnalyses := analyses[:0:0]
	for _, a := range analyses {
		if a.ChunkIndex >= 0 {
			chunkAnalyses = append(chunkAnalyses, a)
		}
	}
	sort.Slice(chunkAnalyses, func(i, j int) bool { return chunkAnalyses[i].ChunkIndex < chunkAnalyses[j].ChunkIndex })

	aggregate, err := o.analyzer.Aggregate(ctx, job.ID, chunkAnalyses)
	if err != nil {
		return err
	}
	if err := o.storage.Analyses().Store(ctx, aggregate); err != nil {
		return err
	}

	o.updateProgress(ctx, job, job.Progress.Total, job.Progress.Total, StageScoring)

	scorePayload, _ := json.Marshal(models.ScoreJobPayload{JobID: job.ID})
	return o.queue.Enqueue(ctx, &models.Task{
		ID:       common.NewTaskID(),
		Queue:    models.QueueML,
		Kind:     models.TaskScoreJob,
		JobID:    job.ID,
		Priority: models.PriorityNormal,
		Payload:  scorePayload,
		Timeout:  o.stageTimeout(models.TaskScoreJob),
	})
}

// handleScoreJob extracts the feature vector from the aggregate analysis
// and runs the ensemble, then completes the job.
func (o *Orchestrator) handleScoreJob(ctx context.Context, task *models.Task) error {
	var payload models.ScoreJobPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("malformed score payload: %v", err)
	}

	job, ok, err := o.loadJob(ctx, payload.JobID)
	if err != nil || !ok {
		return err
	}
	if job.Status != models.JobStatusAnalyzing {
		return nil
	}

	aggregate, err := o.storage.Analyses().GetAggregate(ctx, job.ID)
	if err != nil {
		return err
	}
	chunks, err := o.storage.Chunks().ListByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	fullText := fullTextFromChunks(chunks)

	var fv *models.FeatureVector
	var signals *interfaces.EnhancedSignals
	if job.Options.EnhancedAnalysis {
		fv = o.enhanced.Extract(aggregate, fullText)
		signals = &interfaces.EnhancedSignals{
			RubricScore:          o.enhanced.Rubric(aggregate, fv),
			ExtractionConfidence: o.enhanced.ExtractionConfidence(aggregate, fullText),
		}
	} else {
		fv = o.original.Extract(aggregate, fullText)
	}

	prediction, err := o.scorer.Score(ctx, job.ID, fv, signals)
	if err != nil {
		return err
	}
	if err := o.storage.Predictions().Store(ctx, prediction); err != nil {
		return err
	}

	job, err = o.storage.Jobs().CompareAndSetStatus(ctx, job.ID, models.JobStatusAnalyzing, models.JobStatusCompleted)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil
		}
		return err
	}
	job.MarkCompleted()
	o.updateProgress(ctx, job, job.Progress.Total, job.Progress.Total, StageCompleted)

	o.notify(ctx, job.ID, "completed", fmt.Sprintf("lead class %s, score %.1f", prediction.Class, prediction.Score))
	o.logger.Info().
		Str("job_id", job.ID).
		Float64("score", prediction.Score).
		Str("class", prediction.Class).
		Msg("Job completed")
	return nil
}

// handleNotify currently only records lifecycle events in the log.
// TODO: deliver to the webhook sink once the notification endpoint
// config lands.
func (o *Orchestrator) handleNotify(ctx context.Context, task *models.Task) error {
	var payload models.NotifyPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("malformed notify payload: %v", err)
	}
	o.logger.Info().
		Str("job_id", payload.JobID).
		Str("event", payload.Event).
		Str("detail", payload.Detail).
		Msg("Job event")
	return nil
}

// loadJob resolves the job for a task. Revoked or deleted jobs return
// ok=false with no error so the task acks as a no-op.
func (o *Orchestrator) loadJob(ctx context.Context, jobID string) (*models.Job, bool, error) {
	if jobID == "" {
		return nil, false, nil
	}
	if o.isRevoked(jobID) {
		return nil, false, nil
	}
	var job *models.Job
	err := common.Retry(ctx, func() error {
		var err error
		job, err = o.storage.Jobs().Get(ctx, jobID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return job, true, nil
}

// materialize makes the job's PDF available on the local filesystem,
// preferring the scratch copy from upload over an object store download.
func (o *Orchestrator) materialize(ctx context.Context, job *models.Job) (string, func(), error) {
	if job.Options.TempPath != "" {
		if _, err := os.Stat(job.Options.TempPath); err == nil {
			return job.Options.TempPath, func() {}, nil
		}
	}

	rc, err := o.objects.Get(ctx, job.StorageKey())
	if err != nil {
		return "", nil, fmt.Errorf("fetch document %s: %w", job.StorageKey(), err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(o.config.TempDir, "arremate_*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("download document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

// fullTextFromChunks rebuilds the document text from ordered chunks,
// dropping the pages each chunk shares with its predecessor.
func fullTextFromChunks(chunks []*models.Chunk) string {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	var b strings.Builder
	prevEnd := 0
	for _, chunk := range chunks {
		if chunk.PageStart > prevEnd {
			b.WriteString(chunk.Text)
			prevEnd = chunk.PageEnd
			continue
		}
		firstNew := prevEnd + 1
		if firstNew > chunk.PageEnd {
			continue
		}
		marker := fmt.Sprintf("--- Page %d ---", firstNew)
		if idx := strings.Index(chunk.Text, marker); idx >= 0 {
			b.WriteString(chunk.Text[idx:])
		} else {
			b.WriteString(chunk.Text)
		}
		prevEnd = chunk.PageEnd
	}
	return b.String()
}
