package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// wrap applies the shared step behavior around a task handler: the
// per-task time limit (falling back to the configured stage timeout),
// panic containment, timing logs, and the last-attempt fallback that
// fails the job instead of silently dead-lettering its final retry.
func (o *Orchestrator) wrap(kind string, handler interfaces.TaskHandler) interfaces.TaskHandler {
	return func(ctx context.Context, task *models.Task) (err error) {
		limit := task.Timeout
		if limit <= 0 {
			limit = o.stageTimeout(kind)
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s panicked: %v", common.ErrProcessing, kind, r)
			}
			event := o.logger.Debug()
			if err != nil {
				event = o.logger.Warn().Err(err)
			}
			event.
				Str("kind", kind).
				Str("task_id", task.ID).
				Str("job_id", task.JobID).
				Str("duration", time.Since(start).String()).
				Msg("Pipeline step finished")

			if err != nil && task.JobID != "" && o.lastAttempt(task, err) {
				o.failJob(ctx, task.JobID, err)
			}
		}()

		return handler(stepCtx, task)
	}
}

// lastAttempt reports whether this delivery exhausts the task's retry
// budget, either because the error is not retryable or because the
// receive count hit the cap.
func (o *Orchestrator) lastAttempt(task *models.Task, err error) bool {
	if !common.IsRetryable(err) {
		return true
	}
	if task.ExceededReceives() {
		return true
	}
	return task.MaxReceive == 0 && task.ReceiveCount >= o.config.StepRetries
}
