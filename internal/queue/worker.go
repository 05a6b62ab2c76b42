package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// WorkerPool polls the named queues and dispatches tasks to registered
// handlers. One worker goroutine owns one queue poll at a time; handler
// success acks the task, handler failure nacks it for redelivery.
type WorkerPool struct {
	queue    interfaces.TaskQueue
	config   *common.QueueConfig
	handlers map[string]interfaces.TaskHandler
	logger   arbor.ILogger
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ interfaces.WorkerPool = (*WorkerPool)(nil)

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue interfaces.TaskQueue, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	return &WorkerPool{
		queue:    queue,
		config:   config,
		handlers: make(map[string]interfaces.TaskHandler),
		logger:   logger,
	}
}

// Register registers a handler for a task kind. Must be called before Start.
func (wp *WorkerPool) Register(kind string, handler interfaces.TaskHandler) {
	wp.handlers[kind] = handler
	wp.logger.Debug().
		Str("kind", kind).
		Msg("Task handler registered")
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) error {
	if wp.cancel != nil {
		return fmt.Errorf("worker pool already started")
	}

	ctx, wp.cancel = context.WithCancel(ctx)
	wp.done = make(chan struct{}, wp.config.Concurrency)

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		go wp.worker(ctx, i)
	}
	return nil
}

// Stop cancels the workers and waits for them to drain.
func (wp *WorkerPool) Stop() error {
	if wp.cancel == nil {
		return nil
	}
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	for i := 0; i < wp.config.Concurrency; i++ {
		<-wp.done
	}
	wp.cancel = nil
	return nil
}

// worker is the main poll loop. Workers are spread across the queues so each
// queue always has pollers, and starts are staggered to cut lock contention.
func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	defer func() { wp.done <- struct{}{} }()

	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	queue := models.QueueNames[workerID%len(models.QueueNames)]
	wp.logger.Debug().
		Int("worker_id", workerID).
		Str("queue", queue).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain the assigned queue first, then steal one task from
			// the others so no queue starves.
			if wp.processOne(ctx, workerID, queue) {
				continue
			}
			for _, other := range models.QueueNames {
				if other == queue {
					continue
				}
				if wp.processOne(ctx, workerID, other) {
					break
				}
			}
		}
	}
}

// processOne dequeues and runs a single task. Returns true when a task was
// found, whether or not it succeeded.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int, queue string) bool {
	task, err := wp.queue.Dequeue(ctx, queue)
	if err != nil {
		wp.logger.Warn().
			Err(err).
			Int("worker_id", workerID).
			Str("queue", queue).
			Msg("Error dequeuing task")
		return false
	}
	if task == nil {
		return false
	}

	handler, exists := wp.handlers[task.Kind]
	if !exists {
		wp.logger.Error().
			Str("kind", task.Kind).
			Str("task_id", task.ID).
			Msg("No handler registered for task kind")
		// No handler will ever appear for this task; drop it to the DLQ.
		if err := wp.queue.Nack(ctx, queue, task.ID, fmt.Errorf("no handler for kind %s", task.Kind)); err != nil {
			wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to nack unhandled task")
		}
		return true
	}

	wp.logger.Debug().
		Str("task_id", task.ID).
		Str("kind", task.Kind).
		Int("worker_id", workerID).
		Msg("Processing task")

	startTime := time.Now()
	handlerErr := handler(ctx, task)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("task_id", task.ID).
			Str("kind", task.Kind).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task handler failed")

		if err := wp.queue.Nack(ctx, queue, task.ID, handlerErr); err != nil {
			wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to nack task")
		}
		return true
	}

	wp.logger.Info().
		Str("task_id", task.ID).
		Str("kind", task.Kind).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Task completed")

	if err := wp.queue.Ack(ctx, queue, task.ID); err != nil {
		wp.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to ack task")
	}
	return true
}
