package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/arremate/internal/models"
)

// TaskQueue - persistent at-least-once task delivery with late ack.
// Dequeued tasks stay invisible for the visibility timeout; unacked tasks
// reappear, and tasks over their receive budget move to the dead-letter
// store.
type TaskQueue interface {
	// Enqueue adds a task to its named queue. Returns a saturation error
	// when the queue is at its depth cap.
	Enqueue(ctx context.Context, task *models.Task) error

	// Dequeue leases the next visible task from the queue, priority then
	// FIFO. Returns (nil, nil) when the queue is empty.
	Dequeue(ctx context.Context, queue string) (*models.Task, error)

	// Ack removes a completed task permanently.
	Ack(ctx context.Context, queue, taskID string) error

	// Nack returns a task early for redelivery, optionally recording the
	// failure cause for dead-letter audit.
	Nack(ctx context.Context, queue, taskID string, cause error) error

	// ExtendLease pushes out the visibility deadline of a leased task.
	ExtendLease(ctx context.Context, queue, taskID string, d time.Duration) error

	Depth(ctx context.Context, queue string) (int, error)
	Depths(ctx context.Context) (map[string]int, error)

	// DeadLetters lists dead-lettered tasks for inspection.
	DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error)
	CountDeadLetters(ctx context.Context) (int, error)

	// RecoverExpired makes tasks with lapsed leases visible again and
	// dead-letters those over budget. Run at startup and on a sweep
	// schedule.
	RecoverExpired(ctx context.Context) (int, error)
}

// TaskHandler processes one dequeued task. A nil return acks the task;
// an error nacks it for redelivery.
type TaskHandler func(ctx context.Context, task *models.Task) error

// WorkerPool - polls queues and dispatches tasks to registered handlers
type WorkerPool interface {
	Register(kind string, handler TaskHandler)
	Start(ctx context.Context) error
	Stop() error
}

// Scheduler - cron-driven background jobs with at-most-one-in-flight
// semantics per job name
type Scheduler interface {
	AddJob(name, schedule string, fn func(ctx context.Context) error) error
	Start() error
	Stop() error
}
