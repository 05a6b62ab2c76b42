package queue

import "errors"

var (
	// ErrQueueSaturated is returned by Enqueue when the queue is at its
	// depth cap. The HTTP layer maps it to 503 with Retry-After.
	ErrQueueSaturated = errors.New("queue saturated")

	// ErrTaskNotFound is returned by Ack/Nack/ExtendLease for unknown tasks.
	ErrTaskNotFound = errors.New("task not found")

	// ErrUnknownQueue rejects operations on queues outside the fixed set.
	ErrUnknownQueue = errors.New("unknown queue")
)
