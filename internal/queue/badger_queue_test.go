package queue

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/models"
)

func newTestQueue(t *testing.T, cfg *common.QueueConfig) *BadgerQueue {
	t.Helper()

	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &common.QueueConfig{
			VisibilityTimeout: 5 * time.Minute,
			MaxReceive:        3,
		}
	}

	q, err := NewBadgerQueue(db, cfg, arbor.NewLogger())
	require.NoError(t, err)
	return q
}

func newTask(queue, kind string, priority int) *models.Task {
	return &models.Task{
		ID:       common.NewTaskID(),
		Queue:    queue,
		Kind:     kind,
		Priority: priority,
	}
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	task := newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, task))

	depth, err := q.Depth(ctx, models.QueuePDF)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	got, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, 1, got.ReceiveCount)

	// Leased task is invisible to other consumers but still counted.
	second, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, q.Ack(ctx, models.QueuePDF, got.ID))

	depth, err = q.Depth(ctx, models.QueuePDF)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	bulk := newTask(models.QueueML, models.TaskScoreJob, models.PriorityBulk)
	require.NoError(t, q.Enqueue(ctx, bulk))
	time.Sleep(2 * time.Millisecond)

	first := newTask(models.QueueML, models.TaskScoreJob, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, first))
	time.Sleep(2 * time.Millisecond)

	second := newTask(models.QueueML, models.TaskScoreJob, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, second))
	time.Sleep(2 * time.Millisecond)

	urgent := newTask(models.QueueML, models.TaskScoreJob, models.PriorityUrgent)
	require.NoError(t, q.Enqueue(ctx, urgent))

	var order []string
	for i := 0; i < 4; i++ {
		task, err := q.Dequeue(ctx, models.QueueML)
		require.NoError(t, err)
		require.NotNil(t, task)
		order = append(order, task.ID)
	}

	// Urgent jumps the line; equal priorities keep enqueue order.
	assert.Equal(t, []string{urgent.ID, first.ID, second.ID, bulk.ID}, order)
}

func TestNackRedeliversUntilDeadLetter(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        2,
	})
	ctx := context.Background()

	task := newTask(models.QueueAnalysis, models.TaskAnalyzeChunk, models.PriorityNormal)
	task.JobID = "job_1"
	require.NoError(t, q.Enqueue(ctx, task))

	// First delivery fails.
	got, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Nack(ctx, models.QueueAnalysis, got.ID, assert.AnError))

	// Second delivery fails; budget of 2 is now spent.
	got, err = q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ReceiveCount)
	require.NoError(t, q.Nack(ctx, models.QueueAnalysis, got.ID, assert.AnError))

	// Task is gone from the queue and audited in the DLQ.
	got, err = q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	assert.Nil(t, got)

	letters, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, task.ID, letters[0].TaskID)
	assert.Equal(t, "job_1", letters[0].JobID)
	assert.Equal(t, assert.AnError.Error(), letters[0].LastError)

	count, err := q.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNackBackoffDelaysRedelivery(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        5,
		RetryBackoffBase:  50 * time.Millisecond,
	})
	ctx := context.Background()

	task := newTask(models.QueueAnalysis, models.TaskAnalyzeChunk, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Nack(ctx, models.QueueAnalysis, got.ID, assert.AnError))

	// The first retry waits out the base delay.
	early, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	assert.Nil(t, early)

	time.Sleep(80 * time.Millisecond)
	again, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, task.ID, again.ID)

	// The second failure doubles the delay.
	require.NoError(t, q.Nack(ctx, models.QueueAnalysis, again.ID, assert.AnError))
	time.Sleep(60 * time.Millisecond)
	still, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	assert.Nil(t, still)

	time.Sleep(80 * time.Millisecond)
	third, err := q.Dequeue(ctx, models.QueueAnalysis)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, task.ID, third.ID)
}

func TestDepthCapSaturation(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        3,
		DepthCaps:         map[string]int{models.QueuePDF: 2},
	})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)))
	require.NoError(t, q.Enqueue(ctx, newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)))

	err := q.Enqueue(ctx, newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal))
	assert.ErrorIs(t, err, ErrQueueSaturated)

	// Other queues are unaffected.
	assert.NoError(t, q.Enqueue(ctx, newTask(models.QueueML, models.TaskScoreJob, models.PriorityNormal)))
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 20 * time.Millisecond,
		MaxReceive:        3,
	})
	ctx := context.Background()

	task := newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Worker dies without acking; the lease lapses.
	time.Sleep(30 * time.Millisecond)

	redelivered, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, task.ID, redelivered.ID)
	assert.Equal(t, 2, redelivered.ReceiveCount)
}

func TestExtendLeaseKeepsTaskInvisible(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 20 * time.Millisecond,
		MaxReceive:        3,
	})
	ctx := context.Background()

	task := newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, q.ExtendLease(ctx, models.QueuePDF, got.ID, time.Minute))
	time.Sleep(30 * time.Millisecond)

	stillLeased, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	assert.Nil(t, stillLeased)
}

func TestRecoverExpiredDeadLettersOverBudgetTasks(t *testing.T) {
	q := newTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: 10 * time.Millisecond,
		MaxReceive:        1,
	})
	ctx := context.Background()

	task := newTask(models.QueuePDF, models.TaskProcessDocument, models.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, models.QueuePDF)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Lease lapses with the single delivery already spent.
	time.Sleep(20 * time.Millisecond)

	moved, err := q.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	count, err := q.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnknownQueueRejected(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	err := q.Enqueue(ctx, newTask("bogus", models.TaskNotify, models.PriorityNormal))
	assert.ErrorIs(t, err, ErrUnknownQueue)

	_, err = q.Dequeue(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownQueue)
}
