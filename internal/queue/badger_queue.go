package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// BadgerQueue implements persistent named task queues on BadgerDB.
//
// Layout per queue:
//
//	task:{queue}:data:{id}                         -> task JSON
//	task:{queue}:index:{priority}:{20-digit ts}:{id} -> empty
//	dlq:{20-digit ts}:{id}                         -> dead letter JSON
//
// The index timestamp is the task's VisibleAt, so lease expiry is implicit:
// an unacked task's index key falls into the past and the task becomes
// dequeueable again. Index keys sort priority first, then visibility time,
// which gives priority-then-FIFO delivery.
type BadgerQueue struct {
	db                *badgerdb.DB
	visibilityTimeout time.Duration
	maxReceive        int
	retryBackoffBase  time.Duration
	depthCaps         map[string]int
	logger            arbor.ILogger
}

var _ interfaces.TaskQueue = (*BadgerQueue)(nil)

// NewBadgerQueue creates the queue layer on an existing Badger connection.
func NewBadgerQueue(db *badgerdb.DB, cfg *common.QueueConfig, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db is required")
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	maxReceive := cfg.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		visibilityTimeout: visibility,
		maxReceive:        maxReceive,
		retryBackoffBase:  cfg.RetryBackoffBase,
		depthCaps:         cfg.DepthCaps,
		logger:            logger,
	}, nil
}

func validQueue(name string) bool {
	for _, q := range models.QueueNames {
		if q == name {
			return true
		}
	}
	return false
}

func (q *BadgerQueue) dataKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("task:%s:data:%s", queue, id))
}

func (q *BadgerQueue) indexPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("task:%s:index:", queue))
}

func (q *BadgerQueue) indexKey(queue string, priority int, visibleAt time.Time, id string) []byte {
	// Zero pad the timestamp to 20 digits so byte order matches time order.
	return []byte(fmt.Sprintf("task:%s:index:%d:%020d:%s", queue, priority, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(queue string, key []byte) (priority int, visibleAt time.Time, id string, err error) {
	prefix := string(q.indexPrefix(queue))
	if len(key) <= len(prefix) {
		return 0, time.Time{}, "", fmt.Errorf("invalid index key length")
	}
	suffix := string(key[len(prefix):])

	// Suffix is "{priority}:{20-digit-ts}:{id}"
	sep := strings.IndexByte(suffix, ':')
	if sep < 0 {
		return 0, time.Time{}, "", fmt.Errorf("invalid index suffix")
	}
	priority, err = strconv.Atoi(suffix[:sep])
	if err != nil {
		return 0, time.Time{}, "", err
	}

	rest := suffix[sep+1:]
	if len(rest) < 22 || rest[20] != ':' {
		return 0, time.Time{}, "", fmt.Errorf("invalid index timestamp")
	}
	ts, err := strconv.ParseInt(rest[:20], 10, 64)
	if err != nil {
		return 0, time.Time{}, "", err
	}

	return priority, time.Unix(0, ts), rest[21:], nil
}

func (q *BadgerQueue) dlqKey(deadAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("dlq:%020d:%s", deadAt.UnixNano(), id))
}

// Enqueue adds a task, honoring the queue's depth cap.
func (q *BadgerQueue) Enqueue(ctx context.Context, task *models.Task) error {
	if !validQueue(task.Queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, task.Queue)
	}
	if task.ID == "" {
		task.ID = common.NewTaskID()
	}
	now := time.Now()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = now
	}
	if task.VisibleAt.IsZero() {
		task.VisibleAt = now
	}
	if task.MaxReceive == 0 {
		task.MaxReceive = q.maxReceive
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return q.db.Update(func(txn *badgerdb.Txn) error {
		if limit, ok := q.depthCaps[task.Queue]; ok && limit > 0 {
			depth := q.depthInTxn(txn, task.Queue)
			if depth >= limit {
				return fmt.Errorf("%w: %s at depth %d", ErrQueueSaturated, task.Queue, depth)
			}
		}

		if err := txn.Set(q.dataKey(task.Queue, task.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(task.Queue, task.Priority, task.VisibleAt, task.ID), []byte{})
	})
}

// Dequeue leases the next visible task. Tasks over their receive budget are
// dead-lettered in passing instead of delivered.
func (q *BadgerQueue) Dequeue(ctx context.Context, queue string) (*models.Task, error) {
	if !validQueue(queue) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	var leased *models.Task
	err := q.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := q.indexPrefix(queue)
		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			_, visibleAt, id, err := q.parseIndexKey(queue, key)
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				// Later keys in this priority band are further in the
				// future; keep scanning for lower priority bands.
				continue
			}

			item, err := txn.Get(q.dataKey(queue, id))
			if err != nil {
				if err == badgerdb.ErrKeyNotFound {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var task models.Task
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &task)
			}); err != nil {
				return err
			}

			if task.ExceededReceives() {
				if err := q.deadLetterInTxn(txn, key, &task, "receive budget exhausted"); err != nil {
					return err
				}
				continue
			}

			// Lease: bump the receive count and push visibility out.
			task.ReceiveCount++
			task.VisibleAt = now.Add(q.visibilityTimeout)
			task.LeasedUntil = task.VisibleAt

			data, err := json.Marshal(&task)
			if err != nil {
				return err
			}
			if err := txn.Set(q.dataKey(queue, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(q.indexKey(queue, task.Priority, task.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			leased = &task
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Ack removes a completed task.
func (q *BadgerQueue) Ack(ctx context.Context, queue, taskID string) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		task, err := q.getInTxn(txn, queue, taskID)
		if err != nil {
			return err
		}
		if err := txn.Delete(q.indexKey(queue, task.Priority, task.VisibleAt, taskID)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Delete(q.dataKey(queue, taskID))
	})
}

// Nack makes a failed task redeliverable after its backoff delay, or
// dead-letters it when its receive budget is gone.
func (q *BadgerQueue) Nack(ctx context.Context, queue, taskID string, cause error) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		task, err := q.getInTxn(txn, queue, taskID)
		if err != nil {
			return err
		}

		oldIndexKey := q.indexKey(queue, task.Priority, task.VisibleAt, taskID)

		if task.ExceededReceives() {
			reason := "receive budget exhausted"
			if cause != nil {
				reason = cause.Error()
			}
			return q.deadLetterInTxn(txn, oldIndexKey, task, reason)
		}

		task.VisibleAt = time.Now().Add(q.retryBackoff(task.ReceiveCount))
		task.LeasedUntil = time.Time{}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := txn.Set(q.dataKey(queue, taskID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(queue, task.Priority, task.VisibleAt, taskID), []byte{})
	})
}

// retryBackoff computes the redelivery delay for a nacked task: the base
// doubled per receive, capped at the visibility timeout. A zero base keeps
// redelivery immediate.
func (q *BadgerQueue) retryBackoff(receiveCount int) time.Duration {
	if q.retryBackoffBase <= 0 {
		return 0
	}
	delay := q.retryBackoffBase
	for i := 1; i < receiveCount && delay < q.visibilityTimeout; i++ {
		delay *= 2
	}
	if delay > q.visibilityTimeout {
		delay = q.visibilityTimeout
	}
	return delay
}

// ExtendLease pushes out the visibility deadline of a leased task.
func (q *BadgerQueue) ExtendLease(ctx context.Context, queue, taskID string, d time.Duration) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		task, err := q.getInTxn(txn, queue, taskID)
		if err != nil {
			return err
		}

		oldIndexKey := q.indexKey(queue, task.Priority, task.VisibleAt, taskID)
		task.VisibleAt = time.Now().Add(d)
		task.LeasedUntil = task.VisibleAt

		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		if err := txn.Set(q.dataKey(queue, taskID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(queue, task.Priority, task.VisibleAt, taskID), []byte{})
	})
}

// Depth counts tasks currently in a queue, leased or visible.
func (q *BadgerQueue) Depth(ctx context.Context, queue string) (int, error) {
	if !validQueue(queue) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	var depth int
	err := q.db.View(func(txn *badgerdb.Txn) error {
		depth = q.depthInTxn(txn, queue)
		return nil
	})
	return depth, err
}

func (q *BadgerQueue) Depths(ctx context.Context) (map[string]int, error) {
	depths := make(map[string]int, len(models.QueueNames))
	err := q.db.View(func(txn *badgerdb.Txn) error {
		for _, queue := range models.QueueNames {
			depths[queue] = q.depthInTxn(txn, queue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return depths, nil
}

// DeadLetters lists dead-lettered tasks, oldest first.
func (q *BadgerQueue) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	var letters []*models.DeadLetter
	err := q.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("dlq:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(letters) >= limit {
				break
			}
			var letter models.DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &letter)
			}); err != nil {
				return err
			}
			letters = append(letters, &letter)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return letters, nil
}

func (q *BadgerQueue) CountDeadLetters(ctx context.Context) (int, error) {
	var count int
	err := q.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("dlq:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// RecoverExpired dead-letters every visible task that has exhausted its
// receive budget. Expired leases need no action here; their index keys are
// already in the past, so workers pick them up on the next poll.
func (q *BadgerQueue) RecoverExpired(ctx context.Context) (int, error) {
	recovered := 0
	for _, queue := range models.QueueNames {
		err := q.db.Update(func(txn *badgerdb.Txn) error {
			opts := badgerdb.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			now := time.Now()
			prefix := q.indexPrefix(queue)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				_, visibleAt, id, err := q.parseIndexKey(queue, key)
				if err != nil || visibleAt.After(now) {
					continue
				}

				item, err := txn.Get(q.dataKey(queue, id))
				if err != nil {
					continue
				}
				var task models.Task
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &task)
				}); err != nil {
					continue
				}

				if task.ExceededReceives() {
					if err := q.deadLetterInTxn(txn, key, &task, "lease expired with receive budget exhausted"); err != nil {
						return err
					}
					recovered++
				}
			}
			return nil
		})
		if err != nil {
			return recovered, err
		}
	}

	if recovered > 0 {
		q.logger.Warn().Int("count", recovered).Msg("Expired tasks moved to dead letter store")
	}
	return recovered, nil
}

func (q *BadgerQueue) depthInTxn(txn *badgerdb.Txn, queue string) int {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	depth := 0
	prefix := []byte(fmt.Sprintf("task:%s:data:", queue))
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		depth++
	}
	return depth
}

func (q *BadgerQueue) getInTxn(txn *badgerdb.Txn, queue, taskID string) (*models.Task, error) {
	item, err := txn.Get(q.dataKey(queue, taskID))
	if err != nil {
		if err == badgerdb.ErrKeyNotFound {
			return nil, fmt.Errorf("%w: %s in %s", ErrTaskNotFound, taskID, queue)
		}
		return nil, err
	}
	var task models.Task
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &task)
	}); err != nil {
		return nil, err
	}
	return &task, nil
}

// deadLetterInTxn moves a task out of its queue into the audit store.
func (q *BadgerQueue) deadLetterInTxn(txn *badgerdb.Txn, indexKey []byte, task *models.Task, reason string) error {
	letter := models.DeadLetter{
		TaskID:       task.ID,
		Queue:        task.Queue,
		Kind:         task.Kind,
		JobID:        task.JobID,
		Payload:      task.Payload,
		ReceiveCount: task.ReceiveCount,
		LastError:    reason,
		DeadAt:       time.Now().UTC(),
	}
	data, err := json.Marshal(&letter)
	if err != nil {
		return err
	}

	if err := txn.Set(q.dlqKey(letter.DeadAt, task.ID), data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	if err := txn.Delete(q.dataKey(task.Queue, task.ID)); err != nil {
		return err
	}

	q.logger.Warn().
		Str("task_id", task.ID).
		Str("queue", task.Queue).
		Str("kind", task.Kind).
		Int("receive_count", task.ReceiveCount).
		Str("reason", reason).
		Msg("Task dead lettered")
	return nil
}
