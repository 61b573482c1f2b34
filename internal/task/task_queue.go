package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Errors returned by Enqueue.
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue is the local runner's hand-off between TaskRunner and its
// WorkerPool. TaskRunner.Submit and the recovery paths enqueue manga
// generation, panel regeneration and maintenance jobs that are already
// persisted in the job store; the pool's workers drain GetChannel.
//
// The buffer is bounded by task.queue_size and Enqueue never blocks. A job
// refused with ErrQueueFull stays pending in the job store and is queued
// again when TaskRunner.Recover runs on the next start.
type TaskQueue struct {
	mu     sync.RWMutex
	tasks  chan Task
	logger *slog.Logger
	closed bool
}

// NewTaskQueue creates a queue holding up to size jobs. Sizes below one
// are raised to one.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	return &TaskQueue{
		tasks:  make(chan Task, size),
		logger: logger,
	}
}

// Enqueue adds a task to the queue without blocking.
// Returns ErrQueueFull or ErrQueueClosed when the task cannot be accepted.
func (q *TaskQueue) Enqueue(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.logger.Debug("task enqueued",
			"task_id", task.ID(),
			"task_type", task.Type(),
			"queue_len", len(q.tasks),
			"queue_cap", cap(q.tasks))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.tasks))
	}
}

// Close closes the task queue, preventing further task submission.
// It is safe to call more than once.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
		q.logger.Info("task queue closed")
	}
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// GetChannel returns the channel the worker pool drains. It is closed by
// Close once the runner stops.
func (q *TaskQueue) GetChannel() <-chan Task {
	return q.tasks
}
