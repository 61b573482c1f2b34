package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxBackoff caps the delay between attempts of a job.
const maxBackoff = time.Hour

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// MaxAttempts bounds how many times a failing job is executed.
	MaxAttempts int

	// RetryDelay is the backoff before the second attempt; it doubles
	// for every further attempt.
	RetryDelay time.Duration

	// SoftTimeLimit is when a still running execution gets logged as slow.
	// Zero disables the warning.
	SoftTimeLimit time.Duration

	// HardTimeLimit bounds a single execution. Zero means no limit.
	HardTimeLimit time.Duration

	// StuckTaskAge defines how long a task can be in processing state
	// before it's considered stuck and reset
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks
	// If zero, defaults to 5 minutes
	StuckTaskCheckInterval time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:            2,
		QueueSize:              100,
		MaxAttempts:            3,
		RetryDelay:             60 * time.Second,
		SoftTimeLimit:          540 * time.Second,
		HardTimeLimit:          600 * time.Second,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// Backoff returns the delay before attempt+1 given a base delay:
// base, 2*base, 4*base... capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// TaskRunner is the durable in-process job runner. Jobs are persisted before
// they are queued, failed jobs are retried with exponential backoff up to
// MaxAttempts, and jobs left behind by a crash are recovered on Start.
type TaskRunner struct {
	store      TaskStore
	dispatcher *Dispatcher
	queue      *TaskQueue
	pool       *WorkerPool
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     TaskRunnerConfig
	logger     *slog.Logger
	errHandler func(task Task, err error)
}

// NewTaskRunner creates a new TaskRunner. The dispatcher rebuilds jobs
// recovered from the store.
func NewTaskRunner(
	store TaskStore,
	dispatcher *Dispatcher,
	config TaskRunnerConfig,
	logger *slog.Logger,
) *TaskRunner {
	if config.StuckTaskCheckInterval == 0 {
		config.StuckTaskCheckInterval = 5 * time.Minute
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_runner")

	ctx, cancel := context.WithCancel(context.Background())

	r := &TaskRunner{
		store:      store,
		dispatcher: dispatcher,
		queue:      NewTaskQueue(config.QueueSize, logger),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger,
		errHandler: func(task Task, err error) {
			logger.Error("task execution failed permanently",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"error", err)
		},
	}
	r.pool = NewWorkerPool(r.queue, WorkerPoolConfig{WorkerCount: config.WorkerCount}, r.processTask, logger)
	return r
}

// SetErrorHandler sets the function called when a job exhausts its attempts.
func (r *TaskRunner) SetErrorHandler(handler func(task Task, err error)) {
	r.errHandler = handler
}

// Submit persists a new job and queues it.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	if err := r.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	if err := r.queue.Enqueue(task); err != nil {
		// The job stays pending in the store; Recover queues it on the next start.
		return fmt.Errorf("task saved but not queued: %w", err)
	}
	return nil
}

// Start recovers unfinished jobs and starts the workers and the stuck job monitor.
func (r *TaskRunner) Start() error {
	if err := r.Recover(r.ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.pool.Start()

	r.wg.Add(1)
	go r.stuckTaskMonitor()

	return nil
}

// Stop gracefully shuts down the task runner. Jobs interrupted by the
// shutdown stay in processing and are recovered on the next Start.
func (r *TaskRunner) Stop() {
	r.cancelFunc()
	r.pool.Stop()
	r.wg.Wait()
	r.queue.Close()
}

// Recover requeues pending jobs and resets jobs left in processing.
func (r *TaskRunner) Recover(ctx context.Context) error {
	pending, err := r.store.GetPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}

	processing, err := r.store.GetProcessingTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get processing tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, rec := range pending {
		r.requeueRecord(rec, time.Until(rec.AvailableAt))
	}

	for _, rec := range processing {
		if err := r.store.UpdateTaskStatus(ctx, rec.ID, TaskStatusPending, "Reset after recovery"); err != nil {
			r.logger.Error("failed to reset processing task status",
				"task_id", rec.ID,
				"task_type", rec.Type,
				"error", err)
			continue
		}
		r.requeueRecord(rec, 0)
	}

	return nil
}

// requeueRecord rebuilds a persisted job and queues it after delay.
func (r *TaskRunner) requeueRecord(rec *JobRecord, delay time.Duration) {
	task, err := r.dispatcher.BuildRecord(rec)
	if err != nil {
		r.logger.Error("cannot rebuild task, marking failed",
			"task_id", rec.ID,
			"task_type", rec.Type,
			"error", err)
		if err := r.store.UpdateTaskStatus(r.ctx, rec.ID, TaskStatusFailed, err.Error()); err != nil {
			r.logger.Error("failed to mark task failed", "task_id", rec.ID, "error", err)
		}
		return
	}
	r.enqueueAfter(task, delay)
}

// enqueueAfter queues task once delay has elapsed, unless the runner stops first.
func (r *TaskRunner) enqueueAfter(task Task, delay time.Duration) {
	if delay <= 0 {
		if err := r.queue.Enqueue(task); err != nil {
			r.logger.Error("failed to requeue task",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"error", err)
		}
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
		case <-timer.C:
			if err := r.queue.Enqueue(task); err != nil {
				r.logger.Error("failed to requeue task after backoff",
					"task_id", task.ID(),
					"task_type", task.Type(),
					"error", err)
			}
		}
	}()
}

// processTask handles execution of a single job
func (r *TaskRunner) processTask(ctx context.Context, task Task, workerID int) {
	logger := r.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
		"worker_id", workerID,
	)

	attempt, err := r.store.MarkProcessing(ctx, task.ID())
	if err != nil {
		logger.Error("failed to update task status to processing", "error", err)
		return
	}
	logger = logger.With("attempt", attempt)
	logger.Info("processing task")

	err = r.execute(ctx, task)

	if err == nil {
		logger.Info("task completed successfully")
		if updateErr := r.store.UpdateTaskStatus(ctx, task.ID(), TaskStatusCompleted, ""); updateErr != nil {
			logger.Error("failed to update task status to completed", "error", updateErr)
		}
		return
	}

	if r.ctx.Err() != nil {
		logger.Warn("task interrupted by shutdown", "error", err)
		return
	}

	if attempt < r.config.MaxAttempts {
		delay := Backoff(r.config.RetryDelay, attempt)
		logger.Warn("task failed, scheduling retry", "error", err, "retry_in", delay)
		if updateErr := r.store.ScheduleRetry(ctx, task.ID(), time.Now().UTC().Add(delay), err.Error()); updateErr != nil {
			logger.Error("failed to schedule task retry", "error", updateErr)
			return
		}
		r.enqueueAfter(task, delay)
		return
	}

	logger.Error("task execution failed", "error", err)
	if updateErr := r.store.UpdateTaskStatus(ctx, task.ID(), TaskStatusFailed, err.Error()); updateErr != nil {
		logger.Error("failed to update task status to failed", "error", updateErr)
	}
	r.errHandler(task, err)
}

// execute runs the job under the hard time limit, turning panics into errors.
func (r *TaskRunner) execute(ctx context.Context, task Task) (err error) {
	if r.config.HardTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.HardTimeLimit)
		defer cancel()
	}
	if r.config.SoftTimeLimit > 0 {
		slow := time.AfterFunc(r.config.SoftTimeLimit, func() {
			r.logger.Warn("task exceeded soft time limit",
				"task_id", task.ID(),
				"task_type", task.Type(),
				"soft_time_limit", r.config.SoftTimeLimit)
		})
		defer slow.Stop()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()

	err = task.Execute(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("hard time limit %s exceeded: %w", r.config.HardTimeLimit, err)
	}
	return err
}

// stuckTaskMonitor periodically checks for tasks that have been in "processing"
// state for too long and resets them
func (r *TaskRunner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.resetStuckTasks(r.ctx)
		}
	}
}

func (r *TaskRunner) resetStuckTasks(ctx context.Context) {
	stuck, err := r.store.GetProcessingTasks(ctx, r.config.StuckTaskAge)
	if err != nil {
		r.logger.Error("failed to check for stuck tasks", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	r.logger.Info("found stuck tasks", "count", len(stuck))
	for _, rec := range stuck {
		if err := r.store.UpdateTaskStatus(ctx, rec.ID, TaskStatusPending,
			"Reset after being stuck in processing state"); err != nil {
			r.logger.Error("failed to reset stuck task status",
				"task_id", rec.ID,
				"task_type", rec.Type,
				"error", err)
			continue
		}
		r.requeueRecord(rec, 0)
		r.logger.Info("requeued stuck task", "task_id", rec.ID, "task_type", rec.Type)
	}
}
