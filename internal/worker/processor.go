package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/application/service"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
)

// Execution time limits. A task is cancelled at the hard limit; crossing the
// soft limit only logs a warning so slow documents are visible before they
// start timing out.
const (
	DefaultHardTimeLimit = 300 * time.Second
	DefaultSoftTimeLimit = 240 * time.Second
	defaultPollInterval  = 2 * time.Second
)

// TaskProcessor claims queued tasks and runs the document pipeline for them.
// The high priority queue is polled first so escalated work is never starved
// by bulk ingestion. Claiming is a conditional update in the repository, so
// multiple processors can run concurrently without double execution.
type TaskProcessor struct {
	taskRepo   port.TaskRepository
	processing service.ProcessingService
	retry      *RetryStrategy
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger

	queues        []string
	pollInterval  time.Duration
	hardTimeLimit time.Duration
	softTimeLimit time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// ProcessorOption overrides a processor tuning default
type ProcessorOption func(*TaskProcessor)

// WithPollInterval sets how often idle queues are polled
func WithPollInterval(d time.Duration) ProcessorOption {
	return func(p *TaskProcessor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithTimeLimits sets the soft and hard execution limits
func WithTimeLimits(soft, hard time.Duration) ProcessorOption {
	return func(p *TaskProcessor) {
		if soft > 0 && hard > soft {
			p.softTimeLimit = soft
			p.hardTimeLimit = hard
		}
	}
}

// NewTaskProcessor creates a task processor polling the given queues in order
func NewTaskProcessor(
	taskRepo port.TaskRepository,
	processing service.ProcessingService,
	retry *RetryStrategy,
	disp dispatcher.Dispatcher,
	logger *zap.Logger,
	opts ...ProcessorOption,
) *TaskProcessor {
	p := &TaskProcessor{
		taskRepo:      taskRepo,
		processing:    processing,
		retry:         retry,
		dispatcher:    disp,
		logger:        logger,
		queues:        []string{entity.QueueHighPriority, entity.QueueDefault},
		pollInterval:  defaultPollInterval,
		hardTimeLimit: DefaultHardTimeLimit,
		softTimeLimit: DefaultSoftTimeLimit,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the worker name
func (p *TaskProcessor) Name() string {
	return "task-processor"
}

// Start launches the polling loop
func (p *TaskProcessor) Start(ctx context.Context) error {
	go p.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for the in-flight task to finish
func (p *TaskProcessor) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *TaskProcessor) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce claims and executes tasks until the queues are empty or a stop is
// requested
func (p *TaskProcessor) drainOnce(ctx context.Context) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.taskRepo.ClaimNextPending(ctx, p.queues, time.Now().UTC())
		if err != nil {
			p.logger.Error("Failed to claim task", zap.Error(err))
			return
		}
		if task == nil {
			return
		}
		p.execute(ctx, task)
	}
}

// execute runs one claimed task under the hard time limit and records the
// outcome on the task record
func (p *TaskProcessor) execute(ctx context.Context, task *entity.TaskRecord) {
	started := time.Now().UTC()
	task.StartedAt = &started

	p.logger.Info("Task started",
		zap.String("task_id", task.TaskID),
		zap.String("task_name", task.TaskName),
		zap.String("document_id", task.DocumentID),
		zap.Int("retry_count", task.RetryCount))

	runCtx, cancel := context.WithTimeout(ctx, p.hardTimeLimit)
	defer cancel()

	softTimer := time.AfterFunc(p.softTimeLimit, func() {
		p.logger.Warn("Task exceeded soft time limit",
			zap.String("task_id", task.TaskID),
			zap.Duration("soft_limit", p.softTimeLimit))
	})
	defer softTimer.Stop()

	err := p.dispatch(runCtx, task, cancel)

	finished := time.Now().UTC()
	task.ExecutionTimeMS = finished.Sub(started).Milliseconds()

	// A revocation issued while the task ran wins over the run's own outcome.
	// The document is pushed to failed so it stays reprocessable rather than
	// being left mid-pipeline.
	if p.isRevoked(ctx, task.TaskID) {
		task.Status = entity.TaskStatusRevoked
		task.CompletedAt = &finished
		task.NextRetryAt = nil
		if err != nil {
			task.ErrorInfo = err.Error()
		}
		if updErr := p.taskRepo.Update(ctx, task); updErr != nil {
			p.logger.Error("Failed to record revocation", zap.Error(updErr), zap.String("task_id", task.TaskID))
		}
		if task.DocumentID != "" {
			if failErr := p.processing.MarkFailed(ctx, task.DocumentID, "task revoked"); failErr != nil {
				p.logger.Error("Failed to mark revoked document failed",
					zap.Error(failErr),
					zap.String("document_id", task.DocumentID))
			}
		}
		p.logger.Warn("Task revoked during execution",
			zap.String("task_id", task.TaskID),
			zap.String("document_id", task.DocumentID))
		return
	}

	if err == nil {
		task.Status = entity.TaskStatusSuccess
		task.Progress = 1.0
		task.CompletedAt = &finished
		task.ErrorInfo = ""
		task.NextRetryAt = nil
		if updErr := p.taskRepo.Update(ctx, task); updErr != nil {
			p.logger.Error("Failed to record task success", zap.Error(updErr), zap.String("task_id", task.TaskID))
		}
		p.logger.Info("Task succeeded",
			zap.String("task_id", task.TaskID),
			zap.Int64("execution_ms", task.ExecutionTimeMS))
		return
	}

	if p.retry.ShouldRetry(err, task.RetryCount) {
		delay := p.retry.CalculateBackoff(task.RetryCount)
		nextRetry := finished.Add(delay)
		task.Status = entity.TaskStatusRetry
		task.RetryCount++
		task.NextRetryAt = &nextRetry
		task.ErrorInfo = err.Error()
		if updErr := p.taskRepo.Update(ctx, task); updErr != nil {
			p.logger.Error("Failed to schedule retry", zap.Error(updErr), zap.String("task_id", task.TaskID))
		}
		p.logger.Warn("Task scheduled for retry",
			zap.String("task_id", task.TaskID),
			zap.Int("retry_count", task.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}

	// Permanent failure or retries exhausted
	task.Status = entity.TaskStatusFailure
	task.CompletedAt = &finished
	task.NextRetryAt = nil
	task.ErrorInfo = err.Error()
	if updErr := p.taskRepo.Update(ctx, task); updErr != nil {
		p.logger.Error("Failed to record task failure", zap.Error(updErr), zap.String("task_id", task.TaskID))
	}

	if task.DocumentID != "" {
		if failErr := p.processing.MarkFailed(ctx, task.DocumentID, err.Error()); failErr != nil {
			p.logger.Error("Failed to mark document failed",
				zap.Error(failErr),
				zap.String("document_id", task.DocumentID))
		}
	}

	p.logger.Error("Task failed permanently",
		zap.String("task_id", task.TaskID),
		zap.String("document_id", task.DocumentID),
		zap.Int("retry_count", task.RetryCount),
		zap.Error(err))

	p.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeTaskFailed, task.DocumentID, map[string]interface{}{
		"task_id":     task.TaskID,
		"task_name":   task.TaskName,
		"error":       err.Error(),
		"retry_count": task.RetryCount,
	}))
}

// dispatch routes the task to its implementation, reporting progress
// checkpoints back onto the task record. Each checkpoint doubles as a
// revocation check: a task revoked mid-run has its context cancelled so the
// pipeline aborts before committing results.
func (p *TaskProcessor) dispatch(ctx context.Context, task *entity.TaskRecord, cancel context.CancelFunc) error {
	progress := func(value float64) {
		if p.isRevoked(ctx, task.TaskID) {
			cancel()
			return
		}
		task.Status = entity.TaskStatusProgress
		task.Progress = value
		if err := p.taskRepo.Update(ctx, task); err != nil {
			p.logger.Warn("Failed to record progress",
				zap.Error(err),
				zap.String("task_id", task.TaskID))
		}
	}

	switch task.TaskName {
	case entity.TaskNameProcessDocument, entity.TaskNameReprocessDocument:
		return p.processing.ProcessDocument(ctx, task.DocumentID, task.TemplateID, progress)
	default:
		return fmt.Errorf("%w: unknown task %q", entity.ErrValidation, task.TaskName)
	}
}

// isRevoked reports whether the task has been revoked out-of-band
func (p *TaskProcessor) isRevoked(ctx context.Context, taskID string) bool {
	current, err := p.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false
	}
	return current.Status == entity.TaskStatusRevoked
}
