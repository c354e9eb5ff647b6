package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// TaskStatusView is the external shape of one task's state
type TaskStatusView struct {
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name"`
	DocumentID  string     `json:"document_id,omitempty"`
	Queue       string     `json:"queue"`
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	Result      string     `json:"result,omitempty"`
	ErrorInfo   string     `json:"error_info,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskStatistics aggregates queue health counters
type TaskStatistics struct {
	ByStatus map[string]int `json:"by_status"`
	Pending  int            `json:"pending"`
	Running  int            `json:"running"`
	Finished int            `json:"finished"`
}

// TaskService manages the background task queue: submission, status lookup,
// revocation and aggregate statistics. One record per task; retries reuse the
// record.
type TaskService interface {
	// Submit enqueues a named task on the lane matching its priority
	Submit(ctx context.Context, taskName, documentID, templateID, priority string) (*entity.TaskRecord, error)

	// GetStatus returns the current state of a task
	GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error)

	// Cancel revokes a queued or running task
	Cancel(ctx context.Context, taskID string) error

	// Statistics aggregates task counts by status
	Statistics(ctx context.Context) (*TaskStatistics, error)
}

type taskServiceImpl struct {
	taskRepo port.TaskRepository
	logger   Logger
}

// NewTaskService creates a new TaskService
func NewTaskService(taskRepo port.TaskRepository, logger Logger) TaskService {
	return &taskServiceImpl{taskRepo: taskRepo, logger: logger}
}

// Submit enqueues a task. High priority submissions land on the dedicated
// lane so they are claimed ahead of bulk work.
func (s *taskServiceImpl) Submit(ctx context.Context, taskName, documentID, templateID, priority string) (*entity.TaskRecord, error) {
	task := entity.NewTaskRecord(taskName, documentID, templateID, entity.QueueForPriority(priority))

	if err := s.taskRepo.Create(ctx, task); err != nil {
		s.logger.Error("Failed to create task",
			"error", err,
			"task_name", taskName,
			"document_id", documentID)
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("Task submitted",
		"task_id", task.TaskID,
		"task_name", taskName,
		"document_id", documentID,
		"queue", task.Queue)

	return task, nil
}

// GetStatus returns the current state of a task
func (s *taskServiceImpl) GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}

	return &TaskStatusView{
		TaskID:      task.TaskID,
		TaskName:    task.TaskName,
		DocumentID:  task.DocumentID,
		Queue:       task.Queue,
		Status:      task.Status,
		Progress:    task.Progress,
		Result:      task.Result,
		ErrorInfo:   task.ErrorInfo,
		RetryCount:  task.RetryCount,
		NextRetryAt: task.NextRetryAt,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}, nil
}

// Cancel revokes a task. Queued and retry-scheduled tasks are revoked in
// place; a task already running is marked revoked here and the worker honors
// the mark at its next checkpoint, abandoning the run before results are
// committed. Only finished tasks cannot be cancelled.
func (s *taskServiceImpl) Cancel(ctx context.Context, taskID string) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}

	switch task.Status {
	case entity.TaskStatusPending, entity.TaskStatusRetry,
		entity.TaskStatusStarted, entity.TaskStatusProgress:
		// revocable
	case entity.TaskStatusRevoked:
		return nil
	default:
		return fmt.Errorf("%w: task %s is %s and cannot be cancelled", entity.ErrValidation, taskID, task.Status)
	}

	now := time.Now().UTC()
	task.Status = entity.TaskStatusRevoked
	task.CompletedAt = &now
	task.NextRetryAt = nil

	if err := s.taskRepo.Update(ctx, task); err != nil {
		s.logger.Error("Failed to revoke task", "error", err, "task_id", taskID)
		return fmt.Errorf("revoke task: %w", err)
	}

	s.logger.Info("Task revoked", "task_id", taskID)
	return nil
}

// Statistics aggregates task counts by status
func (s *taskServiceImpl) Statistics(ctx context.Context) (*TaskStatistics, error) {
	counts, err := s.taskRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	stats := &TaskStatistics{ByStatus: counts}
	for status, n := range counts {
		switch status {
		case entity.TaskStatusPending, entity.TaskStatusRetry:
			stats.Pending += n
		case entity.TaskStatusStarted, entity.TaskStatusProgress:
			stats.Running += n
		case entity.TaskStatusSuccess, entity.TaskStatusFailure, entity.TaskStatusRevoked:
			stats.Finished += n
		}
	}
	return stats, nil
}
