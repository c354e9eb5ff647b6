package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `
	task_id, task_name, document_id, template_id, queue, status, progress,
	result, error_info, retry_count, next_retry_at, started_at, completed_at,
	execution_time_ms, created_at, updated_at`

// Create inserts a new task record
func (r *TaskRepository) Create(ctx context.Context, task *entity.TaskRecord) error {
	query := `
		INSERT INTO task_records (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		task.TaskID,
		task.TaskName,
		nullString(task.DocumentID),
		nullString(task.TemplateID),
		task.Queue,
		task.Status,
		task.Progress,
		task.Result,
		task.ErrorInfo,
		task.RetryCount,
		nullTime(task.NextRetryAt),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		task.ExecutionTimeMS,
		task.CreatedAt,
		nullTime(task.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create task", zap.Error(err), zap.String("task_id", task.TaskID))
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*entity.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM task_records WHERE task_id = ?`

	task, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.Error(err), zap.String("task_id", taskID))
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Update persists the mutable fields of a task record
func (r *TaskRepository) Update(ctx context.Context, task *entity.TaskRecord) error {
	query := `
		UPDATE task_records SET
			status = ?, progress = ?, result = ?, error_info = ?,
			retry_count = ?, next_retry_at = ?, started_at = ?,
			completed_at = ?, execution_time_ms = ?, updated_at = ?
		WHERE task_id = ?
	`

	now := time.Now().UTC()
	task.UpdatedAt = &now

	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		task.Status,
		task.Progress,
		task.Result,
		task.ErrorInfo,
		task.RetryCount,
		nullTime(task.NextRetryAt),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		task.ExecutionTimeMS,
		nullTime(task.UpdatedAt),
		task.TaskID,
	)
	if err != nil {
		r.logger.Error("Failed to update task", zap.Error(err), zap.String("task_id", task.TaskID))
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", task.TaskID, entity.ErrNotFound)
	}
	return nil
}

// ClaimNextPending claims the oldest runnable task, walking the queues in the
// given order. The claim is a conditional update on status, so concurrent
// processors never claim the same task; a lost race moves on to the next
// candidate.
func (r *TaskRepository) ClaimNextPending(ctx context.Context, queues []string, now time.Time) (*entity.TaskRecord, error) {
	for _, queue := range queues {
		for {
			var taskID string
			err := executorFor(ctx, r.db).QueryRowContext(ctx, `
				SELECT task_id FROM task_records
				WHERE queue = ?
				  AND (status = ? OR (status = ? AND next_retry_at <= ?))
				ORDER BY created_at ASC LIMIT 1`,
				queue, entity.TaskStatusPending, entity.TaskStatusRetry, now,
			).Scan(&taskID)
			if err == sql.ErrNoRows {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("select pending task: %w", err)
			}

			result, err := executorFor(ctx, r.db).ExecContext(ctx, `
				UPDATE task_records
				SET status = ?, started_at = ?, updated_at = ?
				WHERE task_id = ? AND status IN (?, ?)`,
				entity.TaskStatusStarted, now, now,
				taskID, entity.TaskStatusPending, entity.TaskStatusRetry,
			)
			if err != nil {
				return nil, fmt.Errorf("claim task %s: %w", taskID, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				// Lost the race, try the next candidate
				continue
			}
			return r.GetByID(ctx, taskID)
		}
	}
	return nil, nil
}

// ListFailedSince returns failed tasks newer than the cutoff with retry
// budget remaining
func (r *TaskRepository) ListFailedSince(ctx context.Context, since time.Time, maxRetries, limit int) ([]*entity.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM task_records
		WHERE status = ? AND created_at >= ? AND retry_count < ?
		ORDER BY created_at ASC LIMIT ?`

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query,
		entity.TaskStatusFailure, since, maxRetries, limit)
	if err != nil {
		r.logger.Error("Failed to list failed tasks", zap.Error(err))
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.TaskRecord
	for rows.Next() {
		task, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountByStatus aggregates task counts per status
func (r *TaskRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *TaskRepository) scanOne(row rowScanner) (*entity.TaskRecord, error) {
	var task entity.TaskRecord
	var documentID, templateID sql.NullString
	var nextRetryAt, startedAt, completedAt, updatedAt sql.NullTime

	err := row.Scan(
		&task.TaskID,
		&task.TaskName,
		&documentID,
		&templateID,
		&task.Queue,
		&task.Status,
		&task.Progress,
		&task.Result,
		&task.ErrorInfo,
		&task.RetryCount,
		&nextRetryAt,
		&startedAt,
		&completedAt,
		&task.ExecutionTimeMS,
		&task.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.DocumentID = documentID.String
	task.TemplateID = templateID.String
	task.NextRetryAt = timePtr(nextRetryAt)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	task.UpdatedAt = timePtr(updatedAt)
	return &task, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
