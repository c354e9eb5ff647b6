package entity

import (
	"time"

	"github.com/google/uuid"
)

// Task status constants, mirroring the states a queued unit of work moves
// through. One record per submitted task; retries increment RetryCount on
// the same record rather than creating a new one.
const (
	TaskStatusPending  = "PENDING"
	TaskStatusStarted  = "STARTED"
	TaskStatusProgress = "PROGRESS"
	TaskStatusSuccess  = "SUCCESS"
	TaskStatusFailure  = "FAILURE"
	TaskStatusRetry    = "RETRY"
	TaskStatusRevoked  = "REVOKED"
)

// Task names
const (
	TaskNameProcessDocument   = "process_document"
	TaskNameReprocessDocument = "reprocess_document"
)

// Queue names. High priority is a dedicated lane so reprocessing and
// escalated work is not starved by bulk ingestion.
const (
	QueueDefault      = "document_processing"
	QueueHighPriority = "high_priority"
)

// Task priorities
const (
	TaskPriorityLow    = "low"
	TaskPriorityNormal = "normal"
	TaskPriorityHigh   = "high"
)

// TaskRecord tracks one background task independently of the document it
// processes. Records are never deleted; they form the processing audit trail.
type TaskRecord struct {
	TaskID          string     `json:"task_id"`
	TaskName        string     `json:"task_name"`
	DocumentID      string     `json:"document_id,omitempty"`
	TemplateID      string     `json:"template_id,omitempty"`
	Queue           string     `json:"queue"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	Result          string     `json:"result,omitempty"`
	ErrorInfo       string     `json:"error_info,omitempty"`
	RetryCount      int        `json:"retry_count"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExecutionTimeMS int64      `json:"execution_time_ms,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// NewTaskRecord creates a pending record for a freshly submitted task
func NewTaskRecord(taskName, documentID, templateID, queue string) *TaskRecord {
	return &TaskRecord{
		TaskID:     uuid.NewString(),
		TaskName:   taskName,
		DocumentID: documentID,
		TemplateID: templateID,
		Queue:      queue,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsFinished reports whether the task reached a terminal status
func (t *TaskRecord) IsFinished() bool {
	switch t.Status {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusRevoked:
		return true
	}
	return false
}

// QueueForPriority maps a submission priority to its queue lane
func QueueForPriority(priority string) string {
	if priority == TaskPriorityHigh {
		return QueueHighPriority
	}
	return QueueDefault
}
