package port

import (
	"context"
	"time"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

// DocumentRepository defines persistence operations for Document
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByHash(ctx context.Context, fileHash string) (*entity.Document, error)
	Update(ctx context.Context, doc *entity.Document) error
	List(ctx context.Context, limit, offset int) ([]*entity.Document, error)

	// ListTerminalOlderThan returns settled documents created before the
	// cutoff, for the retention sweep
	ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Document, error)
}

// TemplateRepository defines persistence operations for Template
type TemplateRepository interface {
	Create(ctx context.Context, tpl *entity.Template) error
	GetByID(ctx context.Context, id string) (*entity.Template, error)
	Update(ctx context.Context, tpl *entity.Template) error
	List(ctx context.Context, activeOnly bool) ([]*entity.Template, error)
}

// ReviewFilter narrows review queue listings
type ReviewFilter struct {
	Priority string
	Limit    int
	Offset   int
}

// VerificationRepository defines persistence operations for
// VerificationRecord
type VerificationRepository interface {
	Create(ctx context.Context, rec *entity.VerificationRecord) error
	GetByID(ctx context.Context, id string) (*entity.VerificationRecord, error)

	// GetLatestByDocumentID returns the most recent attempt for a document;
	// only the latest attempt is authoritative for displayed status
	GetLatestByDocumentID(ctx context.Context, documentID string) (*entity.VerificationRecord, error)

	Update(ctx context.Context, rec *entity.VerificationRecord) error

	// ListPendingReview returns records awaiting human review ordered
	// oldest-first
	ListPendingReview(ctx context.Context, filter ReviewFilter) ([]*entity.VerificationRecord, int, error)

	// ClaimForReview atomically moves up to count unassigned pending-review
	// records to assigned for the reviewer. Implementations must use a
	// conditional update so two concurrent claims never return the same
	// record.
	ClaimForReview(ctx context.Context, reviewerID string, count int, priority string) ([]*entity.VerificationRecord, error)

	// CountOpenByReviewer counts assigned plus in-progress items for a
	// reviewer
	CountOpenByReviewer(ctx context.Context, reviewerID string) (int, error)

	// CountCompletedSince counts completed reviews for a reviewer after the
	// cutoff
	CountCompletedSince(ctx context.Context, reviewerID string, since time.Time) (int, error)
}

// TaskRepository defines persistence operations for TaskRecord
type TaskRepository interface {
	Create(ctx context.Context, task *entity.TaskRecord) error
	GetByID(ctx context.Context, taskID string) (*entity.TaskRecord, error)
	Update(ctx context.Context, task *entity.TaskRecord) error

	// ClaimNextPending atomically claims the oldest runnable pending or
	// due-for-retry task from the given queues, in queue order, moving it
	// to STARTED. Returns nil when nothing is runnable.
	ClaimNextPending(ctx context.Context, queues []string, now time.Time) (*entity.TaskRecord, error)

	// ListFailedSince returns failed tasks newer than the cutoff with
	// retry_count below max, for the maintenance requeue sweep
	ListFailedSince(ctx context.Context, since time.Time, maxRetries, limit int) ([]*entity.TaskRecord, error)

	// CountByStatus aggregates task counts per status
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// WebhookRepository defines persistence operations for webhook endpoints and
// deliveries
type WebhookRepository interface {
	CreateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*entity.WebhookEndpoint, error)
	GetEndpointByURL(ctx context.Context, url string) (*entity.WebhookEndpoint, error)
	ListActiveEndpoints(ctx context.Context) ([]*entity.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, ep *entity.WebhookEndpoint) error

	CreateDelivery(ctx context.Context, d *entity.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d *entity.WebhookDelivery) error
	ListFailedDeliveries(ctx context.Context, maxRetries, limit int) ([]*entity.WebhookDelivery, error)
	CountDeliveriesByStatus(ctx context.Context) (map[string]int, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
