package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
	"github.com/kaiwen/docverify/internal/domain/workflow"
)

const (
	defaultMaintenanceInterval = 10 * time.Minute
	defaultRetentionPeriod     = 90 * 24 * time.Hour
	failedTaskRequeueWindow    = 24 * time.Hour
	maintenanceBatchSize       = 100
)

// MaintenanceWorker runs the periodic housekeeping sweeps: requeueing
// recently failed tasks that still have retry budget, and archiving settled
// documents past the retention period along with their stored bytes.
type MaintenanceWorker struct {
	taskRepo   port.TaskRepository
	docRepo    port.DocumentRepository
	storage    port.ObjectStorage
	retry      *RetryStrategy
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger

	interval  time.Duration
	retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// MaintenanceOption overrides a maintenance tuning default
type MaintenanceOption func(*MaintenanceWorker)

// WithSweepInterval sets how often housekeeping runs
func WithSweepInterval(d time.Duration) MaintenanceOption {
	return func(w *MaintenanceWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRetention sets how long settled documents are kept before archival
func WithRetention(d time.Duration) MaintenanceOption {
	return func(w *MaintenanceWorker) {
		if d > 0 {
			w.retention = d
		}
	}
}

// NewMaintenanceWorker creates the housekeeping worker
func NewMaintenanceWorker(
	taskRepo port.TaskRepository,
	docRepo port.DocumentRepository,
	storage port.ObjectStorage,
	retry *RetryStrategy,
	disp dispatcher.Dispatcher,
	logger *zap.Logger,
	opts ...MaintenanceOption,
) *MaintenanceWorker {
	w := &MaintenanceWorker{
		taskRepo:   taskRepo,
		docRepo:    docRepo,
		storage:    storage,
		retry:      retry,
		dispatcher: disp,
		logger:     logger,
		interval:   defaultMaintenanceInterval,
		retention:  defaultRetentionPeriod,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker name
func (w *MaintenanceWorker) Name() string {
	return "maintenance"
}

// Start launches the sweep loop
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	go w.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for the current sweep to finish
func (w *MaintenanceWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *MaintenanceWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one round of housekeeping
func (w *MaintenanceWorker) Sweep(ctx context.Context) {
	w.requeueFailedTasks(ctx)
	w.archiveExpiredDocuments(ctx)
}

// requeueFailedTasks gives recently failed tasks with remaining retry budget
// another run. Tasks that failed a worker crash mid-execution end up here.
func (w *MaintenanceWorker) requeueFailedTasks(ctx context.Context) {
	since := time.Now().UTC().Add(-failedTaskRequeueWindow)
	tasks, err := w.taskRepo.ListFailedSince(ctx, since, w.retry.MaxAttempts, maintenanceBatchSize)
	if err != nil {
		w.logger.Error("Failed to list failed tasks", zap.Error(err))
		return
	}

	requeued := 0
	for _, task := range tasks {
		task.Status = entity.TaskStatusPending
		task.NextRetryAt = nil
		task.CompletedAt = nil
		if err := w.taskRepo.Update(ctx, task); err != nil {
			w.logger.Error("Failed to requeue task", zap.Error(err), zap.String("task_id", task.TaskID))
			continue
		}
		requeued++
	}

	if requeued > 0 {
		w.logger.Info("Failed tasks requeued", zap.Int("count", requeued))
	}
}

// archiveExpiredDocuments moves settled documents past retention to archived
// and deletes their stored bytes. The database record stays as the audit
// trail.
func (w *MaintenanceWorker) archiveExpiredDocuments(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.retention)
	docs, err := w.docRepo.ListTerminalOlderThan(ctx, cutoff, maintenanceBatchSize)
	if err != nil {
		w.logger.Error("Failed to list expired documents", zap.Error(err))
		return
	}

	archived := 0
	for _, doc := range docs {
		lifecycle, err := workflow.NewLifecycle(doc)
		if err != nil || !lifecycle.CanFire(workflow.TriggerArchive) {
			continue
		}

		if doc.StoragePath != "" {
			if err := w.storage.Delete(ctx, doc.StoragePath); err != nil {
				w.logger.Warn("Failed to delete archived content",
					zap.Error(err),
					zap.String("document_id", doc.ID),
					zap.String("path", doc.StoragePath))
			}
		}

		fireCtx := workflow.WithMetadata(ctx, map[string]interface{}{"reason": "retention sweep"})
		if err := lifecycle.Fire(fireCtx, workflow.TriggerArchive); err != nil {
			w.logger.Error("Failed to archive document", zap.Error(err), zap.String("document_id", doc.ID))
			continue
		}
		if err := w.docRepo.Update(ctx, doc); err != nil {
			w.logger.Error("Failed to persist archived document", zap.Error(err), zap.String("document_id", doc.ID))
			continue
		}

		w.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeDocumentArchived, doc.ID, map[string]interface{}{
			"archived_at": time.Now().UTC().Format(time.RFC3339),
		}))
		archived++
	}

	if archived > 0 {
		w.logger.Info("Documents archived", zap.Int("count", archived))
	}
}
