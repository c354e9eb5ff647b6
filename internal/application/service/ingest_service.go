package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
	"github.com/kaiwen/docverify/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Extensions accepted at the upload boundary
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".bmp":  true,
}

// IngestRequest is one upload submission
type IngestRequest struct {
	Filename    string
	ContentType string
	TemplateID  string
	Priority    string
	Content     []byte
}

// IngestResult reports the outcome of an upload. Duplicate means the content
// hash matched an existing document and no new document or task was created.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id,omitempty"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate"`
}

// IngestService accepts uploads, deduplicates them by content hash and queues
// the processing task.
type IngestService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
}

type ingestServiceImpl struct {
	docRepo     port.DocumentRepository
	storage     port.ObjectStorage
	tasks       TaskService
	dispatcher  dispatcher.Dispatcher
	maxFileSize int64
	logger      Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(
	docRepo port.DocumentRepository,
	storage port.ObjectStorage,
	tasks TaskService,
	disp dispatcher.Dispatcher,
	maxFileSize int64,
	logger Logger,
) IngestService {
	return &ingestServiceImpl{
		docRepo:     docRepo,
		storage:     storage,
		tasks:       tasks,
		dispatcher:  disp,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Ingest validates the upload, short-circuits on a duplicate content hash and
// otherwise stores the bytes, creates the document record and submits the
// processing task. Validation happens before hashing so malformed uploads are
// rejected without any side effects.
func (s *ingestServiceImpl) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Content)
	fileHash := hex.EncodeToString(sum[:])

	// Duplicate gate: same bytes, same document. No storage write, no task.
	existing, err := s.docRepo.GetByHash(ctx, fileHash)
	if err == nil && existing != nil {
		s.logger.Info("Duplicate upload detected",
			"document_id", existing.ID,
			"file_hash", fileHash,
			"filename", req.Filename)

		s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeDocumentDuplicate, existing.ID, map[string]interface{}{
			"file_hash": fileHash,
			"filename":  req.Filename,
		}))

		return &IngestResult{
			DocumentID: existing.ID,
			Status:     existing.Status,
			Duplicate:  true,
		}, nil
	}

	doc := entity.NewDocument(req.Filename, req.ContentType, fileHash, "", int64(len(req.Content)))
	doc.TemplateID = req.TemplateID

	storagePath := fmt.Sprintf("documents/%s/%s", fileHash[:2], utils.SanitizeFilename(doc.Filename))
	if _, err := s.storage.Put(ctx, storagePath, req.Content); err != nil {
		s.logger.Error("Failed to store upload", "error", err, "filename", req.Filename)
		return nil, fmt.Errorf("%w: store upload: %v", entity.ErrTransient, err)
	}
	doc.StoragePath = storagePath

	if err := s.docRepo.Create(ctx, doc); err != nil {
		// Best effort rollback of the stored bytes
		_ = s.storage.Delete(ctx, storagePath)
		s.logger.Error("Failed to create document", "error", err, "filename", req.Filename)
		return nil, fmt.Errorf("create document: %w", err)
	}

	task, err := s.tasks.Submit(ctx, entity.TaskNameProcessDocument, doc.ID, req.TemplateID, req.Priority)
	if err != nil {
		s.logger.Error("Failed to submit processing task", "error", err, "document_id", doc.ID)
		return nil, fmt.Errorf("submit task: %w", err)
	}

	s.logger.Info("Document ingested",
		"document_id", doc.ID,
		"task_id", task.TaskID,
		"file_size", doc.FileSize,
		"queue", task.Queue)

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeDocumentUploaded, doc.ID, map[string]interface{}{
		"task_id":     task.TaskID,
		"template_id": req.TemplateID,
		"filename":    req.Filename,
		"file_size":   doc.FileSize,
	}))

	return &IngestResult{
		DocumentID: doc.ID,
		TaskID:     task.TaskID,
		Status:     doc.Status,
		Duplicate:  false,
	}, nil
}

func (s *ingestServiceImpl) validate(req IngestRequest) error {
	if len(req.Content) == 0 {
		return fmt.Errorf("%w: empty file", entity.ErrValidation)
	}
	if s.maxFileSize > 0 && int64(len(req.Content)) > s.maxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit %d", entity.ErrValidation, len(req.Content), s.maxFileSize)
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: unsupported file type %q", entity.ErrValidation, ext)
	}
	return nil
}
