package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// DocumentStatusView is the status surface for one document. Verification
// fields reflect the latest attempt only.
type DocumentStatusView struct {
	DocumentID       string     `json:"document_id"`
	Status           string     `json:"status"`
	OriginalFilename string     `json:"original_filename"`
	TemplateID       string     `json:"template_id,omitempty"`
	OCRConfidence    float64    `json:"ocr_confidence,omitempty"`
	VerificationID   string     `json:"verification_id,omitempty"`
	Confidence       float64    `json:"confidence,omitempty"`
	RequiresReview   bool       `json:"requires_review"`
	ReviewStatus     string     `json:"review_status,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// DocumentService answers read queries about documents and their processing
// history.
type DocumentService interface {
	// GetStatus returns the document's current status with its latest
	// verification attempt, if any
	GetStatus(ctx context.Context, documentID string) (*DocumentStatusView, error)

	// List returns documents newest-first
	List(ctx context.Context, limit, offset int) ([]*entity.Document, error)

	// History returns the append-only processing history
	History(ctx context.Context, documentID string) ([]entity.ProcessingEvent, error)

	// DownloadURL returns a short-lived signed URL for the stored content
	DownloadURL(ctx context.Context, documentID string) (string, error)
}

// downloadURLTTL bounds how long a signed download link stays valid
const downloadURLTTL = 15 * time.Minute

type documentServiceImpl struct {
	docRepo          port.DocumentRepository
	verificationRepo port.VerificationRepository
	storage          port.ObjectStorage
	logger           Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(docRepo port.DocumentRepository, verificationRepo port.VerificationRepository, storage port.ObjectStorage, logger Logger) DocumentService {
	return &documentServiceImpl{
		docRepo:          docRepo,
		verificationRepo: verificationRepo,
		storage:          storage,
		logger:           logger,
	}
}

// GetStatus returns the document with its latest verification attempt
func (s *documentServiceImpl) GetStatus(ctx context.Context, documentID string) (*DocumentStatusView, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", documentID, err)
	}

	view := &DocumentStatusView{
		DocumentID:       doc.ID,
		Status:           doc.Status,
		OriginalFilename: doc.OriginalFilename,
		TemplateID:       doc.TemplateID,
		OCRConfidence:    doc.OCRConfidence,
		RequiresReview:   doc.RequiresHumanReview(),
		CreatedAt:        doc.CreatedAt,
		ProcessedAt:      doc.ProcessedAt,
	}

	rec, err := s.verificationRepo.GetLatestByDocumentID(ctx, documentID)
	switch {
	case err == nil && rec != nil:
		view.VerificationID = rec.ID
		view.Confidence = rec.OverallConfidence
		view.ReviewStatus = rec.ReviewStatus
	case err != nil && !errors.Is(err, entity.ErrNotFound):
		return nil, fmt.Errorf("get latest verification for %s: %w", documentID, err)
	}

	return view, nil
}

// List returns documents newest-first
func (s *documentServiceImpl) List(ctx context.Context, limit, offset int) ([]*entity.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.docRepo.List(ctx, limit, offset)
}

// History returns the append-only processing history
func (s *documentServiceImpl) History(ctx context.Context, documentID string) ([]entity.ProcessingEvent, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", documentID, err)
	}
	return doc.ProcessingHistory, nil
}

// DownloadURL returns a signed URL for the stored bytes. Archived documents
// have their content deleted by the retention sweep, so the link is only
// issued while the object is still present.
func (s *documentServiceImpl) DownloadURL(ctx context.Context, documentID string) (string, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("get document %s: %w", documentID, err)
	}
	if doc.StoragePath == "" || !s.storage.Exists(ctx, doc.StoragePath) {
		return "", fmt.Errorf("content for document %s: %w", documentID, entity.ErrNotFound)
	}
	return s.storage.Presign(ctx, doc.StoragePath, downloadURLTTL)
}
