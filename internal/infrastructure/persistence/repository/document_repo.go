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

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

const documentColumns = `
	id, template_id, filename, original_filename, content_type, file_size,
	file_hash, storage_path, status, ocr_text, ocr_confidence, ocr_blocks,
	validation_result, processing_history, created_at, updated_at, processed_at`

// Create inserts a new document
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	blocks, err := marshalJSON(doc.OCRBlocks)
	if err != nil {
		return err
	}
	validation, err := marshalJSON(doc.ValidationResult)
	if err != nil {
		return err
	}
	history, err := marshalJSON(doc.ProcessingHistory)
	if err != nil {
		return err
	}

	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		doc.ID,
		nullString(doc.TemplateID),
		doc.Filename,
		doc.OriginalFilename,
		doc.ContentType,
		doc.FileSize,
		doc.FileHash,
		doc.StoragePath,
		doc.Status,
		doc.OCRText,
		doc.OCRConfidence,
		blocks,
		validation,
		history,
		doc.CreatedAt,
		nullTime(doc.UpdatedAt),
		nullTime(doc.ProcessedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create document", zap.Error(err), zap.String("id", doc.ID))
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`

	doc, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get document", zap.Error(err), zap.String("id", id))
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetByHash retrieves a document by content hash. Returns (nil, nil) when no
// document carries the hash; the ingest dedup gate treats that as a miss.
func (r *DocumentRepository) GetByHash(ctx context.Context, fileHash string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE file_hash = ? ORDER BY created_at ASC LIMIT 1`

	doc, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, fileHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get document by hash", zap.Error(err), zap.String("file_hash", fileHash))
		return nil, fmt.Errorf("get document by hash: %w", err)
	}
	return doc, nil
}

// Update persists the mutable fields of a document
func (r *DocumentRepository) Update(ctx context.Context, doc *entity.Document) error {
	query := `
		UPDATE documents SET
			template_id = ?, status = ?, ocr_text = ?, ocr_confidence = ?,
			ocr_blocks = ?, validation_result = ?, processing_history = ?,
			updated_at = ?, processed_at = ?
		WHERE id = ?
	`

	blocks, err := marshalJSON(doc.OCRBlocks)
	if err != nil {
		return err
	}
	validation, err := marshalJSON(doc.ValidationResult)
	if err != nil {
		return err
	}
	history, err := marshalJSON(doc.ProcessingHistory)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.UpdatedAt = &now

	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		nullString(doc.TemplateID),
		doc.Status,
		doc.OCRText,
		doc.OCRConfidence,
		blocks,
		validation,
		history,
		nullTime(doc.UpdatedAt),
		nullTime(doc.ProcessedAt),
		doc.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update document", zap.Error(err), zap.String("id", doc.ID))
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, entity.ErrNotFound)
	}
	return nil
}

// List retrieves documents newest-first with pagination
func (r *DocumentRepository) List(ctx context.Context, limit, offset int) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list documents", zap.Error(err))
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListTerminalOlderThan returns settled documents created before the cutoff
func (r *DocumentRepository) ListTerminalOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE status IN (?, ?, ?) AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query,
		entity.DocumentStatusPassed,
		entity.DocumentStatusFailed,
		entity.DocumentStatusReviewRequired,
		cutoff,
		limit,
	)
	if err != nil {
		r.logger.Error("Failed to list expired documents", zap.Error(err))
		return nil, fmt.Errorf("list expired documents: %w", err)
	}
	defer rows.Close()

	return r.scanMany(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *DocumentRepository) scanOne(row rowScanner) (*entity.Document, error) {
	var doc entity.Document
	var templateID sql.NullString
	var blocks, validation, history string
	var updatedAt, processedAt sql.NullTime

	err := row.Scan(
		&doc.ID,
		&templateID,
		&doc.Filename,
		&doc.OriginalFilename,
		&doc.ContentType,
		&doc.FileSize,
		&doc.FileHash,
		&doc.StoragePath,
		&doc.Status,
		&doc.OCRText,
		&doc.OCRConfidence,
		&blocks,
		&validation,
		&history,
		&doc.CreatedAt,
		&updatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.TemplateID = templateID.String
	doc.UpdatedAt = timePtr(updatedAt)
	doc.ProcessedAt = timePtr(processedAt)

	if err := unmarshalJSON(blocks, &doc.OCRBlocks); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(validation, &doc.ValidationResult); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(history, &doc.ProcessingHistory); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) scanMany(rows *sql.Rows) ([]*entity.Document, error) {
	var docs []*entity.Document
	for rows.Next() {
		doc, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Verify interface compliance
var _ port.DocumentRepository = (*DocumentRepository)(nil)
