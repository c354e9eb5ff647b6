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

// VerificationRepository implements port.VerificationRepository
type VerificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *sql.DB, logger *zap.Logger) port.VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger,
	}
}

const verificationColumns = `
	id, document_id, template_id, status, overall_confidence, field_results,
	extracted_data, requires_manual_review, review_status, assigned_to,
	assigned_at, reviewed_by, reviewed_at, manual_review_notes, error_message,
	created_at, updated_at`

// priorityExpr derives the review priority from overall confidence in SQL,
// mirroring VerificationRecord.Priority
const priorityExpr = `CASE
	WHEN overall_confidence < 0.3 THEN 'high'
	WHEN overall_confidence < 0.7 THEN 'medium'
	ELSE 'low' END`

// Create inserts a new verification record
func (r *VerificationRepository) Create(ctx context.Context, rec *entity.VerificationRecord) error {
	query := `
		INSERT INTO verification_records (` + verificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fieldResults, err := marshalJSON(rec.FieldResults)
	if err != nil {
		return err
	}
	extracted, err := marshalJSON(rec.ExtractedData)
	if err != nil {
		return err
	}

	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		rec.ID,
		rec.DocumentID,
		rec.TemplateID,
		rec.Status,
		rec.OverallConfidence,
		fieldResults,
		extracted,
		rec.RequiresManualReview,
		rec.ReviewStatus,
		nullString(rec.AssignedTo),
		nullTime(rec.AssignedAt),
		nullString(rec.ReviewedBy),
		nullTime(rec.ReviewedAt),
		rec.ManualReviewNotes,
		rec.ErrorMessage,
		rec.CreatedAt,
		nullTime(rec.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create verification record", zap.Error(err), zap.String("id", rec.ID))
		return fmt.Errorf("create verification record: %w", err)
	}
	return nil
}

// GetByID retrieves a verification record by ID
func (r *VerificationRepository) GetByID(ctx context.Context, id string) (*entity.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_records WHERE id = ?`

	rec, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("verification %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get verification record", zap.Error(err), zap.String("id", id))
		return nil, fmt.Errorf("get verification record: %w", err)
	}
	return rec, nil
}

// GetLatestByDocumentID returns the most recent attempt for a document
func (r *VerificationRepository) GetLatestByDocumentID(ctx context.Context, documentID string) (*entity.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_records
		WHERE document_id = ? ORDER BY created_at DESC LIMIT 1`

	rec, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, documentID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("verification for document %s: %w", documentID, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get latest verification", zap.Error(err), zap.String("document_id", documentID))
		return nil, fmt.Errorf("get latest verification: %w", err)
	}
	return rec, nil
}

// Update persists the mutable fields of a verification record
func (r *VerificationRepository) Update(ctx context.Context, rec *entity.VerificationRecord) error {
	query := `
		UPDATE verification_records SET
			status = ?, overall_confidence = ?, field_results = ?,
			extracted_data = ?, requires_manual_review = ?, review_status = ?,
			assigned_to = ?, assigned_at = ?, reviewed_by = ?, reviewed_at = ?,
			manual_review_notes = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	fieldResults, err := marshalJSON(rec.FieldResults)
	if err != nil {
		return err
	}
	extracted, err := marshalJSON(rec.ExtractedData)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.UpdatedAt = &now

	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		rec.Status,
		rec.OverallConfidence,
		fieldResults,
		extracted,
		rec.RequiresManualReview,
		rec.ReviewStatus,
		nullString(rec.AssignedTo),
		nullTime(rec.AssignedAt),
		nullString(rec.ReviewedBy),
		nullTime(rec.ReviewedAt),
		rec.ManualReviewNotes,
		rec.ErrorMessage,
		nullTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update verification record", zap.Error(err), zap.String("id", rec.ID))
		return fmt.Errorf("update verification record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("verification %s: %w", rec.ID, entity.ErrNotFound)
	}
	return nil
}

// ListPendingReview returns records awaiting review oldest-first, optionally
// filtered by derived priority, plus the total matching count. Assigned and
// in-progress items stay in the queue until a decision lands; only completed
// and cancelled reviews drop out.
func (r *VerificationRepository) ListPendingReview(ctx context.Context, filter port.ReviewFilter) ([]*entity.VerificationRecord, int, error) {
	where := `requires_manual_review = 1 AND review_status NOT IN (?, ?)`
	args := []interface{}{entity.ReviewStatusCompleted, entity.ReviewStatusCancelled}
	if filter.Priority != "" {
		where += ` AND ` + priorityExpr + ` = ?`
		args = append(args, filter.Priority)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM verification_records WHERE ` + where
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count pending reviews", zap.Error(err))
		return nil, 0, fmt.Errorf("count pending reviews: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + verificationColumns + ` FROM verification_records
		WHERE ` + where + ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pending reviews", zap.Error(err))
		return nil, 0, fmt.Errorf("list pending reviews: %w", err)
	}
	defer rows.Close()

	var records []*entity.VerificationRecord
	for rows.Next() {
		rec, err := r.scanOne(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan verification record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// ClaimForReview atomically assigns up to count pending items to the
// reviewer. Each candidate is claimed with a conditional update keyed on
// review_status, so a row lost to a concurrent claimant is simply skipped.
func (r *VerificationRepository) ClaimForReview(ctx context.Context, reviewerID string, count int, priority string) ([]*entity.VerificationRecord, error) {
	where := `requires_manual_review = 1 AND review_status = ?`
	args := []interface{}{entity.ReviewStatusPending}
	if priority != "" {
		where += ` AND ` + priorityExpr + ` = ?`
		args = append(args, priority)
	}

	// Over-select to compensate for rows lost to concurrent claimants
	candidateQuery := `SELECT id FROM verification_records WHERE ` + where + `
		ORDER BY created_at ASC LIMIT ?`
	args = append(args, count*2)

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, candidateQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list claim candidates: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var claimed []*entity.VerificationRecord
	for _, id := range candidates {
		if len(claimed) >= count {
			break
		}

		result, err := executorFor(ctx, r.db).ExecContext(ctx, `
			UPDATE verification_records
			SET review_status = ?, assigned_to = ?, assigned_at = ?, updated_at = ?
			WHERE id = ? AND review_status = ?`,
			entity.ReviewStatusAssigned, reviewerID, now, now,
			id, entity.ReviewStatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim verification %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}

		rec, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

// CountOpenByReviewer counts assigned plus in-progress items for a reviewer
func (r *VerificationRepository) CountOpenByReviewer(ctx context.Context, reviewerID string) (int, error) {
	query := `SELECT COUNT(*) FROM verification_records
		WHERE assigned_to = ? AND review_status IN (?, ?)`

	var n int
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query,
		reviewerID, entity.ReviewStatusAssigned, entity.ReviewStatusInProgress).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open reviews: %w", err)
	}
	return n, nil
}

// CountCompletedSince counts completed reviews for a reviewer after the cutoff
func (r *VerificationRepository) CountCompletedSince(ctx context.Context, reviewerID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM verification_records
		WHERE reviewed_by = ? AND reviewed_at >= ?`

	var n int
	err := executorFor(ctx, r.db).QueryRowContext(ctx, query, reviewerID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed reviews: %w", err)
	}
	return n, nil
}

func (r *VerificationRepository) scanOne(row rowScanner) (*entity.VerificationRecord, error) {
	var rec entity.VerificationRecord
	var fieldResults, extracted string
	var assignedTo, reviewedBy sql.NullString
	var assignedAt, reviewedAt, updatedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.TemplateID,
		&rec.Status,
		&rec.OverallConfidence,
		&fieldResults,
		&extracted,
		&rec.RequiresManualReview,
		&rec.ReviewStatus,
		&assignedTo,
		&assignedAt,
		&reviewedBy,
		&reviewedAt,
		&rec.ManualReviewNotes,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.AssignedTo = assignedTo.String
	rec.ReviewedBy = reviewedBy.String
	rec.AssignedAt = timePtr(assignedAt)
	rec.ReviewedAt = timePtr(reviewedAt)
	rec.UpdatedAt = timePtr(updatedAt)

	if err := unmarshalJSON(fieldResults, &rec.FieldResults); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(extracted, &rec.ExtractedData); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verify interface compliance
var _ port.VerificationRepository = (*VerificationRepository)(nil)
