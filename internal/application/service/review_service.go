package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
	"github.com/kaiwen/docverify/internal/domain/event"
	"github.com/kaiwen/docverify/internal/domain/workflow"
)

// ReviewItem is one queue entry as shown to reviewers
type ReviewItem struct {
	VerificationID   string    `json:"verification_id"`
	DocumentID       string    `json:"document_id"`
	TemplateID       string    `json:"template_id"`
	Priority         string    `json:"priority"`
	Confidence       float64   `json:"confidence"`
	EstimatedMinutes int       `json:"estimated_minutes"`
	ReviewStatus     string    `json:"review_status"`
	AssignedTo       string    `json:"assigned_to,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReviewQueuePage is one page of the pending review queue
type ReviewQueuePage struct {
	Items []ReviewItem `json:"items"`
	Total int          `json:"total"`
}

// ReviewDetails is everything a reviewer needs to decide one item
type ReviewDetails struct {
	Item             ReviewItem                    `json:"item"`
	DocumentStatus   string                        `json:"document_status"`
	OriginalFilename string                        `json:"original_filename"`
	ExtractedData    map[string]string             `json:"extracted_data,omitempty"`
	FieldResults     map[string]entity.FieldResult `json:"field_results,omitempty"`
	MissingFields    []entity.MissingField         `json:"missing_fields,omitempty"`
	LowConfidence    []string                      `json:"low_confidence_fields,omitempty"`
	Issues           []string                      `json:"issues,omitempty"`
	SuggestedActions []string                      `json:"suggested_actions,omitempty"`
}

// ReviewerWorkload summarizes one reviewer's current load
type ReviewerWorkload struct {
	ReviewerID     string `json:"reviewer_id"`
	OpenItems      int    `json:"open_items"`
	CompletedToday int    `json:"completed_today"`
	Classification string `json:"classification"`
}

// ReviewStatistics summarizes the queue as a whole
type ReviewStatistics struct {
	PendingTotal      int            `json:"pending_total"`
	PendingByPriority map[string]int `json:"pending_by_priority"`
}

// ReviewService manages the human review queue: listing, assignment,
// decisions and workload reporting.
type ReviewService interface {
	// ListPending returns the review queue oldest-first, optionally filtered
	// by priority
	ListPending(ctx context.Context, filter port.ReviewFilter) (*ReviewQueuePage, error)

	// GetDetails returns the full review context for one item
	GetDetails(ctx context.Context, verificationID string) (*ReviewDetails, error)

	// RequestAssignment atomically claims up to count unassigned items for
	// the reviewer. Concurrent claims never receive the same item.
	RequestAssignment(ctx context.Context, reviewerID string, count int, priority string) ([]ReviewItem, error)

	// SubmitDecision records a terminal reviewer decision and moves the
	// document accordingly. Corrections supplied with an approval are merged
	// into the record's extracted data.
	SubmitDecision(ctx context.Context, verificationID, reviewerID, decision, notes string, correctedData map[string]string) error

	// Workload reports a reviewer's open and completed item counts
	Workload(ctx context.Context, reviewerID string) (*ReviewerWorkload, error)

	// Statistics aggregates the pending queue by priority
	Statistics(ctx context.Context) (*ReviewStatistics, error)
}

type reviewServiceImpl struct {
	verificationRepo port.VerificationRepository
	docRepo          port.DocumentRepository
	tasks            TaskService
	dispatcher       dispatcher.Dispatcher
	txManager        port.TransactionManager
	logger           Logger
}

// NewReviewService creates a new ReviewService
func NewReviewService(
	verificationRepo port.VerificationRepository,
	docRepo port.DocumentRepository,
	tasks TaskService,
	disp dispatcher.Dispatcher,
	txManager port.TransactionManager,
	logger Logger,
) ReviewService {
	return &reviewServiceImpl{
		verificationRepo: verificationRepo,
		docRepo:          docRepo,
		tasks:            tasks,
		dispatcher:       disp,
		txManager:        txManager,
		logger:           logger,
	}
}

// ListPending returns the review queue oldest-first
func (s *reviewServiceImpl) ListPending(ctx context.Context, filter port.ReviewFilter) (*ReviewQueuePage, error) {
	records, total, err := s.verificationRepo.ListPendingReview(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}

	page := &ReviewQueuePage{Total: total, Items: make([]ReviewItem, 0, len(records))}
	for _, rec := range records {
		page.Items = append(page.Items, itemFrom(rec))
	}
	return page, nil
}

// GetDetails returns the full review context for one item
func (s *reviewServiceImpl) GetDetails(ctx context.Context, verificationID string) (*ReviewDetails, error) {
	rec, err := s.verificationRepo.GetByID(ctx, verificationID)
	if err != nil {
		return nil, fmt.Errorf("get verification %s: %w", verificationID, err)
	}

	doc, err := s.docRepo.GetByID(ctx, rec.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", rec.DocumentID, err)
	}

	details := &ReviewDetails{
		Item:             itemFrom(rec),
		DocumentStatus:   doc.Status,
		OriginalFilename: doc.OriginalFilename,
		ExtractedData:    rec.ExtractedData,
		FieldResults:     rec.FieldResults,
	}
	if rec.ErrorMessage != "" {
		details.Issues = append(details.Issues, rec.ErrorMessage)
	}
	if doc.ValidationResult != nil {
		details.MissingFields = doc.ValidationResult.MissingFields
		details.LowConfidence = doc.ValidationResult.LowConfidenceFields
	}
	details.SuggestedActions = suggestActions(details)
	return details, nil
}

// RequestAssignment atomically claims up to count items for the reviewer
func (s *reviewServiceImpl) RequestAssignment(ctx context.Context, reviewerID string, count int, priority string) ([]ReviewItem, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", entity.ErrValidation)
	}
	if count <= 0 {
		count = 1
	}

	records, err := s.verificationRepo.ClaimForReview(ctx, reviewerID, count, priority)
	if err != nil {
		return nil, fmt.Errorf("claim reviews: %w", err)
	}

	items := make([]ReviewItem, 0, len(records))
	for _, rec := range records {
		items = append(items, itemFrom(rec))
	}

	s.logger.Info("Reviews assigned", "reviewer_id", reviewerID, "count", len(items))
	return items, nil
}

// SubmitDecision records a terminal decision. Approve and reject settle the
// document; request_reprocess sends it back through the pipeline on the high
// priority lane. A record that already carries a decision is immutable.
func (s *reviewServiceImpl) SubmitDecision(ctx context.Context, verificationID, reviewerID, decision, notes string, correctedData map[string]string) error {
	if !entity.ValidDecision(decision) {
		return fmt.Errorf("%w: %q", entity.ErrReviewerDecision, decision)
	}
	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer id is required", entity.ErrValidation)
	}

	rec, err := s.verificationRepo.GetByID(ctx, verificationID)
	if err != nil {
		return fmt.Errorf("get verification %s: %w", verificationID, err)
	}
	if rec.IsReviewed() {
		return fmt.Errorf("%w: verification %s already reviewed by %s", entity.ErrValidation, verificationID, rec.ReviewedBy)
	}
	if !rec.RequiresManualReview {
		return fmt.Errorf("%w: verification %s does not require review", entity.ErrValidation, verificationID)
	}
	if rec.AssignedTo != "" && rec.AssignedTo != reviewerID {
		return fmt.Errorf("%w: verification %s is assigned to %s", entity.ErrValidation, verificationID, rec.AssignedTo)
	}

	doc, err := s.docRepo.GetByID(ctx, rec.DocumentID)
	if err != nil {
		return fmt.Errorf("get document %s: %w", rec.DocumentID, err)
	}
	lifecycle, err := workflow.NewLifecycle(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.ReviewedBy = reviewerID
	rec.ReviewedAt = &now
	rec.ManualReviewNotes = notes
	rec.ReviewStatus = entity.ReviewStatusCompleted
	rec.UpdatedAt = &now

	var trigger workflow.Trigger
	switch decision {
	case entity.DecisionApprove:
		trigger = workflow.TriggerPass
		rec.Status = entity.VerificationStatusPass
		if len(correctedData) > 0 {
			if rec.ExtractedData == nil {
				rec.ExtractedData = make(map[string]string, len(correctedData))
			}
			for field, value := range correctedData {
				rec.ExtractedData[field] = value
			}
		}
	case entity.DecisionReject:
		trigger = workflow.TriggerFail
		rec.Status = entity.VerificationStatusFail
	case entity.DecisionRequestReprocess:
		// The record goes back through the pipeline as if freshly created
		trigger = workflow.TriggerReprocess
		rec.Status = entity.VerificationStatusPending
		rec.RequiresManualReview = false
	}

	fireCtx := workflow.WithMetadata(ctx, map[string]interface{}{
		"decision":    decision,
		"reviewed_by": reviewerID,
	})
	if err := lifecycle.Fire(fireCtx, trigger); err != nil {
		return fmt.Errorf("apply decision %s: %w", decision, err)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.verificationRepo.Update(txCtx, rec); err != nil {
			return fmt.Errorf("update verification: %w", err)
		}
		if err := s.docRepo.Update(txCtx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if decision == entity.DecisionRequestReprocess {
		if _, err := s.tasks.Submit(ctx, entity.TaskNameReprocessDocument, doc.ID, rec.TemplateID, entity.TaskPriorityHigh); err != nil {
			s.logger.Error("Failed to queue reprocess task", "error", err, "document_id", doc.ID)
			return fmt.Errorf("queue reprocess: %w", err)
		}
	}

	s.logger.Info("Review decision recorded",
		"verification_id", verificationID,
		"document_id", doc.ID,
		"decision", decision,
		"reviewed_by", reviewerID)

	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeReviewDecisionRecorded, doc.ID, map[string]interface{}{
		"verification_id": verificationID,
		"decision":        decision,
		"reviewed_by":     reviewerID,
		"status":          doc.Status,
	}))

	return nil
}

// Workload reports a reviewer's open and completed item counts
func (s *reviewServiceImpl) Workload(ctx context.Context, reviewerID string) (*ReviewerWorkload, error) {
	open, err := s.verificationRepo.CountOpenByReviewer(ctx, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("count open reviews: %w", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	completed, err := s.verificationRepo.CountCompletedSince(ctx, reviewerID, midnight)
	if err != nil {
		return nil, fmt.Errorf("count completed reviews: %w", err)
	}

	return &ReviewerWorkload{
		ReviewerID:     reviewerID,
		OpenItems:      open,
		CompletedToday: completed,
		Classification: entity.ClassifyWorkload(open),
	}, nil
}

// Statistics aggregates the pending queue by priority
func (s *reviewServiceImpl) Statistics(ctx context.Context) (*ReviewStatistics, error) {
	stats := &ReviewStatistics{PendingByPriority: make(map[string]int)}

	_, total, err := s.verificationRepo.ListPendingReview(ctx, port.ReviewFilter{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("count pending reviews: %w", err)
	}
	stats.PendingTotal = total

	for _, priority := range []string{entity.PriorityHigh, entity.PriorityMedium, entity.PriorityLow} {
		_, n, err := s.verificationRepo.ListPendingReview(ctx, port.ReviewFilter{Priority: priority, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("count %s priority reviews: %w", priority, err)
		}
		stats.PendingByPriority[priority] = n
	}
	return stats, nil
}

func itemFrom(rec *entity.VerificationRecord) ReviewItem {
	return ReviewItem{
		VerificationID:   rec.ID,
		DocumentID:       rec.DocumentID,
		TemplateID:       rec.TemplateID,
		Priority:         rec.Priority(),
		Confidence:       rec.OverallConfidence,
		EstimatedMinutes: rec.EstimatedReviewMinutes(),
		ReviewStatus:     rec.ReviewStatus,
		AssignedTo:       rec.AssignedTo,
		CreatedAt:        rec.CreatedAt,
	}
}

func suggestActions(d *ReviewDetails) []string {
	var actions []string
	for _, mf := range d.MissingFields {
		actions = append(actions, fmt.Sprintf("verify %q manually against the source document", mf.FieldName))
	}
	for _, name := range d.LowConfidence {
		actions = append(actions, fmt.Sprintf("confirm the low-confidence value extracted for %q", name))
	}
	if len(d.Issues) > 0 {
		actions = append(actions, "review the flagged content issues")
	}
	if len(actions) == 0 {
		actions = append(actions, "confirm extracted data and approve or reject")
	}
	return actions
}
