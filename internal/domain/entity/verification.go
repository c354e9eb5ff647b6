package entity

import (
	"time"

	"github.com/google/uuid"
)

// Verification status constants
const (
	VerificationStatusPending      = "pending"
	VerificationStatusPass         = "pass"
	VerificationStatusFail         = "fail"
	VerificationStatusManualReview = "manual_review"
)

// Review status constants
const (
	ReviewStatusPending    = "pending"
	ReviewStatusAssigned   = "assigned"
	ReviewStatusInProgress = "in_progress"
	ReviewStatusCompleted  = "completed"
	ReviewStatusCancelled  = "cancelled"
)

// Reviewer decisions
const (
	DecisionApprove          = "approve"
	DecisionReject           = "reject"
	DecisionRequestReprocess = "request_reprocess"
)

// Review priorities, derived from overall confidence
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// VerificationRecord captures one verification attempt for a document.
// The decision engine writes the initial classification; the review queue
// writes the human decision. No other writers, and writes are serialized
// per record.
type VerificationRecord struct {
	ID                    string                 `json:"id"`
	DocumentID            string                 `json:"document_id"`
	TemplateID            string                 `json:"template_id"`
	Status                string                 `json:"status"`
	OverallConfidence     float64                `json:"overall_confidence"`
	FieldResults          map[string]FieldResult `json:"field_results,omitempty"`
	ExtractedData         map[string]string      `json:"extracted_data,omitempty"`
	RequiresManualReview  bool                   `json:"requires_manual_review"`
	ReviewStatus          string                 `json:"review_status"`
	AssignedTo            string                 `json:"assigned_to,omitempty"`
	AssignedAt            *time.Time             `json:"assigned_at,omitempty"`
	ReviewedBy            string                 `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time             `json:"reviewed_at,omitempty"`
	ManualReviewNotes     string                 `json:"manual_review_notes,omitempty"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             *time.Time             `json:"updated_at,omitempty"`
}

// NewVerificationRecord creates a pending record for one attempt
func NewVerificationRecord(documentID, templateID string) *VerificationRecord {
	return &VerificationRecord{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		TemplateID:   templateID,
		Status:       VerificationStatusPending,
		ReviewStatus: ReviewStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

// Priority derives the review priority from overall confidence:
// below 0.3 high, below 0.7 medium, otherwise low.
func (v *VerificationRecord) Priority() string {
	switch {
	case v.OverallConfidence < 0.3:
		return PriorityHigh
	case v.OverallConfidence < 0.7:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// EstimatedReviewMinutes estimates reviewer effort: 5 minutes base, more for
// low confidence, plus one minute per matched field.
func (v *VerificationRecord) EstimatedReviewMinutes() int {
	minutes := 5
	switch {
	case v.OverallConfidence < 0.3:
		minutes += 10
	case v.OverallConfidence < 0.5:
		minutes += 5
	}
	return minutes + len(v.FieldResults)
}

// IsReviewed reports whether a terminal reviewer decision has been recorded
func (v *VerificationRecord) IsReviewed() bool {
	return v.ReviewedAt != nil
}

// ValidDecision reports whether the decision value is one of the accepted set
func ValidDecision(decision string) bool {
	switch decision {
	case DecisionApprove, DecisionReject, DecisionRequestReprocess:
		return true
	}
	return false
}

// Reviewer workload classification thresholds
const (
	workloadModerateAt = 10
	workloadHeavyAt    = 25
)

// ClassifyWorkload buckets a reviewer's open item count into light, moderate
// or heavy.
func ClassifyWorkload(openItems int) string {
	switch {
	case openItems > workloadHeavyAt:
		return "heavy"
	case openItems >= workloadModerateAt:
		return "moderate"
	default:
		return "light"
	}
}
