package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentUploaded       Type = "document.uploaded"
	TypeDocumentDuplicate      Type = "document.duplicate"
	TypeDocumentProcessed      Type = "document.processed"
	TypeDocumentArchived       Type = "document.archived"
	TypeVerificationCompleted  Type = "verification.completed"
	TypeManualReviewRequired   Type = "manual_review.required"
	TypeReviewDecisionRecorded Type = "review.decision_recorded"
	TypeTaskFailed             Type = "task.failed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentUploaded,
		TypeDocumentDuplicate,
		TypeDocumentProcessed,
		TypeDocumentArchived,
		TypeVerificationCompleted,
		TypeManualReviewRequired,
		TypeReviewDecisionRecorded,
		TypeTaskFailed:
		return true
	default:
		return false
	}
}
