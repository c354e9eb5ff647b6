package entity

import "time"

// Missing-field reasons
const (
	ReasonNotFound      = "not_found"
	ReasonLowConfidence = "low_confidence"
)

// MissingField describes one expected field the matcher could not satisfy
type MissingField struct {
	FieldName string      `json:"field_name"`
	BBox      BoundingBox `json:"bbox"`
	Reason    string      `json:"reason"`
}

// FieldResult is the matcher's per-field outcome for a field that was present
type FieldResult struct {
	Value      string      `json:"value"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// ValidationResult is the immutable outcome of one verification attempt.
// A reprocessed document gets a fresh ValidationResult; old ones are never
// mutated in place.
type ValidationResult struct {
	IsSuccess           bool                   `json:"is_success"`
	MissingFields       []MissingField         `json:"missing_fields,omitempty"`
	LowConfidenceFields []string               `json:"low_confidence_fields,omitempty"`
	PerFieldConfidence  map[string]float64     `json:"per_field_confidence,omitempty"`
	FieldResults        map[string]FieldResult `json:"field_results,omitempty"`
	ExtractedData       map[string]string      `json:"extracted_data,omitempty"`
	Timestamp           time.Time              `json:"timestamp"`
}

// HasAmbiguity reports whether any field was missing or below threshold.
// Ambiguous results route to human review rather than hard-failing.
func (v *ValidationResult) HasAmbiguity() bool {
	return len(v.MissingFields) > 0 || len(v.LowConfidenceFields) > 0
}
