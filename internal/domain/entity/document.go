package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document status constants. Transitions between them are governed by the
// workflow package; nothing else mutates Status directly.
const (
	DocumentStatusPending        = "pending"
	DocumentStatusProcessing     = "processing"
	DocumentStatusOCRCompleted   = "ocr_completed"
	DocumentStatusPassed         = "passed"
	DocumentStatusFailed         = "failed"
	DocumentStatusReviewRequired = "review_required"
	DocumentStatusArchived       = "archived"
)

// Processing history event names
const (
	EventStatusChanged = "status_changed"
	EventOCRCompleted  = "ocr_completed"
	EventError         = "error"
)

// OcrBlock is a rectangle of recognized text with a confidence score,
// normalized to [0,1] regardless of the engine's native scale.
type OcrBlock struct {
	Page       int         `json:"page"`
	BBox       BoundingBox `json:"bbox"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// ProcessingEvent is one entry of a document's append-only history
type ProcessingEvent struct {
	At       time.Time              `json:"at"`
	Event    string                 `json:"event"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Document is the aggregate root for one submitted file. Status and history
// are owned by the lifecycle state machine: status changes only append to
// ProcessingHistory, never rewrite it.
type Document struct {
	ID               string            `json:"id"`
	TemplateID       string            `json:"template_id,omitempty"`
	Filename         string            `json:"filename"`
	OriginalFilename string            `json:"original_filename"`
	ContentType      string            `json:"content_type"`
	FileSize         int64             `json:"file_size"`
	FileHash         string            `json:"file_hash"`
	StoragePath      string            `json:"storage_path"`
	Status           string            `json:"status"`
	OCRText          string            `json:"ocr_text,omitempty"`
	OCRConfidence    float64           `json:"ocr_confidence"`
	OCRBlocks        []OcrBlock        `json:"ocr_blocks,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	ProcessingHistory []ProcessingEvent `json:"processing_history"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
}

// NewDocument creates a pending document with a generated ID
func NewDocument(originalFilename, contentType, fileHash, storagePath string, size int64) *Document {
	id := uuid.NewString()
	return &Document{
		ID:               id,
		Filename:         id + extOf(originalFilename),
		OriginalFilename: originalFilename,
		ContentType:      contentType,
		FileSize:         size,
		FileHash:         fileHash,
		StoragePath:      storagePath,
		Status:           DocumentStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
		if name[i] == '/' {
			break
		}
	}
	return ""
}

// AddProcessingEvent appends an event to the history and stamps UpdatedAt
func (d *Document) AddProcessingEvent(event string, metadata map[string]interface{}) {
	d.ProcessingHistory = append(d.ProcessingHistory, ProcessingEvent{
		At:       time.Now().UTC(),
		Event:    event,
		Metadata: metadata,
	})
	now := time.Now().UTC()
	d.UpdatedAt = &now
}

// recordStatusChange appends the status_changed history entry. Called by the
// workflow package through ApplyStatus; history length is monotonically
// non-decreasing over the document's lifetime.
func (d *Document) recordStatusChange(from, to string, metadata map[string]interface{}) {
	meta := map[string]interface{}{"from": from, "to": to}
	for k, v := range metadata {
		meta[k] = v
	}
	d.AddProcessingEvent(EventStatusChanged, meta)
}

// ApplyStatus sets the new status and records the change in history.
// Callers must have validated the transition against the lifecycle machine.
func (d *Document) ApplyStatus(newStatus string, metadata map[string]interface{}) {
	old := d.Status
	d.Status = newStatus
	d.recordStatusChange(old, newStatus, metadata)
}

// SetOCRResult stores the extraction output and records the block count
func (d *Document) SetOCRResult(text string, confidence float64, blocks []OcrBlock) {
	d.OCRText = text
	d.OCRConfidence = confidence
	d.OCRBlocks = blocks
	now := time.Now().UTC()
	d.ProcessedAt = &now
	d.AddProcessingEvent(EventOCRCompleted, map[string]interface{}{"blocks_count": len(blocks)})
}

// SetValidationResult attaches a verification attempt's outcome. A new
// attempt produces a new ValidationResult; existing ones are never mutated.
func (d *Document) SetValidationResult(result *ValidationResult) {
	d.ValidationResult = result
}

// RequiresHumanReview reports whether the document is waiting on a reviewer
func (d *Document) RequiresHumanReview() bool {
	return d.Status == DocumentStatusReviewRequired
}

// IsTerminal reports whether the document reached a settled status
func (d *Document) IsTerminal() bool {
	switch d.Status {
	case DocumentStatusPassed, DocumentStatusFailed, DocumentStatusReviewRequired, DocumentStatusArchived:
		return true
	}
	return false
}
