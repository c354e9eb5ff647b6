package port

import (
	"context"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

// OCRResult is the normalized output of an OCR engine. Regions carry
// confidences scaled to [0,1] regardless of the engine's native range.
type OCRResult struct {
	Text              string
	OverallConfidence float64
	Regions           []entity.OcrBlock
	Metadata          map[string]interface{}
}

// OCREngine defines the black-box text extractor. Implementations must
// support single images and multi-page documents.
type OCREngine interface {
	Extract(ctx context.Context, filePath string) (*OCRResult, error)
}

// TemplateRules is the template context handed to the content validator
type TemplateRules struct {
	TemplateName   string   `json:"template_name"`
	ExpectedFields []string `json:"expected_fields"`
	RequiredFields []string `json:"required_fields"`
}

// ContentReview is the structured verdict of the LLM content check
type ContentReview struct {
	IsValid         bool              `json:"is_valid"`
	Confidence      float64           `json:"confidence"`
	Issues          []string          `json:"issues,omitempty"`
	ExtractedFields map[string]string `json:"extracted_fields,omitempty"`
}

// ContentValidator defines the advisory LLM content check. Callers treat
// failures as soft: the decision engine substitutes its configured fallback
// rather than blocking the pipeline.
type ContentValidator interface {
	ValidateContent(ctx context.Context, ocrText string, rules TemplateRules) (*ContentReview, error)
}

// DataSink receives extracted data for documents that passed verification.
// Invoked only on the passed transition.
type DataSink interface {
	StoreExtractedData(ctx context.Context, templateID, documentID string, data map[string]string, confidence float64) error
}
