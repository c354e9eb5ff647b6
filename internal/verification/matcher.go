// Package verification holds the pure decision logic of the pipeline: the
// field matcher comparing extracted data against a template, and the decision
// engine combining matcher, OCR and content-review outcomes into a single
// classification.
package verification

import (
	"time"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

// ExtractedField is one (value, confidence, position) tuple pulled out of the
// OCR/LLM extraction for a named field.
type ExtractedField struct {
	Value      string
	Confidence float64
	BBox       entity.BoundingBox
}

// MatchFields compares a template's expected field list against the extracted
// set. For each expected field: absent → missing (not_found); present but
// below the effective threshold → low_confidence; otherwise matched. A field
// that is absent is always reported missing, regardless of the required flag.
// Pure function: no side effects on either input.
func MatchFields(tpl *entity.Template, extracted map[string]ExtractedField) *entity.ValidationResult {
	result := &entity.ValidationResult{
		PerFieldConfidence: make(map[string]float64),
		FieldResults:       make(map[string]entity.FieldResult),
		ExtractedData:      make(map[string]string),
		Timestamp:          time.Now().UTC(),
	}

	for _, def := range tpl.FieldDefinitions {
		got, ok := extracted[def.Name]
		if !ok {
			result.MissingFields = append(result.MissingFields, entity.MissingField{
				FieldName: def.Name,
				BBox:      def.BBox,
				Reason:    entity.ReasonNotFound,
			})
			continue
		}

		result.PerFieldConfidence[def.Name] = got.Confidence
		result.ExtractedData[def.Name] = got.Value
		result.FieldResults[def.Name] = entity.FieldResult{
			Value:      got.Value,
			Confidence: got.Confidence,
			BBox:       got.BBox,
		}

		if got.Confidence < tpl.EffectiveThreshold(def) {
			result.LowConfidenceFields = append(result.LowConfidenceFields, def.Name)
		}
	}

	result.IsSuccess = len(result.MissingFields) == 0 && len(result.LowConfidenceFields) == 0
	return result
}
