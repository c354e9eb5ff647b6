package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a rectangle in page coordinates. Invariant: x1 < x2 and y1 < y2.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Validate checks the coordinate invariant
func (b BoundingBox) Validate() error {
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return fmt.Errorf("%w: bounding box (%.1f,%.1f)-(%.1f,%.1f)", ErrValidation, b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// Width returns the horizontal extent of the box
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// FieldDefinition is a named, positioned expected datum on a template.
// ConfidenceThreshold, when non-nil, overrides the template's global threshold.
type FieldDefinition struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	BBox                BoundingBox `json:"bbox"`
	Required            bool        `json:"required"`
	ConfidenceThreshold *float64    `json:"confidence_threshold,omitempty"`
}

// Template is the contract the field matcher checks extracted data against.
// Once referenced by a completed verification record a template may only grow:
// new field definitions appended and the version bumped, never fields removed.
type Template struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	FieldDefinitions    []FieldDefinition `json:"field_definitions"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	Version             string            `json:"version"`
	Active              bool              `json:"active"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           *time.Time        `json:"updated_at,omitempty"`
}

// NewTemplate creates a template with a generated ID and defaults
func NewTemplate(name string, globalThreshold float64) *Template {
	return &Template{
		ID:                  uuid.NewString(),
		Name:                name,
		ConfidenceThreshold: globalThreshold,
		Version:             "1.0.0",
		Active:              true,
		CreatedAt:           time.Now().UTC(),
	}
}

// AddField appends a new field definition and stamps the update time
func (t *Template) AddField(name string, bbox BoundingBox, required bool) (*FieldDefinition, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	field := FieldDefinition{
		ID:       uuid.NewString(),
		Name:     name,
		BBox:     bbox,
		Required: required,
	}
	t.FieldDefinitions = append(t.FieldDefinitions, field)
	now := time.Now().UTC()
	t.UpdatedAt = &now
	return &t.FieldDefinitions[len(t.FieldDefinitions)-1], nil
}

// EffectiveThreshold returns the field-level threshold override if present,
// otherwise the template's global threshold.
func (t *Template) EffectiveThreshold(field FieldDefinition) float64 {
	if field.ConfidenceThreshold != nil {
		return *field.ConfidenceThreshold
	}
	return t.ConfidenceThreshold
}

// RequiredFields returns the subset of fields flagged required
func (t *Template) RequiredFields() []FieldDefinition {
	var required []FieldDefinition
	for _, f := range t.FieldDefinitions {
		if f.Required {
			required = append(required, f)
		}
	}
	return required
}

// Validate checks structural validity of the template definition
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0,1], got %.2f", ErrValidation, t.ConfidenceThreshold)
	}
	seen := make(map[string]bool, len(t.FieldDefinitions))
	for _, f := range t.FieldDefinitions {
		if f.Name == "" {
			return fmt.Errorf("%w: field name is required", ErrValidation)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field name %q", ErrValidation, f.Name)
		}
		seen[f.Name] = true
		if err := f.BBox.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.ConfidenceThreshold != nil && (*f.ConfidenceThreshold < 0 || *f.ConfidenceThreshold > 1) {
			return fmt.Errorf("%w: field %q threshold must be in [0,1]", ErrValidation, f.Name)
		}
	}
	return nil
}
