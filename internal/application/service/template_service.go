package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// templateSchema is the JSON Schema applied to template definitions before
// they are unmarshalled. Structural checks the entity layer cannot express
// cheaply (types, required keys, coordinate ranges) live here.
const templateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "confidence_threshold", "field_definitions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
    "version": {"type": "string"},
    "field_definitions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "bbox"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "required": {"type": "boolean"},
          "confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
          "bbox": {
            "type": "object",
            "required": ["x1", "y1", "x2", "y2"],
            "properties": {
              "x1": {"type": "number"},
              "y1": {"type": "number"},
              "x2": {"type": "number"},
              "y2": {"type": "number"}
            }
          }
        }
      }
    }
  }
}`

// templateDefinition is the external JSON shape accepted on create
type templateDefinition struct {
	Name                string                   `json:"name"`
	ConfidenceThreshold float64                  `json:"confidence_threshold"`
	Version             string                   `json:"version,omitempty"`
	FieldDefinitions    []entity.FieldDefinition `json:"field_definitions"`
}

// TemplateService manages verification templates. Templates referenced by
// completed verifications only grow; fields are never removed.
type TemplateService interface {
	// CreateFromJSON validates a raw template definition against the schema
	// and persists it
	CreateFromJSON(ctx context.Context, raw []byte) (*entity.Template, error)

	// Get returns one template
	Get(ctx context.Context, id string) (*entity.Template, error)

	// List returns templates, optionally only active ones
	List(ctx context.Context, activeOnly bool) ([]*entity.Template, error)

	// AddField appends a field definition and bumps the version
	AddField(ctx context.Context, templateID, name string, bbox entity.BoundingBox, required bool) (*entity.Template, error)

	// Deactivate removes a template from matching without deleting it
	Deactivate(ctx context.Context, id string) error
}

type templateServiceImpl struct {
	templateRepo port.TemplateRepository
	schema       *jsonschema.Schema
	logger       Logger
}

// NewTemplateService creates a new TemplateService. Panics if the embedded
// schema does not compile; that is a programming error caught at startup.
func NewTemplateService(templateRepo port.TemplateRepository, logger Logger) TemplateService {
	schema := jsonschema.MustCompileString("template.json", templateSchema)
	return &templateServiceImpl{
		templateRepo: templateRepo,
		schema:       schema,
		logger:       logger,
	}
}

// CreateFromJSON validates and persists a template definition
func (s *templateServiceImpl) CreateFromJSON(ctx context.Context, raw []byte) (*entity.Template, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: malformed template JSON: %v", entity.ErrValidation, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrValidation, err)
	}

	var def templateDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrValidation, err)
	}

	tpl := entity.NewTemplate(def.Name, def.ConfidenceThreshold)
	if def.Version != "" {
		tpl.Version = def.Version
	}
	for _, f := range def.FieldDefinitions {
		field, err := tpl.AddField(f.Name, f.BBox, f.Required)
		if err != nil {
			return nil, err
		}
		field.ConfidenceThreshold = f.ConfidenceThreshold
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	if err := s.templateRepo.Create(ctx, tpl); err != nil {
		s.logger.Error("Failed to create template", "error", err, "name", tpl.Name)
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.logger.Info("Template created", "template_id", tpl.ID, "name", tpl.Name, "fields", len(tpl.FieldDefinitions))
	return tpl, nil
}

// Get returns one template
func (s *templateServiceImpl) Get(ctx context.Context, id string) (*entity.Template, error) {
	return s.templateRepo.GetByID(ctx, id)
}

// List returns templates, optionally only active ones
func (s *templateServiceImpl) List(ctx context.Context, activeOnly bool) ([]*entity.Template, error) {
	return s.templateRepo.List(ctx, activeOnly)
}

// AddField appends a field definition and bumps the version
func (s *templateServiceImpl) AddField(ctx context.Context, templateID, name string, bbox entity.BoundingBox, required bool) (*entity.Template, error) {
	tpl, err := s.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", templateID, err)
	}

	if _, err := tpl.AddField(name, bbox, required); err != nil {
		return nil, err
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	tpl.Version = bumpVersion(tpl.Version)

	if err := s.templateRepo.Update(ctx, tpl); err != nil {
		return nil, fmt.Errorf("update template %s: %w", templateID, err)
	}

	s.logger.Info("Template field added", "template_id", templateID, "field", name, "version", tpl.Version)
	return tpl, nil
}

// Deactivate removes a template from matching without deleting it
func (s *templateServiceImpl) Deactivate(ctx context.Context, id string) error {
	tpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get template %s: %w", id, err)
	}
	tpl.Active = false
	if err := s.templateRepo.Update(ctx, tpl); err != nil {
		return fmt.Errorf("update template %s: %w", id, err)
	}
	s.logger.Info("Template deactivated", "template_id", id)
	return nil
}

// bumpVersion increments the minor component of a semver-ish string
func bumpVersion(v string) string {
	var major, minor, patch int
	if _, err := fmt.Sscanf(v, "%d.%d.%d", &major, &minor, &patch); err != nil {
		return v
	}
	return fmt.Sprintf("%d.%d.%d", major, minor+1, 0)
}
