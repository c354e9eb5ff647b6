package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

const validTemplateJSON = `{
  "name": "standard-invoice",
  "confidence_threshold": 0.7,
  "field_definitions": [
    {"name": "invoice_number", "required": true, "bbox": {"x1": 0.1, "y1": 0.05, "x2": 0.4, "y2": 0.1}},
    {"name": "total_amount", "required": true, "bbox": {"x1": 0.6, "y1": 0.8, "x2": 0.9, "y2": 0.85}}
  ]
}`

func TestTemplateService_CreateFromJSON(t *testing.T) {
	var created *entity.Template
	repo := &mockTemplateRepo{
		createFunc: func(ctx context.Context, tpl *entity.Template) error {
			created = tpl
			return nil
		},
	}
	svc := NewTemplateService(repo, &mockLogger{})

	tpl, err := svc.CreateFromJSON(context.Background(), []byte(validTemplateJSON))
	if err != nil {
		t.Fatalf("CreateFromJSON() error = %v", err)
	}

	if created == nil {
		t.Fatal("template not persisted")
	}
	if tpl.Name != "standard-invoice" {
		t.Errorf("Name = %q", tpl.Name)
	}
	if tpl.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v", tpl.ConfidenceThreshold)
	}
	if tpl.Version != "1.0.0" {
		t.Errorf("Version = %q, want default 1.0.0", tpl.Version)
	}
	if !tpl.Active {
		t.Error("new template should be active")
	}
	if len(tpl.FieldDefinitions) != 2 {
		t.Fatalf("fields = %d, want 2", len(tpl.FieldDefinitions))
	}
	if !tpl.FieldDefinitions[0].Required {
		t.Error("invoice_number should be required")
	}
}

func TestTemplateService_CreateFromJSON_SchemaRejections(t *testing.T) {
	svc := NewTemplateService(&mockTemplateRepo{}, &mockLogger{})

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed JSON", `{"name": `},
		{"missing name", `{"confidence_threshold": 0.7, "field_definitions": []}`},
		{"threshold above one", `{"name": "t", "confidence_threshold": 1.5, "field_definitions": []}`},
		{"field without bbox", `{"name": "t", "confidence_threshold": 0.7, "field_definitions": [{"name": "f"}]}`},
		{"bbox missing coordinate", `{"name": "t", "confidence_threshold": 0.7, "field_definitions": [{"name": "f", "bbox": {"x1": 0, "y1": 0, "x2": 1}}]}`},
		{"duplicate field names", `{"name": "t", "confidence_threshold": 0.7, "field_definitions": [
			{"name": "f", "bbox": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}},
			{"name": "f", "bbox": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}}
		]}`},
		{"inverted bbox", `{"name": "t", "confidence_threshold": 0.7, "field_definitions": [
			{"name": "f", "bbox": {"x1": 0.9, "y1": 0, "x2": 0.1, "y2": 1}}
		]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateFromJSON(context.Background(), []byte(tt.raw))
			if !errors.Is(err, entity.ErrValidation) {
				t.Errorf("CreateFromJSON() error = %v, want %v", err, entity.ErrValidation)
			}
		})
	}
}

func TestTemplateService_CreateFromJSON_ExplicitVersion(t *testing.T) {
	svc := NewTemplateService(&mockTemplateRepo{}, &mockLogger{})

	raw := `{"name": "t", "confidence_threshold": 0.7, "version": "2.1.0", "field_definitions": []}`
	tpl, err := svc.CreateFromJSON(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("CreateFromJSON() error = %v", err)
	}
	if tpl.Version != "2.1.0" {
		t.Errorf("Version = %q, want 2.1.0", tpl.Version)
	}
}

func TestTemplateService_AddField(t *testing.T) {
	tpl := entity.NewTemplate("standard-invoice", 0.7)
	if _, err := tpl.AddField("invoice_number", entity.BoundingBox{X1: 0.1, Y1: 0.05, X2: 0.4, Y2: 0.1}, true); err != nil {
		t.Fatalf("seed field: %v", err)
	}

	var updated *entity.Template
	repo := &mockTemplateRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.Template, error) {
			return tpl, nil
		},
		updateFunc: func(ctx context.Context, t *entity.Template) error {
			updated = t
			return nil
		},
	}
	svc := NewTemplateService(repo, &mockLogger{})

	got, err := svc.AddField(context.Background(), tpl.ID, "vendor_name", entity.BoundingBox{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 0.25}, false)
	if err != nil {
		t.Fatalf("AddField() error = %v", err)
	}

	if len(got.FieldDefinitions) != 2 {
		t.Errorf("fields = %d, want 2", len(got.FieldDefinitions))
	}
	if got.Version != "1.1.0" {
		t.Errorf("Version = %q, want minor bump to 1.1.0", got.Version)
	}
	if updated == nil {
		t.Error("Update() not called")
	}
}

func TestTemplateService_AddField_DuplicateName(t *testing.T) {
	tpl := entity.NewTemplate("standard-invoice", 0.7)
	if _, err := tpl.AddField("invoice_number", entity.BoundingBox{X1: 0.1, Y1: 0.05, X2: 0.4, Y2: 0.1}, true); err != nil {
		t.Fatalf("seed field: %v", err)
	}

	repo := &mockTemplateRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.Template, error) {
			return tpl, nil
		},
	}
	svc := NewTemplateService(repo, &mockLogger{})

	_, err := svc.AddField(context.Background(), tpl.ID, "invoice_number", entity.BoundingBox{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 0.25}, false)
	if !errors.Is(err, entity.ErrValidation) {
		t.Errorf("AddField() error = %v, want %v", err, entity.ErrValidation)
	}
}

func TestTemplateService_Deactivate(t *testing.T) {
	tpl := entity.NewTemplate("standard-invoice", 0.7)

	var updated *entity.Template
	repo := &mockTemplateRepo{
		getByIDFunc: func(ctx context.Context, id string) (*entity.Template, error) {
			return tpl, nil
		},
		updateFunc: func(ctx context.Context, t *entity.Template) error {
			updated = t
			return nil
		},
	}
	svc := NewTemplateService(repo, &mockLogger{})

	if err := svc.Deactivate(context.Background(), tpl.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if updated == nil || updated.Active {
		t.Error("template should be persisted inactive")
	}
}

func TestTemplateService_Deactivate_NotFound(t *testing.T) {
	svc := NewTemplateService(&mockTemplateRepo{}, &mockLogger{})

	err := svc.Deactivate(context.Background(), "missing")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Deactivate() error = %v, want %v", err, entity.ErrNotFound)
	}
}
