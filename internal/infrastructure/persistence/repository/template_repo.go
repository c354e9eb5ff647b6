package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `
	id, name, field_definitions, confidence_threshold, version, active,
	created_at, updated_at`

// Create inserts a new template
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.Template) error {
	query := `
		INSERT INTO templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	fields, err := marshalJSON(tpl.FieldDefinitions)
	if err != nil {
		return err
	}

	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		tpl.ID,
		tpl.Name,
		fields,
		tpl.ConfidenceThreshold,
		tpl.Version,
		tpl.Active,
		tpl.CreatedAt,
		nullTime(tpl.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.Error(err), zap.String("id", tpl.ID))
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = ?`

	tpl, err := r.scanOne(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Error(err), zap.String("id", id))
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// Update persists the mutable fields of a template
func (r *TemplateRepository) Update(ctx context.Context, tpl *entity.Template) error {
	query := `
		UPDATE templates SET
			name = ?, field_definitions = ?, confidence_threshold = ?,
			version = ?, active = ?, updated_at = ?
		WHERE id = ?
	`

	fields, err := marshalJSON(tpl.FieldDefinitions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tpl.UpdatedAt = &now

	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		tpl.Name,
		fields,
		tpl.ConfidenceThreshold,
		tpl.Version,
		tpl.Active,
		nullTime(tpl.UpdatedAt),
		tpl.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update template", zap.Error(err), zap.String("id", tpl.ID))
		return fmt.Errorf("update template: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", tpl.ID, entity.ErrNotFound)
	}
	return nil
}

// List retrieves templates, optionally only active ones
func (r *TemplateRepository) List(ctx context.Context, activeOnly bool) ([]*entity.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.Template
	for rows.Next() {
		tpl, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (r *TemplateRepository) scanOne(row rowScanner) (*entity.Template, error) {
	var tpl entity.Template
	var fields string
	var updatedAt sql.NullTime

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&fields,
		&tpl.ConfidenceThreshold,
		&tpl.Version,
		&tpl.Active,
		&tpl.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tpl.UpdatedAt = timePtr(updatedAt)
	if err := unmarshalJSON(fields, &tpl.FieldDefinitions); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
