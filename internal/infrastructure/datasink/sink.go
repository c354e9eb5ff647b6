// Package datasink receives extracted data from documents that passed
// verification. Rows are persisted per template and can be exported as an
// Excel workbook for downstream consumers.
package datasink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
)

// Sink implements port.DataSink backed by the extracted_data table
type Sink struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSink creates a new data sink
func NewSink(db *sql.DB, logger *zap.Logger) *Sink {
	return &Sink{
		db:     db,
		logger: logger,
	}
}

// Row is one stored extraction
type Row struct {
	DocumentID string
	Data       map[string]string
	Confidence float64
	CreatedAt  time.Time
}

// StoreExtractedData persists one document's extracted field values
func (s *Sink) StoreExtractedData(ctx context.Context, templateID, documentID string, data map[string]string, confidence float64) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal extracted data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extracted_data (template_id, document_id, data, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		templateID, documentID, string(payload), confidence, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("Failed to store extracted data",
			zap.Error(err),
			zap.String("document_id", documentID))
		return fmt.Errorf("store extracted data: %w", err)
	}

	s.logger.Info("Extracted data stored",
		zap.String("template_id", templateID),
		zap.String("document_id", documentID),
		zap.Int("fields", len(data)))
	return nil
}

// ListByTemplate returns stored rows for a template, newest first
func (s *Sink) ListByTemplate(ctx context.Context, templateID string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, data, confidence, created_at
		FROM extracted_data
		WHERE template_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		templateID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list extracted data: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var payload string
		if err := rows.Scan(&row.DocumentID, &payload, &row.Confidence, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extracted data: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &row.Data); err != nil {
			return nil, fmt.Errorf("unmarshal extracted data: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ExportXLSX renders the stored rows for a template as an Excel workbook.
// Columns are the union of field names across rows, in stable order.
func (s *Sink) ExportXLSX(ctx context.Context, templateID string) ([]byte, error) {
	rows, err := s.ListByTemplate(ctx, templateID, 0)
	if err != nil {
		return nil, err
	}

	fieldSet := make(map[string]bool)
	for _, row := range rows {
		for name := range row.Data {
			fieldSet[name] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	header := append([]string{"document_id", "confidence", "extracted_at"}, fields...)
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for i, row := range rows {
		values := []interface{}{row.DocumentID, row.Confidence, row.CreatedAt.Format(time.RFC3339)}
		for _, name := range fields {
			values = append(values, row.Data[name])
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("write row %d: %w", i+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}

	s.logger.Info("Extracted data exported",
		zap.String("template_id", templateID),
		zap.Int("rows", len(rows)))
	return buf.Bytes(), nil
}

// Verify interface compliance
var _ port.DataSink = (*Sink)(nil)
