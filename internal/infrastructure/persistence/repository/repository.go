// Package repository holds the SQLite implementations of the persistence
// ports. Nested structures (histories, field results, block lists) are stored
// as JSON columns; everything queried on is a real column.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaiwen/docverify/internal/infrastructure/persistence/sqlite"
)

// executorFor returns the open transaction from context, or the database
func executorFor(ctx context.Context, db *sql.DB) sqlite.Executor {
	if tx := sqlite.ExtractTx(ctx); tx != nil {
		return tx
	}
	return db
}

// marshalJSON serializes v for a JSON column, mapping nil to the empty object
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a JSON column into out, treating empty as unset
func unmarshalJSON(data string, out interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// nullTime converts an optional time for storage
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a stored nullable time back to an optional
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullString converts an optional string for storage
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
