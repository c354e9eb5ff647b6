package database

import (
	"fmt"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered, append-only schema history. New schema changes
// get a new version; applied entries are never edited.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "create_documents",
		SQL: `
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				template_id TEXT,
				filename TEXT NOT NULL,
				original_filename TEXT NOT NULL,
				content_type TEXT NOT NULL DEFAULT '',
				file_size INTEGER NOT NULL DEFAULT 0,
				file_hash TEXT NOT NULL,
				storage_path TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				ocr_text TEXT NOT NULL DEFAULT '',
				ocr_confidence REAL NOT NULL DEFAULT 0,
				ocr_blocks TEXT NOT NULL DEFAULT '',
				validation_result TEXT NOT NULL DEFAULT '',
				processing_history TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME,
				processed_at DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
			CREATE INDEX IF NOT EXISTS idx_documents_file_hash ON documents(file_hash);
			CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
		`,
	},
	{
		Version: 2,
		Name:    "create_templates",
		SQL: `
			CREATE TABLE IF NOT EXISTS templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				field_definitions TEXT NOT NULL DEFAULT '',
				confidence_threshold REAL NOT NULL DEFAULT 0.8,
				version TEXT NOT NULL DEFAULT '1.0.0',
				active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_templates_active ON templates(active);
		`,
	},
	{
		Version: 3,
		Name:    "create_verification_records",
		SQL: `
			CREATE TABLE IF NOT EXISTS verification_records (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				overall_confidence REAL NOT NULL DEFAULT 0,
				field_results TEXT NOT NULL DEFAULT '',
				extracted_data TEXT NOT NULL DEFAULT '',
				requires_manual_review INTEGER NOT NULL DEFAULT 0,
				review_status TEXT NOT NULL DEFAULT 'pending',
				assigned_to TEXT,
				assigned_at DATETIME,
				reviewed_by TEXT,
				reviewed_at DATETIME,
				manual_review_notes TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME,
				FOREIGN KEY (document_id) REFERENCES documents(id)
			);
			CREATE INDEX IF NOT EXISTS idx_verifications_document ON verification_records(document_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_verifications_review_queue ON verification_records(requires_manual_review, review_status, created_at);
			CREATE INDEX IF NOT EXISTS idx_verifications_assignee ON verification_records(assigned_to, review_status);
		`,
	},
	{
		Version: 4,
		Name:    "create_task_records",
		SQL: `
			CREATE TABLE IF NOT EXISTS task_records (
				task_id TEXT PRIMARY KEY,
				task_name TEXT NOT NULL,
				document_id TEXT,
				template_id TEXT,
				queue TEXT NOT NULL DEFAULT 'document_processing',
				status TEXT NOT NULL DEFAULT 'PENDING',
				progress REAL NOT NULL DEFAULT 0,
				result TEXT NOT NULL DEFAULT '',
				error_info TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				next_retry_at DATETIME,
				started_at DATETIME,
				completed_at DATETIME,
				execution_time_ms INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_tasks_claim ON task_records(queue, status, created_at);
			CREATE INDEX IF NOT EXISTS idx_tasks_document ON task_records(document_id);
		`,
	},
	{
		Version: 5,
		Name:    "create_webhooks",
		SQL: `
			CREATE TABLE IF NOT EXISTS webhook_endpoints (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL,
				event_types TEXT NOT NULL DEFAULT '',
				secret TEXT NOT NULL DEFAULT '',
				active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME
			);
			CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_url TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '',
				resource_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				response_status INTEGER NOT NULL DEFAULT 0,
				response_body TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				delivered_at DATETIME,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON webhook_deliveries(status, retry_count, created_at);
		`,
	},
	{
		Version: 6,
		Name:    "create_extracted_data",
		SQL: `
			CREATE TABLE IF NOT EXISTS extracted_data (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				template_id TEXT NOT NULL,
				document_id TEXT NOT NULL,
				data TEXT NOT NULL DEFAULT '',
				confidence REAL NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_extracted_template ON extracted_data(template_id, created_at);
		`,
	},
}

// Migrator handles database migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// createMigrationsTable creates the migrations tracking table
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.Exec(query)
	return err
}

// getAppliedMigrations returns the set of applied migration versions
func (m *Migrator) getAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// Run applies all pending migrations in order, each in its own transaction
func (m *Migrator) Run() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		m.logger.Info("Migration applied",
			zap.Int("version", migration.Version),
			zap.String("name", migration.Name))
	}
	return nil
}
