package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the current documents-table schema generation.
const SchemaVersion = 2

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			crawl_id TEXT,
			original_filename TEXT,
			file_size_bytes INTEGER,
			status TEXT NOT NULL,
			error_message TEXT,
			is_valid_docx INTEGER,
			discovered_at TEXT,
			downloaded_at TEXT,
			uploaded_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_source_url ON documents(source_url);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: extraction extensions used by the extract orchestrator (C9).
	if current < 2 {
		alters := []string{
			`ALTER TABLE documents ADD COLUMN extracted_at TEXT;`,
			`ALTER TABLE documents ADD COLUMN word_count INTEGER;`,
			`ALTER TABLE documents ADD COLUMN char_count INTEGER;`,
			`ALTER TABLE documents ADD COLUMN table_count INTEGER;`,
			`ALTER TABLE documents ADD COLUMN image_count INTEGER;`,
			`ALTER TABLE documents ADD COLUMN extraction_error TEXT;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS idx_documents_unextracted
			 ON documents(uploaded_at) WHERE status = 'uploaded' AND extracted_at IS NULL AND extraction_error IS NULL`,
		); err != nil {
			return fmt.Errorf("create unextracted index: %w", err)
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	return tx.Commit()
}
