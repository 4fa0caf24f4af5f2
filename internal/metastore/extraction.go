package metastore

import (
	"context"
	"fmt"
	"time"
)

// ExtractionResult is the success payload reported by the extractor
// subprocess for one document.
type ExtractionResult struct {
	WordCount  int64
	CharCount  int64
	TableCount int64
	ImageCount int64
}

// UpdateExtraction records a successful extraction, stamping extracted_at
// and the four count columns.
func (s *Store) UpdateExtraction(ctx context.Context, id string, result ExtractionResult, extractedAt time.Time) error {
	extractedAtStr := extractedAt.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			extracted_at = ?,
			word_count = ?,
			char_count = ?,
			table_count = ?,
			image_count = ?,
			extraction_error = NULL
		WHERE id = ?`,
		extractedAtStr, result.WordCount, result.CharCount, result.TableCount, result.ImageCount, id)
	if err != nil {
		return fmt.Errorf("update extraction for %s: %w", id, err)
	}
	return nil
}

// UpdateExtractionError records a per-document extraction failure. The row
// is never retried automatically: GetUnextracted excludes any row with a
// non-null extraction_error.
func (s *Store) UpdateExtractionError(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET extraction_error = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("update extraction error for %s: %w", id, err)
	}
	return nil
}

// ResetExtractionErrors clears extraction_error on every row that holds
// one, making those rows eligible for GetUnextracted again. This is the
// only code path that clears extraction_error; it exists solely as an
// operator-facing maintenance action, never invoked automatically.
func (s *Store) ResetExtractionErrors(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET extraction_error = NULL WHERE extraction_error IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("reset extraction errors: %w", err)
	}
	return res.RowsAffected()
}

// GetUnextracted returns up to limit rows with status = uploaded,
// extracted_at IS NULL, and extraction_error IS NULL, ordered by
// uploaded_at ascending.
func (s *Store) GetUnextracted(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM documents
		WHERE status = ? AND extracted_at IS NULL AND extraction_error IS NULL
		ORDER BY uploaded_at ASC
		LIMIT ?`, StatusUploaded, limit)
	if err != nil {
		return nil, fmt.Errorf("query unextracted documents: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExtractionCounts summarizes extraction progress.
type ExtractionCounts struct {
	Uploaded   int64
	Extracted  int64
	Errored    int64
	Unextracted int64
}

// ExtractionStats aggregates extraction progress across all uploaded rows.
func (s *Store) ExtractionStats(ctx context.Context) (ExtractionCounts, error) {
	var counts ExtractionCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN extracted_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN extraction_error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN extracted_at IS NULL AND extraction_error IS NULL THEN 1 ELSE 0 END), 0)
		FROM documents
		WHERE status = ?`, StatusUploaded).Scan(
		&counts.Uploaded, &counts.Extracted, &counts.Errored, &counts.Unextracted)
	if err != nil {
		return ExtractionCounts{}, fmt.Errorf("query extraction stats: %w", err)
	}
	return counts, nil
}
