package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status values a document row may hold.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusValidating  = "validating"
	StatusUploaded    = "uploaded"
	StatusFailed      = "failed"
)

const timeLayout = time.RFC3339Nano

// Row is one documents table record.
type Row struct {
	ID                string
	SourceURL         string
	CrawlID           string
	OriginalFilename  string
	FileSizeBytes     int64
	Status            string
	ErrorMessage      string
	IsValidDocx       *bool
	DiscoveredAt      *time.Time
	DownloadedAt      *time.Time
	UploadedAt        *time.Time
	ExtractedAt       *time.Time
	WordCount         int64
	CharCount         int64
	TableCount        int64
	ImageCount        int64
	ExtractionError   string
}

// UpsertParams is a sparse update: nil fields leave the existing column
// value untouched on conflict. ID and SourceURL are always applied (the
// row must have a source_url on first insert).
type UpsertParams struct {
	ID               string
	SourceURL        string
	CrawlID          *string
	OriginalFilename *string
	FileSizeBytes    *int64
	Status           *string
	ErrorMessage     *string
	IsValidDocx      *bool
	DiscoveredAt     *time.Time
	DownloadedAt     *time.Time
	UploadedAt       *time.Time
	ExtractedAt      *time.Time
	WordCount        *int64
	CharCount        *int64
	TableCount       *int64
	ImageCount       *int64
	ExtractionError  *string
}

// Upsert inserts the row by id, or, if it already exists, applies only the
// supplied columns. Atomic: a single statement under SQLite's database-level
// write lock.
func (s *Store) Upsert(ctx context.Context, p UpsertParams) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
		 (id, source_url, crawl_id, original_filename, file_size_bytes, status,
		  error_message, is_valid_docx, discovered_at, downloaded_at, uploaded_at,
		  extracted_at, word_count, char_count, table_count, image_count, extraction_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  source_url = excluded.source_url,
		  crawl_id = COALESCE(excluded.crawl_id, crawl_id),
		  original_filename = COALESCE(excluded.original_filename, original_filename),
		  file_size_bytes = COALESCE(excluded.file_size_bytes, file_size_bytes),
		  status = COALESCE(excluded.status, status),
		  error_message = COALESCE(excluded.error_message, error_message),
		  is_valid_docx = COALESCE(excluded.is_valid_docx, is_valid_docx),
		  discovered_at = COALESCE(excluded.discovered_at, discovered_at),
		  downloaded_at = COALESCE(excluded.downloaded_at, downloaded_at),
		  uploaded_at = COALESCE(excluded.uploaded_at, uploaded_at),
		  extracted_at = COALESCE(excluded.extracted_at, extracted_at),
		  word_count = COALESCE(excluded.word_count, word_count),
		  char_count = COALESCE(excluded.char_count, char_count),
		  table_count = COALESCE(excluded.table_count, table_count),
		  image_count = COALESCE(excluded.image_count, image_count),
		  extraction_error = COALESCE(excluded.extraction_error, extraction_error)`,
		p.ID, p.SourceURL, nullString(p.CrawlID), nullString(p.OriginalFilename),
		nullInt64(p.FileSizeBytes), nullString(p.Status), nullString(p.ErrorMessage),
		nullBool(p.IsValidDocx), nullTime(p.DiscoveredAt), nullTime(p.DownloadedAt),
		nullTime(p.UploadedAt), nullTime(p.ExtractedAt), nullInt64(p.WordCount),
		nullInt64(p.CharCount), nullInt64(p.TableCount), nullInt64(p.ImageCount),
		nullString(p.ExtractionError),
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", p.ID, err)
	}
	return nil
}

const selectColumns = `id, source_url, crawl_id, original_filename, file_size_bytes, status,
	error_message, is_valid_docx, discovered_at, downloaded_at, uploaded_at,
	extracted_at, word_count, char_count, table_count, image_count, extraction_error`

// Get returns the row with the given id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE id = ?`, id)
	return scanRow(row)
}

// GetByURL returns the row with the given source_url, or nil if none
// exists. Callers may observe more than one row race to the same URL
// across workers; this returns whichever committed first.
func (s *Store) GetByURL(ctx context.Context, sourceURL string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM documents WHERE source_url = ? LIMIT 1`, sourceURL)
	return scanRow(row)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row *sql.Row) (*Row, error) {
	r, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document row: %w", err)
	}
	return &r, nil
}

func scanRows(rows *sql.Rows) (Row, error) {
	return scanInto(rows)
}

func scanInto(scanner rowScanner) (Row, error) {
	var r Row
	var crawlID, originalFilename, errorMessage, extractionError sql.NullString
	var fileSizeBytes, wordCount, charCount, tableCount, imageCount sql.NullInt64
	var isValidDocx sql.NullBool
	var discoveredAt, downloadedAt, uploadedAt, extractedAt sql.NullString

	err := scanner.Scan(
		&r.ID, &r.SourceURL, &crawlID, &originalFilename, &fileSizeBytes, &r.Status,
		&errorMessage, &isValidDocx, &discoveredAt, &downloadedAt, &uploadedAt,
		&extractedAt, &wordCount, &charCount, &tableCount, &imageCount, &extractionError,
	)
	if err != nil {
		return Row{}, err
	}

	r.CrawlID = crawlID.String
	r.OriginalFilename = originalFilename.String
	r.ErrorMessage = errorMessage.String
	r.ExtractionError = extractionError.String
	r.FileSizeBytes = fileSizeBytes.Int64
	r.WordCount = wordCount.Int64
	r.CharCount = charCount.Int64
	r.TableCount = tableCount.Int64
	r.ImageCount = imageCount.Int64
	if isValidDocx.Valid {
		v := isValidDocx.Bool
		r.IsValidDocx = &v
	}
	if t, err := parseOptionalTime(discoveredAt); err != nil {
		return Row{}, err
	} else {
		r.DiscoveredAt = t
	}
	if t, err := parseOptionalTime(downloadedAt); err != nil {
		return Row{}, err
	} else {
		r.DownloadedAt = t
	}
	if t, err := parseOptionalTime(uploadedAt); err != nil {
		return Row{}, err
	} else {
		r.UploadedAt = t
	}
	if t, err := parseOptionalTime(extractedAt); err != nil {
		return Row{}, err
	} else {
		r.ExtractedAt = t
	}

	return r, nil
}

// UploadedURLSet returns every source_url with status = uploaded, for the
// in-memory fast-dedup path loaded once at the start of a crawl.
func (s *Store) UploadedURLSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_url FROM documents WHERE status = ?`, StatusUploaded)
	if err != nil {
		return nil, fmt.Errorf("query uploaded urls: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan uploaded url: %w", err)
		}
		set[u] = struct{}{}
	}
	return set, rows.Err()
}

// UploadedIDs returns every id with status = uploaded, ASCII-sorted, for
// manifest generation.
func (s *Store) UploadedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE status = ? ORDER BY id ASC`, StatusUploaded)
	if err != nil {
		return nil, fmt.Errorf("query uploaded ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan uploaded id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusCounts maps a status value to the number of rows holding it.
type StatusCounts map[string]int64

// StatsByStatus aggregates document counts by status.
func (s *Store) StatsByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func parseOptionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(timeLayout)
}
