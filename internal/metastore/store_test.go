package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.db")
	store, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertInsertsNewRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	status := StatusPending
	require.NoError(t, store.Upsert(ctx, UpsertParams{
		ID:        "failed-abc",
		SourceURL: "https://example.com/a.docx",
		Status:    &status,
	}))

	row, err := store.Get(ctx, "failed-abc")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "https://example.com/a.docx", row.SourceURL)
	assert.Equal(t, StatusPending, row.Status)
}

func TestUpsertIsSparseOnConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pending := StatusPending
	require.NoError(t, store.Upsert(ctx, UpsertParams{
		ID:        "doc-1",
		SourceURL: "https://example.com/a.docx",
		Status:    &pending,
	}))

	uploaded := StatusUploaded
	uploadedAt := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, UpsertParams{
		ID:         "doc-1",
		SourceURL:  "https://example.com/a.docx",
		Status:     &uploaded,
		UploadedAt: &uploadedAt,
	}))

	row, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, StatusUploaded, row.Status)
	require.NotNil(t, row.UploadedAt)
	assert.WithinDuration(t, uploadedAt, *row.UploadedAt, time.Second)

	// A later sparse update that only touches error_message must not
	// clobber status or uploaded_at.
	errMsg := "transient glitch"
	require.NoError(t, store.Upsert(ctx, UpsertParams{
		ID:           "doc-1",
		SourceURL:    "https://example.com/a.docx",
		ErrorMessage: &errMsg,
	}))

	row, err = store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, row.Status)
	assert.Equal(t, errMsg, row.ErrorMessage)
}

func TestGetByURL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	status := StatusUploaded
	require.NoError(t, store.Upsert(ctx, UpsertParams{
		ID:        "hash-1",
		SourceURL: "https://example.com/b.docx",
		Status:    &status,
	}))

	row, err := store.GetByURL(ctx, "https://example.com/b.docx")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "hash-1", row.ID)
}

func TestGetReturnsNilForMissing(t *testing.T) {
	store := openTestStore(t)

	row, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUploadedURLSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	uploaded := StatusUploaded
	pending := StatusPending
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "a", SourceURL: "https://x/a.docx", Status: &uploaded}))
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "b", SourceURL: "https://x/b.docx", Status: &pending}))

	set, err := store.UploadedURLSet(ctx)
	require.NoError(t, err)
	assert.Contains(t, set, "https://x/a.docx")
	assert.NotContains(t, set, "https://x/b.docx")
}

func TestStatsByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	uploaded := StatusUploaded
	failed := StatusFailed
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "a", SourceURL: "https://x/a.docx", Status: &uploaded}))
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "b", SourceURL: "https://x/b.docx", Status: &uploaded}))
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "c", SourceURL: "https://x/c.docx", Status: &failed}))

	counts, err := store.StatsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatusUploaded])
	assert.Equal(t, int64(1), counts[StatusFailed])
}

func TestIsValidDocxTriState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	status := StatusFailed
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "a", SourceURL: "https://x/a.docx", Status: &status}))

	row, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, row.IsValidDocx, "unknown until explicitly validated")

	valid := false
	require.NoError(t, store.Upsert(ctx, UpsertParams{ID: "a", SourceURL: "https://x/a.docx", IsValidDocx: &valid}))

	row, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, row.IsValidDocx)
	assert.False(t, *row.IsValidDocx)
}
