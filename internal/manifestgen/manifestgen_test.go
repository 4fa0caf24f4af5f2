package manifestgen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore/filestore"
	"github.com/superdoc-dev/docx-corpus/internal/metastore"
)

func newTestMeta(t *testing.T) *metastore.Store {
	t.Helper()
	meta, err := metastore.Open(context.Background(), metastore.Config{Path: filepath.Join(t.TempDir(), "documents.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta
}

func seedUploaded(t *testing.T, meta *metastore.Store, ids ...string) {
	t.Helper()
	status := metastore.StatusUploaded
	for _, id := range ids {
		require.NoError(t, meta.Upsert(context.Background(), metastore.UpsertParams{
			ID:        id,
			SourceURL: "https://x/" + id + ".docx",
			Status:    &status,
		}))
	}
}

func TestGenerateWritesSortedManifest(t *testing.T) {
	meta := newTestMeta(t)
	seedUploaded(t, meta, "ccc", "aaa", "bbb")

	root := t.TempDir()
	g := New(meta, nil, root)

	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.False(t, res.Mirrored)

	data, err := os.ReadFile(filepath.Join(root, "manifest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaa\nbbb\nccc\n", string(data))
}

func TestGenerateExcludesNonUploadedRows(t *testing.T) {
	meta := newTestMeta(t)
	seedUploaded(t, meta, "a")
	failed := metastore.StatusFailed
	require.NoError(t, meta.Upsert(context.Background(), metastore.UpsertParams{
		ID: "b", SourceURL: "https://x/b.docx", Status: &failed,
	}))

	g := New(meta, nil, t.TempDir())
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestGenerateWithNoUploadsWritesEmptyFile(t *testing.T) {
	meta := newTestMeta(t)
	root := t.TempDir()
	g := New(meta, nil, root)

	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)

	data, err := os.ReadFile(filepath.Join(root, "manifest.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestGenerateMirrorsToBlobStoreWhenConfigured(t *testing.T) {
	meta := newTestMeta(t)
	seedUploaded(t, meta, "a", "b")

	blobs, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	g := New(meta, blobs, t.TempDir())
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Mirrored)

	mirrored, err := blobs.Read(context.Background(), ManifestKey)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(mirrored))
}

func TestGenerateWithIncludePatternFiltersIDs(t *testing.T) {
	meta := newTestMeta(t)
	seedUploaded(t, meta, "aa1", "aa2", "bb1")

	root := t.TempDir()
	g := New(meta, nil, root)
	g, err := g.WithIncludePattern("aa*")
	require.NoError(t, err)

	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	data, err := os.ReadFile(filepath.Join(root, "manifest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aa1\naa2\n", string(data))
}

func TestGenerateWithInvalidIncludePatternErrors(t *testing.T) {
	g := New(newTestMeta(t), nil, t.TempDir())
	_, err := g.WithIncludePattern("[")
	assert.Error(t, err)
}

func TestGenerateOverwritesExistingManifest(t *testing.T) {
	meta := newTestMeta(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "manifest.txt"), []byte("stale\n"), 0o644))

	seedUploaded(t, meta, "fresh")
	g := New(meta, nil, root)

	_, err := g.Generate(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "manifest.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(data))
}
