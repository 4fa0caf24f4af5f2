package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
)

func TestReadReturnsNilForMissingKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	data, err := store.Read(context.Background(), "documents/missing.docx")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestWriteThenRead(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "documents/abc.docx", []byte("payload")))

	data, err := store.Read(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestWriteIfAbsent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	wrote, err := store.WriteIfAbsent(ctx, "documents/abc.docx", []byte("first"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = store.WriteIfAbsent(ctx, "documents/abc.docx", []byte("second"))
	require.NoError(t, err)
	assert.False(t, wrote)

	data, err := store.Read(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestExists(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Write(ctx, "documents/abc.docx", []byte("x")))

	exists, err = store.Exists(ctx, "documents/abc.docx")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListYieldsKeysUnderPrefix(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "cdx-filtered/crawl-1/a.jsonl", []byte("a")))
	require.NoError(t, store.Write(ctx, "cdx-filtered/crawl-1/b.jsonl", []byte("b")))
	require.NoError(t, store.Write(ctx, "documents/other.docx", []byte("c")))

	var keys []string
	err = store.List(ctx, "cdx-filtered/crawl-1", func(e blobstore.ListEntry) error {
		keys = append(keys, e.Key)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cdx-filtered/crawl-1/a.jsonl", "cdx-filtered/crawl-1/b.jsonl"}, keys)
}

func TestListOnMissingPrefixYieldsNothing(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	var keys []string
	err = store.List(context.Background(), "nope", func(e blobstore.ListEntry) error {
		keys = append(keys, e.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFullPathRejectsTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}
