// Package manifestgen snapshots the current set of uploaded document ids
// into a sorted, newline-terminated manifest file, optionally mirrored to
// the blob store.
package manifestgen

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
	"github.com/superdoc-dev/docx-corpus/internal/metastore"
)

// ManifestKey is the blob-store key the manifest is mirrored to.
const ManifestKey = "manifest.txt"

const manifestFileName = "manifest.txt"

// Generator reads the uploaded-id set from meta and writes it to disk
// (and, if blobs is non-nil, to the blob store).
type Generator struct {
	meta           *metastore.Store
	blobs          blobstore.Store
	localRoot      string
	includePattern string
}

// New builds a Generator. blobs may be nil, in which case Generate skips
// the blob-store mirror.
func New(meta *metastore.Store, blobs blobstore.Store, localRoot string) *Generator {
	return &Generator{meta: meta, blobs: blobs, localRoot: localRoot}
}

// WithIncludePattern restricts Generate to ids matching a doublestar glob
// pattern (e.g. "ab*" for ids sharing a hash prefix). An empty pattern
// clears the restriction. Returns an error if pattern is not a valid
// doublestar pattern.
func (g *Generator) WithIncludePattern(pattern string) (*Generator, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("manifestgen: invalid include pattern %q", pattern)
	}
	g.includePattern = pattern
	return g, nil
}

// Result reports what Generate wrote.
type Result struct {
	Count     int
	LocalPath string
	Mirrored  bool
}

// Generate loads every uploaded id (ASCII-sorted by the query), renders
// the manifest body, and writes it atomically to <localRoot>/manifest.txt,
// mirroring to the blob store when configured.
func (g *Generator) Generate(ctx context.Context) (Result, error) {
	ids, err := g.meta.UploadedIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load uploaded ids: %w", err)
	}
	if g.includePattern != "" {
		ids = filterIDs(ids, g.includePattern)
	}

	data := renderManifest(ids)
	localPath := filepath.Join(g.localRoot, manifestFileName)
	if err := writeAtomic(localPath, data); err != nil {
		return Result{}, fmt.Errorf("write local manifest: %w", err)
	}

	mirrored := false
	if g.blobs != nil {
		if err := g.blobs.Write(ctx, ManifestKey, data); err != nil {
			return Result{}, fmt.Errorf("mirror manifest to blob store: %w", err)
		}
		mirrored = true
	}

	return Result{Count: len(ids), LocalPath: localPath, Mirrored: mirrored}, nil
}

// filterIDs keeps only ids matching pattern, preserving order.
func filterIDs(ids []string, pattern string) []string {
	kept := ids[:0:0]
	for _, id := range ids {
		if matched, err := doublestar.Match(pattern, id); err == nil && matched {
			kept = append(kept, id)
		}
	}
	return kept
}

func renderManifest(ids []string) []byte {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "manifest-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
