// Package filestore implements blobstore.Store over a local filesystem
// directory, keyed by relative path.
package filestore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
)

// Store roots every key under BaseDir.
type Store struct {
	baseDir string
}

// New validates baseDir and returns a Store rooted there.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("filestore: base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create base dir: %w", err)
	}
	return &Store{baseDir: filepath.Clean(baseDir)}, nil
}

var _ blobstore.Store = (*Store)(nil)

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	full, err := s.fullPath(key)
	if err != nil {
		return nil, s.wrapError("Read", key, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.wrapError("Read", key, err)
	}
	return data, nil
}

func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_ = ctx
	return s.atomicWrite(key, data)
}

func (s *Store) WriteIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.atomicWrite(key, data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_ = ctx
	full, err := s.fullPath(key)
	if err != nil {
		return false, s.wrapError("Exists", key, err)
	}
	_, err = os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.wrapError("Exists", key, err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string, yield func(blobstore.ListEntry) error) error {
	_ = ctx
	root, err := s.fullPath(prefix)
	if err != nil {
		return s.wrapError("List", prefix, err)
	}

	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return s.wrapError("List", prefix, err)
	}

	var entries []blobstore.ListEntry
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, blobstore.ListEntry{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if walkErr != nil {
		return s.wrapError("List", prefix, walkErr)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	for _, entry := range entries {
		if err := yield(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) atomicWrite(key string, data []byte) error {
	full, err := s.fullPath(key)
	if err != nil {
		return s.wrapError("Write", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return s.wrapError("Write", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "docx-corpus-put-*")
	if err != nil {
		return s.wrapError("Write", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return s.wrapError("Write", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Write", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return s.wrapError("Write", key, err)
	}
	return nil
}

// fullPath joins key onto baseDir, rejecting any attempt to traverse above
// it.
func (s *Store) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key))); rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &blobstore.StoreError{Op: op, Backend: "file", Key: key, Err: err}
	if os.IsNotExist(err) {
		wrapped.Err = blobstore.ErrNotFound
	} else if os.IsPermission(err) {
		wrapped.Err = blobstore.ErrAccessDenied
	}
	return wrapped
}
