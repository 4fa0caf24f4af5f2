package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdoc-dev/docx-corpus/internal/config"
)

func TestCheckBlobStorePassesForWritableDirectory(t *testing.T) {
	cfg := config.Config{StoragePath: t.TempDir()}
	assert.NoError(t, checkBlobStore(context.Background(), cfg))
}

func TestCheckMetaStorePassesForOpenableDatabase(t *testing.T) {
	cfg := config.Config{StoragePath: t.TempDir()}
	assert.NoError(t, checkMetaStore(context.Background(), cfg))
}

func TestCheckExtractCommandFailsOnMissingPath(t *testing.T) {
	err := checkExtractCommand(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestCheckExtractCommandFailsOnDirectory(t *testing.T) {
	err := checkExtractCommand(t.TempDir())
	assert.Error(t, err)
}

func TestCheckExtractCommandPassesForRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extractor")
	require.NoError(t, writeExecutableStub(path))
	assert.NoError(t, checkExtractCommand(path))
}

func TestCheckKeyPatternValidatesDoublestarSyntax(t *testing.T) {
	assert.NoError(t, checkKeyPattern("documents/**/*.docx"))
	assert.Error(t, checkKeyPattern("["))
}

func TestReportFormatsPassAndFailLines(t *testing.T) {
	assert.True(t, report(1, 2, "ok check", nil))
	assert.False(t, report(2, 2, "bad check", assertError{}))
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func writeExecutableStub(path string) error {
	return os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755)
}
