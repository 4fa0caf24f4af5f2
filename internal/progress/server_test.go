package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdoc-dev/docx-corpus/internal/metastore"
	"github.com/superdoc-dev/docx-corpus/internal/scrapeorch"
)

type stubChecker struct{ err error }

func (s stubChecker) CheckHealth(ctx context.Context) error { return s.err }

func newTestMeta(t *testing.T) *metastore.Store {
	t.Helper()
	meta, err := metastore.Open(context.Background(), metastore.Config{Path: filepath.Join(t.TempDir(), "documents.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta
}

func TestHealthHandlerHealthyWithoutChecker(t *testing.T) {
	s := NewServer(NewTracker(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandlerUnhealthyReturnsStructuredError(t *testing.T) {
	s := NewServer(NewTracker(), nil, stubChecker{err: errors.New("db unreachable")})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "db unreachable", resp.Error.Message)
}

func TestStatusHandlerReportsCountersAndExtraction(t *testing.T) {
	meta := newTestMeta(t)
	status := metastore.StatusUploaded
	require.NoError(t, meta.Upsert(context.Background(), metastore.UpsertParams{
		ID: "a", SourceURL: "https://x/a.docx", Status: &status,
	}))

	tr := NewTracker()
	tr.Report(scrapeorch.Counters{Saved: 1, Discovered: 2})

	s := NewServer(tr, meta, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body statusBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(1), body.Saved)
	require.NotNil(t, body.Extraction)
	assert.Equal(t, int64(1), body.Extraction.Uploaded)
}

func TestStatusHandlerWorksWithNilTrackerAndMeta(t *testing.T) {
	s := NewServer(nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
