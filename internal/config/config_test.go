package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, spec := range envSpecs {
		val, ok := os.LookupEnv(spec.Name)
		os.Unsetenv(spec.Name)
		if ok {
			t.Cleanup(func(name, v string) func() {
				return func() { os.Setenv(name, v) }
			}(spec.Name, val))
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 45000, cfg.TimeoutMS)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "documents", cfg.ExtractInputPrefix)
	assert.Equal(t, "extracted", cfg.ExtractOutputPrefix)
	assert.Equal(t, 500, cfg.ExtractBatchSize)
	assert.Equal(t, 4, cfg.ExtractWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.CrawlID)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRAWL_ID", "crawl-2024-10")
	t.Setenv("CONCURRENCY", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "crawl-2024-10", cfg.CrawlID)
	assert.Equal(t, 25, cfg.Concurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestUsesBlobAPIRequiresAllFourFields(t *testing.T) {
	cfg := Config{CloudflareAccountID: "acct", R2AccessKeyID: "key", R2SecretAccessKey: "secret"}
	assert.False(t, cfg.UsesBlobAPI())

	cfg.R2BucketName = "bucket"
	assert.True(t, cfg.UsesBlobAPI())
}

func TestS3StoreConfigBuildsR2Endpoint(t *testing.T) {
	cfg := Config{
		CloudflareAccountID: "abc123",
		R2AccessKeyID:       "key",
		R2SecretAccessKey:   "secret",
		R2BucketName:        "bucket",
	}
	s3Cfg := cfg.S3StoreConfig()
	assert.Equal(t, "bucket", s3Cfg.Bucket)
	assert.Equal(t, "https://abc123.r2.cloudflarestorage.com", s3Cfg.Endpoint)
	assert.True(t, s3Cfg.ForcePathStyle)
}

func TestResolveCrawlIDPrefersExplicitFlag(t *testing.T) {
	id, err := ResolveCrawlID(context.Background(), Config{CrawlID: "env-id"}, "flag-id", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "flag-id", id)
}

func TestResolveCrawlIDPrefersFileOverEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawls.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ids:\n  - file-id-1\n  - file-id-2\n"), 0o644))

	id, err := ResolveCrawlID(context.Background(), Config{CrawlID: "env-id"}, "", path, nil)
	require.NoError(t, err)
	assert.Equal(t, "file-id-1", id)
}

func TestResolveCrawlIDFallsBackToEnv(t *testing.T) {
	id, err := ResolveCrawlID(context.Background(), Config{CrawlID: "env-id"}, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "env-id", id)
}

func TestResolveCrawlIDFallsBackToFetchLatest(t *testing.T) {
	called := false
	fetch := func(ctx context.Context) (string, error) {
		called = true
		return "latest-id", nil
	}

	id, err := ResolveCrawlID(context.Background(), Config{}, "", "", fetch)
	require.NoError(t, err)
	assert.Equal(t, "latest-id", id)
	assert.True(t, called)
}

func TestResolveCrawlIDErrorsWithNoSourceAvailable(t *testing.T) {
	_, err := ResolveCrawlID(context.Background(), Config{}, "", "", nil)
	assert.Error(t, err)
}

func TestLoadCrawlIDsFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawls.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ids: [a, b, c]\n"), 0o644))

	list, err := LoadCrawlIDsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list.IDs)
}

func TestLoadCrawlIDsFileErrorsOnMissingFile(t *testing.T) {
	_, err := LoadCrawlIDsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFetchLatestCrawlIDReturnsFirstEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "crawl-newest", "name": "October"},
			{"id": "crawl-older", "name": "September"},
		})
	}))
	defer srv.Close()

	id, err := FetchLatestCrawlID(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "crawl-newest", id)
}

func TestFetchLatestCrawlIDErrorsOnEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	_, err := FetchLatestCrawlID(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}

func TestFetchLatestCrawlIDErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := FetchLatestCrawlID(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}
