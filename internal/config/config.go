// Package config loads runtime configuration from defaults, environment
// variables, and (where a caller supplies them) explicit flag overrides,
// matching the precedence the teacher's configuration loader is tested
// against: defaults first, environment next, explicit overrides last.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/superdoc-dev/docx-corpus/internal/archivefetch"
	"github.com/superdoc-dev/docx-corpus/internal/blobstore/s3store"
	"github.com/superdoc-dev/docx-corpus/internal/extractorch"
	"github.com/superdoc-dev/docx-corpus/internal/ratelimit"
	"github.com/superdoc-dev/docx-corpus/internal/scrapeorch"
)

// Config is the fully resolved runtime configuration for one process.
// Every field corresponds to one of the enumerated environment variables.
type Config struct {
	CrawlID      string
	CrawlIDsFile string
	CrawlListURL string

	Concurrency int

	RateLimitRPS float64
	MinRPS       float64
	MaxRPS       float64

	TimeoutMS    int
	MaxRetries   int
	MaxBackoffMS int

	StoragePath string

	DatabaseURL       string
	DatabaseAuthToken string

	CloudflareAccountID string
	R2AccessKeyID       string
	R2SecretAccessKey   string
	R2BucketName        string

	ExtractInputPrefix  string
	ExtractOutputPrefix string
	ExtractBatchSize    int
	ExtractWorkers      int

	LogLevel string
}

// envSpec names one environment variable this package binds; Load walks
// envSpecs to apply defaults and environment overrides.
type envSpec struct {
	Name    string
	Default any
}

var envSpecs = []envSpec{
	{"CRAWL_ID", ""},
	{"CRAWL_LIST_URL", ""},
	{"CONCURRENCY", 10},
	{"RATE_LIMIT_RPS", ratelimit.DefaultConfig().InitialRps},
	{"MIN_RPS", ratelimit.DefaultConfig().MinRps},
	{"MAX_RPS", ratelimit.DefaultConfig().MaxRps},
	{"TIMEOUT_MS", 45000},
	{"MAX_RETRIES", 3},
	{"MAX_BACKOFF_MS", 0},
	{"STORAGE_PATH", "./data"},
	{"DATABASE_URL", ""},
	{"DATABASE_AUTH_TOKEN", ""},
	{"CLOUDFLARE_ACCOUNT_ID", ""},
	{"R2_ACCESS_KEY_ID", ""},
	{"R2_SECRET_ACCESS_KEY", ""},
	{"R2_BUCKET_NAME", ""},
	{"EXTRACT_INPUT_PREFIX", "documents"},
	{"EXTRACT_OUTPUT_PREFIX", "extracted"},
	{"EXTRACT_BATCH_SIZE", 500},
	{"EXTRACT_WORKERS", 4},
	{"LOG_LEVEL", "info"},
}

// Load binds every envSpec against the process environment via viper and
// returns the resolved Config. It never reads flags; callers apply
// explicit flag overrides on the returned struct afterward, matching the
// teacher's defaults-then-env-then-flags precedence.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for _, spec := range envSpecs {
		v.SetDefault(spec.Name, spec.Default)
	}

	return Config{
		CrawlID:      v.GetString("CRAWL_ID"),
		CrawlIDsFile: v.GetString("CRAWL_IDS_FILE"),
		CrawlListURL: v.GetString("CRAWL_LIST_URL"),

		Concurrency: v.GetInt("CONCURRENCY"),

		RateLimitRPS: v.GetFloat64("RATE_LIMIT_RPS"),
		MinRPS:       v.GetFloat64("MIN_RPS"),
		MaxRPS:       v.GetFloat64("MAX_RPS"),

		TimeoutMS:    v.GetInt("TIMEOUT_MS"),
		MaxRetries:   v.GetInt("MAX_RETRIES"),
		MaxBackoffMS: v.GetInt("MAX_BACKOFF_MS"),

		StoragePath: v.GetString("STORAGE_PATH"),

		DatabaseURL:       v.GetString("DATABASE_URL"),
		DatabaseAuthToken: v.GetString("DATABASE_AUTH_TOKEN"),

		CloudflareAccountID: v.GetString("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:       v.GetString("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:   v.GetString("R2_SECRET_ACCESS_KEY"),
		R2BucketName:        v.GetString("R2_BUCKET_NAME"),

		ExtractInputPrefix:  v.GetString("EXTRACT_INPUT_PREFIX"),
		ExtractOutputPrefix: v.GetString("EXTRACT_OUTPUT_PREFIX"),
		ExtractBatchSize:    v.GetInt("EXTRACT_BATCH_SIZE"),
		ExtractWorkers:      v.GetInt("EXTRACT_WORKERS"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}, nil
}

// UsesBlobAPI reports whether every R2/Cloudflare credential field is
// populated, per §6.6: all four present selects the blob API backend,
// otherwise the local filesystem backend is used.
func (c Config) UsesBlobAPI() bool {
	return c.CloudflareAccountID != "" && c.R2AccessKeyID != "" &&
		c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// S3StoreConfig builds the s3store.Config for the R2-compatible endpoint
// implied by CloudflareAccountID. Only valid when UsesBlobAPI is true.
func (c Config) S3StoreConfig() s3store.Config {
	return s3store.Config{
		Bucket:          c.R2BucketName,
		Region:          "auto",
		Endpoint:        fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.CloudflareAccountID),
		AccessKeyID:     c.R2AccessKeyID,
		SecretAccessKey: c.R2SecretAccessKey,
		ForcePathStyle:  true,
	}
}

// RateLimitConfig builds the adaptive limiter's starting configuration.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		InitialRps: c.RateLimitRPS,
		MinRps:     c.MinRPS,
		MaxRps:     c.MaxRPS,
	}
}

// FetchOptions builds the archive fetcher's per-request tuning.
func (c Config) FetchOptions() archivefetch.Options {
	return archivefetch.Options{
		Timeout:     time.Duration(c.TimeoutMS) * time.Millisecond,
		RetryBudget: c.MaxRetries,
		MaxBackoff:  time.Duration(c.MaxBackoffMS) * time.Millisecond,
	}
}

// ScrapeConfig builds the scrape orchestrator's per-run configuration.
// crawlID is threaded in separately since it is resolved (flag/file/env/
// fetch-latest), not read directly off Config.
func (c Config) ScrapeConfig(crawlID string) scrapeorch.Config {
	return scrapeorch.Config{
		CrawlID:     crawlID,
		Concurrency: c.Concurrency,
	}
}

// ExtractorConfig builds the extraction orchestrator's subprocess pool
// configuration. command/args name the external extractor executable.
func (c Config) ExtractorConfig(command string, args []string) extractorch.Config {
	return extractorch.Config{
		Command:     command,
		Args:        args,
		Concurrency: c.ExtractWorkers,
		QueueLimit:  c.ExtractBatchSize,
	}
}

// CrawlIDList is the shape of a crawl-ids-file: a flat YAML list of crawl
// identifiers, newest (or most-preferred) first.
type CrawlIDList struct {
	IDs []string `yaml:"ids"`
}

// LoadCrawlIDsFile reads and parses a crawl-ids-file.
func LoadCrawlIDsFile(path string) (CrawlIDList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CrawlIDList{}, fmt.Errorf("read crawl ids file: %w", err)
	}
	var list CrawlIDList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return CrawlIDList{}, fmt.Errorf("parse crawl ids file: %w", err)
	}
	return list, nil
}

// crawlListEntry is one row of the crawl-list endpoint's JSON array.
type crawlListEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchLatestCrawlID retrieves the crawl-list endpoint (§6.4) and returns
// the first (newest) entry's id.
func FetchLatestCrawlID(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build crawl-list request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch crawl list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("crawl list endpoint returned status %d", resp.StatusCode)
	}

	var entries []crawlListEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return "", fmt.Errorf("decode crawl list: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("crawl list is empty")
	}
	return entries[0].ID, nil
}

// ResolveCrawlID applies the resolution order: an explicit flag value wins
// outright; otherwise a crawl-ids-file's first entry; otherwise the
// CRAWL_ID environment value already in cfg; otherwise fetchLatest is
// called to retrieve the newest crawl from the crawl-list endpoint.
func ResolveCrawlID(ctx context.Context, cfg Config, flagCrawlID, flagCrawlIDsFile string, fetchLatest func(context.Context) (string, error)) (string, error) {
	if flagCrawlID != "" {
		return flagCrawlID, nil
	}

	idsFile := flagCrawlIDsFile
	if idsFile == "" {
		idsFile = cfg.CrawlIDsFile
	}
	if idsFile != "" {
		list, err := LoadCrawlIDsFile(idsFile)
		if err != nil {
			return "", err
		}
		if len(list.IDs) == 0 {
			return "", fmt.Errorf("crawl ids file %s contains no ids", idsFile)
		}
		return list.IDs[0], nil
	}

	if cfg.CrawlID != "" {
		return cfg.CrawlID, nil
	}

	if fetchLatest == nil {
		return "", fmt.Errorf("no crawl id specified and no fetch-latest source configured")
	}
	return fetchLatest(ctx)
}
