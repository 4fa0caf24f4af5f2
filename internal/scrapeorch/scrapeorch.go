// Package scrapeorch drives one crawl's per-record state machine over a
// bounded worker pool: discover, fetch, validate, hash, and commit a
// content-addressed blob plus its metadata row.
package scrapeorch

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/archivefetch"
	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
	"github.com/superdoc-dev/docx-corpus/internal/cdxstream"
	"github.com/superdoc-dev/docx-corpus/internal/hashid"
	"github.com/superdoc-dev/docx-corpus/internal/metastore"
	"github.com/superdoc-dev/docx-corpus/internal/ratelimit"
	"github.com/superdoc-dev/docx-corpus/internal/validate"
)

// Counters is a point-in-time snapshot of one crawl's progress.
type Counters struct {
	Saved      int64
	Skipped    int64
	Failed     int64
	Discovered int64
}

// ProgressSink receives a Counters snapshot after every record completion.
type ProgressSink interface {
	Report(Counters)
}

// Config tunes one Orchestrator run.
type Config struct {
	CrawlID     string
	Concurrency int
	BatchSize   int // 0 means unbounded
	Force       bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	return c
}

type atomicCounters struct {
	saved, skipped, failed, discovered atomic.Int64
}

func (c *atomicCounters) snapshot() Counters {
	return Counters{
		Saved:      c.saved.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
		Discovered: c.discovered.Load(),
	}
}

// Orchestrator runs the scrape state machine for one crawl.
type Orchestrator struct {
	blobs    blobstore.Store
	meta     *metastore.Store
	limiter  *ratelimit.Limiter
	fetcher  *archivefetch.Fetcher
	progress ProgressSink
	logger   *zap.Logger
	cfg      Config
}

// New builds an Orchestrator. progress may be nil (no reporting).
func New(
	blobs blobstore.Store,
	meta *metastore.Store,
	limiter *ratelimit.Limiter,
	fetcher *archivefetch.Fetcher,
	progress ProgressSink,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		blobs:    blobs,
		meta:     meta,
		limiter:  limiter,
		fetcher:  fetcher,
		progress: progress,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Run drains it, submitting one task per surviving CDX record to a bounded
// worker pool, and returns final counters once the stream (or batch size)
// is exhausted and every in-flight task has completed.
func (o *Orchestrator) Run(ctx context.Context, it *cdxstream.Iterator) (Counters, error) {
	uploadedURLs, err := o.loadUploadedSet(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("load uploaded url set: %w", err)
	}

	var counters atomicCounters
	workerSem := make(chan struct{}, o.cfg.Concurrency)
	inFlight := make(chan struct{}, 2*o.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		if o.cfg.BatchSize > 0 && counters.saved.Load() >= int64(o.cfg.BatchSize) {
			break
		}

		rec, ok, err := it.Next()
		if err != nil {
			wg.Wait()
			return counters.snapshot(), fmt.Errorf("read cdx stream: %w", err)
		}
		if !ok {
			break
		}
		counters.discovered.Add(1)

		select {
		case inFlight <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return counters.snapshot(), ctx.Err()
		}

		wg.Add(1)
		go func(rec cdxstream.CdxRecord) {
			defer wg.Done()
			defer func() { <-inFlight }()

			workerSem <- struct{}{}
			defer func() { <-workerSem }()

			if err := o.limiter.Acquire(ctx); err != nil {
				return
			}
			o.process(ctx, rec, uploadedURLs, &counters)
		}(rec)
	}

	wg.Wait()
	return counters.snapshot(), nil
}

func (o *Orchestrator) loadUploadedSet(ctx context.Context) (map[string]struct{}, error) {
	if o.cfg.Force {
		return map[string]struct{}{}, nil
	}
	return o.meta.UploadedURLSet(ctx)
}

// process runs the discover → fetch → validate → hash → store-check →
// uploaded/skipped/failed state machine for one record.
func (o *Orchestrator) process(ctx context.Context, rec cdxstream.CdxRecord, uploadedURLs map[string]struct{}, counters *atomicCounters) {
	if _, ok := uploadedURLs[rec.URL]; ok {
		o.finish(counters, &counters.skipped)
		return
	}

	discoveredAt := time.Now().UTC()

	result, err := o.fetcher.Fetch(ctx, rec)
	if err != nil {
		o.failFetch(ctx, rec.URL, err, discoveredAt)
		o.finish(counters, &counters.failed)
		return
	}
	downloadedAt := time.Now().UTC()

	vr := validate.Validate(result.Content)
	if !vr.OK {
		o.failValidation(ctx, rec, result.Content, vr.Reason, discoveredAt, downloadedAt)
		o.finish(counters, &counters.failed)
		return
	}

	id := hashid.Hash(result.Content)

	existing, err := o.meta.Get(ctx, id)
	if err != nil {
		o.logger.Error("metadata lookup failed", zap.String("id", id), zap.Error(err))
		o.finish(counters, &counters.failed)
		return
	}
	if existing != nil && existing.Status == metastore.StatusUploaded {
		o.finish(counters, &counters.skipped)
		return
	}

	key := blobKey(id)
	wrote, err := o.blobs.WriteIfAbsent(ctx, key, result.Content)
	if err != nil {
		o.logger.Error("blob write failed", zap.String("key", key), zap.Error(err))
		o.finish(counters, &counters.failed)
		return
	}

	if err := o.upsertUploaded(ctx, id, rec, result, discoveredAt, downloadedAt); err != nil {
		o.logger.Error("metadata upsert failed", zap.String("id", id), zap.Error(err))
		o.finish(counters, &counters.failed)
		return
	}

	if wrote {
		o.finish(counters, &counters.saved)
	} else {
		// Another worker (possibly from an earlier, crashed run) already
		// wrote this content; the blob is authoritative and the row above
		// has just been (re-)upserted regardless.
		o.finish(counters, &counters.skipped)
	}
}

func (o *Orchestrator) finish(counters *atomicCounters, counter *atomic.Int64) {
	counter.Add(1)
	if o.progress != nil {
		o.progress.Report(counters.snapshot())
	}
}

// failFetch records a fetch failure under the URL-sentinel id so a later
// successful fetch of the same URL, keyed by content hash, cannot collide
// with it.
func (o *Orchestrator) failFetch(ctx context.Context, sourceURL string, fetchErr error, discoveredAt time.Time) {
	id := "failed-" + hashid.Hash([]byte(sourceURL))
	status := metastore.StatusFailed
	msg := fetchErr.Error()
	if err := o.meta.Upsert(ctx, metastore.UpsertParams{
		ID:           id,
		SourceURL:    sourceURL,
		Status:       &status,
		ErrorMessage: &msg,
		DiscoveredAt: &discoveredAt,
	}); err != nil {
		o.logger.Error("failed to record fetch failure", zap.String("url", sourceURL), zap.Error(err))
	}
}

func (o *Orchestrator) failValidation(ctx context.Context, rec cdxstream.CdxRecord, payload []byte, reason validate.Reason, discoveredAt, downloadedAt time.Time) {
	id := hashid.Hash(payload)
	status := metastore.StatusFailed
	invalid := false
	msg := fmt.Sprintf("validation failed: %s", reason)
	if err := o.meta.Upsert(ctx, metastore.UpsertParams{
		ID:           id,
		SourceURL:    rec.URL,
		Status:       &status,
		ErrorMessage: &msg,
		IsValidDocx:  &invalid,
		DiscoveredAt: &discoveredAt,
		DownloadedAt: &downloadedAt,
	}); err != nil {
		o.logger.Error("failed to record validation failure", zap.String("url", rec.URL), zap.Error(err))
	}
}

func (o *Orchestrator) upsertUploaded(ctx context.Context, id string, rec cdxstream.CdxRecord, result archivefetch.Result, discoveredAt, downloadedAt time.Time) error {
	now := time.Now().UTC()
	status := metastore.StatusUploaded
	valid := true
	size := int64(len(result.Content))
	filename := filenameFromURL(rec.URL)
	crawlID := o.cfg.CrawlID

	return o.meta.Upsert(ctx, metastore.UpsertParams{
		ID:               id,
		SourceURL:        rec.URL,
		CrawlID:          &crawlID,
		OriginalFilename: &filename,
		FileSizeBytes:    &size,
		Status:           &status,
		IsValidDocx:      &valid,
		DiscoveredAt:     &discoveredAt,
		DownloadedAt:     &downloadedAt,
		UploadedAt:       &now,
	})
}

func blobKey(id string) string {
	return "documents/" + id + ".docx"
}

const defaultFilename = "unknown.docx"

func filenameFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return defaultFilename
	}
	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		decoded = u.Path
	}
	base := path.Base(decoded)
	if base == "." || base == "/" || strings.TrimSpace(base) == "" {
		return defaultFilename
	}
	return base
}
