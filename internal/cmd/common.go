package cmd

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
	"github.com/superdoc-dev/docx-corpus/internal/blobstore/filestore"
	"github.com/superdoc-dev/docx-corpus/internal/blobstore/s3store"
	"github.com/superdoc-dev/docx-corpus/internal/config"
	"github.com/superdoc-dev/docx-corpus/internal/metastore"
	"github.com/superdoc-dev/docx-corpus/internal/progress"
)

// openBlobStore selects the R2-compatible blob API or the local
// filesystem backend per §6.6.
func openBlobStore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	if cfg.UsesBlobAPI() {
		return s3store.New(ctx, cfg.S3StoreConfig())
	}
	return filestore.New(cfg.StoragePath)
}

// openMetaStore opens the metadata store described by cfg, preferring a
// hosted libsql/Turso URL over the local file path when both are set.
func openMetaStore(ctx context.Context, cfg config.Config) (*metastore.Store, error) {
	return metastore.Open(ctx, metastore.Config{
		Path:      metaPath(cfg),
		URL:       cfg.DatabaseURL,
		AuthToken: cfg.DatabaseAuthToken,
	})
}

func metaPath(cfg config.Config) string {
	if cfg.DatabaseURL != "" {
		return ""
	}
	if cfg.StoragePath == "" {
		return "documents.db"
	}
	return cfg.StoragePath + "/documents.db"
}

// latestCrawlFetcher returns a fetch-latest callback bound to cfg's
// crawl-list endpoint, or nil when none is configured.
func latestCrawlFetcher(cfg config.Config) func(context.Context) (string, error) {
	if cfg.CrawlListURL == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return config.FetchLatestCrawlID(ctx, http.DefaultClient, cfg.CrawlListURL)
	}
}

// startStatusServer launches the /healthz + /status HTTP surface in the
// background. Callers are responsible for closing the returned server.
func startStatusServer(addr string, tracker *progress.Tracker, meta *metastore.Store, logger *zap.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: progress.NewServer(tracker, meta, meta).Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return srv
}
