package cmd

import (
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/archivefetch"
	"github.com/superdoc-dev/docx-corpus/internal/cdxstream"
	"github.com/superdoc-dev/docx-corpus/internal/config"
	"github.com/superdoc-dev/docx-corpus/internal/progress"
	"github.com/superdoc-dev/docx-corpus/internal/ratelimit"
	"github.com/superdoc-dev/docx-corpus/internal/scrapeorch"
)

var (
	scrapeCrawlID      string
	scrapeCrawlIDsFile string
	scrapeConcurrency  int
	scrapeForce        bool
	scrapeStatusAddr   string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Discover, fetch, validate, and store one crawl's .docx files",
	RunE:  runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringVar(&scrapeCrawlID, "crawl-id", "", "crawl identifier (overrides CRAWL_ID and crawl-ids-file)")
	scrapeCmd.Flags().StringVar(&scrapeCrawlIDsFile, "crawl-ids-file", "", "YAML file of candidate crawl ids, most-preferred first")
	scrapeCmd.Flags().IntVar(&scrapeConcurrency, "concurrency", 0, "override CONCURRENCY")
	scrapeCmd.Flags().BoolVar(&scrapeForce, "force", false, "re-fetch urls already recorded as uploaded")
	scrapeCmd.Flags().StringVar(&scrapeStatusAddr, "status-addr", "", "serve /healthz and /status on this address while scraping (e.g. :8090)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Generate a run id early so every log line from this invocation
	// can be correlated.
	runID := uuid.New().String()

	cfg, logger, err := loadConfig()
	if err != nil {
		return exitError("configuration error", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	defer logger.Sync() //nolint:errcheck

	if scrapeConcurrency > 0 {
		cfg.Concurrency = scrapeConcurrency
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return exitError("open blob store", err)
	}

	meta, err := openMetaStore(ctx, cfg)
	if err != nil {
		return exitError("open metadata store", err)
	}
	defer meta.Close() //nolint:errcheck

	crawlID, err := config.ResolveCrawlID(ctx, cfg, scrapeCrawlID, scrapeCrawlIDsFile, latestCrawlFetcher(cfg))
	if err != nil {
		return exitError("resolve crawl id", err)
	}
	logger.Info("resolved crawl id", zap.String("crawl_id", crawlID))

	it, err := cdxstream.NewIterator(ctx, blobs, crawlID)
	if err != nil {
		return exitError("open cdx stream", err)
	}

	limiter := ratelimit.New(cfg.RateLimitConfig())
	fetcher := archivefetch.New(http.DefaultClient, limiter, cfg.FetchOptions())

	tracker := progress.NewTracker()
	renderer := progress.NewTerminalRenderer(os.Stdout)
	sink := &renderingSink{tracker: tracker, renderer: renderer}

	if scrapeStatusAddr != "" {
		statusServer := startStatusServer(scrapeStatusAddr, tracker, meta, logger)
		defer statusServer.Close() //nolint:errcheck
	}

	scrapeCfg := cfg.ScrapeConfig(crawlID)
	scrapeCfg.Force = scrapeForce
	orch := scrapeorch.New(blobs, meta, limiter, fetcher, sink, logger, scrapeCfg)

	counters, err := orch.Run(ctx, it)
	renderer.Done()
	if err != nil {
		return exitError("scrape failed", err)
	}

	logger.Info("scrape complete",
		zap.String("crawl_id", crawlID),
		zap.Int64("saved", counters.Saved),
		zap.Int64("skipped", counters.Skipped),
		zap.Int64("failed", counters.Failed),
		zap.Int64("discovered", counters.Discovered))
	return nil
}

// renderingSink forwards every progress report to both the in-memory
// tracker (for the status server) and the terminal renderer.
type renderingSink struct {
	tracker  *progress.Tracker
	renderer *progress.TerminalRenderer
}

func (s *renderingSink) Report(c scrapeorch.Counters) {
	s.tracker.Report(c)
	s.renderer.Render(s.tracker.Snapshot())
}
