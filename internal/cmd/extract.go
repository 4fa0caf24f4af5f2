package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/extractorch"
)

var (
	extractCommand     string
	extractArgs        string
	extractWorkers     int
	extractBatch       int
	extractStats       bool
	extractResetErrors bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Drive the external text-extraction subprocess pool over unextracted documents",
	RunE:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVar(&extractCommand, "command", "", "path to the extractor executable (required unless --stats)")
	extractCmd.Flags().StringVar(&extractArgs, "args", "", "comma-separated extra arguments passed to the extractor")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "override EXTRACT_WORKERS")
	extractCmd.Flags().IntVar(&extractBatch, "batch-size", 0, "override EXTRACT_BATCH_SIZE")
	extractCmd.Flags().BoolVar(&extractStats, "stats", false, "print extraction counts and exit without extracting")
	extractCmd.Flags().BoolVar(&extractResetErrors, "reset-extraction-errors", false, "clear extraction_error on every errored row, making them eligible for retry, then exit")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	runID := uuid.New().String()

	cfg, logger, err := loadConfig()
	if err != nil {
		return exitError("configuration error", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	defer logger.Sync() //nolint:errcheck

	meta, err := openMetaStore(ctx, cfg)
	if err != nil {
		return exitError("open metadata store", err)
	}
	defer meta.Close() //nolint:errcheck

	if extractResetErrors {
		n, err := meta.ResetExtractionErrors(ctx)
		if err != nil {
			return exitError("reset extraction errors", err)
		}
		fmt.Printf("cleared extraction_error on %d row(s)\n", n)
		return nil
	}

	if extractStats {
		stats, err := meta.ExtractionStats(ctx)
		if err != nil {
			return exitError("load extraction stats", err)
		}
		fmt.Printf("uploaded=%d extracted=%d errored=%d unextracted=%d\n",
			stats.Uploaded, stats.Extracted, stats.Errored, stats.Unextracted)
		return nil
	}

	if extractCommand == "" {
		return exitError("invalid flags", fmt.Errorf("--command is required"))
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return exitError("open blob store", err)
	}

	if extractWorkers > 0 {
		cfg.ExtractWorkers = extractWorkers
	}
	if extractBatch > 0 {
		cfg.ExtractBatchSize = extractBatch
	}

	var cmdArgs []string
	if extractArgs != "" {
		cmdArgs = strings.Split(extractArgs, ",")
	}

	orch := extractorch.New(blobs, meta, logger, cfg.ExtractorConfig(extractCommand, cmdArgs))
	stats, err := orch.Run(ctx)
	if err != nil {
		return exitError("extraction failed", err)
	}

	logger.Info("extraction complete",
		zap.Int64("total", stats.Total),
		zap.Int64("processed", stats.Processed))
	return nil
}
