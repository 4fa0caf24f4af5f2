package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
	"github.com/superdoc-dev/docx-corpus/internal/manifestgen"
)

var (
	manifestPattern string
	manifestStats   bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Write a sorted manifest of every uploaded document id",
	RunE:  runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.Flags().StringVar(&manifestPattern, "pattern", "", "doublestar glob restricting which ids are included (e.g. 'ab*')")
	manifestCmd.Flags().BoolVar(&manifestStats, "stats", false, "also print extraction counts")
}

func runManifest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return exitError("configuration error", err)
	}
	defer logger.Sync() //nolint:errcheck

	var blobs blobstore.Store
	if cfg.UsesBlobAPI() {
		blobs, err = openBlobStore(ctx, cfg)
		if err != nil {
			return exitError("open blob store", err)
		}
	}

	meta, err := openMetaStore(ctx, cfg)
	if err != nil {
		return exitError("open metadata store", err)
	}
	defer meta.Close() //nolint:errcheck

	gen := manifestgen.New(meta, blobs, cfg.StoragePath)
	if manifestPattern != "" {
		gen, err = gen.WithIncludePattern(manifestPattern)
		if err != nil {
			return exitError("invalid pattern", err)
		}
	}

	res, err := gen.Generate(ctx)
	if err != nil {
		return exitError("generate manifest", err)
	}

	logger.Info("manifest written",
		zap.Int("count", res.Count),
		zap.String("path", res.LocalPath),
		zap.Bool("mirrored", res.Mirrored))
	fmt.Printf("wrote %d ids to %s (mirrored=%v)\n", res.Count, res.LocalPath, res.Mirrored)

	if manifestStats {
		stats, err := meta.ExtractionStats(ctx)
		if err != nil {
			return exitError("load extraction stats", err)
		}
		fmt.Printf("uploaded=%d extracted=%d errored=%d unextracted=%d\n",
			stats.Uploaded, stats.Extracted, stats.Errored, stats.Unextracted)
	}
	return nil
}
