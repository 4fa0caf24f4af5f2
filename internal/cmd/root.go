// Package cmd implements the command-line surface: one file per
// subcommand, flags registered in init(), matching the teacher's
// command-per-file layout.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/config"
	"github.com/superdoc-dev/docx-corpus/internal/obslog"
)

// Exit codes per §6.5: two-code scheme, no exit-code taxonomy beyond it.
const (
	ExitOK     = 0
	ExitFailed = 1
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "docx-corpus",
	Short: "Build a deduplicated, content-addressed DOCX corpus from a web archive crawl",
	Long: `docx-corpus discovers, fetches, validates, and stores deduplicated .docx
files from a periodic public web archive crawl, extracts their text through
an external subprocess pool, and generates a manifest of every stored id.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")
}

// Execute runs the command tree under ctx (cancelled on SIGINT/SIGTERM by
// main.go) and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailed
	}
	return ExitOK
}

// loadConfig loads environment configuration and builds the logger used
// for the remainder of the command, honoring --log-level as the final
// override.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	logger, err := obslog.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// exitError wraps err so Execute reports it with the §6.5 "Error: " prefix
// while preserving the original error for %w-based tests.
func exitError(message string, err error) error {
	return fmt.Errorf("%s: %w", message, err)
}
