package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/superdoc-dev/docx-corpus/internal/config"
)

var (
	doctorExtractCommand string
	doctorKeyPattern     string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate that the configured backends are reachable",
	Long: `doctor checks that the configured blob store and metadata store can
be opened and queried before a long scrape or extract run, and validates
any --key-pattern glob. Opening the stores creates the local storage
directory and the metadata database and schema if they are missing.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorExtractCommand, "extract-command", "", "also verify this extractor executable exists")
	doctorCmd.Flags().StringVar(&doctorKeyPattern, "key-pattern", "", "validate a doublestar glob pattern of the kind manifest --pattern accepts")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return exitError("configuration error", err)
	}
	defer logger.Sync() //nolint:errcheck

	total := 2
	if doctorExtractCommand != "" {
		total++
	}
	if doctorKeyPattern != "" {
		total++
	}

	fmt.Println("=== docx-corpus doctor ===")
	n := 1
	healthy := true

	healthy = report(n, total, "blob store", checkBlobStore(ctx, cfg)) && healthy
	n++

	healthy = report(n, total, "metadata store", checkMetaStore(ctx, cfg)) && healthy
	n++

	if doctorExtractCommand != "" {
		healthy = report(n, total, "extractor command", checkExtractCommand(doctorExtractCommand)) && healthy
		n++
	}

	if doctorKeyPattern != "" {
		healthy = report(n, total, "key pattern", checkKeyPattern(doctorKeyPattern)) && healthy
		n++
	}

	fmt.Println()
	if healthy {
		fmt.Println("All checks passed.")
		return nil
	}
	fmt.Println("One or more checks failed; see above.")
	return exitError("doctor checks failed", fmt.Errorf("one or more diagnostic checks failed"))
}

// report prints one numbered check's outcome and returns whether it
// passed.
func report(n, total int, label string, err error) bool {
	if err == nil {
		fmt.Printf("[%d/%d] %s... OK\n", n, total, label)
		return true
	}
	fmt.Printf("[%d/%d] %s... FAILED: %v\n", n, total, label, err)
	return false
}

func checkBlobStore(ctx context.Context, cfg config.Config) error {
	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	// Exists is a read-only probe; the key need not exist.
	_, err = blobs.Exists(ctx, "doctor-probe")
	return err
}

func checkMetaStore(ctx context.Context, cfg config.Config) error {
	meta, err := openMetaStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer meta.Close() //nolint:errcheck
	return meta.CheckHealth(ctx)
}

func checkExtractCommand(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not an executable", path)
	}
	return nil
}

func checkKeyPattern(pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid doublestar pattern: %s", pattern)
	}
	return nil
}
