// Command docx-corpus assembles a deduplicated, content-addressed corpus
// of .docx files harvested from a periodic public web archive crawl.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/superdoc-dev/docx-corpus/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(cmd.Execute(ctx))
}
