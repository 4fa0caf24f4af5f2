package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// TerminalRenderer redraws one status line in place on an interactive
// terminal (carriage return + clear-line), or appends a plain line
// otherwise so redirected output and CI logs stay readable.
type TerminalRenderer struct {
	out         io.Writer
	interactive bool
}

// NewTerminalRenderer inspects w for terminal-ness. Terminal detection
// only applies when w is an *os.File; any other io.Writer (a buffer in
// tests, a log file) is treated as non-interactive.
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd())
	}
	return &TerminalRenderer{out: w, interactive: interactive}
}

// Render writes one status line for snap.
func (r *TerminalRenderer) Render(snap Snapshot) {
	line := fmt.Sprintf(
		"saved=%s skipped=%s failed=%s discovered=%s elapsed=%s rps=%.1f",
		humanize.Comma(snap.Saved),
		humanize.Comma(snap.Skipped),
		humanize.Comma(snap.Failed),
		humanize.Comma(snap.Discovered),
		time.Duration(snap.ElapsedSeconds*float64(time.Second)).Round(time.Second),
		snap.RecordsPerSec,
	)
	if r.interactive {
		fmt.Fprintf(r.out, "\r\x1b[K%s", line)
		return
	}
	fmt.Fprintln(r.out, line)
}

// Done terminates the redrawn line with a newline so later output
// doesn't overwrite the final status.
func (r *TerminalRenderer) Done() {
	if r.interactive {
		fmt.Fprintln(r.out)
	}
}
