// Package progress turns a crawl's raw Counters into point-in-time
// snapshots (elapsed time, throughput) and exposes them through a
// terminal line-redraw renderer and a minimal HTTP status server.
package progress

import (
	"sync"
	"time"

	"github.com/superdoc-dev/docx-corpus/internal/scrapeorch"
)

// Snapshot is a rendered view of one Counters report, with derived
// elapsed-time and throughput fields.
type Snapshot struct {
	Saved          int64   `json:"saved"`
	Skipped        int64   `json:"skipped"`
	Failed         int64   `json:"failed"`
	Discovered     int64   `json:"discovered"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	RecordsPerSec  float64 `json:"rps"`
}

// Tracker implements scrapeorch.ProgressSink, retaining only the latest
// counters snapshot and the run's start time.
type Tracker struct {
	mu      sync.RWMutex
	started time.Time
	latest  scrapeorch.Counters
}

// NewTracker starts the clock used for elapsed/throughput computation.
func NewTracker() *Tracker {
	return &Tracker{started: time.Now()}
}

// Report implements scrapeorch.ProgressSink.
func (t *Tracker) Report(c scrapeorch.Counters) {
	t.mu.Lock()
	t.latest = c
	t.mu.Unlock()
}

// Snapshot renders the current counters plus elapsed time and throughput
// (discovered records per elapsed second).
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	c := t.latest
	t.mu.RUnlock()

	elapsed := time.Since(t.started).Seconds()
	var rps float64
	if elapsed > 0 {
		rps = float64(c.Discovered) / elapsed
	}

	return Snapshot{
		Saved:          c.Saved,
		Skipped:        c.Skipped,
		Failed:         c.Failed,
		Discovered:     c.Discovered,
		ElapsedSeconds: elapsed,
		RecordsPerSec:  rps,
	}
}
