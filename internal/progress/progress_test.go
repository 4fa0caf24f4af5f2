package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/superdoc-dev/docx-corpus/internal/scrapeorch"
)

func TestTrackerSnapshotComputesThroughput(t *testing.T) {
	tr := NewTracker()
	tr.started = time.Now().Add(-2 * time.Second)
	tr.Report(scrapeorch.Counters{Saved: 4, Skipped: 1, Failed: 0, Discovered: 10})

	snap := tr.Snapshot()
	assert.Equal(t, int64(4), snap.Saved)
	assert.Equal(t, int64(10), snap.Discovered)
	assert.InDelta(t, 2.0, snap.ElapsedSeconds, 0.5)
	assert.InDelta(t, 5.0, snap.RecordsPerSec, 1.0)
}

func TestTrackerSnapshotZeroDiscoveredIsZeroThroughput(t *testing.T) {
	tr := NewTracker()
	snap := tr.Snapshot()
	assert.Equal(t, int64(0), snap.Discovered)
	assert.Equal(t, float64(0), snap.RecordsPerSec)
}

func TestTrackerIsConcurrencySafe(t *testing.T) {
	tr := NewTracker()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			tr.Report(scrapeorch.Counters{Saved: int64(i)})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = tr.Snapshot()
	}
	<-done
}
