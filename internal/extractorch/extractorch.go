// Package extractorch drives a pool of long-lived external text-extraction
// subprocesses, each accepting a stream of document paths over a
// line-delimited JSON protocol, with per-document timeout and stall
// recovery.
package extractorch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
	"github.com/superdoc-dev/docx-corpus/internal/metastore"
)

// Config tunes one extraction run.
type Config struct {
	Command            string
	Args               []string
	Concurrency        int
	QueueLimit         int
	PerDocTimeout      time.Duration
	StallCheckInterval time.Duration
	StallThreshold     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 500
	}
	if c.PerDocTimeout <= 0 {
		c.PerDocTimeout = 30 * time.Second
	}
	if c.StallCheckInterval <= 0 {
		c.StallCheckInterval = 10 * time.Second
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 60 * time.Second
	}
	return c
}

// Stats summarizes one Run.
type Stats struct {
	Total     int64
	Processed int64
}

// docResponse is the extractor's per-document reply.
type docResponse struct {
	Success    bool            `json:"success"`
	Text       string          `json:"text"`
	WordCount  int64           `json:"wordCount"`
	CharCount  int64           `json:"charCount"`
	TableCount int64           `json:"tableCount"`
	ImageCount int64           `json:"imageCount"`
	Extraction json.RawMessage `json:"extraction,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type readinessLine struct {
	Ready       bool `json:"ready"`
	Initialized bool `json:"initialized"`
}

// Orchestrator owns the blob store and metadata store and runs a pool of
// managed extractor subprocesses against the unextracted backlog.
type Orchestrator struct {
	blobs  blobstore.Store
	meta   *metastore.Store
	logger *zap.Logger
	cfg    Config
}

// New builds an Orchestrator. logger may be nil (no-op logging).
func New(blobs blobstore.Store, meta *metastore.Store, logger *zap.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{blobs: blobs, meta: meta, logger: logger, cfg: cfg.withDefaults()}
}

// Run pulls the current unextracted backlog (bounded by QueueLimit) into a
// local queue, spawns Concurrency extractor subprocesses, and drains the
// queue across them. It returns once the queue is drained.
func (o *Orchestrator) Run(ctx context.Context) (Stats, error) {
	rows, err := o.meta.GetUnextracted(ctx, o.cfg.QueueLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("load unextracted backlog: %w", err)
	}
	if len(rows) == 0 {
		return Stats{}, nil
	}

	jobs := make(chan metastore.Row, len(rows))
	for _, r := range rows {
		jobs <- r
	}
	close(jobs)

	workers := make([]*managedWorker, 0, o.cfg.Concurrency)
	for i := 0; i < o.cfg.Concurrency; i++ {
		w, err := o.spawnManaged()
		if err != nil {
			for _, started := range workers {
				started.kill()
			}
			return Stats{}, fmt.Errorf("spawn extractor worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}
	defer func() {
		for _, w := range workers {
			w.kill()
		}
	}()

	var processed atomic.Int64
	total := int64(len(rows))

	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go o.runStallWatchdog(watchdogCtx, workers, &processed, total)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *managedWorker) {
			defer wg.Done()
			for row := range jobs {
				o.processOne(ctx, w, row)
				processed.Add(1)
			}
		}(w)
	}
	wg.Wait()

	return Stats{Total: total, Processed: processed.Load()}, nil
}

func (o *Orchestrator) spawnManaged() (*managedWorker, error) {
	m := &managedWorker{cfg: o.cfg}
	if err := m.respawn(); err != nil {
		return nil, err
	}
	return m, nil
}

// processOne runs the per-document pipeline under the configured deadline.
// If the deadline fires first, the worker's subprocess is killed and
// replaced before the next document is taken, per §4.9.
func (o *Orchestrator) processOne(ctx context.Context, w *managedWorker, row metastore.Row) {
	docCtx, cancel := context.WithTimeout(ctx, o.cfg.PerDocTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.runPipeline(docCtx, w, row) }()

	select {
	case err := <-done:
		if err != nil {
			o.recordError(ctx, row.ID, err.Error())
		}
	case <-docCtx.Done():
		if err := w.respawn(); err != nil {
			o.logger.Error("failed to respawn extractor after timeout", zap.String("id", row.ID), zap.Error(err))
		}
		o.recordError(ctx, row.ID, "extraction timed out")
	}
}

func (o *Orchestrator) runPipeline(ctx context.Context, w *managedWorker, row metastore.Row) error {
	data, err := o.blobs.Read(ctx, documentKey(row.ID))
	if err != nil {
		return fmt.Errorf("read document blob: %w", err)
	}
	if data == nil {
		return fmt.Errorf("document blob missing for %s", row.ID)
	}

	tmp, err := os.CreateTemp("", "extract-*.docx")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	resp, err := w.extract(tmpPath)
	if err != nil {
		return fmt.Errorf("extractor request: %w", err)
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}

	if err := o.blobs.Write(ctx, extractedTextKey(row.ID), []byte(resp.Text)); err != nil {
		return fmt.Errorf("write extracted text: %w", err)
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal extraction json: %w", err)
	}
	if err := o.blobs.Write(ctx, extractedJSONKey(row.ID), payload); err != nil {
		return fmt.Errorf("write extracted json: %w", err)
	}

	return o.meta.UpdateExtraction(ctx, row.ID, metastore.ExtractionResult{
		WordCount:  resp.WordCount,
		CharCount:  resp.CharCount,
		TableCount: resp.TableCount,
		ImageCount: resp.ImageCount,
	}, time.Now().UTC())
}

func (o *Orchestrator) recordError(ctx context.Context, id, message string) {
	if err := o.meta.UpdateExtractionError(ctx, id, message); err != nil {
		o.logger.Error("failed to record extraction error", zap.String("id", id), zap.Error(err))
	}
}

// runStallWatchdog restarts every worker if the processed count hasn't
// advanced for StallThreshold while work remains, checking every
// StallCheckInterval.
func (o *Orchestrator) runStallWatchdog(ctx context.Context, workers []*managedWorker, processed *atomic.Int64, total int64) {
	ticker := time.NewTicker(o.cfg.StallCheckInterval)
	defer ticker.Stop()

	lastCount := processed.Load()
	lastChange := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := processed.Load()
			if current >= total {
				return
			}
			if current != lastCount {
				lastCount = current
				lastChange = time.Now()
				continue
			}
			if time.Since(lastChange) < o.cfg.StallThreshold {
				continue
			}
			o.logger.Warn("extraction stalled, restarting all workers", zap.Int64("processed", current), zap.Int64("total", total))
			for _, w := range workers {
				if err := w.respawn(); err != nil {
					o.logger.Error("failed to restart stalled extractor worker", zap.Error(err))
				}
			}
			lastChange = time.Now()
		}
	}
}

func documentKey(id string) string     { return "documents/" + id + ".docx" }
func extractedTextKey(id string) string { return "extracted/" + id + ".txt" }
func extractedJSONKey(id string) string { return "extracted/" + id + ".json" }

// managedWorker owns one subprocess slot, allowing it to be killed and
// replaced in place without the caller needing to know.
type managedWorker struct {
	mu   sync.Mutex
	proc *subprocess
	cfg  Config
}

func (m *managedWorker) respawn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc != nil {
		m.proc.kill()
		m.proc = nil
	}
	p, err := spawnSubprocess(m.cfg)
	if err != nil {
		return err
	}
	m.proc = p
	return nil
}

func (m *managedWorker) extract(path string) (docResponse, error) {
	m.mu.Lock()
	proc := m.proc
	m.mu.Unlock()
	if proc == nil {
		return docResponse{}, errors.New("extractor worker not running")
	}
	return proc.extract(path)
}

func (m *managedWorker) kill() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proc != nil {
		m.proc.kill()
		m.proc = nil
	}
}

// subprocess is one live extractor process and its two pipes.
type subprocess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func spawnSubprocess(cfg Config) (*subprocess, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("extractor stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("extractor stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start extractor: %w", err)
	}

	s := &subprocess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}
	if err := s.awaitReady(); err != nil {
		s.kill()
		return nil, err
	}
	return s, nil
}

func (s *subprocess) awaitReady() error {
	readyLine, err := readLine(s.stdout)
	if err != nil {
		return fmt.Errorf("read ready signal: %w", err)
	}
	var ready readinessLine
	if err := json.Unmarshal(readyLine, &ready); err != nil || !ready.Ready {
		return fmt.Errorf("extractor did not report ready: %s", readyLine)
	}

	initLine, err := readLine(s.stdout)
	if err != nil {
		return fmt.Errorf("read initialized signal: %w", err)
	}
	var init readinessLine
	if err := json.Unmarshal(initLine, &init); err != nil || !init.Initialized {
		return fmt.Errorf("extractor did not report initialized: %s", initLine)
	}
	return nil
}

func (s *subprocess) extract(path string) (docResponse, error) {
	if _, err := io.WriteString(s.stdin, path+"\n"); err != nil {
		return docResponse{}, fmt.Errorf("write job line: %w", err)
	}
	line, err := readLine(s.stdout)
	if err != nil {
		return docResponse{}, fmt.Errorf("read response line: %w", err)
	}
	var resp docResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return docResponse{}, fmt.Errorf("parse extractor response: %w", err)
	}
	return resp, nil
}

func (s *subprocess) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}
