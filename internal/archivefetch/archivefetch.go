// Package archivefetch retrieves one byte range of a Common Crawl archive
// container and parses the nested archive-record / HTTP-response format
// inside it.
package archivefetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/superdoc-dev/docx-corpus/internal/cdxstream"
	"github.com/superdoc-dev/docx-corpus/internal/ratelimit"
)

const dataBaseURL = "https://data.commoncrawl.org"

const defaultUserAgent = "docx-corpus/1.0 (+https://github.com/superdoc-dev/docx-corpus)"

// Options tunes one Fetcher. Zero values fall back to the spec defaults.
type Options struct {
	Timeout     time.Duration
	RetryBudget int
	UserAgent   string
	// MaxBackoff caps the exponential retry wait. Zero means uncapped.
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.RetryBudget <= 0 {
		o.RetryBudget = 3
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// Result is a successfully fetched and parsed archive record.
type Result struct {
	Content       []byte
	HTTPStatus    int
	ContentType   string
	ContentLength int
}

// RateLimitedError is returned for 403, 429, and 503 responses once the
// retry budget (or, for 403, the first attempt) is exhausted.
type RateLimitedError struct {
	Status int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("archivefetch: rate limited (status %d)", e.Status)
}

// HTTPError is any other non-2xx response. Never retried.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("archivefetch: unexpected status %d", e.Status)
}

// TimeoutError wraps a cancelled or network-level failure.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("archivefetch: timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ParseError is a malformed two-tier archive record: a missing CRLF-CRLF
// pair at either tier.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("archivefetch: parse error: %s", e.Reason) }

var statusLineRe = regexp.MustCompile(`HTTP/\d+(?:\.\d+)?\s+(\d+)`)

var backoffRetryable = map[int]bool{429: true, 503: true}

// Fetcher issues range-gets against the Common Crawl data host and reports
// outcomes to a shared rate limiter.
type Fetcher struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	opts    Options

	// backoff computes the wait before retry attempt n (0-indexed). Default
	// is 2^n seconds; overridden in tests to avoid real sleeps.
	backoff func(attempt int) time.Duration
}

// New builds a Fetcher. client may be nil (http.DefaultClient is used).
func New(client *http.Client, limiter *ratelimit.Limiter, opts Options) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	opts = opts.withDefaults()
	return &Fetcher{
		client:  client,
		limiter: limiter,
		opts:    opts,
		backoff: boundedExponentialBackoff(opts.MaxBackoff),
	}
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// boundedExponentialBackoff returns a backoff func capped at max. A
// non-positive max leaves the backoff uncapped.
func boundedExponentialBackoff(max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := exponentialBackoff(attempt)
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// Fetch retrieves the byte range named by record and returns its parsed
// archive record. Every failure is one of the typed errors above.
func (f *Fetcher) Fetch(ctx context.Context, record cdxstream.CdxRecord) (Result, error) {
	return f.fetchAgainst(ctx, dataBaseURL+"/"+record.Filename, record)
}

// fetchAgainst is Fetch with the container URL split out so tests can
// point it at an httptest.Server instead of the real data host.
func (f *Fetcher) fetchAgainst(ctx context.Context, url string, record cdxstream.CdxRecord) (Result, error) {
	offset, err := strconv.ParseInt(record.Offset, 10, 64)
	if err != nil {
		return Result{}, &ParseError{Reason: "invalid offset: " + record.Offset}
	}
	length, err := strconv.ParseInt(record.Length, 10, 64)
	if err != nil {
		return Result{}, &ParseError{Reason: "invalid length: " + record.Length}
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)

	var lastErr error
	for attempt := 0; attempt <= f.opts.RetryBudget; attempt++ {
		compressed, status, err := f.attempt(ctx, url, rangeHeader)
		if err != nil {
			f.limiter.ReportError(0)
			lastErr = &TimeoutError{Err: err}
			if ctx.Err() != nil || attempt >= f.opts.RetryBudget {
				return Result{}, lastErr
			}
			if waitErr := f.wait(ctx, attempt); waitErr != nil {
				return Result{}, &TimeoutError{Err: waitErr}
			}
			continue
		}

		switch {
		case status == http.StatusOK || status == http.StatusPartialContent:
			result, err := f.parse(compressed)
			if err != nil {
				return Result{}, err
			}
			f.limiter.ReportSuccess()
			return result, nil

		case backoffRetryable[status]:
			f.limiter.ReportError(status)
			lastErr = &RateLimitedError{Status: status}
			if attempt >= f.opts.RetryBudget {
				return Result{}, lastErr
			}
			if waitErr := f.wait(ctx, attempt); waitErr != nil {
				return Result{}, &TimeoutError{Err: waitErr}
			}

		case status == http.StatusForbidden:
			f.limiter.ReportError(status)
			return Result{}, &RateLimitedError{Status: status}

		default:
			return Result{}, &HTTPError{Status: status}
		}
	}
	return Result{}, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url, rangeHeader string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

func (f *Fetcher) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(f.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parse decompresses the range body (falling back to the raw bytes on
// gzip failure) and splits it into archive-headers / HTTP-response /
// body per §6.1.
func (f *Fetcher) parse(compressed []byte) (Result, error) {
	data := gunzipOrRaw(compressed)

	first := bytes.Index(data, []byte("\r\n\r\n"))
	if first < 0 {
		return Result{}, &ParseError{Reason: "missing first CRLFCRLF separator"}
	}
	rest := data[first+4:]

	second := bytes.Index(rest, []byte("\r\n\r\n"))
	if second < 0 {
		return Result{}, &ParseError{Reason: "missing second CRLFCRLF separator"}
	}
	httpSection := rest[:second]
	body := rest[second+4:]

	return Result{
		Content:       body,
		HTTPStatus:    extractStatus(httpSection),
		ContentType:   extractContentType(httpSection),
		ContentLength: len(body),
	}, nil
}

func gunzipOrRaw(data []byte) []byte {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}

func extractStatus(httpSection []byte) int {
	m := statusLineRe.FindSubmatch(httpSection)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}

func extractContentType(httpSection []byte) string {
	for _, line := range bytes.Split(httpSection, []byte("\r\n")) {
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(string(line[:idx]))
		if strings.EqualFold(name, "Content-Type") {
			return strings.TrimSpace(string(line[idx+1:]))
		}
	}
	return ""
}
