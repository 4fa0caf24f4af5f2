// Package ratelimit implements a token bucket whose rate adapts to upstream
// feedback, shared across every worker of one crawl.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config tunes an adaptive Limiter. Zero values fall back to the defaults
// below.
type Config struct {
	InitialRps             float64
	MinRps                 float64
	MaxRps                 float64
	BackoffFactor          float64
	RecoveryFactor         float64
	SuccessStreakThreshold int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialRps:             5,
		MinRps:                 0.5,
		MaxRps:                 20,
		BackoffFactor:          0.8,
		RecoveryFactor:         1.05,
		SuccessStreakThreshold: 100,
	}
}

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 0.8
	}
	if c.RecoveryFactor <= 0 {
		c.RecoveryFactor = 1.05
	}
	if c.SuccessStreakThreshold <= 0 {
		c.SuccessStreakThreshold = 100
	}
	if c.MaxRps <= 0 {
		c.MaxRps = DefaultConfig().MaxRps
	}
	if c.MinRps <= 0 {
		c.MinRps = DefaultConfig().MinRps
	}
	if c.InitialRps <= 0 {
		c.InitialRps = DefaultConfig().InitialRps
	}
	return c
}

// backoffStatus are the upstream statuses that shrink the rate.
var backoffStatus = map[int]bool{403: true, 429: true, 503: true}

// Stats is a point-in-time snapshot of the limiter's feedback counters.
type Stats struct {
	CurrentRps      float64
	Successes       int64
	Errors          int64
	SuccessStreak   int
	BackoffEvents   int64
	RecoveryEvents  int64
}

// Limiter is a mutable-rate token bucket shared by every worker of one
// crawl. All suspension happens inside Acquire; feedback calls never block.
type Limiter struct {
	cfg Config

	mu            sync.Mutex
	limiter       *rate.Limiter
	currentRps    float64
	successStreak int
	successes     int64
	errors        int64
	backoffEvents int64
	recoverEvents int64
}

// New builds a Limiter starting at cfg.InitialRps. Burst is one second's
// worth of tokens at the current rate.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:        cfg,
		currentRps: cfg.InitialRps,
	}
	l.limiter = rate.NewLimiter(rate.Limit(cfg.InitialRps), burst(cfg.InitialRps))
	return l
}

func burst(rps float64) int {
	b := int(rps)
	if b < 1 {
		b = 1
	}
	return b
}

// Acquire suspends until one token is available. Cancelling ctx leaves the
// bucket's token count unchanged.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	limiter := l.limiter
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// ReportSuccess increments the success counters; once the consecutive
// success streak reaches the configured threshold, the rate is multiplied
// by RecoveryFactor (clamped to MaxRps) and the streak resets.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successes++
	l.successStreak++
	if l.successStreak < l.cfg.SuccessStreakThreshold {
		return
	}
	l.successStreak = 0
	l.recoverEvents++
	next := l.currentRps * l.cfg.RecoveryFactor
	if next > l.cfg.MaxRps {
		next = l.cfg.MaxRps
	}
	l.setRateLocked(next)
}

// ReportError resets the success streak. If status is one the upstream
// sends back under sustained pressure (403, 429, 503), the rate is
// multiplied by BackoffFactor and clamped to MinRps. Any other status
// (e.g. 404, a network error represented as 0) only resets the streak.
func (l *Limiter) ReportError(status int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors++
	l.successStreak = 0
	if !backoffStatus[status] {
		return
	}
	l.backoffEvents++
	next := l.currentRps * l.cfg.BackoffFactor
	if next < l.cfg.MinRps {
		next = l.cfg.MinRps
	}
	l.setRateLocked(next)
}

// setRateLocked updates currentRps and the underlying limiter. Caller must
// hold mu.
func (l *Limiter) setRateLocked(rps float64) {
	l.currentRps = rps
	l.limiter.SetLimit(rate.Limit(rps))
	l.limiter.SetBurst(burst(rps))
}

// CurrentRps returns the limiter's current rate.
func (l *Limiter) CurrentRps() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRps
}

// Stats returns a snapshot of the feedback counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		CurrentRps:     l.currentRps,
		Successes:      l.successes,
		Errors:         l.errors,
		SuccessStreak:  l.successStreak,
		BackoffEvents:  l.backoffEvents,
		RecoveryEvents: l.recoverEvents,
	}
}
