// Package governor paces pixel submissions: a flat minimum spacing between
// writes, a sliding-window burst cap, and a small random jitter.
package governor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"pixel-embedder/internal/platform/clock"
)

// Defaults for the conservative placement policy.
const (
	DefaultUniversalDelay    = 400 * time.Millisecond
	DefaultBurstLimit        = 15
	DefaultBurstWindow       = 10 * time.Second
	DefaultBurstSafetyBuffer = 2 * time.Second

	// rateWindow is the horizon of the per-minute tracker used for display.
	rateWindow = time.Minute
)

// Config configures a Governor. Zero fields take the defaults.
type Config struct {
	UniversalDelay    time.Duration
	BurstLimit        int
	BurstWindow       time.Duration
	BurstSafetyBuffer time.Duration
	// JitterMin and JitterMax bound the extra random delay added to every slot.
	JitterMin time.Duration
	JitterMax time.Duration
}

func (c *Config) defaults() {
	if c.UniversalDelay <= 0 {
		c.UniversalDelay = DefaultUniversalDelay
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = DefaultBurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}
	if c.BurstSafetyBuffer < 0 {
		c.BurstSafetyBuffer = 0
	}
	if c.JitterMin == 0 && c.JitterMax == 0 {
		c.JitterMin = 50 * time.Millisecond
		c.JitterMax = 150 * time.Millisecond
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
}

// Governor decides when the next submission may go out. AwaitSlot is called
// by a single drain loop; the read accessors are safe from other goroutines.
type Governor struct {
	cfg    Config
	clock  clock.Clock
	jitter func(lo, hi time.Duration) time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	requests []time.Time // per-minute tracker
	burst    []time.Time // burst-window tracker
	last     time.Time   // zero until the first slot
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithJitter replaces the uniform random jitter source.
func WithJitter(f func(lo, hi time.Duration) time.Duration) Option {
	return func(g *Governor) { g.jitter = f }
}

// WithLogger sets the logger used for burst-protection messages.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.log = l }
}

// New returns a Governor enforcing cfg.
func New(cfg Config, opts ...Option) *Governor {
	cfg.defaults()
	g := &Governor{
		cfg:    cfg,
		clock:  clock.Real{},
		jitter: uniform,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Governor) Config() Config { return g.cfg }

// AwaitSlot suspends until one more submission is allowed, then records the
// slot as taken. It returns early with ctx.Err() if ctx is done.
func (g *Governor) AwaitSlot(ctx context.Context) error {
	now := g.clock.Now()

	g.mu.Lock()
	g.expireLocked(now)
	var burstWait time.Duration
	if len(g.burst) >= g.cfg.BurstLimit {
		burstWait = g.cfg.BurstWindow - now.Sub(oldest(g.burst)) + g.cfg.BurstSafetyBuffer
	}
	g.mu.Unlock()

	if burstWait > 0 {
		g.log.Info("burst protection", slog.Int64("wait_ms", burstWait.Milliseconds()))
		if err := g.clock.Sleep(ctx, burstWait); err != nil {
			return err
		}
		now = g.clock.Now()
		g.mu.Lock()
		g.expireLocked(now)
		g.mu.Unlock()
	}

	g.mu.Lock()
	last := g.last
	if n := len(g.requests); n > 0 && g.requests[n-1].After(last) {
		last = g.requests[n-1]
	}
	g.mu.Unlock()

	// Spacing counts from the later of the last granted slot and the last
	// acknowledged submission.
	if !last.IsZero() {
		if since := now.Sub(last); since < g.cfg.UniversalDelay {
			if err := g.clock.Sleep(ctx, g.cfg.UniversalDelay-since); err != nil {
				return err
			}
		}
	}

	if err := g.clock.Sleep(ctx, g.jitter(g.cfg.JitterMin, g.cfg.JitterMax)); err != nil {
		return err
	}

	g.mu.Lock()
	g.last = g.clock.Now()
	g.mu.Unlock()
	return nil
}

// RecordSubmission appends the current time to both trackers. It is called
// once a submission attempt has been acknowledged.
func (g *Governor) RecordSubmission() {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, now)
	g.burst = append(g.burst, now)
	g.expireLocked(now)
}

// Reset clears both trackers and the last slot time.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = nil
	g.burst = nil
	g.last = time.Time{}
}

// ClearBurst empties the burst tracker. Used after the server reports a burst
// lockout, which is handled by a longer fixed cooldown instead.
func (g *Governor) ClearBurst() {
	g.mu.Lock()
	g.burst = nil
	g.mu.Unlock()
}

// BurstUsed returns how many submissions fall inside the current burst window.
func (g *Governor) BurstUsed() int {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.burst {
		if now.Sub(t) < g.cfg.BurstWindow {
			n++
		}
	}
	return n
}

// PerMinute returns how many submissions were recorded in the last minute.
func (g *Governor) PerMinute() int {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.requests {
		if now.Sub(t) < rateWindow {
			n++
		}
	}
	return n
}

// Submissions returns a copy of the per-minute tracker.
func (g *Governor) Submissions() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]time.Time, len(g.requests))
	copy(out, g.requests)
	return out
}

func (g *Governor) expireLocked(now time.Time) {
	g.requests = keepNewer(g.requests, now, rateWindow)
	g.burst = keepNewer(g.burst, now, g.cfg.BurstWindow)
}

// keepNewer drops timestamps at least window old. ts is ordered oldest first.
func keepNewer(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func oldest(ts []time.Time) time.Time {
	o := ts[0]
	for _, t := range ts[1:] {
		if t.Before(o) {
			o = t
		}
	}
	return o
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
