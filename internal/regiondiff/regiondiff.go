// Package regiondiff filters a pixel list down to the writes the canvas does
// not already show, querying the service one region at a time.
//
// Checks fail open: when a region cannot be read (throttled, non-200, bad
// body, transport error, timeout) every pixel in it is kept.
package regiondiff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/platform/clock"
)

// Region outcomes reported to the Observer.
const (
	OutcomeChecked     = "checked"
	OutcomeRateLimited = "rate_limited"
	OutcomeHTTPError   = "http_error"
	OutcomeFailed      = "failed"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimitWait  = 2 * time.Second
	DefaultRegionPause    = 200 * time.Millisecond
)

// Observer receives the outcome of every region check.
type Observer interface {
	RegionChecked(outcome string)
}

// Config configures a Checker. BaseURL is the API root, e.g.
// "https://solanaplace.fun/api".
type Config struct {
	BaseURL        string
	Cookie         string
	Client         *http.Client
	RegionSize     int
	RequestTimeout time.Duration
	RateLimitWait  time.Duration
	RegionPause    time.Duration
	Clock          clock.Clock
	Observer       Observer
	Logger         *slog.Logger
}

// Checker performs region diffs against one canvas service.
type Checker struct {
	cfg Config
}

// New builds a Checker, filling unset fields with defaults.
func New(cfg Config) *Checker {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.RegionSize <= 0 {
		cfg.RegionSize = canvas.DefaultRegionSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultRateLimitWait
	}
	if cfg.RegionPause <= 0 {
		cfg.RegionPause = DefaultRegionPause
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Checker{cfg: cfg}
}

type regionResponse struct {
	Pixels []canvas.PixelWrite `json:"pixels"`
}

// FilterNeeded returns the pixels whose exact color is not already present,
// in region order, plus the number found already correct. Regions are
// checked sequentially with a pause between them.
//
// A cancelled ctx is not a failed region: the scan stops and ctx.Err() is
// returned. The pixels returned alongside it keep every unchecked region
// whole and must not be taken as a diff.
func (c *Checker) FilterNeeded(ctx context.Context, pixels []canvas.PixelWrite) ([]canvas.PixelWrite, int, error) {
	if len(pixels) == 0 {
		return []canvas.PixelWrite{}, 0, nil
	}
	regions := canvas.GroupRegions(pixels, c.cfg.RegionSize)
	c.cfg.Logger.Info("checking regions",
		slog.Int("regions", len(regions)),
		slog.Int("pixels", len(pixels)))

	needed := make([]canvas.PixelWrite, 0, len(pixels))
	skipped := 0
	for i, region := range regions {
		if ctx.Err() != nil {
			needed = append(needed, region.Pixels...)
			continue
		}

		keep, outcome := c.checkRegion(ctx, region)
		skipped += len(region.Pixels) - len(keep)
		needed = append(needed, keep...)
		if c.cfg.Observer != nil {
			c.cfg.Observer.RegionChecked(outcome)
		}

		if outcome == OutcomeRateLimited {
			_ = c.cfg.Clock.Sleep(ctx, c.cfg.RateLimitWait)
		}
		if i < len(regions)-1 {
			_ = c.cfg.Clock.Sleep(ctx, c.cfg.RegionPause)
		}
	}

	if err := ctx.Err(); err != nil {
		c.cfg.Logger.Warn("region check interrupted",
			slog.Int("skipped", skipped),
			slog.String("error", err.Error()))
		return needed, skipped, err
	}
	c.cfg.Logger.Info("region check complete",
		slog.Int("needed", len(needed)),
		slog.Int("skipped", skipped))
	return needed, skipped, nil
}

func (c *Checker) checkRegion(ctx context.Context, r canvas.Region) ([]canvas.PixelWrite, string) {
	existing, status, err := c.fetch(ctx, r)
	switch {
	case err != nil:
		c.cfg.Logger.Warn("region check failed, keeping region",
			slog.String("region", regionPath(r)),
			slog.String("error", err.Error()))
		return r.Pixels, OutcomeFailed
	case status == http.StatusTooManyRequests:
		c.cfg.Logger.Warn("region check rate limited, keeping region",
			slog.String("region", regionPath(r)))
		return r.Pixels, OutcomeRateLimited
	case status != http.StatusOK:
		c.cfg.Logger.Warn("region check unavailable, keeping region",
			slog.String("region", regionPath(r)),
			slog.Int("status", status))
		return r.Pixels, OutcomeHTTPError
	}

	have := make(map[[2]int]canvas.Color, len(existing))
	for _, p := range existing {
		have[[2]int{p.X, p.Y}] = p.Color
	}
	keep := make([]canvas.PixelWrite, 0, len(r.Pixels))
	for _, p := range r.Pixels {
		if color, ok := have[[2]int{p.X, p.Y}]; ok && color == p.Color {
			continue
		}
		keep = append(keep, p)
	}
	return keep, OutcomeChecked
}

// fetch returns the pixels present in r. A non-200 status is reported with a
// nil error.
func (c *Checker) fetch(ctx context.Context, r canvas.Region) ([]canvas.PixelWrite, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+regionPath(r), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var body regionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode region: %w", err)
	}
	return body.Pixels, resp.StatusCode, nil
}

func regionPath(r canvas.Region) string {
	return fmt.Sprintf("/pixels/region/%d/%d/%d/%d", r.X1, r.Y1, r.X2, r.Y2)
}
