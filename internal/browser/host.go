// Package browser hosts the canvas page in Chrome via Rod. The page carries
// the user's logged-in session: pixel writes are dispatched through its own
// event handlers and its markup is read for the credit balance.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/credits"
	"pixel-embedder/internal/submit"
)

// DefaultPageURL is the canvas page.
const DefaultPageURL = "https://solanaplace.fun"

// ErrNoAnswer is returned by PlacePixel when the page neither confirmed nor
// rejected the write in time.
var ErrNoAnswer = errors.New("page did not answer")

// Config configures a Host.
type Config struct {
	// RemoteURL is the DevTools websocket URL of a running Chrome. Empty
	// launches a local headless Chrome.
	RemoteURL string
	PageURL   string
	// NavigateTimeout bounds the initial page load. Default 30s.
	NavigateTimeout time.Duration
	// EventTimeout bounds the in-page wait for a placement answer. Default 8s.
	EventTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.PageURL == "" {
		c.PageURL = DefaultPageURL
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = submit.DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Host owns one browser tab on the canvas page.
type Host struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
}

// Open connects to (or launches) Chrome, opens a stealth tab and loads the
// canvas page.
func Open(ctx context.Context, cfg Config) (*Host, error) {
	cfg.defaults()
	log := cfg.Logger
	h := &Host{cfg: cfg}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		log.Info("browser launched", slog.String("url", wsURL))
	} else {
		log.Info("browser connecting", slog.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		h.kill()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	h.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	h.page = page

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(cfg.PageURL); err != nil {
		h.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", cfg.PageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", slog.String("url", cfg.PageURL), slog.String("error", err.Error()))
	}
	log.Info("canvas page loaded", slog.String("url", cfg.PageURL))
	return h, nil
}

// placeScript dispatches placePixelFromScript and resolves with the page's
// answer: {ok:true}, {ok:false,error}, or {timeout:true}.
const placeScript = `(x, y, color, timeoutMs) => new Promise((resolve) => {
	let settled = false;
	const finish = (result) => {
		if (settled) return;
		settled = true;
		clearTimeout(timer);
		document.removeEventListener('pixelPlacedSuccess', onSuccess);
		document.removeEventListener('pixelPlacedError', onError);
		resolve(result);
	};
	const onSuccess = () => finish({ ok: true });
	const onError = (e) => finish({ ok: false, error: (e.detail && (e.detail.error || e.detail.message)) || '' });
	const timer = setTimeout(() => finish({ ok: false, timeout: true }), timeoutMs);
	document.addEventListener('pixelPlacedSuccess', onSuccess);
	document.addEventListener('pixelPlacedError', onError);
	document.dispatchEvent(new CustomEvent('placePixelFromScript', { detail: { x, y, color } }));
})`

type placeResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Timeout bool   `json:"timeout"`
}

// err maps the page answer onto the submit contract.
func (r placeResult) err() error {
	switch {
	case r.OK:
		return nil
	case r.Timeout:
		return ErrNoAnswer
	case r.Error == "":
		return &submit.RejectedError{Reason: "Pixel placement failed"}
	default:
		return &submit.RejectedError{Reason: r.Error}
	}
}

// PlacePixel implements submit.PageEvents.
func (h *Host) PlacePixel(ctx context.Context, w canvas.PixelWrite) error {
	page, err := h.currentPage()
	if err != nil {
		return err
	}
	res, err := page.Context(ctx).Eval(placeScript, w.X, w.Y, string(w.Color), h.cfg.EventTimeout.Milliseconds())
	if err != nil {
		return fmt.Errorf("browser: dispatch pixel: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("browser: read answer: %w", err)
	}
	var out placeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("browser: decode answer: %w", err)
	}
	return out.err()
}

// HTML returns the current page markup.
func (h *Host) HTML(ctx context.Context) ([]byte, error) {
	page, err := h.currentPage()
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Credits implements the engine's credit source: the balance shown on the
// page, or nil when it cannot be read.
func (h *Host) Credits(ctx context.Context) *int {
	doc, err := h.HTML(ctx)
	if err != nil {
		h.cfg.Logger.Debug("credit read failed", slog.String("error", err.Error()))
		return nil
	}
	return credits.Infer(bytes.NewReader(doc))
}

// CookieHeader returns the page's cookies as a Cookie header value, for
// reuse by the socket and region requests.
func (h *Host) CookieHeader(ctx context.Context) (string, error) {
	page, err := h.currentPage()
	if err != nil {
		return "", err
	}
	cookies, err := page.Context(ctx).Cookies([]string{h.cfg.PageURL})
	if err != nil {
		return "", fmt.Errorf("browser: cookies: %w", err)
	}
	return cookieHeader(cookies), nil
}

func cookieHeader(cookies []*proto.NetworkCookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (h *Host) currentPage() (*rod.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page == nil {
		return nil, errors.New("browser: no active page")
	}
	return h.page, nil
}

// Close closes the tab and, when it was launched here, Chrome itself.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	if h.page != nil {
		errs = append(errs, h.page.Close())
		h.page = nil
	}
	if h.browser != nil && h.lnch != nil {
		errs = append(errs, h.browser.Close())
	}
	h.browser = nil
	h.kill()
	return errors.Join(errs...)
}

func (h *Host) kill() {
	if h.lnch != nil {
		h.lnch.Kill()
		h.lnch = nil
	}
}
