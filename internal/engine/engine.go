// Package engine drives an embedding run: it owns the pixel queue, feeds it
// through the rate governor into the submission channel one write at a time,
// classifies failures, and checkpoints progress so a run can be resumed or
// validated later.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/governor"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/platform/clock"
	"pixel-embedder/internal/platform/config"
	"pixel-embedder/internal/session"
	"pixel-embedder/internal/socket"
)

var (
	ErrNoPixels       = errors.New("no pixels provided")
	ErrAlreadyPlacing = errors.New("already placing pixels, stop the current run first")
	ErrNoSession      = errors.New("no session to resume")
	ErrNoOriginals    = errors.New("no original pixels found, validation needs a saved session with original image data")
	ErrNoSocket       = errors.New("no delivery path: neither page nor socket is connected")
	ErrNoRegionCheck  = errors.New("region checks are not configured")
)

// Submitter delivers one write. See submit.Channel.
type Submitter interface {
	Submit(ctx context.Context, w canvas.PixelWrite) error
	Connected() bool
	Available() bool
}

// Differ filters pixels already present on the canvas. See regiondiff.Checker.
// A non-nil error means the check was cut short and its result is unusable.
type Differ interface {
	FilterNeeded(ctx context.Context, pixels []canvas.PixelWrite) ([]canvas.PixelWrite, int, error)
}

// SessionStore persists the single resumable session. See session.Repository.
type SessionStore interface {
	Save(rec *session.Record) error
	Load() (*session.Record, error)
	Peek() (*session.Record, error)
	Delete() error
}

// CreditSource reads the current credit balance. Nil means unknown.
type CreditSource interface {
	Credits(ctx context.Context) *int
}

// HistoryRecorder logs run starts and ends. See history.Store.
type HistoryRecorder interface {
	Begin(ctx context.Context, img history.Image, pixelCount int, creditsAtStart *int) (string, error)
	Finish(ctx context.Context, id string, out history.Outcome) error
}

// LiveSocket is the event channel used for rate-limit tier updates. See
// socket.Conn.
type LiveSocket interface {
	Connected() bool
	RequestRateLimitStatus() error
	On(event string, fn func(data json.RawMessage)) (cancel func())
}

// Observer receives counters as the run progresses. See metrics.Metrics.
type Observer interface {
	IncPlaced()
	IncFailed(kind string)
	AddSkipped(n int)
	IncCheckpoints()
}

// Deps are the collaborators of an Engine. Submitter, Governor and Sessions
// are required.
type Deps struct {
	Submitter Submitter
	Governor  *governor.Governor
	Sessions  SessionStore
	Differ    Differ
	Credits   CreditSource
	History   HistoryRecorder
	Socket    LiveSocket
	Observer  Observer
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Config is the run policy.
type Config struct {
	CheckpointEvery        int
	CheckExistingMinPixels int
	ProgressEvery          int
	BurstCooldown          time.Duration
	RateCooldown           time.Duration
	TransientCooldown      time.Duration
	// RateInfoWait is how long Start waits for a rate_limit_info reply.
	RateInfoWait time.Duration
	Keywords     config.Keywords
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultEngine())
}

// ConfigFrom derives the run policy from the engine tuning file.
func ConfigFrom(e config.Engine) Config {
	return Config{
		CheckpointEvery:        e.CheckpointEvery,
		CheckExistingMinPixels: e.CheckExistingMinPixels,
		ProgressEvery:          50,
		BurstCooldown:          15 * time.Second,
		RateCooldown:           10 * time.Second,
		TransientCooldown:      time.Second,
		RateInfoWait:           300 * time.Millisecond,
		Keywords:               e.Keywords,
	}
}

// StartRequest starts a new run.
type StartRequest struct {
	Pixels        []canvas.PixelWrite
	CheckExisting bool
	Image         history.Image
}

// Engine is the queue processor. All exported methods are safe for
// concurrent use; one run drains at a time.
type Engine struct {
	deps     Deps
	cfg      Config
	classify *Classifier
	log      *slog.Logger
	clock    clock.Clock

	base   context.Context
	cancel context.CancelFunc

	stop atomic.Bool
	// discard makes the running loop drop its progress instead of saving it.
	discard atomic.Bool

	mu        sync.Mutex
	interrupt context.CancelFunc
	state     State
	sessionID string
	historyID string
	queue     []canvas.PixelWrite
	originals []canvas.PixelWrite
	abandoned []canvas.PixelWrite
	placed    int
	errors    int
	skipped   int
	tier      string
	done      chan struct{}

	unsubscribe func()
}

// New builds an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Submitter == nil || deps.Governor == nil || deps.Sessions == nil {
		return nil, errors.New("engine: submitter, governor and sessions are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = def.CheckpointEvery
	}
	if cfg.CheckExistingMinPixels < 0 {
		cfg.CheckExistingMinPixels = def.CheckExistingMinPixels
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if cfg.Keywords.Burst == nil && cfg.Keywords.Rate == nil && cfg.Keywords.Credit == nil {
		cfg.Keywords = def.Keywords
	}

	base, cancel := context.WithCancel(context.Background())
	e := &Engine{
		deps:     deps,
		cfg:      cfg,
		classify: NewClassifier(cfg.Keywords),
		log:      deps.Logger,
		clock:    deps.Clock,
		base:     base,
		cancel:   cancel,
	}
	if deps.Socket != nil {
		e.unsubscribe = deps.Socket.On(socket.EventRateLimitInfo, e.onRateLimitInfo)
	}
	return e, nil
}

func (e *Engine) onRateLimitInfo(data json.RawMessage) {
	info, ok := parseRateLimitInfo(data)
	if !ok || info.Tier == "" {
		return
	}
	e.mu.Lock()
	first := e.tier == ""
	e.tier = info.Tier
	e.mu.Unlock()
	if first {
		e.log.Info("rate limit tier detected",
			slog.String("tier", info.Tier),
			slog.Int64("delay_ms", e.deps.Governor.Config().UniversalDelay.Milliseconds()))
	}
	e.log.Debug("rate limit info",
		slog.Int("remaining", info.Remaining),
		slog.Int("limit", info.Limit),
		slog.Int64("reset_in_ms", info.ResetInMs))
}

// Start begins a new run over req.Pixels. The region diff, when enabled,
// runs before Start returns; the drain loop runs in the background.
func (e *Engine) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	if len(req.Pixels) == 0 {
		return StartResult{}, ErrNoPixels
	}
	if !e.deps.Submitter.Available() {
		return StartResult{}, ErrNoSocket
	}
	prev, err := e.claim()
	if err != nil {
		return StartResult{}, err
	}

	e.requestRateLimitStatus(ctx, true)
	e.deps.Governor.Reset()
	creditsAtStart := e.credits(ctx)

	originals := slices.Clone(req.Pixels)
	pending := originals
	skipped := 0
	if req.CheckExisting && len(originals) > e.cfg.CheckExistingMinPixels && e.deps.Differ != nil {
		pending, skipped, err = e.deps.Differ.FilterNeeded(ctx, originals)
		if err != nil {
			e.release(prev)
			return StartResult{}, fmt.Errorf("check existing pixels: %w", err)
		}
		e.observe(func(o Observer) { o.AddSkipped(skipped) })
	}

	sessionID := newSessionID()
	if len(pending) == 0 {
		e.mu.Lock()
		e.sessionID = sessionID
		e.historyID = ""
		e.queue = nil
		e.originals = originals
		e.abandoned = nil
		e.placed, e.errors, e.skipped = 0, 0, skipped
		e.state = StateIdle
		e.mu.Unlock()
		e.log.Info("all pixels already correct", slog.Int("skipped", skipped))
		return StartResult{SessionID: sessionID, Skipped: skipped, NothingToDo: true}, nil
	}

	historyID := e.beginHistory(ctx, req.Image, len(originals), creditsAtStart)

	e.mu.Lock()
	e.sessionID = sessionID
	e.historyID = historyID
	e.queue = slices.Clone(pending)
	e.originals = originals
	e.abandoned = nil
	e.placed, e.errors, e.skipped = 0, 0, skipped
	e.mu.Unlock()

	if err := e.checkpoint(true); err != nil {
		e.release(prev)
		return StartResult{}, err
	}

	perMinute := int(time.Minute / e.deps.Governor.Config().UniversalDelay)
	e.log.Info("starting placement",
		slog.String("session_id", sessionID),
		slog.Int("queued", len(pending)),
		slog.Int("skipped", skipped),
		slog.Int("per_minute", perMinute),
		slog.Int("estimated_minutes", ceilDiv(len(pending), perMinute)))

	e.launch()
	return StartResult{SessionID: sessionID, Queued: len(pending), Skipped: skipped}, nil
}

// Stop asks the running drain loop to finish after the in-flight write.
// Pending cooldowns and slot waits end at once. It reports whether a run was
// active.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	placing := e.state == StatePlacing
	interrupt := e.interrupt
	e.mu.Unlock()
	if placing {
		e.stop.Store(true)
		if interrupt != nil {
			interrupt()
		}
		e.log.Info("stopping pixel placement")
	}
	return placing
}

// Resume restores the persisted session and continues draining it. When the
// session carries the original pixels they are diffed again and writes
// missing from the canvas (and not already queued) are put at the front.
func (e *Engine) Resume(ctx context.Context) (ResumeResult, error) {
	prev, err := e.claim()
	if err != nil {
		return ResumeResult{}, err
	}
	rec, err := e.deps.Sessions.Load()
	if err != nil {
		e.release(prev)
		return ResumeResult{}, err
	}
	if !rec.Resumable() {
		e.release(prev)
		return ResumeResult{}, ErrNoSession
	}

	queue := slices.Clone(rec.Queue)
	abandoned := slices.Clone(rec.Abandoned)
	recovered := 0
	e.log.Info("resuming session",
		slog.String("session_id", rec.SessionID),
		slog.Int("placed", rec.PixelsPlaced),
		slog.Int("remaining", len(queue)))

	if len(rec.OriginalPixels) > 0 && e.deps.Differ != nil {
		missing, _, err := e.deps.Differ.FilterNeeded(ctx, rec.OriginalPixels)
		if err != nil {
			e.release(prev)
			return ResumeResult{}, fmt.Errorf("re-check original pixels: %w", err)
		}
		var extra []canvas.PixelWrite
		queued := keySet(queue)
		for _, p := range missing {
			if _, ok := queued[p.Key()]; !ok {
				queued[p.Key()] = struct{}{}
				extra = append(extra, p)
			}
		}
		if len(extra) > 0 {
			queue = append(extra, queue...)
			recovered = len(extra)
			e.log.Info("recovered missing pixels", slog.Int("count", recovered))
		}
		// The diff saw every original: an abandoned write is now either
		// queued again or already on the canvas.
		abandoned = nil
	}

	e.mu.Lock()
	e.sessionID = rec.SessionID
	e.historyID = rec.HistoryID
	e.queue = queue
	e.originals = slices.Clone(rec.OriginalPixels)
	e.abandoned = abandoned
	e.placed, e.errors, e.skipped = rec.PixelsPlaced, rec.Errors, rec.Skipped
	e.mu.Unlock()

	if err := e.checkpoint(true); err != nil {
		e.release(prev)
		return ResumeResult{}, err
	}
	e.launch()
	return ResumeResult{SessionID: rec.SessionID, Queued: len(queue), Recovered: recovered}, nil
}

// Validate diffs the saved session's original pixels against the canvas.
// Missing writes seed a new session, with counters carried over, which
// starts draining immediately.
func (e *Engine) Validate(ctx context.Context) (ValidateResult, error) {
	if e.deps.Differ == nil {
		return ValidateResult{}, ErrNoRegionCheck
	}
	prev, err := e.claim()
	if err != nil {
		return ValidateResult{}, err
	}
	rec, err := e.deps.Sessions.Load()
	if err != nil {
		e.release(prev)
		return ValidateResult{}, err
	}
	if rec == nil || len(rec.OriginalPixels) == 0 {
		e.release(prev)
		return ValidateResult{}, ErrNoOriginals
	}

	e.log.Info("validating completed pixels", slog.Int("originals", len(rec.OriginalPixels)))
	missing, _, err := e.deps.Differ.FilterNeeded(ctx, rec.OriginalPixels)
	if err != nil {
		e.release(prev)
		return ValidateResult{}, fmt.Errorf("re-check original pixels: %w", err)
	}
	if len(missing) == 0 {
		e.release(prev)
		e.log.Info("validation complete, no missing pixels")
		return ValidateResult{Message: "Validation complete - no missing pixels found!"}, nil
	}

	sessionID := newSessionID()
	e.mu.Lock()
	e.sessionID = sessionID
	e.historyID = rec.HistoryID
	e.queue = slices.Clone(missing)
	e.originals = slices.Clone(rec.OriginalPixels)
	e.abandoned = nil
	e.placed, e.errors, e.skipped = rec.PixelsPlaced, rec.Errors, rec.Skipped
	e.mu.Unlock()

	if err := e.checkpoint(true); err != nil {
		e.release(prev)
		return ValidateResult{}, err
	}
	e.log.Info("recovering missing pixels", slog.Int("count", len(missing)))
	e.launch()
	return ValidateResult{
		SessionID:     sessionID,
		MissingPixels: len(missing),
		Message:       fmt.Sprintf("Found %d missing pixels. Starting recovery...", len(missing)),
	}, nil
}

// Status returns a snapshot. It never changes engine or stored state.
func (e *Engine) Status(ctx context.Context) Status {
	gov := e.deps.Governor
	e.mu.Lock()
	st := Status{
		State:               e.state,
		IsPlacing:           e.state == StatePlacing,
		QueueLength:         len(e.queue),
		OriginalPixelsCount: len(e.originals),
		PixelsPlaced:        e.placed,
		Errors:              e.errors,
		Skipped:             e.skipped,
		Abandoned:           len(e.abandoned),
		Tier:                e.tier,
		SessionID:           e.sessionID,
	}
	e.mu.Unlock()

	st.CurrentRate = gov.PerMinute()
	st.BurstUsed = gov.BurstUsed()
	st.BurstLimit = gov.Config().BurstLimit
	st.DelayMs = gov.Config().UniversalDelay.Milliseconds()
	st.Credits = e.credits(ctx)
	if rec, err := e.deps.Sessions.Peek(); err == nil {
		st.HasResumableSession = rec.Resumable()
	}
	return st
}

// CheckConnection reports whether a delivery path is live and asks the
// server for the current rate-limit tier.
func (e *Engine) CheckConnection(ctx context.Context) ConnectionInfo {
	connected := e.deps.Submitter.Connected()
	if connected {
		e.requestRateLimitStatus(ctx, false)
	}
	info := ConnectionInfo{Connected: connected, Credits: e.credits(ctx)}
	e.log.Info("connection check", slog.Bool("connected", info.Connected), creditsAttr(info.Credits))
	return info
}

// CheckSession reports the resumable session, if any.
func (e *Engine) CheckSession() (SessionInfo, error) {
	rec, err := e.deps.Sessions.Load()
	if err != nil {
		return SessionInfo{}, err
	}
	if !rec.Resumable() {
		return SessionInfo{}, nil
	}
	return SessionInfo{HasSession: true, SessionData: rec}, nil
}

// ClearSession stops any run, waits for it to finish, forgets all progress
// and deletes the persisted session. If ctx ends before the run has wound
// down the error is returned, and the run deletes the session itself once
// its in-flight write settles.
func (e *Engine) ClearSession(ctx context.Context) error {
	e.discard.Store(true)
	e.Stop()
	if err := e.Wait(ctx); err != nil {
		e.log.Warn("clear pending until the run stops", slog.String("error", err.Error()))
		return err
	}
	e.mu.Lock()
	e.state = StateIdle
	e.resetLocked()
	e.mu.Unlock()
	if err := e.deps.Sessions.Delete(); err != nil {
		return err
	}
	e.log.Info("session cleared")
	return nil
}

func (e *Engine) resetLocked() {
	e.sessionID = ""
	e.historyID = ""
	e.queue = nil
	e.originals = nil
	e.abandoned = nil
	e.placed, e.errors, e.skipped = 0, 0, 0
}

// Wait blocks until the current run, if any, has finished.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the running loop, interrupting any wait, and releases the
// socket listener. The session is left persisted for a later resume.
func (e *Engine) Close() error {
	e.stop.Store(true)
	e.cancel()
	_ = e.Wait(context.Background())
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	return nil
}

// claim moves the engine into Placing, returning the state to restore if
// the transition is abandoned.
func (e *Engine) claim() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePlacing {
		return e.state, ErrAlreadyPlacing
	}
	if e.base.Err() != nil {
		return e.state, errors.New("engine closed")
	}
	prev := e.state
	e.state = StatePlacing
	e.stop.Store(false)
	e.discard.Store(false)
	return prev, nil
}

func (e *Engine) release(prev State) {
	e.mu.Lock()
	e.state = prev
	e.mu.Unlock()
}

// requestRateLimitStatus pings the socket for a rate_limit_info event and
// optionally waits briefly for the reply.
func (e *Engine) requestRateLimitStatus(ctx context.Context, wait bool) {
	s := e.deps.Socket
	if s == nil || !s.Connected() {
		return
	}
	if err := s.RequestRateLimitStatus(); err != nil {
		e.log.Debug("rate limit status request failed", slog.String("error", err.Error()))
		return
	}
	if wait {
		_ = e.clock.Sleep(ctx, e.cfg.RateInfoWait)
	}
}

func (e *Engine) beginHistory(ctx context.Context, img history.Image, pixels int, credits *int) string {
	if e.deps.History == nil {
		return ""
	}
	id, err := e.deps.History.Begin(ctx, img, pixels, credits)
	if err != nil {
		e.log.Warn("history entry failed", slog.String("error", err.Error()))
		return ""
	}
	return id
}

func (e *Engine) credits(ctx context.Context) *int {
	if e.deps.Credits == nil {
		return nil
	}
	return e.deps.Credits.Credits(ctx)
}

func (e *Engine) observe(fn func(Observer)) {
	if e.deps.Observer != nil {
		fn(e.deps.Observer)
	}
}

func creditsAttr(c *int) slog.Attr {
	if c == nil {
		return slog.String("credits", "unknown")
	}
	return slog.Int("credits", *c)
}

func newSessionID() string {
	return "embed_" + uuid.NewString()
}

func keySet(ps []canvas.PixelWrite) map[string]struct{} {
	m := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		m[p.Key()] = struct{}{}
	}
	return m
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
