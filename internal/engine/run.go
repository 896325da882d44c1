package engine

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/session"
)

func (e *Engine) launch() {
	done := make(chan struct{})
	wake, interrupt := context.WithCancel(e.base)
	e.mu.Lock()
	e.done = done
	e.interrupt = interrupt
	e.mu.Unlock()
	go func() {
		defer interrupt()
		e.run(e.base, wake, done)
	}()
}

// run drains the queue. Submissions use ctx so a write in flight settles
// even after Stop; waits between writes use wake, which Stop cancels.
func (e *Engine) run(ctx, wake context.Context, done chan struct{}) {
	defer close(done)

	started := e.clock.Now()
	final := StateIdle
	gov := e.deps.Governor

loop:
	for {
		if e.stop.Load() || ctx.Err() != nil {
			final = StateStopped
			break
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		w := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if err := gov.AwaitSlot(wake); err != nil {
			e.requeue(w)
			final = StateStopped
			break
		}

		err := e.deps.Submitter.Submit(ctx, w)
		if err == nil {
			e.mu.Lock()
			e.placed++
			placed, remaining := e.placed, len(e.queue)
			e.mu.Unlock()
			e.observe(func(o Observer) { o.IncPlaced() })

			if placed%e.cfg.CheckpointEvery == 0 {
				_ = e.checkpoint(true)
			}
			if placed%e.cfg.ProgressEvery == 0 {
				e.logProgress(ctx, started, placed, remaining)
			}
			continue
		}

		if ctx.Err() != nil {
			e.requeue(w)
			final = StateStopped
			break
		}

		kind := e.classify.Classify(err)
		e.mu.Lock()
		e.errors++
		if kind == KindCreditExhausted {
			e.queue = append([]canvas.PixelWrite{w}, e.queue...)
		} else {
			e.abandoned = append(e.abandoned, w)
		}
		e.mu.Unlock()
		e.observe(func(o Observer) { o.IncFailed(kind.String()) })
		e.log.Warn("pixel placement failed",
			slog.Int("x", w.X), slog.Int("y", w.Y),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
		_ = e.checkpoint(true)

		switch kind {
		case KindBurstLimited:
			e.log.Warn("burst limit hit, extended cooldown")
			gov.ClearBurst()
			_ = e.clock.Sleep(wake, e.cfg.BurstCooldown)
		case KindRateLimited:
			e.log.Warn("rate limited, waiting")
			_ = e.clock.Sleep(wake, e.cfg.RateCooldown)
		case KindCreditExhausted:
			e.log.Warn("out of credits, stopping")
			final = StateCreditExhausted
			break loop
		default:
			_ = e.clock.Sleep(wake, e.cfg.TransientCooldown)
		}
	}

	e.finish(ctx, final)
}

func (e *Engine) requeue(w canvas.PixelWrite) {
	e.mu.Lock()
	e.queue = append([]canvas.PixelWrite{w}, e.queue...)
	e.mu.Unlock()
}

func (e *Engine) finish(ctx context.Context, final State) {
	discard := e.discard.Load()
	e.mu.Lock()
	remaining, abandoned := len(e.queue), len(e.abandoned)
	if remaining == 0 && final == StateStopped {
		final = StateIdle
	}
	placed, errs, skipped := e.placed, e.errors, e.skipped
	historyID := e.historyID
	if discard {
		final = StateIdle
		e.resetLocked()
	}
	e.state = final
	e.mu.Unlock()

	// Abandoned writes keep the record (with its originals) around for a
	// later validation pass.
	var persistErr error
	if discard || (remaining == 0 && abandoned == 0) {
		if persistErr = e.deps.Sessions.Delete(); persistErr != nil {
			e.log.Warn("delete session failed", slog.String("error", persistErr.Error()))
		}
	} else {
		persistErr = e.checkpoint(false)
	}
	if discard && persistErr == nil {
		e.log.Info("session cleared")
	}

	// The run context may be cancelled already; the closing bookkeeping
	// still gets a short window.
	tail, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	credits := e.credits(tail)

	if historyID != "" && e.deps.History != nil {
		out := history.Outcome{Status: history.StatusCompleted, PixelsPlaced: placed, Errors: errs, CreditsAtEnd: credits}
		switch {
		case persistErr != nil:
			out.Status = history.StatusFailed
			out.Err = "session not saved: " + persistErr.Error()
		case remaining > 0 || abandoned > 0:
			out.Status = history.StatusIncomplete
		}
		if err := e.deps.History.Finish(tail, historyID, out); err != nil {
			e.log.Warn("history update failed", slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.String("state", final.String()),
		slog.Int("placed", placed),
		slog.Int("skipped", skipped),
		slog.Int("errors", errs),
		slog.Int("remaining", remaining),
		slog.Int("abandoned", abandoned),
	}
	attrs = append(attrs, creditsAttr(credits))
	e.log.Info("placement finished", attrs...)
}

// checkpoint persists the current progress. A run being cleared is never
// saved.
func (e *Engine) checkpoint(active bool) error {
	if e.discard.Load() {
		return nil
	}
	e.mu.Lock()
	if e.sessionID == "" {
		e.mu.Unlock()
		return nil
	}
	rec := &session.Record{
		SessionID:      e.sessionID,
		Queue:          slices.Clone(e.queue),
		OriginalPixels: e.originals,
		Abandoned:      slices.Clone(e.abandoned),
		PixelsPlaced:   e.placed,
		Errors:         e.errors,
		Skipped:        e.skipped,
		IsActive:       active,
		HistoryID:      e.historyID,
	}
	e.mu.Unlock()

	if err := e.deps.Sessions.Save(rec); err != nil {
		e.log.Warn("checkpoint failed", slog.String("error", err.Error()))
		return err
	}
	e.observe(func(o Observer) { o.IncCheckpoints() })
	return nil
}

func (e *Engine) logProgress(ctx context.Context, started time.Time, placed, remaining int) {
	attrs := []any{
		slog.Int("placed", placed),
		slog.Int("remaining", remaining),
	}
	if elapsed := e.clock.Now().Sub(started); elapsed > 0 {
		attrs = append(attrs, slog.Int("per_minute", int(float64(placed)/elapsed.Minutes()+0.5)))
	}
	attrs = append(attrs, creditsAttr(e.credits(ctx)))
	e.log.Info("placement progress", attrs...)
}
