// Package submit delivers single pixel writes to the canvas and waits for the
// service to acknowledge them.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pixel-embedder/internal/canvas"
)

// Live-connection event names.
const (
	EventPlacePixel = "place_pixel"
	EventPlaced     = "pixel_placed_success"
	EventFailed     = "pixel_placement_failed"
)

const (
	// DefaultTimeout bounds a whole submission across both paths.
	DefaultTimeout = 8 * time.Second
	// DefaultGrace is how long the page path runs alone before the socket
	// path joins the race.
	DefaultGrace = 200 * time.Millisecond

	defaultReason = "Pixel placement failed"
)

// ErrTimeout is returned when neither path acknowledged the write in time.
var ErrTimeout = errors.New("pixel placement timeout")

// RejectedError is returned when the service explicitly refused a write.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

// PageEvents delivers a write through the host page's own event handler.
// PlacePixel blocks until the page reports success (nil), an explicit
// failure (*RejectedError), or ctx is done.
type PageEvents interface {
	PlacePixel(ctx context.Context, w canvas.PixelWrite) error
}

// Socket is the live, already authenticated event channel.
type Socket interface {
	Connected() bool
	Emit(event string, payload any) error
	// Once registers fn for the next occurrence of event. The returned func
	// unregisters it if it has not fired yet.
	Once(event string, fn func(data json.RawMessage)) (cancel func())
}

// Recorder is told about every acknowledged write.
type Recorder interface {
	RecordSubmission()
}

// Config wires a Channel. Page and Socket may each be nil, but not both.
type Config struct {
	Page     PageEvents
	Socket   Socket
	Recorder Recorder
	Timeout  time.Duration
	Grace    time.Duration
	Logger   *slog.Logger
}

// Channel submits one write at a time over the page path and the socket path.
type Channel struct {
	page     PageEvents
	socket   Socket
	recorder Recorder
	timeout  time.Duration
	grace    time.Duration
	log      *slog.Logger
}

// New returns a Channel for cfg.
func New(cfg Config) *Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		page:     cfg.Page,
		socket:   cfg.Socket,
		recorder: cfg.Recorder,
		timeout:  cfg.Timeout,
		grace:    cfg.Grace,
		log:      cfg.Logger,
	}
}

// Connected reports whether a live socket is attached and connected.
func (c *Channel) Connected() bool {
	return c.socket != nil && c.socket.Connected()
}

// Available reports whether at least one delivery path exists.
func (c *Channel) Available() bool {
	return c.page != nil || c.socket != nil
}

// Submit places w. It returns nil once either path acknowledges the write,
// *RejectedError when the service refuses it, or ErrTimeout.
func (c *Channel) Submit(ctx context.Context, w canvas.PixelWrite) error {
	var attempts []Attempt
	socketDelay := time.Duration(0)
	if c.page != nil {
		attempts = append(attempts, Attempt{Name: "page", Run: c.viaPage(w)})
		socketDelay = c.grace
	}
	if c.socket != nil {
		attempts = append(attempts, Attempt{Name: "socket", Delay: socketDelay, Run: c.viaSocket(w)})
	}
	if len(attempts) == 0 {
		return errors.New("no delivery path configured")
	}

	winner, err := Race(ctx, c.timeout, attempts...)
	if err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.RecordSubmission()
	}
	c.log.Debug("pixel acknowledged",
		slog.Int("x", w.X), slog.Int("y", w.Y), slog.String("path", winner))
	return nil
}

func (c *Channel) viaPage(w canvas.PixelWrite) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := c.page.PlacePixel(ctx, w)
		var rejected *RejectedError
		if err == nil || errors.As(err, &rejected) || ctx.Err() != nil {
			return err
		}
		// A broken page bridge is not an answer from the service; leave the
		// race to the socket path.
		c.log.Debug("page path unavailable", slog.String("error", err.Error()))
		<-ctx.Done()
		return ctx.Err()
	}
}

func (c *Channel) viaSocket(w canvas.PixelWrite) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !c.socket.Connected() {
			<-ctx.Done()
			return ctx.Err()
		}

		result := make(chan error, 2)
		offPlaced := c.socket.Once(EventPlaced, func(json.RawMessage) {
			result <- nil
		})
		defer offPlaced()
		offFailed := c.socket.Once(EventFailed, func(data json.RawMessage) {
			result <- &RejectedError{Reason: FailureReason(data)}
		})
		defer offFailed()

		if err := c.socket.Emit(EventPlacePixel, w); err != nil {
			return fmt.Errorf("emit %s: %w", EventPlacePixel, err)
		}

		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FailureReason extracts the human readable reason from a failure payload:
// its "error" field, else "message", else a bare JSON string.
func FailureReason(data json.RawMessage) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s
	}
	return defaultReason
}
