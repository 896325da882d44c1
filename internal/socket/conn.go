// Package socket is a Socket.IO client over a single websocket: enough of the
// protocol to join the default namespace, answer heartbeats, and exchange
// named events with the canvas service.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Emit once the connection is gone.
var ErrClosed = errors.New("socket closed")

// Config configures Dial.
type Config struct {
	// URL is the site or socket URL; see EndpointURL.
	URL string
	// Header is sent with the websocket handshake (cookies, origin).
	Header http.Header
	// Auth is the optional namespace connect payload.
	Auth any
	// MaxRetries bounds dial attempts after the first. Default 5.
	MaxRetries uint64
	// HandshakeTimeout bounds each attempt. Default 10s.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type listener struct {
	fn   func(json.RawMessage)
	once bool
}

// Conn is a connected Socket.IO client. Listeners run on the read goroutine
// and must not block.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[string]map[uint64]*listener
	nextID    uint64

	connected atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the service and joins the default namespace, retrying
// with exponential backoff.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg.defaults()
	endpoint, err := EndpointURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	var conn *Conn
	attempt := 0
	op := func() error {
		attempt++
		c, err := handshake(ctx, endpoint, cfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		cfg.Logger.Warn("socket dial failed",
			slog.Int("attempt", attempt),
			slog.Int64("retry_in_ms", wait.Milliseconds()),
			slog.String("error", err.Error()))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	cfg.Logger.Info("socket connected", slog.String("url", endpoint), slog.Int("attempts", attempt))
	go conn.readLoop()
	return conn, nil
}

func handshake(ctx context.Context, endpoint string, cfg Config) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, cfg.Header)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}

	fail := func(err error) (*Conn, error) {
		ws.Close()
		return nil, err
	}

	p, err := readPacket(ws)
	if err != nil {
		return fail(fmt.Errorf("read open packet: %w", err))
	}
	if p.Kind != KindOpen {
		return fail(fmt.Errorf("expected open packet, got kind %d", p.Kind))
	}

	connect := []byte{eioMessage, sioConnect}
	if cfg.Auth != nil {
		body, err := json.Marshal(cfg.Auth)
		if err != nil {
			return fail(fmt.Errorf("encode auth: %w", err))
		}
		connect = append(connect, body...)
	}
	if err := ws.WriteMessage(websocket.TextMessage, connect); err != nil {
		return fail(fmt.Errorf("send connect: %w", err))
	}

	for {
		p, err := readPacket(ws)
		if err != nil {
			return fail(fmt.Errorf("await connect: %w", err))
		}
		switch p.Kind {
		case KindConnect:
			_ = ws.SetReadDeadline(time.Time{})
			c := &Conn{
				ws:        ws,
				log:       cfg.Logger,
				listeners: make(map[string]map[uint64]*listener),
				done:      make(chan struct{}),
			}
			c.connected.Store(true)
			return c, nil
		case KindConnectError:
			return fail(fmt.Errorf("namespace connect refused: %s", p.Data))
		case KindPing:
			if err := ws.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return fail(err)
			}
		}
	}
}

func readPacket(ws *websocket.Conn) (Packet, error) {
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return Packet{}, err
	}
	return Decode(frame)
}

// Connected reports whether the connection is still up.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// Done is closed when the connection terminates.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Emit sends a named event. A nil payload sends the name alone.
func (c *Conn) Emit(event string, payload any) error {
	if !c.Connected() {
		return ErrClosed
	}
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// On registers fn for every occurrence of event.
func (c *Conn) On(event string, fn func(data json.RawMessage)) (cancel func()) {
	return c.listen(event, fn, false)
}

// Once registers fn for the next occurrence of event only.
func (c *Conn) Once(event string, fn func(data json.RawMessage)) (cancel func()) {
	return c.listen(event, fn, true)
}

func (c *Conn) listen(event string, fn func(json.RawMessage), once bool) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[uint64]*listener)
	}
	id := c.nextID
	c.nextID++
	c.listeners[event][id] = &listener{fn: fn, once: once}
	return func() {
		c.mu.Lock()
		delete(c.listeners[event], id)
		c.mu.Unlock()
	}
}

// ListenerCount returns the number of registered listeners for event.
func (c *Conn) ListenerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[event])
}

// Close disconnects from the namespace and closes the websocket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.connected.Load() {
			_ = c.write([]byte{eioMessage, sioDisconnect})
		}
		c.connected.Store(false)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.done)
	}()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if c.connected.Load() {
				c.log.Warn("socket read failed", slog.String("error", err.Error()))
			}
			return
		}
		p, err := Decode(frame)
		if err != nil {
			c.log.Debug("socket frame ignored", slog.String("error", err.Error()))
			continue
		}
		switch p.Kind {
		case KindPing:
			if err := c.write([]byte{eioPong}); err != nil {
				c.log.Warn("socket pong failed", slog.String("error", err.Error()))
				return
			}
		case KindClose, KindDisconnect:
			c.log.Info("socket closed by server")
			c.connected.Store(false)
			c.ws.Close()
			return
		case KindEvent:
			c.dispatch(p.Event, p.Data)
		}
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	var fns []func(json.RawMessage)
	for id, l := range c.listeners[event] {
		fns = append(fns, l.fn)
		if l.once {
			delete(c.listeners[event], id)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

// Server events exposing the account's rate-limit tier.
const (
	EventGetRateLimitStatus = "get_rate_limit_status"
	EventRateLimitInfo      = "rate_limit_info"
)

// RateLimitInfo is the rate_limit_info payload. Fields the server omits stay
// zero.
type RateLimitInfo struct {
	Tier        string `json:"tier"`
	Remaining   int    `json:"remaining"`
	Limit       int    `json:"limit"`
	ResetInMs   int64  `json:"resetIn"`
	CooldownMs  int64  `json:"cooldown"`
	Subscribed  bool   `json:"subscribed"`
	CreditsLeft *int   `json:"credits,omitempty"`
}

// RequestRateLimitStatus asks the server for a rate_limit_info event.
func (c *Conn) RequestRateLimitStatus() error {
	return c.Emit(EventGetRateLimitStatus, nil)
}
