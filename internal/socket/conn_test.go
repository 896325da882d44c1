package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer speaks just enough Socket.IO to exercise the client.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	refuse   bool

	mu       sync.Mutex
	received []string
	pongs    int
	conns    chan *websocket.Conn
}

func newFakeServer(t *testing.T, refuse bool) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{t: t, refuse: refuse, conns: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" {
		http.NotFound(w, r)
		return
	}
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s1","pingInterval":25000,"pingTimeout":20000}`))
	_, msg, err := ws.ReadMessage()
	if err != nil || string(msg) != "40" {
		return
	}
	if fs.refuse {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`44{"message":"nope"}`))
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"n1"}`))
	fs.conns <- ws

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fs.mu.Lock()
		if string(msg) == "3" {
			fs.pongs++
		} else {
			fs.received = append(fs.received, string(msg))
		}
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) snapshot() ([]string, int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.received...), fs.pongs
}

func dialFake(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{URL: srv.URL, MaxRetries: 1})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConn_Emit(t *testing.T) {
	fs, srv := newFakeServer(t, false)
	c := dialFake(t, srv)
	<-fs.conns

	if !c.Connected() {
		t.Fatal("expected connected")
	}
	if err := c.Emit("place_pixel", map[string]any{"x": 5, "y": 6, "color": "#00FF00"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := c.RequestRateLimitStatus(); err != nil {
		t.Fatalf("RequestRateLimitStatus: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := fs.snapshot()
		return len(got) == 2
	})
	got, _ := fs.snapshot()
	if got[0] != `42["place_pixel",{"color":"#00FF00","x":5,"y":6}]` {
		t.Fatalf("unexpected frame %s", got[0])
	}
	if got[1] != `42["get_rate_limit_status"]` {
		t.Fatalf("unexpected frame %s", got[1])
	}
}

func TestConn_ping_answered(t *testing.T) {
	fs, srv := newFakeServer(t, false)
	dialFake(t, srv)
	ws := <-fs.conns

	if err := ws.WriteMessage(websocket.TextMessage, []byte("2")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, pongs := fs.snapshot()
		return pongs == 1
	})
}

func TestConn_Once_and_On(t *testing.T) {
	fs, srv := newFakeServer(t, false)
	c := dialFake(t, srv)
	ws := <-fs.conns

	var mu sync.Mutex
	var onceHits, onHits int
	var lastX int
	c.Once("pixel_placed_success", func(data json.RawMessage) {
		var body struct{ X int }
		_ = json.Unmarshal(data, &body)
		mu.Lock()
		onceHits++
		lastX = body.X
		mu.Unlock()
	})
	cancel := c.On("pixel_placed_success", func(json.RawMessage) {
		mu.Lock()
		onHits++
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["pixel_placed_success",{"x":9}]`))
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return onHits == 2
	})
	mu.Lock()
	if onceHits != 1 || lastX != 9 {
		t.Fatalf("once listener: hits=%d x=%d", onceHits, lastX)
	}
	mu.Unlock()

	if n := c.ListenerCount("pixel_placed_success"); n != 1 {
		t.Fatalf("listeners = %d, want 1", n)
	}
	cancel()
	if n := c.ListenerCount("pixel_placed_success"); n != 0 {
		t.Fatalf("listeners after cancel = %d, want 0", n)
	}
}

func TestConn_server_disconnect(t *testing.T) {
	fs, srv := newFakeServer(t, false)
	c := dialFake(t, srv)
	ws := <-fs.conns

	_ = ws.WriteMessage(websocket.TextMessage, []byte("41"))
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
	if c.Connected() {
		t.Fatal("expected disconnected")
	}
	if err := c.Emit("place_pixel", nil); err != ErrClosed {
		t.Fatalf("Emit after close = %v, want ErrClosed", err)
	}
}

func TestDial_refused(t *testing.T) {
	_, srv := newFakeServer(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Dial(ctx, Config{URL: srv.URL, MaxRetries: 1})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDial_context_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, Config{URL: "http://127.0.0.1:1", MaxRetries: 3})
	if err == nil {
		t.Fatal("expected error")
	}
}
