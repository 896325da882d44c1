package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pixel-embedder/internal/browser"
	"pixel-embedder/internal/engine"
	"pixel-embedder/internal/governor"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/platform/clock"
	"pixel-embedder/internal/platform/config"
	"pixel-embedder/internal/platform/metrics"
	"pixel-embedder/internal/regiondiff"
	"pixel-embedder/internal/session"
	"pixel-embedder/internal/socket"
	"pixel-embedder/internal/submit"
)

// stack is everything an embedding run needs, wired together.
type stack struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	tuning   config.Engine
	engine   *engine.Engine
	history  *history.Store
	sessions *session.BoltStore
	host     *browser.Host
	sock     *socket.Conn
}

// buildStack opens the stores, attaches the delivery paths and constructs
// the engine. The browser and socket are optional: a path that cannot be
// opened is logged and left out.
func buildStack(ctx context.Context, s settings, log *slog.Logger, met *metrics.Metrics) (*stack, error) {
	tuning, err := config.LoadEngine(s.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st := &stack{log: log, metrics: met, tuning: tuning}

	st.sessions, err = session.OpenBolt(filepath.Join(s.DataDir, "session.db"))
	if err != nil {
		return nil, err
	}
	st.history, err = history.Open(filepath.Join(s.DataDir, "history.db"), clock.Real{})
	if err != nil {
		st.close()
		return nil, err
	}

	if s.Browser {
		st.host, err = browser.Open(ctx, browser.Config{
			RemoteURL: s.BrowserURL,
			PageURL:   s.PageURL,
			Logger:    log,
		})
		if err != nil {
			log.Warn("browser unavailable, continuing without page path", slog.String("error", err.Error()))
			st.host = nil
		}
	}

	cookie := s.Cookie
	if cookie == "" && st.host != nil {
		if c, err := st.host.CookieHeader(ctx); err == nil {
			cookie = c
		} else {
			log.Warn("read page cookies", slog.String("error", err.Error()))
		}
	}

	if s.SocketURL != "" {
		header := http.Header{}
		if cookie != "" {
			header.Set("Cookie", cookie)
		}
		st.sock, err = socket.Dial(ctx, socket.Config{URL: s.SocketURL, Header: header, Logger: log})
		if err != nil {
			log.Warn("socket unavailable, continuing without socket path", slog.String("error", err.Error()))
			st.sock = nil
		}
	}

	if st.host == nil && st.sock == nil {
		st.close()
		return nil, errors.New("no delivery path: neither the browser page nor the socket could be opened")
	}

	gov := governor.New(governor.Config{
		UniversalDelay:    tuning.UniversalDelay(),
		BurstLimit:        tuning.BurstLimit,
		BurstWindow:       tuning.BurstWindow(),
		BurstSafetyBuffer: tuning.BurstSafetyBuffer(),
	}, governor.WithLogger(log))

	chCfg := submit.Config{Recorder: gov, Logger: log}
	deps := engine.Deps{
		Governor: gov,
		Sessions: session.NewRepository(st.sessions, session.WithLogger(log)),
		Differ: regiondiff.New(regiondiff.Config{
			BaseURL:  s.RegionURL,
			Cookie:   cookie,
			Observer: met,
			Logger:   log,
		}),
		History:  st.history,
		Observer: met,
		Logger:   log,
	}
	if st.host != nil {
		chCfg.Page = st.host
		deps.Credits = st.host
	}
	if st.sock != nil {
		chCfg.Socket = st.sock
		deps.Socket = st.sock
	}
	deps.Submitter = submit.New(chCfg)

	st.engine, err = engine.New(deps, engine.ConfigFrom(tuning))
	if err != nil {
		st.close()
		return nil, err
	}

	log.Info("embedder ready",
		slog.Bool("page_path", st.host != nil),
		slog.Bool("socket_path", st.sock != nil),
		slog.String("data_dir", s.DataDir),
		slog.Int("universal_delay_ms", tuning.UniversalDelayMs),
		slog.Int("burst_limit", tuning.BurstLimit))
	return st, nil
}

// gaugeTimeout bounds the status read behind one metrics scrape.
var gaugeTimeout = 2 * time.Second

// updateGauges refreshes the scrape-time gauges from the engine status.
func (st *stack) updateGauges(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, gaugeTimeout)
	defer cancel()
	status := st.engine.Status(ctx)
	st.metrics.SetQueueDepth(status.QueueLength)
	st.metrics.SetBurstUsed(status.BurstUsed)
	st.metrics.SetPlacing(status.IsPlacing)
}

// close tears the stack down in reverse order of construction.
func (st *stack) close() {
	if st.engine != nil {
		_ = st.engine.Close()
	}
	if st.sock != nil {
		_ = st.sock.Close()
	}
	if st.host != nil {
		_ = st.host.Close()
	}
	if st.history != nil {
		_ = st.history.Close()
	}
	if st.sessions != nil {
		_ = st.sessions.Close()
	}
}
