package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"pixel-embedder/internal/api"
	"pixel-embedder/internal/engine"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/platform/logger"
)

type stubEngine struct {
	validated bool
	resumed   bool
}

func (s *stubEngine) Start(context.Context, engine.StartRequest) (engine.StartResult, error) {
	return engine.StartResult{}, engine.ErrNoPixels
}
func (s *stubEngine) Stop() bool { return false }
func (s *stubEngine) Resume(context.Context) (engine.ResumeResult, error) {
	s.resumed = true
	return engine.ResumeResult{}, engine.ErrNoSession
}
func (s *stubEngine) Validate(context.Context) (engine.ValidateResult, error) {
	s.validated = true
	return engine.ValidateResult{Message: "Validation complete - no missing pixels found!"}, nil
}
func (s *stubEngine) Status(context.Context) engine.Status {
	return engine.Status{State: engine.StateIdle, QueueLength: 3, DelayMs: 400}
}
func (s *stubEngine) CheckConnection(context.Context) engine.ConnectionInfo {
	return engine.ConnectionInfo{}
}
func (s *stubEngine) CheckSession() (engine.SessionInfo, error) { return engine.SessionInfo{}, nil }
func (s *stubEngine) ClearSession(context.Context) error        { return nil }

type stubHistory struct{ cleared bool }

func (h *stubHistory) List(context.Context) ([]history.Entry, error) {
	return []history.Entry{{ID: "embed_x", Status: history.StatusCompleted}}, nil
}
func (h *stubHistory) Delete(context.Context, string) error { return history.ErrNotFound }
func (h *stubHistory) Clear(context.Context) error {
	h.cleared = true
	return nil
}

func runCtl(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	cmd := newCtlCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs(append(args, "--api", srvURL))
	err := cmd.Execute()
	return out.String(), err
}

func newCtlServer(t *testing.T, eng api.Engine, hist api.History) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	api.NewHandler(eng, hist, logger.Discard(), nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestCtlCmd_Status(t *testing.T) {
	srv := newCtlServer(t, &stubEngine{}, nil)

	out, err := runCtl(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st map[string]any
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st["state"] != "idle" || st["queueLength"] != float64(3) {
		t.Errorf("unexpected status %v", st)
	}
}

func TestCtlCmd_Resume_validate(t *testing.T) {
	eng := &stubEngine{}
	srv := newCtlServer(t, eng, nil)

	out, err := runCtl(t, srv.URL, "resume", "--validate")
	if err != nil {
		t.Fatalf("resume --validate: %v", err)
	}
	if !eng.validated || eng.resumed {
		t.Errorf("expected validation, got validated=%v resumed=%v", eng.validated, eng.resumed)
	}
	if !strings.Contains(out, "no missing pixels") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCtlCmd_action_failure(t *testing.T) {
	srv := newCtlServer(t, &stubEngine{}, nil)

	_, err := runCtl(t, srv.URL, "resume")
	if err == nil || !strings.Contains(err.Error(), engine.ErrNoSession.Error()) {
		t.Fatalf("expected %q, got %v", engine.ErrNoSession, err)
	}
}

func TestCtlCmd_History(t *testing.T) {
	hist := &stubHistory{}
	srv := newCtlServer(t, &stubEngine{}, hist)

	out, err := runCtl(t, srv.URL, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "embed_x") {
		t.Errorf("expected entry in output, got %q", out)
	}

	out, err = runCtl(t, srv.URL, "history", "--clear")
	if err != nil {
		t.Fatalf("history --clear: %v", err)
	}
	if !hist.cleared || strings.TrimSpace(out) != "ok" {
		t.Errorf("clear: cleared=%v out=%q", hist.cleared, out)
	}

	if _, err := runCtl(t, srv.URL, "history", "--delete", "missing"); err == nil {
		t.Error("expected an error deleting a missing entry")
	}
}

type slowClearEngine struct{ stubEngine }

func (s *slowClearEngine) ClearSession(ctx context.Context) error {
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
	}
	return nil
}

func TestCtlCmd_Clear_timeout_flag(t *testing.T) {
	srv := newCtlServer(t, &slowClearEngine{}, nil)

	if _, err := runCtl(t, srv.URL, "clear", "--timeout", "20ms"); err == nil {
		t.Fatal("expected clear to time out")
	}
	out, err := runCtl(t, srv.URL, "clear")
	if err != nil {
		t.Fatalf("clear with default timeout: %v", err)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Errorf("unexpected output %q", out)
	}
}
