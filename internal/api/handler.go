package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/engine"
	"pixel-embedder/internal/history"
	"pixel-embedder/internal/platform/metrics"
	"pixel-embedder/internal/raster"
)

// DefaultActionTimeout bounds the synchronous part of one action.
const DefaultActionTimeout = 60 * time.Second

// Engine is the subset of *engine.Engine the handler drives.
type Engine interface {
	Start(ctx context.Context, req engine.StartRequest) (engine.StartResult, error)
	Stop() bool
	Resume(ctx context.Context) (engine.ResumeResult, error)
	Validate(ctx context.Context) (engine.ValidateResult, error)
	Status(ctx context.Context) engine.Status
	CheckConnection(ctx context.Context) engine.ConnectionInfo
	CheckSession() (engine.SessionInfo, error)
	ClearSession(ctx context.Context) error
}

// History is the subset of *history.Store the handler exposes.
type History interface {
	List(ctx context.Context) ([]history.Entry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

var (
	errUnknownAction = errors.New("unknown action")
	errNoHistory     = errors.New("history is not enabled")
)

// Handler serves actions over HTTP.
type Handler struct {
	engine  Engine
	history History
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewHandler returns a Handler. history and m may be nil.
func NewHandler(eng Engine, hist History, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{engine: eng, history: hist, log: log, metrics: m, timeout: DefaultActionTimeout}
}

// WithTimeout overrides the per-action timeout.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// Routes mounts the action endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post(ActionsPath, h.Dispatch)
}

// Dispatch handles POST /v1/actions. Malformed envelopes and unknown actions
// get 400; every other outcome is 200 with success set accordingly.
// Requests and 4xx responses are counted by the metrics middleware; failed
// actions answered with 200 are counted here.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid action body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := h.handle(ctx, req)
	status := http.StatusOK
	switch {
	case resp.Success:
	case resp.Error == errUnknownAction.Error():
		status = http.StatusBadRequest
	default:
		h.metrics.IncErrors()
	}
	writeJSON(w, status, resp)
}

// handle runs one action. A panic inside an action is converted into a
// failed Response.
func (h *Handler) handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error("action panicked",
				slog.String("action", string(req.Action)),
				slog.String("panic", fmt.Sprint(p)))
			resp = Response{ID: req.ID, Error: "internal error"}
		}
	}()

	payload, err := h.run(ctx, req)
	if err != nil {
		h.log.Info("action failed",
			slog.String("id", req.ID),
			slog.String("action", string(req.Action)),
			slog.String("error", err.Error()))
		return Response{ID: req.ID, Error: err.Error()}
	}

	resp = Response{ID: req.ID, Success: true}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Response{ID: req.ID, Error: fmt.Sprintf("encode result: %v", err)}
		}
		resp.Data = data
	}
	h.log.Debug("action done", slog.String("id", req.ID), slog.String("action", string(req.Action)))
	return resp
}

func (h *Handler) run(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case ActionCheckConnection:
		return h.engine.CheckConnection(ctx), nil

	case ActionStartEmbedding:
		var d StartData
		if err := decode(req.Data, &d); err != nil {
			return nil, err
		}
		pixels, err := normalizePixels(d.Pixels)
		if err != nil {
			return nil, err
		}
		return h.engine.Start(ctx, engine.StartRequest{
			Pixels:        pixels,
			CheckExisting: d.CheckExisting,
			Image:         d.Image,
		})

	case ActionGetStatus:
		return h.engine.Status(ctx), nil

	case ActionStopEmbedding:
		return StopResult{WasPlacing: h.engine.Stop()}, nil

	case ActionCheckSession:
		return h.engine.CheckSession()

	case ActionResumeEmbedding:
		var d ResumeData
		if err := decode(req.Data, &d); err != nil {
			return nil, err
		}
		if d.ValidateMode {
			return h.engine.Validate(ctx)
		}
		return h.engine.Resume(ctx)

	case ActionClearSession:
		return nil, h.engine.ClearSession(ctx)

	case ActionValidateImage:
		return h.engine.Validate(ctx)

	case ActionEstimate:
		var d EstimateData
		if err := decode(req.Data, &d); err != nil {
			return nil, err
		}
		st := h.engine.Status(ctx)
		credits := d.Credits
		if credits == nil {
			credits = st.Credits
		}
		return raster.Estimate(d.Pixels, time.Duration(st.DelayMs)*time.Millisecond, credits), nil

	case ActionGetHistory:
		if h.history == nil {
			return nil, errNoHistory
		}
		return h.history.List(ctx)

	case ActionDeleteHistoryEntry:
		if h.history == nil {
			return nil, errNoHistory
		}
		var d HistoryEntryData
		if err := decode(req.Data, &d); err != nil {
			return nil, err
		}
		return nil, h.history.Delete(ctx, d.ID)

	case ActionClearHistory:
		if h.history == nil {
			return nil, errNoHistory
		}
		return nil, h.history.Clear(ctx)
	}
	return nil, errUnknownAction
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid action data: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// normalizePixels rewrites every color to canonical "#RRGGBB" so region
// diffs compare like with like.
func normalizePixels(ps []canvas.PixelWrite) ([]canvas.PixelWrite, error) {
	out := make([]canvas.PixelWrite, len(ps))
	for i, p := range ps {
		c, err := canvas.ParseColor(string(p.Color))
		if err != nil {
			return nil, fmt.Errorf("pixel %d at (%d,%d): %w", i, p.X, p.Y, err)
		}
		p.Color = c
		out[i] = p
	}
	return out, nil
}
