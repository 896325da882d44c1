package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultClientTimeout bounds one round trip.
const DefaultClientTimeout = 10 * time.Second

// LongClientTimeout bounds actions that may diff the canvas or wait for a
// run to stop before answering. It outlasts DefaultActionTimeout so the
// server gives up first.
const LongClientTimeout = DefaultActionTimeout + 15*time.Second

// ClientTimeout returns the round-trip bound a Client applies to action.
func ClientTimeout(action Action) time.Duration {
	switch action {
	case ActionStartEmbedding, ActionResumeEmbedding, ActionValidateImage, ActionClearSession:
		return LongClientTimeout
	}
	return DefaultClientTimeout
}

// ActionError is a failed Response surfaced as an error.
type ActionError struct {
	Action  Action
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client sends actions to a running embedder.
type Client struct {
	base      string
	http      *http.Client
	perAction bool
}

// NewClient returns a Client for the server at baseURL. When hc is nil each
// action is bounded by ClientTimeout; otherwise hc's own timeout applies.
func NewClient(baseURL string, hc *http.Client) *Client {
	perAction := hc == nil
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc, perAction: perAction}
}

// Do sends one action and returns its Response. Transport failures and
// responses that do not echo the request id are errors; a Response with
// Success=false is not.
func (c *Client) Do(ctx context.Context, action Action, data any) (Response, error) {
	req := Request{ID: uuid.NewString(), Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s data: %w", action, err)
		}
		req.Data = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	if c.perAction {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ClientTimeout(action))
		defer cancel()
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+ActionsPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", action, err)
	}
	defer hresp.Body.Close()

	var resp Response
	if err := json.NewDecoder(hresp.Body).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("%s: decode response (HTTP %d): %w", action, hresp.StatusCode, err)
	}
	if resp.ID != req.ID {
		if resp.Error != "" {
			return resp, &ActionError{Action: action, Message: resp.Error}
		}
		return Response{}, fmt.Errorf("%s: response id %q does not match request %q", action, resp.ID, req.ID)
	}
	return resp, nil
}

// Call sends one action and decodes the result into out, which may be nil.
// A failed Response is returned as *ActionError.
func (c *Client) Call(ctx context.Context, action Action, data, out any) error {
	resp, err := c.Do(ctx, action, data)
	if err != nil {
		return err
	}
	if !resp.Success {
		return &ActionError{Action: action, Message: resp.Error}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", action, err)
	}
	return nil
}
