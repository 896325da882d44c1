package engine

import (
	"encoding/json"

	"pixel-embedder/internal/session"
	"pixel-embedder/internal/socket"
)

// State is the lifecycle position of the engine.
type State int

const (
	StateIdle State = iota
	StatePlacing
	StateStopped
	StateCreditExhausted
)

func (s State) String() string {
	switch s {
	case StatePlacing:
		return "placing"
	case StateStopped:
		return "stopped"
	case StateCreditExhausted:
		return "credit_exhausted"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State               State  `json:"state"`
	IsPlacing           bool   `json:"isPlacing"`
	QueueLength         int    `json:"queueLength"`
	OriginalPixelsCount int    `json:"originalPixelsCount"`
	PixelsPlaced        int    `json:"pixelsPlaced"`
	Errors              int    `json:"errors"`
	Skipped             int    `json:"skipped"`
	Abandoned           int    `json:"abandoned"`
	CurrentRate         int    `json:"currentRate"`
	Tier                string `json:"tier,omitempty"`
	BurstUsed           int    `json:"burstUsed"`
	BurstLimit          int    `json:"burstLimit"`
	Credits             *int   `json:"credits"`
	DelayMs             int64  `json:"delay"`
	SessionID           string `json:"sessionId,omitempty"`
	HasResumableSession bool   `json:"hasResumableSession"`
}

// StartResult describes a launched (or trivially finished) run.
type StartResult struct {
	SessionID string `json:"sessionId,omitempty"`
	Queued    int    `json:"queued"`
	Skipped   int    `json:"skipped"`
	// NothingToDo is set when every pixel was already correct.
	NothingToDo bool `json:"nothingToDo,omitempty"`
}

// ResumeResult describes a resumed run.
type ResumeResult struct {
	SessionID string `json:"sessionId"`
	Queued    int    `json:"queued"`
	// Recovered counts pixels found missing on the canvas and put back in
	// front of the queue.
	Recovered int `json:"recovered"`
}

// ValidateResult describes a validation pass.
type ValidateResult struct {
	SessionID     string `json:"sessionId,omitempty"`
	MissingPixels int    `json:"missingPixels"`
	Message       string `json:"message"`
}

// ConnectionInfo reports delivery readiness.
type ConnectionInfo struct {
	Connected bool `json:"connected"`
	Credits   *int `json:"credits"`
}

// SessionInfo reports the resumable session, if any.
type SessionInfo struct {
	HasSession  bool            `json:"hasSession"`
	SessionData *session.Record `json:"sessionData,omitempty"`
}

func parseRateLimitInfo(data json.RawMessage) (socket.RateLimitInfo, bool) {
	var info socket.RateLimitInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return socket.RateLimitInfo{}, false
	}
	return info, true
}
