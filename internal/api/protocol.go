// Package api is the request/response surface of the embedder: one typed
// envelope per action, correlated by id, served over HTTP.
package api

import (
	"encoding/json"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/history"
)

// Action names a command.
type Action string

const (
	ActionCheckConnection    Action = "checkConnection"
	ActionStartEmbedding     Action = "startEmbedding"
	ActionGetStatus          Action = "getStatus"
	ActionStopEmbedding      Action = "stopEmbedding"
	ActionCheckSession       Action = "checkSession"
	ActionResumeEmbedding    Action = "resumeEmbedding"
	ActionClearSession       Action = "clearSession"
	ActionValidateImage      Action = "validateImage"
	ActionEstimate           Action = "estimate"
	ActionGetHistory         Action = "getHistory"
	ActionDeleteHistoryEntry Action = "deleteHistoryEntry"
	ActionClearHistory       Action = "clearHistory"
)

// ActionsPath is the route every action is posted to.
const ActionsPath = "/v1/actions"

// Request is one command. ID is echoed in the Response.
type Request struct {
	ID     string          `json:"id"`
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StartData is the payload of startEmbedding.
type StartData struct {
	Pixels        []canvas.PixelWrite `json:"pixels"`
	CheckExisting bool                `json:"checkExisting"`
	Image         history.Image       `json:"image"`
}

// ResumeData is the payload of resumeEmbedding. ValidateMode runs a
// validation pass over the saved originals instead of a plain resume.
type ResumeData struct {
	ValidateMode bool `json:"validateMode"`
}

// EstimateData is the payload of estimate. Credits defaults to the balance
// shown on the page.
type EstimateData struct {
	Pixels  int  `json:"pixels"`
	Credits *int `json:"credits,omitempty"`
}

// HistoryEntryData is the payload of deleteHistoryEntry.
type HistoryEntryData struct {
	ID string `json:"id"`
}

// StopResult is the payload returned by stopEmbedding.
type StopResult struct {
	WasPlacing bool `json:"wasPlacing"`
}
