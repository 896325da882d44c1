// Package session persists the single in-flight embedding session so a run
// can be resumed or validated after a stop, crash or restart.
package session

import (
	"time"

	"pixel-embedder/internal/canvas"
)

// Key is the slot the session record is stored under.
const Key = "pixelEmbedder_progress"

// MaxAge is how long a record stays resumable.
const MaxAge = 24 * time.Hour

// Record is the persisted progress of one embedding session. Timestamp is
// epoch milliseconds of the last save.
type Record struct {
	SessionID      string              `json:"sessionId"`
	Queue          []canvas.PixelWrite `json:"queue"`
	OriginalPixels []canvas.PixelWrite `json:"originalPixels"`
	Abandoned      []canvas.PixelWrite `json:"abandoned,omitempty"`
	PixelsPlaced   int                 `json:"pixelsPlaced"`
	Errors         int                 `json:"errors"`
	Skipped        int                 `json:"skipped"`
	Timestamp      int64               `json:"timestamp"`
	IsActive       bool                `json:"isActive"`
	HistoryID      string              `json:"historyId,omitempty"`
}

// SavedAt returns Timestamp as a time.
func (r *Record) SavedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Resumable reports whether the record still has work queued.
func (r *Record) Resumable() bool {
	return r != nil && len(r.Queue) > 0
}
