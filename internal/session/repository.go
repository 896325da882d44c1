package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"pixel-embedder/internal/platform/clock"
)

// Repository loads and saves the single session record on top of a Store.
type Repository struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the wall clock used for timestamps and staleness.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// NewRepository returns a Repository over store.
func NewRepository(store Store, opts ...Option) *Repository {
	r := &Repository{store: store, clock: clock.Real{}, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save stamps rec with the current time and writes it.
func (r *Repository) Save(rec *Record) error {
	rec.Timestamp = r.clock.Now().UnixMilli()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.store.Put(Key, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the stored record, or nil when there is none. A record older
// than MaxAge is deleted and reported as absent; so is an unreadable one.
func (r *Repository) Load() (*Record, error) {
	rec, discard, err := r.read()
	if err != nil {
		return nil, err
	}
	if discard {
		return nil, r.Delete()
	}
	return rec, nil
}

// Peek is Load without deleting stale or unreadable records.
func (r *Repository) Peek() (*Record, error) {
	rec, _, err := r.read()
	return rec, err
}

func (r *Repository) read() (rec *Record, discard bool, err error) {
	data, ok, err := r.store.Get(Key)
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		r.log.Warn("unreadable session record", slog.String("error", err.Error()))
		return nil, true, nil
	}

	age := r.clock.Now().Sub(out.SavedAt())
	if age > MaxAge {
		r.log.Info("stale session record",
			slog.String("session_id", out.SessionID),
			slog.Duration("age", age))
		return nil, true, nil
	}
	return &out, false, nil
}

// Delete removes the stored record. Deleting a missing record is not an error.
func (r *Repository) Delete() error {
	if err := r.store.Delete(Key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
