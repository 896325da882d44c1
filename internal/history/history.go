// Package history keeps a log of embedding runs in SQLite: what was drawn,
// where, how it ended and how many credits it cost.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pixel-embedder/internal/platform/clock"
)

// MaxEntries is the number of runs kept; older ones are pruned on insert.
const MaxEntries = 50

// Run statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when an entry id is unknown.
var ErrNotFound = errors.New("history entry not found")

// Image describes what a run draws and where.
type Image struct {
	Name     string `json:"imageName"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	MaxWidth int    `json:"maxWidth"`
}

// Entry is one recorded run.
type Entry struct {
	ID             string     `json:"id"`
	Image          Image      `json:"image"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	PixelCount     int        `json:"pixelCount"`
	PixelsPlaced   int        `json:"pixelsPlaced"`
	Errors         int        `json:"errors"`
	Status         string     `json:"status"`
	CreditsAtStart *int       `json:"creditsAtStart"`
	CreditsUsed    *int       `json:"creditsUsed"`
	Error          string     `json:"error,omitempty"`
}

// Outcome is how a run ended.
type Outcome struct {
	Status       string
	PixelsPlaced int
	Errors       int
	CreditsAtEnd *int
	Err          string
}

const schema = `
CREATE TABLE IF NOT EXISTS embed_history (
	id               TEXT PRIMARY KEY,
	image_name       TEXT    NOT NULL,
	origin_x         INTEGER NOT NULL,
	origin_y         INTEGER NOT NULL,
	max_width        INTEGER NOT NULL,
	start_ms         INTEGER NOT NULL,
	end_ms           INTEGER,
	pixel_count      INTEGER NOT NULL,
	pixels_placed    INTEGER NOT NULL DEFAULT 0,
	errors           INTEGER NOT NULL DEFAULT 0,
	status           TEXT    NOT NULL,
	credits_at_start INTEGER,
	credits_used     INTEGER,
	error            TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS embed_history_start ON embed_history(start_ms DESC);
`

// Store is the SQLite-backed history.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if needed) the history database at path. Use
// ":memory:" for a throwaway store.
func Open(path string, clk clock.Clock) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{db: db, clock: clk}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a new in-progress run and returns its id.
func (s *Store) Begin(ctx context.Context, img Image, pixelCount int, creditsAtStart *int) (string, error) {
	id := "embed_" + uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embed_history
			(id, image_name, origin_x, origin_y, max_width, start_ms, pixel_count, status, credits_at_start)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, img.Name, img.X, img.Y, img.MaxWidth, s.clock.Now().UnixMilli(),
		pixelCount, StatusInProgress, nullInt(creditsAtStart))
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM embed_history WHERE id NOT IN (
			SELECT id FROM embed_history ORDER BY start_ms DESC, rowid DESC LIMIT ?
		)`, MaxEntries)
	if err != nil {
		return "", fmt.Errorf("prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit history: %w", err)
	}
	return id, nil
}

// Finish closes a run. Credits used is computed when both the start and end
// balances are known.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	var creditsAtStart sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT credits_at_start FROM embed_history WHERE id = ?`, id).Scan(&creditsAtStart)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read history %s: %w", id, err)
	}

	var used sql.NullInt64
	if creditsAtStart.Valid && out.CreditsAtEnd != nil {
		used = sql.NullInt64{Int64: creditsAtStart.Int64 - int64(*out.CreditsAtEnd), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE embed_history
		SET status = ?, end_ms = ?, pixels_placed = ?, errors = ?, credits_used = ?, error = ?
		WHERE id = ?`,
		out.Status, s.clock.Now().UnixMilli(), out.PixelsPlaced, out.Errors, used, out.Err, id)
	if err != nil {
		return fmt.Errorf("update history %s: %w", id, err)
	}
	return nil
}

// List returns the kept runs, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, image_name, origin_x, origin_y, max_width, start_ms, end_ms,
		       pixel_count, pixels_placed, errors, status, credits_at_start, credits_used, error
		FROM embed_history
		ORDER BY start_ms DESC, rowid DESC
		LIMIT ?`, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e              Entry
			startMs        int64
			endMs          sql.NullInt64
			creditsAtStart sql.NullInt64
			creditsUsed    sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Image.Name, &e.Image.X, &e.Image.Y, &e.Image.MaxWidth,
			&startMs, &endMs, &e.PixelCount, &e.PixelsPlaced, &e.Errors, &e.Status,
			&creditsAtStart, &creditsUsed, &e.Error); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.StartTime = time.UnixMilli(startMs).UTC()
		if endMs.Valid {
			t := time.UnixMilli(endMs.Int64).UTC()
			e.EndTime = &t
		}
		e.CreditsAtStart = intPtr(creditsAtStart)
		e.CreditsUsed = intPtr(creditsUsed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one run.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embed_history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every run.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embed_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
