package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pixel-embedder/internal/platform/clock"
)

func intp(n int) *int { return &n }

func openTest(t *testing.T) (*Store, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s, err := Open(":memory:", fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func TestStore_Finish_round_trip(t *testing.T) {
	s, fake := openTest(t)
	ctx := context.Background()

	id, err := s.Begin(ctx, Image{Name: "logo.png", X: 10, Y: 20, MaxWidth: 64}, 400, intp(500))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	fake.Advance(time.Minute)
	if err := s.Finish(ctx, id, Outcome{Status: StatusCompleted, PixelsPlaced: 390, Errors: 10, CreditsAtEnd: intp(110)}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != id || e.Image.Name != "logo.png" || e.Image.X != 10 || e.Image.MaxWidth != 64 {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Status != StatusCompleted || e.PixelsPlaced != 390 || e.Errors != 10 || e.PixelCount != 400 {
		t.Fatalf("unexpected outcome %+v", e)
	}
	if e.CreditsUsed == nil || *e.CreditsUsed != 390 {
		t.Fatalf("credits used = %v, want 390", e.CreditsUsed)
	}
	if e.EndTime == nil || e.EndTime.Sub(e.StartTime) != time.Minute {
		t.Fatalf("end time = %v, start %v", e.EndTime, e.StartTime)
	}
}

func TestStore_Finish_unknown_credits(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	id, err := s.Begin(ctx, Image{Name: "a"}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx, id, Outcome{Status: StatusIncomplete, CreditsAtEnd: intp(3)}); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.List(ctx)
	if entries[0].CreditsUsed != nil || entries[0].CreditsAtStart != nil {
		t.Fatalf("credits should be unknown: %+v", entries[0])
	}
	if entries[0].Status != StatusIncomplete {
		t.Fatalf("status = %q", entries[0].Status)
	}

	if err := s.Finish(ctx, "embed_missing", Outcome{Status: StatusCompleted}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Finish unknown = %v, want ErrNotFound", err)
	}
}

func TestStore_List_newest_first_capped(t *testing.T) {
	s, fake := openTest(t)
	ctx := context.Background()

	for i := 0; i < MaxEntries+5; i++ {
		if _, err := s.Begin(ctx, Image{Name: fmt.Sprintf("img-%d", i)}, 1, nil); err != nil {
			t.Fatalf("Begin %d: %v", i, err)
		}
		fake.Advance(time.Second)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxEntries {
		t.Fatalf("entries = %d, want %d", len(entries), MaxEntries)
	}
	if entries[0].Image.Name != fmt.Sprintf("img-%d", MaxEntries+4) {
		t.Fatalf("newest = %s", entries[0].Image.Name)
	}
	if entries[MaxEntries-1].Image.Name != "img-5" {
		t.Fatalf("oldest kept = %s", entries[MaxEntries-1].Image.Name)
	}
}

func TestStore_Delete_and_clear(t *testing.T) {
	s, _ := openTest(t)
	ctx := context.Background()

	a, _ := s.Begin(ctx, Image{Name: "a"}, 1, nil)
	_, _ = s.Begin(ctx, Image{Name: "b"}, 1, nil)

	if err := s.Delete(ctx, a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 1 || entries[0].Image.Name != "b" {
		t.Fatalf("after delete: %+v", entries)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	entries, _ = s.List(ctx)
	if len(entries) != 0 {
		t.Fatalf("after clear: %d entries", len(entries))
	}
}

func TestOpen_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Begin(context.Background(), Image{Name: "x"}, 1, nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	entries, err := s.List(context.Background())
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
}
