package poscache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/deskbot/internal/vision"
)

func sampleDocument() Document {
	return Document{
		Viewport: vision.Viewport{Width: 1920, Height: 1080},
		Building: "LC",
		Floor:    "2",
		Mapping: map[string]vision.Point{
			"2.24.05": {X: 412, Y: 633},
			"2.24.06": {X: 455, Y: 633},
		},
		CapturedAt: time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC),
		SourceDate: "2025-10-08",
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "slot_positions.json")
	if err := Save(path, sampleDocument()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cache, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cache.Len())
	}
	if got := cache.Document().TotalCount; got != 2 {
		t.Fatalf("TotalCount = %d, want 2", got)
	}
	if p, ok := cache.Position("2.24.05"); !ok || p != (vision.Point{X: 412, Y: 633}) {
		t.Fatalf("Position(2.24.05) = %+v %v", p, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Load corrupt = %v, want parse error distinct from ErrNotFound", err)
	}
}

func TestMatchesViewport(t *testing.T) {
	t.Parallel()

	cache := New(sampleDocument())
	if !cache.MatchesViewport(vision.Viewport{Width: 1920, Height: 1080}) {
		t.Fatal("identical viewport should match")
	}
	if cache.MatchesViewport(vision.Viewport{Width: 1366, Height: 768}) {
		t.Fatal("differing viewport must not match")
	}

	var nilCache *Cache
	if nilCache.MatchesViewport(vision.Viewport{Width: 1920, Height: 1080}) {
		t.Fatal("nil cache never matches")
	}
}

func TestSlotNear(t *testing.T) {
	t.Parallel()

	cache := New(sampleDocument())

	if slot, ok := cache.SlotNear(vision.Point{X: 415, Y: 630}, DefaultTolerance); !ok || slot != "2.24.05" {
		t.Fatalf("SlotNear close point = %q %v, want 2.24.05", slot, ok)
	}
	if _, ok := cache.SlotNear(vision.Point{X: 700, Y: 700}, DefaultTolerance); ok {
		t.Fatal("far point must not match any cached slot")
	}

	// A point between two cached positions resolves to the nearest one.
	if slot, ok := cache.SlotNear(vision.Point{X: 451, Y: 633}, DefaultTolerance); !ok || slot != "2.24.06" {
		t.Fatalf("SlotNear midpoint = %q %v, want 2.24.06", slot, ok)
	}
}
