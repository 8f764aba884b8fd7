// Package poscache persists the mapping from slot identifiers to approximate
// screen coordinates captured during a prior discovery run. The cache is
// advisory: it is trusted only when its viewport signature matches the
// current rendering viewport exactly, and revalidated on every use.
package poscache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/deskbot/internal/vision"
)

// DefaultTolerance is the cache match radius in pixels. Empirically chosen
// for the vendor's rendering; may need recalibration for other environments.
const DefaultTolerance = 10

// ErrNotFound is returned when no cache document exists at the given path.
var ErrNotFound = errors.New("poscache: not found")

// Document is the on-disk position cache format.
type Document struct {
	Viewport   vision.Viewport         `json:"viewport"`
	Building   string                  `json:"building,omitempty"`
	Floor      string                  `json:"floor,omitempty"`
	Mapping    map[string]vision.Point `json:"slot_positions"`
	CapturedAt time.Time               `json:"captured_at"`
	SourceDate string                  `json:"source_date,omitempty"`
	TotalCount int                     `json:"total_count"`
}

// Cache answers nearest-coordinate lookups against a loaded document.
type Cache struct {
	doc Document
}

// New wraps a document in a queryable cache.
func New(doc Document) *Cache {
	if doc.Mapping == nil {
		doc.Mapping = map[string]vision.Point{}
	}
	return &Cache{doc: doc}
}

// Load reads a cache document from disk. A missing file maps to ErrNotFound;
// a corrupt document is an error, not an empty cache, so callers can tell
// "never captured" from "damaged".
func Load(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("poscache: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("poscache: parse %s: %w", path, err)
	}
	return New(doc), nil
}

// Save writes the document atomically next to its final location.
func Save(path string, doc Document) error {
	doc.TotalCount = len(doc.Mapping)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("poscache: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("poscache: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("poscache: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("poscache: rename: %w", err)
	}
	return nil
}

// Document returns a copy of the underlying document metadata.
func (c *Cache) Document() Document {
	return c.doc
}

// Len reports the number of cached slot positions.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.doc.Mapping)
}

// MatchesViewport reports whether the cache was captured under exactly the
// given rendering viewport. A non-matching cache must be ignored entirely.
func (c *Cache) MatchesViewport(v vision.Viewport) bool {
	if c == nil {
		return false
	}
	return c.doc.Viewport == v && c.doc.Viewport.Width > 0 && c.doc.Viewport.Height > 0
}

// SlotNear returns the identifier of the cached position closest to p within
// tolerance pixels. When several positions qualify, the nearest wins.
func (c *Cache) SlotNear(p vision.Point, tolerance int) (string, bool) {
	if c == nil || tolerance < 0 {
		return "", false
	}
	bestSlot := ""
	bestDist := tolerance*tolerance + 1
	for slot, pos := range c.doc.Mapping {
		dx := p.X - pos.X
		dy := p.Y - pos.Y
		dist := dx*dx + dy*dy
		if dist < bestDist {
			bestDist = dist
			bestSlot = slot
		}
	}
	if bestSlot == "" {
		return "", false
	}
	return bestSlot, true
}

// Position returns the cached coordinate for a slot identifier.
func (c *Cache) Position(slot string) (vision.Point, bool) {
	if c == nil {
		return vision.Point{}, false
	}
	p, ok := c.doc.Mapping[slot]
	return p, ok
}
