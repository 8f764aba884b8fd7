// Package vision locates candidate open-slot indicators in floor map
// screenshots and resolves them to slot identifiers. Indicators are rendered
// as small colored dots with no stable structural identifier, so detection is
// purely visual: a color threshold followed by connected-component analysis.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
)

// Point is a screen coordinate in viewport pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Viewport is the rendering dimensions a screenshot (or position cache) was
// captured under.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detector finds open-slot indicators by color and blob size.
type Detector struct {
	// Hue band in degrees [0,360). The vendor renders open slots as bright
	// blue dots.
	MinHue float64
	MaxHue float64
	// Minimum saturation and value in [0,1]; anything duller is map artwork.
	MinSaturation float64
	MinValue      float64
	// Blob area bounds in pixels. Indicators are small but visible; larger
	// regions are legend boxes or highlighted rooms.
	MinArea int
	MaxArea int
}

// NewDetector returns a detector tuned for the vendor's indicator rendering.
func NewDetector() *Detector {
	return &Detector{
		MinHue:        180,
		MaxHue:        260,
		MinSaturation: 0.2,
		MinValue:      0.2,
		MinArea:       10,
		MaxArea:       500,
	}
}

// DetectIndicators decodes the screenshot and returns the centroid of every
// blob that passes the color and area filters, in row-major scan order.
func (d *Detector) DetectIndicators(screenshot []byte) ([]Point, error) {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("vision: decode screenshot: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, nil
	}

	mask := make([]bool, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			h, s, v := rgbToHSV(r>>8, g>>8, b>>8)
			if h >= d.MinHue && h <= d.MaxHue && s >= d.MinSaturation && v >= d.MinValue {
				mask[y*width+x] = true
			}
		}
	}

	return d.collectBlobs(mask, width, height), nil
}

// collectBlobs labels 4-connected components in the mask and returns the
// centroid of each component whose area falls within the configured bounds.
func (d *Detector) collectBlobs(mask []bool, width, height int) []Point {
	visited := make([]bool, len(mask))
	var points []Point
	queue := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true

		area := 0
		sumX, sumY := 0, 0
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := idx%width, idx/width
			area++
			sumX += x
			sumY += y

			for _, n := range [4]int{idx - 1, idx + 1, idx - width, idx + width} {
				if n < 0 || n >= len(mask) {
					continue
				}
				// Reject horizontal wrap-around.
				if (n == idx-1 && x == 0) || (n == idx+1 && x == width-1) {
					continue
				}
				if mask[n] && !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}

		if area >= d.MinArea && area <= d.MaxArea {
			points = append(points, Point{X: sumX / area, Y: sumY / area})
		}
	}
	return points
}

// rgbToHSV converts 8-bit channels to hue in degrees and saturation/value in
// [0,1].
func rgbToHSV(r8, g8, b8 uint32) (h, s, v float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	maxC := max(r, max(g, b))
	minC := min(r, min(g, b))
	delta := maxC - minC

	v = maxC
	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}
	switch maxC {
	case r:
		h = 60 * ((g - b) / delta)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// PositionIndex answers nearest-slot lookups from a previously captured
// position cache.
type PositionIndex interface {
	// SlotNear returns the slot identifier whose cached coordinate lies
	// within tolerance pixels of p, if any.
	SlotNear(p Point, tolerance int) (string, bool)
}

// Prober interactively resolves a single indicator to its slot identifier:
// click the coordinate, read the identifier from the response surface, and
// dismiss it without committing a booking. An empty identifier with a nil
// error means the indicator produced no readable response.
type Prober interface {
	ProbeIndicator(ctx context.Context, p Point) (string, error)
}

// ResolveOptions configure ResolveSlots.
type ResolveOptions struct {
	// Index is consulted first when non-nil (the cached path). Callers must
	// only pass an index whose viewport signature matches the current
	// rendering viewport.
	Index PositionIndex
	// Tolerance is the cache match radius in pixels.
	Tolerance int
	// Prober drives the discovery path for indicators the index cannot
	// resolve. When nil, unresolved indicators are dropped.
	Prober Prober
	Logger *slog.Logger
}

// ResolveSlots maps detected indicators to slot identifiers. Indicators the
// index resolves are answered instantly; the rest fall back to interactive
// discovery, which is roughly an order of magnitude slower per indicator.
func ResolveSlots(ctx context.Context, points []Point, opts ResolveOptions) (map[string]Point, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolved := make(map[string]Point, len(points))
	var pending []Point

	if opts.Index != nil {
		for _, p := range points {
			if slot, ok := opts.Index.SlotNear(p, opts.Tolerance); ok {
				resolved[slot] = p
				continue
			}
			pending = append(pending, p)
		}
		if len(pending) > 0 {
			logger.Info("indicators missing from position cache, probing individually", "count", len(pending))
		}
	} else {
		pending = points
	}

	if opts.Prober != nil {
		for _, p := range pending {
			if err := ctx.Err(); err != nil {
				return resolved, err
			}
			slot, err := opts.Prober.ProbeIndicator(ctx, p)
			if err != nil {
				logger.Warn("indicator probe failed", "x", p.X, "y", p.Y, "error", err)
				continue
			}
			if slot == "" {
				continue
			}
			resolved[slot] = p
		}
	}

	return resolved, nil
}

// FilterSlots drops identifiers that do not carry the configured prefix,
// appear in the exclusion list, or are already known to be taken.
func FilterSlots(mapping map[string]Point, prefix string, excluded, taken []string) map[string]Point {
	drop := make(map[string]bool, len(excluded)+len(taken))
	for _, slot := range excluded {
		drop[slot] = true
	}
	for _, slot := range taken {
		drop[slot] = true
	}

	filtered := make(map[string]Point, len(mapping))
	for slot, p := range mapping {
		if prefix != "" && !hasSlotPrefix(slot, prefix) {
			continue
		}
		if drop[slot] {
			continue
		}
		filtered[slot] = p
	}
	return filtered
}

func hasSlotPrefix(slot, prefix string) bool {
	if len(slot) < len(prefix) {
		return false
	}
	return slot[:len(prefix)] == prefix
}
