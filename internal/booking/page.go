package booking

import (
	"context"

	"github.com/example/deskbot/internal/vision"
)

// Page is the vendor floor-map surface an attempt runs against. The concrete
// implementation drives a browser; tests script one in memory. A page is
// owned by a single worker and is not safe for concurrent use.
type Page interface {
	vision.Prober

	// Open navigates to the floor view, returning ErrSessionExpired when
	// the vendor bounces to its login surface.
	Open(ctx context.Context) error
	// SelectDate drives the date picker to the given "2006-01-02" date and
	// reports whether the vendor rendered the calendar cell as enabled.
	SelectDate(ctx context.Context, date string) (bool, error)
	// Viewport reports the current rendering dimensions.
	Viewport(ctx context.Context) (vision.Viewport, error)
	// Screenshot captures the floor map as an encoded image.
	Screenshot(ctx context.Context) ([]byte, error)
	// TakenSlots lists slot identifiers the sidebar already shows as
	// reserved for the selected date.
	TakenSlots(ctx context.Context) ([]string, error)
	// BookSlot commits a booking for the slot at the given indicator
	// position.
	BookSlot(ctx context.Context, slot string, position vision.Point) error
	// BookedSlot reads back which slot, if any, the vendor shows as booked
	// for the date. An empty identifier means no booking is visible.
	BookedSlot(ctx context.Context, date string) (string, error)
	// ExistingBookings scans the vendor's reservation list and returns
	// date to slot for every booking the user already holds.
	ExistingBookings(ctx context.Context) (map[string]string, error)
	// Restart tears the underlying browser down and brings the page back
	// to a usable state.
	Restart(ctx context.Context) error
	// Close releases the underlying browser.
	Close(ctx context.Context) error
}
