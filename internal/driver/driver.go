// Package driver abstracts the browser automation primitives the booking
// flow is built from. The production implementation drives a real Chrome
// instance over the DevTools protocol; tests substitute a scripted fake.
package driver

import (
	"context"
	"errors"

	"github.com/example/deskbot/internal/vision"
)

// ErrDriverClosed is returned by every operation after Close.
var ErrDriverClosed = errors.New("driver: closed")

// Driver is the set of page-level primitives the booking flow needs. A
// driver instance is owned by exactly one worker at a time; implementations
// are not required to be safe for concurrent use.
type Driver interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Click dispatches a mouse click at viewport coordinates.
	Click(ctx context.Context, x, y int) error
	// Type inserts text at the current focus.
	Type(ctx context.Context, text string) error
	// PressKey dispatches a named key such as "Enter" or "Escape".
	PressKey(ctx context.Context, key string) error
	// Screenshot captures the current viewport as an encoded image.
	Screenshot(ctx context.Context) ([]byte, error)
	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression and returns its result as raw
	// JSON text.
	Evaluate(ctx context.Context, expression string) ([]byte, error)
	// Viewport reports the current viewport dimensions.
	Viewport(ctx context.Context) (vision.Viewport, error)
	// ExtractSessionState serializes cookies and local storage for the
	// current origin into an opaque blob.
	ExtractSessionState(ctx context.Context) ([]byte, error)
	// RestoreSessionState rehydrates a blob produced by
	// ExtractSessionState into the running browser.
	RestoreSessionState(ctx context.Context, blob []byte) error
	// Close tears the browser down. Safe to call more than once.
	Close(ctx context.Context) error
}

// SessionState is the wire shape of the blob ExtractSessionState produces.
// The vault stores it encrypted; only the driver interprets it.
type SessionState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// Cookie mirrors the fields needed to rehydrate a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// OriginStorage holds the localStorage entries captured for one origin.
type OriginStorage struct {
	Origin  string        `json:"origin"`
	Entries []StorageItem `json:"entries"`
}

// StorageItem is one localStorage key/value pair.
type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
