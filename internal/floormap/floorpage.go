// Package floormap adapts the desk reservation site's floor-map UI to the
// booking flow. Everything here is specific to how that site renders: URL
// layout, date picker markup, popover text, sidebar structure. None of it is
// stable API, which is why the rest of the system only sees booking.Page.
package floormap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/example/deskbot/internal/booking"
	"github.com/example/deskbot/internal/driver"
	"github.com/example/deskbot/internal/vision"
)

// slotIDPattern extracts a dotted slot identifier such as "2.24.05" from
// popover or sidebar text.
var slotIDPattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// settleDelay is how long the page is given to re-render after a click
// before its DOM is read back.
const settleDelay = 500 * time.Millisecond

// FloorPageOptions configure the adapter.
type FloorPageOptions struct {
	// BaseURL is the site root, for example "https://desks.example.com".
	BaseURL  string
	Building string
	Floor    string
	// NewDriver rebuilds the browser for Restart. Required.
	NewDriver func(ctx context.Context) (driver.Driver, error)
	Logger    *slog.Logger
	// Sleep is swapped out by tests; nil selects a real delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FloorPage drives the vendor floor map through a browser.
type FloorPage struct {
	drv  driver.Driver
	opts FloorPageOptions
	// session is the last restored session blob, replayed after Restart.
	session []byte
}

var _ booking.Page = (*FloorPage)(nil)

// NewFloorPage wraps an already launched driver.
func NewFloorPage(drv driver.Driver, opts FloorPageOptions) *FloorPage {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FloorPage{drv: drv, opts: opts}
}

func (p *FloorPage) sleep(ctx context.Context, d time.Duration) error {
	if p.opts.Sleep != nil {
		return p.opts.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *FloorPage) floorURL() string {
	return fmt.Sprintf("%s/floors/%s/%s",
		strings.TrimRight(p.opts.BaseURL, "/"), p.opts.Building, p.opts.Floor)
}

func (p *FloorPage) bookingsURL() string {
	return strings.TrimRight(p.opts.BaseURL, "/") + "/bookings"
}

// checkSession surfaces a dead session: the site answers every protected
// route with a redirect to its login page.
func (p *FloorPage) checkSession(ctx context.Context) error {
	url, err := p.drv.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("vendor: read current url: %w", err)
	}
	if strings.Contains(url, "/login") {
		return booking.ErrSessionExpired
	}
	return nil
}

// RestoreSession rehydrates a captured session blob into the browser. The
// blob is retained so Restart can replay it.
func (p *FloorPage) RestoreSession(ctx context.Context, blob []byte) error {
	if err := p.drv.RestoreSessionState(ctx, blob); err != nil {
		return err
	}
	p.session = append([]byte(nil), blob...)
	return nil
}

// CaptureSession serializes the current browser session for vaulting.
func (p *FloorPage) CaptureSession(ctx context.Context) ([]byte, error) {
	return p.drv.ExtractSessionState(ctx)
}

// Open navigates to the floor view and waits for the map canvas.
func (p *FloorPage) Open(ctx context.Context) error {
	if err := p.drv.Navigate(ctx, p.floorURL()); err != nil {
		return err
	}
	if err := p.waitReady(ctx); err != nil {
		return err
	}
	return p.checkSession(ctx)
}

// waitReady polls until the document and the floor map container have
// rendered.
func (p *FloorPage) waitReady(ctx context.Context) error {
	const script = `document.readyState === "complete" && document.querySelector(".floor-map, #floor-canvas, [data-floor]") !== null`
	for try := 0; try < 20; try++ {
		raw, err := p.drv.Evaluate(ctx, script)
		if err != nil {
			return fmt.Errorf("vendor: readiness probe: %w", err)
		}
		var ready bool
		if err := json.Unmarshal(raw, &ready); err == nil && ready {
			return nil
		}
		if err := p.sleep(ctx, settleDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("vendor: floor map did not render")
}

// SelectDate opens the date picker, drives it to the date and reports
// whether the calendar cell was rendered enabled. A disabled cell is left
// unclicked.
func (p *FloorPage) SelectDate(ctx context.Context, date string) (bool, error) {
	openPicker := `(() => {
		const btn = document.querySelector("[data-date-picker], .date-picker-toggle");
		if (!btn) return false;
		btn.click();
		return true;
	})()`
	raw, err := p.drv.Evaluate(ctx, openPicker)
	if err != nil {
		return false, fmt.Errorf("vendor: open date picker: %w", err)
	}
	var opened bool
	if err := json.Unmarshal(raw, &opened); err != nil || !opened {
		if sessErr := p.checkSession(ctx); sessErr != nil {
			return false, sessErr
		}
		return false, fmt.Errorf("vendor: date picker not found")
	}
	if err := p.sleep(ctx, settleDelay); err != nil {
		return false, err
	}

	// The picker marks cells with data-date attributes; a cell outside the
	// bookable window carries the disabled attribute or class.
	probe := fmt.Sprintf(`(() => {
		const cell = document.querySelector('[data-date=%q]');
		if (!cell) return {found: false, enabled: false};
		const enabled = !cell.disabled && !cell.classList.contains("disabled") && cell.getAttribute("aria-disabled") !== "true";
		if (enabled) cell.click();
		return {found: true, enabled: enabled};
	})()`, date)
	raw, err = p.drv.Evaluate(ctx, probe)
	if err != nil {
		return false, fmt.Errorf("vendor: select date %s: %w", date, err)
	}
	var cell struct {
		Found   bool `json:"found"`
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &cell); err != nil {
		return false, fmt.Errorf("vendor: decode date cell state: %w", err)
	}
	if !cell.Found {
		return false, nil
	}
	if cell.Enabled {
		if err := p.sleep(ctx, settleDelay); err != nil {
			return false, err
		}
	}
	return cell.Enabled, nil
}

func (p *FloorPage) Viewport(ctx context.Context) (vision.Viewport, error) {
	return p.drv.Viewport(ctx)
}

func (p *FloorPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.drv.Screenshot(ctx)
}

// ProbeIndicator clicks an indicator, reads the popover title and dismisses
// it without booking.
func (p *FloorPage) ProbeIndicator(ctx context.Context, point vision.Point) (string, error) {
	if err := p.drv.Click(ctx, point.X, point.Y); err != nil {
		return "", err
	}
	if err := p.sleep(ctx, settleDelay); err != nil {
		return "", err
	}

	const readPopover = `(() => {
		const pop = document.querySelector(".desk-popover, [role=dialog], .slot-details");
		return pop ? pop.textContent : "";
	})()`
	raw, err := p.drv.Evaluate(ctx, readPopover)
	if err != nil {
		return "", fmt.Errorf("vendor: read indicator popover: %w", err)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("vendor: decode popover text: %w", err)
	}

	if err := p.drv.PressKey(ctx, "Escape"); err != nil {
		return "", err
	}
	return slotIDPattern.FindString(text), nil
}

// TakenSlots reads the sidebar list of reservations for the selected date.
func (p *FloorPage) TakenSlots(ctx context.Context) ([]string, error) {
	const script = `(() => {
		const rows = document.querySelectorAll(".reservation-list .reservation, [data-reserved-desk]");
		return Array.from(rows).map(r => r.getAttribute("data-reserved-desk") || r.textContent);
	})()`
	raw, err := p.drv.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("vendor: read reservation sidebar: %w", err)
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("vendor: decode reservation sidebar: %w", err)
	}

	var slots []string
	for _, entry := range entries {
		if id := slotIDPattern.FindString(entry); id != "" {
			slots = append(slots, id)
		}
	}
	return slots, nil
}

// BookSlot clicks the indicator, verifies the dialog names the expected
// slot, and confirms.
func (p *FloorPage) BookSlot(ctx context.Context, slot string, position vision.Point) error {
	if err := p.drv.Click(ctx, position.X, position.Y); err != nil {
		return err
	}
	if err := p.sleep(ctx, settleDelay); err != nil {
		return err
	}
	if err := p.checkSession(ctx); err != nil {
		return err
	}

	const readDialog = `(() => {
		const dlg = document.querySelector(".desk-popover, [role=dialog], .slot-details");
		return dlg ? dlg.textContent : "";
	})()`
	raw, err := p.drv.Evaluate(ctx, readDialog)
	if err != nil {
		return fmt.Errorf("vendor: read booking dialog: %w", err)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("vendor: decode booking dialog: %w", err)
	}
	if got := slotIDPattern.FindString(text); got != slot {
		// Dismiss so a stale dialog does not shadow the next candidate.
		if err := p.drv.PressKey(ctx, "Escape"); err != nil {
			return err
		}
		return fmt.Errorf("vendor: dialog shows %q, expected %q", got, slot)
	}

	confirm := `(() => {
		const btn = document.querySelector(".desk-popover button.confirm, [role=dialog] button[type=submit], .slot-details .book-button");
		if (!btn || btn.disabled) return false;
		btn.click();
		return true;
	})()`
	raw, err = p.drv.Evaluate(ctx, confirm)
	if err != nil {
		return fmt.Errorf("vendor: confirm booking: %w", err)
	}
	var clicked bool
	if err := json.Unmarshal(raw, &clicked); err != nil || !clicked {
		return fmt.Errorf("vendor: booking confirmation button unavailable")
	}
	return p.sleep(ctx, settleDelay)
}

// BookedSlot reads back which slot the page shows as booked for the date.
func (p *FloorPage) BookedSlot(ctx context.Context, date string) (string, error) {
	script := fmt.Sprintf(`(() => {
		const row = document.querySelector('[data-my-booking][data-date=%q], .my-booking[data-date=%q]');
		return row ? row.textContent : "";
	})()`, date, date)
	raw, err := p.drv.Evaluate(ctx, script)
	if err != nil {
		return "", fmt.Errorf("vendor: read booking confirmation: %w", err)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("vendor: decode booking confirmation: %w", err)
	}
	return slotIDPattern.FindString(text), nil
}

// ExistingBookings visits the reservations page and returns date to slot for
// every booking the user already holds, then returns to the floor view.
func (p *FloorPage) ExistingBookings(ctx context.Context) (map[string]string, error) {
	if err := p.drv.Navigate(ctx, p.bookingsURL()); err != nil {
		return nil, err
	}
	if err := p.checkSession(ctx); err != nil {
		return nil, err
	}

	const script = `(() => {
		const rows = document.querySelectorAll("[data-booking-date]");
		return Array.from(rows).map(r => ({date: r.getAttribute("data-booking-date"), text: r.textContent}));
	})()`
	raw, err := p.drv.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("vendor: read bookings page: %w", err)
	}
	var rows []struct {
		Date string `json:"date"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("vendor: decode bookings page: %w", err)
	}

	bookings := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Date == "" {
			continue
		}
		bookings[row.Date] = slotIDPattern.FindString(row.Text)
	}

	if err := p.drv.Navigate(ctx, p.floorURL()); err != nil {
		return nil, err
	}
	return bookings, nil
}

// Restart replaces the browser, replays the session and reopens the floor
// view.
func (p *FloorPage) Restart(ctx context.Context) error {
	if p.opts.NewDriver == nil {
		return fmt.Errorf("vendor: restart requires a driver factory")
	}
	if err := p.drv.Close(ctx); err != nil {
		p.opts.Logger.Warn("browser close before restart failed", "error", err)
	}

	fresh, err := p.opts.NewDriver(ctx)
	if err != nil {
		return fmt.Errorf("vendor: relaunch browser: %w", err)
	}
	p.drv = fresh

	if len(p.session) > 0 {
		if err := p.RestoreSession(ctx, p.session); err != nil {
			return fmt.Errorf("vendor: replay session after restart: %w", err)
		}
	}
	return p.Open(ctx)
}

// Close releases the browser.
func (p *FloorPage) Close(ctx context.Context) error {
	return p.drv.Close(ctx)
}
