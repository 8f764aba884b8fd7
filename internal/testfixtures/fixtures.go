// Package testfixtures provides deterministic clocks, identifier generators,
// in-memory repositories and scripted drivers shared by the package tests.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/vision"
)

var attemptCounter uint64

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It falls on a Wednesday so weekday-sensitive tests read naturally.
func ReferenceTime() time.Time {
	return time.Date(2025, time.November, 5, 9, 0, 0, 0, time.UTC)
}

// NewBookingAttempt builds a ledger entry with sensible defaults, applying
// any supplied mutations.
func NewBookingAttempt(mutators ...func(*persistence.BookingAttempt)) persistence.BookingAttempt {
	n := atomic.AddUint64(&attemptCounter, 1)
	attempt := persistence.BookingAttempt{
		ID:      fmt.Sprintf("attempt-%d", n),
		UserID:  "user-1",
		Date:    "2025-11-12",
		Slot:    "2.24.05",
		Outcome: persistence.OutcomeBooked,
		Round:   1,
		At:      ReferenceTime(),
	}
	for _, mutate := range mutators {
		mutate(&attempt)
	}
	return attempt
}

// SamplePositions returns a small slot-to-coordinate mapping matching the
// reference floor used across vision and cache tests.
func SamplePositions() map[string]vision.Point {
	return map[string]vision.Point{
		"2.24.05": {X: 120, Y: 340},
		"2.24.06": {X: 180, Y: 340},
		"2.24.23": {X: 420, Y: 510},
		"2.24.35": {X: 640, Y: 205},
	}
}
