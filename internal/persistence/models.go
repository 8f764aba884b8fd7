package persistence

import "time"

// BotConfig stores a user's booking configuration document. The document is
// the JSON encoding of the external configuration format; the persistence
// layer treats it as opaque.
type BotConfig struct {
	UserID    string
	Document  []byte
	UpdatedAt time.Time
}

// Credential stores one encrypted session blob per user. The uniqueness is an
// invariant: refreshes overwrite, never append.
type Credential struct {
	UserID     string
	Ciphertext []byte
	CapturedAt time.Time
	Valid      bool
}

// AttemptOutcome classifies how a booking attempt for one date concluded.
type AttemptOutcome string

const (
	// OutcomeBooked records a verified successful booking.
	OutcomeBooked AttemptOutcome = "booked"
	// OutcomeSkippedIneligible records a date outside the horizon or
	// rendered disabled. Expected, recurring, not a failure.
	OutcomeSkippedIneligible AttemptOutcome = "skipped_ineligible"
	// OutcomeSkippedNoSlots records a sweep that found no matching open
	// slot for the date.
	OutcomeSkippedNoSlots AttemptOutcome = "skipped_no_slots"
	// OutcomeFailed records an attempt that errored after exhausting its
	// local retries.
	OutcomeFailed AttemptOutcome = "failed"
)

// BookingAttempt is one append-only ledger entry. Records are never mutated;
// they serve as audit trail and as the "already booked, don't retry" check.
type BookingAttempt struct {
	ID      string
	UserID  string
	Date    string
	Slot    string // empty when no slot was chosen
	Outcome AttemptOutcome
	Round   int
	Message string
	At      time.Time
}
