// Package progress carries the structured status events the core emits for
// operator-facing consumers. The core produces one event per major state
// transition and per round boundary; consumers (dashboard, logs) subscribe
// through the Reporter interface and never call back into the core.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Level classifies an event for display purposes.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Event is one entry in the append-only progress stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Reporter consumes progress events. Implementations must be safe for
// concurrent use; workers report from their own goroutines.
type Reporter interface {
	Report(event Event)
}

// Fanout forwards each event to every reporter in order.
type Fanout []Reporter

func (f Fanout) Report(event Event) {
	for _, r := range f {
		if r != nil {
			r.Report(event)
		}
	}
}

// LogReporter mirrors events into a slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(event Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch event.Level {
	case LevelError:
		logger.Error(event.Message)
	case LevelWarning:
		logger.Warn(event.Message)
	default:
		logger.Info(event.Message)
	}
}

// DefaultRingCapacity bounds the per-worker event history kept for the
// status endpoint.
const DefaultRingCapacity = 100

// Ring retains the most recent events for status snapshots.
type Ring struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewRing creates a ring keeping at most capacity events; non-positive
// capacities fall back to DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{capacity: capacity}
}

func (r *Ring) Report(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.capacity {
		r.events = r.events[len(r.events)-r.capacity:]
	}
}

// Snapshot returns the retained events oldest first.
func (r *Ring) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Clear drops the retained history, typically on worker restart.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Counters aggregate campaign totals for status snapshots. Safe for
// concurrent use; a nil receiver is a no-op so reporting is optional.
type Counters struct {
	rounds   atomic.Int64
	booked   atomic.Int64
	failures atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the counters.
type CounterSnapshot struct {
	RoundsCompleted int64 `json:"rounds_completed"`
	Booked          int64 `json:"booked"`
	Failures        int64 `json:"failures"`
}

func (c *Counters) RoundCompleted() {
	if c != nil {
		c.rounds.Add(1)
	}
}

func (c *Counters) BookingSucceeded() {
	if c != nil {
		c.booked.Add(1)
	}
}

func (c *Counters) AttemptFailed() {
	if c != nil {
		c.failures.Add(1)
	}
}

func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		RoundsCompleted: c.rounds.Load(),
		Booked:          c.booked.Load(),
		Failures:        c.failures.Load(),
	}
}

// Reset zeroes the counters, typically on worker restart.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.rounds.Store(0)
	c.booked.Store(0)
	c.failures.Store(0)
}
