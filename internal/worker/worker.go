// Package worker runs one booking campaign per user on its own goroutine and
// tracks its lifecycle. The orchestrator keeps the per-user registry; a
// worker only manages its own run loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/deskbot/internal/booking"
	"github.com/example/deskbot/internal/logging"
	"github.com/example/deskbot/internal/progress"
)

// Status is the externally visible lifecycle phase of a worker.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusRunning        Status = "running"
	// StatusPausedSessionExpired means the stored credential no longer
	// opens a session. The worker holds position until Resume is called
	// after a refresh.
	StatusPausedSessionExpired Status = "paused_session_expired"
	StatusError                Status = "error"
	StatusStopped              Status = "stopped"
	// StatusCompleted means the campaign finished with nothing left to do.
	StatusCompleted Status = "completed"
)

// Campaign is one full scheduler run. The builder wires credentials, browser
// and scheduler together; the worker only drives the lifecycle.
type Campaign interface {
	Run(ctx context.Context) error
}

// BuildFunc assembles a fresh campaign. The returned cleanup releases the
// campaign's resources (typically the browser) and must be safe to call even
// after the campaign failed.
type BuildFunc func(ctx context.Context) (Campaign, func(), error)

// Snapshot is a point-in-time view of a worker.
type Snapshot struct {
	UserID    string                   `json:"user_id"`
	Status    Status                   `json:"status"`
	StartedAt time.Time                `json:"started_at,omitempty"`
	LastError string                   `json:"last_error,omitempty"`
	Counters  progress.CounterSnapshot `json:"counters"`
	Events    []progress.Event         `json:"events,omitempty"`
}

// Worker owns a single user's campaign goroutine.
type Worker struct {
	userID   string
	build    BuildFunc
	logger   *slog.Logger
	ring     *progress.Ring
	counters *progress.Counters
	now      func() time.Time

	mu        sync.Mutex
	status    Status
	lastErr   string
	startedAt time.Time
	cancel    context.CancelFunc
	resume    chan struct{}
	done      chan struct{}
}

// New creates an idle worker. The ring and counters may be nil when no event
// history or totals are wanted.
func New(userID string, build BuildFunc, ring *progress.Ring, counters *progress.Counters, logger *slog.Logger, now func() time.Time) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{
		userID:   userID,
		build:    build,
		logger:   logger.With("user_id", userID),
		ring:     ring,
		counters: counters,
		now:      now,
		status:   StatusIdle,
	}
}

// ErrWorkerActive is returned by Start while a previous run is still alive.
var ErrWorkerActive = errors.New("worker: already running")

// ErrNotPaused is returned by Resume when the worker is not waiting on a
// credential refresh.
var ErrNotPaused = errors.New("worker: not paused")

// Start launches the campaign goroutine. The context governs the whole
// campaign; Stop cancels it.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active() {
		return ErrWorkerActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.resume = make(chan struct{}, 1)
	w.done = make(chan struct{})
	w.status = StatusAuthenticating
	w.lastErr = ""
	w.startedAt = w.now()
	if w.ring != nil {
		w.ring.Clear()
	}
	w.counters.Reset()

	go w.run(runCtx)
	return nil
}

// Stop cancels the campaign and waits for the goroutine to exit, bounded by
// the caller's context.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume wakes a worker paused on an expired session, typically after the
// credential was refreshed through the control surface.
func (w *Worker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPausedSessionExpired {
		return ErrNotPaused
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
	return nil
}

// Active reports whether the campaign goroutine is alive.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active()
}

func (w *Worker) active() bool {
	switch w.status {
	case StatusAuthenticating, StatusRunning, StatusPausedSessionExpired:
		return true
	default:
		return false
	}
}

// Snapshot returns the worker's current state, including its recent events.
func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	snap := Snapshot{
		UserID:    w.userID,
		Status:    w.status,
		StartedAt: w.startedAt,
		LastError: w.lastErr,
		Counters:  w.counters.Snapshot(),
	}
	w.mu.Unlock()
	if w.ring != nil {
		snap.Events = w.ring.Snapshot()
	}
	return snap
}

// Done exposes completion for tests and orchestrated shutdown. Nil before
// the first Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) setStatus(status Status, err error) {
	w.mu.Lock()
	w.status = status
	if err != nil {
		w.lastErr = err.Error()
	}
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	w.mu.Lock()
	done := w.done
	resume := w.resume
	w.mu.Unlock()
	defer close(done)

	// The campaign and everything under it log through the context, tagged
	// with this worker's user.
	ctx = logging.ContextWithLogger(ctx, w.logger)

	for {
		w.setStatus(StatusAuthenticating, nil)
		campaign, cleanup, err := w.build(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.setStatus(StatusStopped, nil)
				return
			}
			if errors.Is(err, booking.ErrSessionExpired) {
				if !w.pause(ctx, resume) {
					return
				}
				continue
			}
			w.logger.Error("campaign setup failed", "error", err)
			w.setStatus(StatusError, err)
			return
		}

		w.setStatus(StatusRunning, nil)
		err = campaign.Run(ctx)
		if cleanup != nil {
			cleanup()
		}

		switch {
		case err == nil:
			w.logger.Info("campaign completed")
			w.setStatus(StatusCompleted, nil)
			return
		case ctx.Err() != nil:
			w.setStatus(StatusStopped, nil)
			return
		case errors.Is(err, booking.ErrSessionExpired):
			if !w.pause(ctx, resume) {
				return
			}
		default:
			w.logger.Error("campaign failed", "error", err)
			w.setStatus(StatusError, err)
			return
		}
	}
}

// pause parks the worker until Resume or cancellation. It reports whether
// the campaign should be rebuilt.
func (w *Worker) pause(ctx context.Context, resume <-chan struct{}) bool {
	w.logger.Warn("session expired, pausing until the credential is refreshed")
	w.setStatus(StatusPausedSessionExpired, booking.ErrSessionExpired)
	select {
	case <-ctx.Done():
		w.setStatus(StatusStopped, nil)
		return false
	case <-resume:
		w.logger.Info("resuming after credential refresh")
		return true
	}
}
