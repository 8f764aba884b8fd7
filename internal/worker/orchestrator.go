package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrAlreadyRunning is returned when a start request races an alive
	// worker for the same user.
	ErrAlreadyRunning = errors.New("worker: a campaign is already running for this user")
	// ErrNotRunning is returned for stop or resume requests with no
	// registered worker.
	ErrNotRunning = errors.New("worker: no campaign is running for this user")
)

// Factory builds a fresh worker for a user. Called under the registry lock,
// so it must not block.
type Factory func(userID string) *Worker

// Orchestrator owns the per-user worker registry. All methods are safe for
// concurrent use.
type Orchestrator struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewOrchestrator creates an empty registry.
func NewOrchestrator(factory Factory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		factory: factory,
		logger:  logger,
		workers: make(map[string]*Worker),
	}
}

// Start launches a campaign for the user. Exactly one alive worker is
// allowed per user; entries whose goroutine already exited are reaped and
// replaced.
func (o *Orchestrator) Start(ctx context.Context, userID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.workers[userID]; ok {
		if existing.Active() {
			return ErrAlreadyRunning
		}
		o.logger.Debug("reaping finished worker", "user_id", userID)
		delete(o.workers, userID)
	}

	// Detach from the caller's context so a campaign started from an HTTP
	// request outlives the request. Values (request id, logger) survive.
	w := o.factory(userID)
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	o.workers[userID] = w
	o.logger.Info("campaign started", "user_id", userID)
	return nil
}

// Stop cancels the user's campaign and confirms the goroutine exited.
func (o *Orchestrator) Stop(ctx context.Context, userID string) error {
	o.mu.Lock()
	w, ok := o.workers[userID]
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	if err := w.Stop(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.workers, userID)
	o.mu.Unlock()
	o.logger.Info("campaign stopped", "user_id", userID)
	return nil
}

// Resume wakes the user's worker after a credential refresh.
func (o *Orchestrator) Resume(userID string) error {
	o.mu.Lock()
	w, ok := o.workers[userID]
	o.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	return w.Resume()
}

// Status returns the user's worker snapshot.
func (o *Orchestrator) Status(userID string) (Snapshot, bool) {
	o.mu.Lock()
	w, ok := o.workers[userID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return w.Snapshot(), true
}

// StatusAll returns a snapshot per registered worker, ordered by user.
func (o *Orchestrator) StatusAll() []Snapshot {
	o.mu.Lock()
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.mu.Unlock()

	snaps := make([]Snapshot, 0, len(workers))
	for _, w := range workers {
		snaps = append(snaps, w.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].UserID < snaps[j].UserID })
	return snaps
}

// Shutdown stops every worker, bounded by the context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.workers = make(map[string]*Worker)
	o.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
