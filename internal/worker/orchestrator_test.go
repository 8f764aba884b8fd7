package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func blockingFactory(t *testing.T) Factory {
	t.Helper()
	return func(userID string) *Worker {
		build := func(ctx context.Context) (Campaign, func(), error) {
			return fakeCampaign{run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}}, func() {}, nil
		}
		return New(userID, build, nil, nil, nil, nil)
	}
}

func TestOrchestratorRejectsDuplicateStart(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(blockingFactory(t), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})

	if err := o.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(context.Background(), "user-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate Start = %v, want ErrAlreadyRunning", err)
	}

	// A different user is independent.
	if err := o.Start(context.Background(), "user-2"); err != nil {
		t.Fatalf("Start for second user: %v", err)
	}
}

func TestOrchestratorReapsFinishedWorkers(t *testing.T) {
	t.Parallel()

	factory := func(userID string) *Worker {
		build := func(ctx context.Context) (Campaign, func(), error) {
			return fakeCampaign{run: func(context.Context) error { return nil }}, func() {}, nil
		}
		return New(userID, build, nil, nil, nil, nil)
	}
	o := NewOrchestrator(factory, nil)

	if err := o.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, ok := o.Status("user-1")
	if !ok {
		t.Fatal("worker should be registered")
	}

	// Wait for the first campaign to finish, then a new start must
	// replace the dead entry instead of failing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ = o.Status("user-1")
		if snap.Status == StatusCompleted {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}

	if err := o.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("restart after completion = %v, want success", err)
	}
}

func TestOrchestratorStop(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(blockingFactory(t), nil)

	if err := o.Stop(context.Background(), "ghost"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop unknown = %v, want ErrNotRunning", err)
	}

	if err := o.Start(context.Background(), "user-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Stop(ctx, "user-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := o.Status("user-1"); ok {
		t.Fatal("stopped worker should be deregistered")
	}
}

func TestOrchestratorStatusAll(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(blockingFactory(t), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})

	for _, user := range []string{"user-b", "user-a"} {
		if err := o.Start(context.Background(), user); err != nil {
			t.Fatalf("Start %s: %v", user, err)
		}
	}

	snaps := o.StatusAll()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].UserID != "user-a" || snaps[1].UserID != "user-b" {
		t.Fatalf("snapshot order = %s, %s; want sorted by user", snaps[0].UserID, snaps[1].UserID)
	}
}
