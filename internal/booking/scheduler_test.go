package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/progress"
	"github.com/example/deskbot/internal/testfixtures"
	"github.com/example/deskbot/internal/vision"
)

func newTestScheduler(t *testing.T, page *fakePage, cfg Config, mode Mode, store *testfixtures.MemoryStore) *Scheduler {
	t.Helper()
	runner := newTestRunner(t, page, cfg)
	gen := testfixtures.NewIDGenerator("attempt")
	return &Scheduler{
		Runner:   runner,
		Page:     page,
		Resolver: runner.Resolver,
		Config:   cfg,
		Mode:     mode,
		UserID:   "user-1",
		Attempts: store,
		Counters: &progress.Counters{},
		Now:      runner.Now,
		Sleep:    func(context.Context, time.Duration) error { return nil },
		NewID:    gen.Next,
	}
}

func openSlots() map[string]vision.Point {
	return map[string]vision.Point{
		"2.24.05": {X: 40, Y: 40},
		"2.24.35": {X: 120, Y: 80},
	}
}

func TestRunSweepsFurthestFirst(t *testing.T) {
	t.Parallel()

	page := newFakePage(t, openSlots())
	store := testfixtures.NewMemoryStore()
	sched := newTestScheduler(t, page, testConfig(), ModeSingle, store)

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Wednesdays within the 29 day horizon from 2025-11-05, furthest
	// first.
	want := []string{"2025-12-03", "2025-11-26", "2025-11-19", "2025-11-12", "2025-11-05"}
	if len(page.datesTried) != len(want) {
		t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
	}
	for i, date := range want {
		if page.datesTried[i] != date {
			t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
		}
	}

	attempts, err := store.ListAttempts(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != len(want) {
		t.Fatalf("ledger entries = %d, want %d", len(attempts), len(want))
	}
	for _, a := range attempts {
		if a.Outcome != persistence.OutcomeBooked || a.Round != 1 {
			t.Fatalf("ledger entry = %+v", a)
		}
	}

	totals := sched.Counters.Snapshot()
	if totals.RoundsCompleted != 1 || totals.Booked != int64(len(want)) || totals.Failures != 0 {
		t.Fatalf("counters = %+v, want 1 round and %d bookings", totals, len(want))
	}
}

func TestRunSkipsAlreadyBookedDates(t *testing.T) {
	t.Parallel()

	page := newFakePage(t, openSlots())
	// One booking made outside the tool shows up on the vendor's
	// reservation list only.
	page.existing = map[string]string{"2025-11-26": "2.24.08"}

	store := testfixtures.NewMemoryStore()
	if err := store.AppendAttempt(context.Background(), testfixtures.NewBookingAttempt(func(a *persistence.BookingAttempt) {
		a.Date = "2025-12-03"
	})); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	sched := newTestScheduler(t, page, testConfig(), ModeSingle, store)
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"2025-11-19", "2025-11-12", "2025-11-05"}
	if len(page.datesTried) != len(want) {
		t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
	}
	for i, date := range want {
		if page.datesTried[i] != date {
			t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
		}
	}
}

func TestRunStopAtFirstSuccess(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StopAtFirstSuccess = true
	page := newFakePage(t, openSlots())
	store := testfixtures.NewMemoryStore()
	sched := newTestScheduler(t, page, cfg, ModeContinuous, store)

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(page.datesTried) != 1 || page.datesTried[0] != "2025-12-03" {
		t.Fatalf("dates tried = %v, want only the furthest date", page.datesTried)
	}
}

func TestRunExplicitDates(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Weekdays = nil
	// One date is past the horizon and must be dropped from the plan.
	cfg.DatesToTry = []string{"2025-11-10", "2025-11-21", "2025-12-20"}
	page := newFakePage(t, openSlots())
	sched := newTestScheduler(t, page, cfg, ModeSingle, testfixtures.NewMemoryStore())

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"2025-11-21", "2025-11-10"}
	if len(page.datesTried) != len(want) {
		t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
	}
	for i, date := range want {
		if page.datesTried[i] != date {
			t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
		}
	}
}

func TestRunSessionExpiryStopsSweep(t *testing.T) {
	t.Parallel()

	page := newFakePage(t, openSlots())
	page.expireOnDate = "2025-11-19"
	store := testfixtures.NewMemoryStore()
	sched := newTestScheduler(t, page, testConfig(), ModeSingle, store)

	err := sched.Run(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Run = %v, want ErrSessionExpired", err)
	}

	// The two furthest dates were attempted before the session died; no
	// later date was touched.
	attempts, listErr := store.ListAttempts(context.Background(), "user-1", 0)
	if listErr != nil {
		t.Fatalf("ListAttempts: %v", listErr)
	}
	if len(attempts) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(attempts))
	}
}

func TestRunContinuousWaitsAndRestarts(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WaitTimes = WaitBands{Rounds1To5: 1, Rounds6To15: 2, Rounds16Plus: 3}
	cfg.BrowserRestartRounds = 2

	// No indicators ever appear, so every round ends with skipped dates
	// and the campaign only stops when the test cancels it.
	page := newFakePage(t, map[string]vision.Point{})
	store := testfixtures.NewMemoryStore()
	sched := newTestScheduler(t, page, cfg, ModeContinuous, store)

	var waits []time.Duration
	sched.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) >= 7 {
			return context.Canceled
		}
		return nil
	}

	if err := sched.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	wantWaits := []time.Duration{
		1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second, 1 * time.Second,
		2 * time.Second, 2 * time.Second,
	}
	if len(waits) != len(wantWaits) {
		t.Fatalf("waits = %v, want %v", waits, wantWaits)
	}
	for i, want := range wantWaits {
		if waits[i] != want {
			t.Fatalf("waits = %v, want %v", waits, wantWaits)
		}
	}

	// Rounds 2, 4 and 6 completed, so the browser restarted three times.
	if page.restarts != 3 {
		t.Fatalf("restarts = %d, want 3", page.restarts)
	}
	// Empty sweeps are contention, not malfunctions, so nothing counts as a
	// failure.
	if totals := sched.Counters.Snapshot(); totals.RoundsCompleted != 7 || totals.Booked != 0 || totals.Failures != 0 {
		t.Fatalf("counters = %+v, want 7 empty rounds and no failures", totals)
	}
}

func TestRunContinuousSkipsWaitAfterProductiveRound(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Weekdays = nil
	cfg.DatesToTry = []string{"2025-11-12", "2025-11-19"}
	cfg.WaitTimes = WaitBands{Rounds1To5: 7, Rounds6To15: 8, Rounds16Plus: 9}
	cfg.BrowserRestartRounds = -1

	// The furthest date stays disabled, so it is skipped every round and
	// keeps the campaign alive; the nearer one books in round one.
	page := newFakePage(t, openSlots())
	page.disabledDates = map[string]bool{"2025-11-19": true}

	store := testfixtures.NewMemoryStore()
	sched := newTestScheduler(t, page, cfg, ModeContinuous, store)

	var waits []time.Duration
	sched.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return context.Canceled
	}

	if err := sched.Run(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	// Round one booked a date, so round two started with no pause; the
	// first wait only came after round two ended empty-handed.
	want := []string{"2025-11-19", "2025-11-12", "2025-11-19"}
	if len(page.datesTried) != len(want) {
		t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
	}
	for i, date := range want {
		if page.datesTried[i] != date {
			t.Fatalf("dates tried = %v, want %v", page.datesTried, want)
		}
	}
	if len(waits) != 1 || waits[0] != 7*time.Second {
		t.Fatalf("waits = %v, want a single round-2 wait", waits)
	}
}
