package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/deskbot/internal/eligibility"
	"github.com/example/deskbot/internal/logging"
	"github.com/example/deskbot/internal/persistence"
	"github.com/example/deskbot/internal/progress"
)

// Mode selects how long a campaign runs.
type Mode string

const (
	// ModeSingle sweeps every pending date once and stops.
	ModeSingle Mode = "single"
	// ModeContinuous keeps sweeping with banded waits until every target
	// date is booked or the context is cancelled.
	ModeContinuous Mode = "continuous"
)

// Scheduler drives rounds of booking attempts across the target dates.
type Scheduler struct {
	Runner   *Runner
	Page     Page
	Resolver *eligibility.Resolver
	Config   Config
	Mode     Mode
	UserID   string
	Attempts persistence.AttemptRepository
	Logger   *slog.Logger
	Reporter progress.Reporter
	// Counters accumulate campaign totals for status snapshots. Optional.
	Counters *progress.Counters
	Now      func() time.Time
	// Sleep pauses between rounds; nil selects a context-aware default.
	// Tests substitute an instant one.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID mints ledger entry identifiers.
	NewID func() string
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
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

func (s *Scheduler) report(level progress.Level, format string, args ...any) {
	if s.Reporter == nil {
		return
	}
	s.Reporter.Report(progress.Event{Timestamp: s.now(), Level: level, Message: fmt.Sprintf(format, args...)})
}

// Run executes rounds until every target date is booked, the mode's budget is
// spent, or the context ends. A session expiry surfaces as ErrSessionExpired
// so the owner can pause for a credential refresh.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.OrDefault(ctx, s.Logger)
	booked, err := s.bookedDates(ctx)
	if err != nil {
		return err
	}

	// The vendor's reservation list is authoritative for bookings made
	// outside this tool; fold it in once at campaign start.
	existing, err := s.Page.ExistingBookings(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return err
		}
		logger.Warn("existing-booking scan failed, relying on the ledger alone", "error", err)
	}
	for date := range existing {
		booked[date] = true
	}

	for round := 1; ; round++ {
		pending := s.pendingDates(booked)
		if len(pending) == 0 {
			s.report(progress.LevelSuccess, "every target date is booked")
			return nil
		}

		logger.Info("round started", "round", round, "pending_dates", len(pending))
		s.report(progress.LevelInfo, "round %d: %d dates to try", round, len(pending))

		bookedThisRound := 0
		for _, date := range pending {
			result, err := s.Runner.Attempt(ctx, date)
			if err != nil {
				if errors.Is(err, ErrSessionExpired) {
					s.report(progress.LevelError, "session expired, waiting for a credential refresh")
					return err
				}
				return err
			}
			s.recordAttempt(ctx, round, result)
			switch result.Outcome {
			case persistence.OutcomeBooked:
				s.Counters.BookingSucceeded()
				booked[date] = true
				bookedThisRound++
				if s.Config.StopAtFirstSuccess {
					s.Counters.RoundCompleted()
					s.report(progress.LevelSuccess, "stopping after first booking (%s)", result.Slot)
					return nil
				}
			case persistence.OutcomeFailed:
				s.Counters.AttemptFailed()
			}
		}
		s.Counters.RoundCompleted()

		if s.Mode == ModeSingle {
			return nil
		}
		if len(s.pendingDates(booked)) == 0 {
			s.report(progress.LevelSuccess, "every target date is booked")
			return nil
		}

		if s.Config.BrowserRestartRounds > 0 && round%s.Config.BrowserRestartRounds == 0 {
			logger.Info("restarting browser", "round", round)
			if err := s.Page.Restart(ctx); err != nil {
				return fmt.Errorf("booking: browser restart: %w", err)
			}
		}

		// A sweep that booked something rolls straight into the next one
		// while the remaining dates are still hot; only an empty-handed
		// sweep backs off.
		if bookedThisRound > 0 {
			continue
		}
		wait := s.Config.WaitFor(round)
		logger.Debug("waiting before next round", "round", round, "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// pendingDates returns the plan minus already booked dates, furthest first.
func (s *Scheduler) pendingDates(booked map[string]bool) []string {
	var plan []string
	if len(s.Config.DatesToTry) > 0 {
		plan = s.explicitPlan()
	} else {
		plan = s.Resolver.Plan(s.Config.PlanOptions())
	}

	pending := plan[:0:0]
	for _, date := range plan {
		if !booked[date] {
			pending = append(pending, date)
		}
	}
	return pending
}

// explicitPlan filters the configured date list down to the horizon and
// orders it furthest first, mirroring the weekday plan.
func (s *Scheduler) explicitPlan() []string {
	var plan []string
	for _, date := range s.Config.DatesToTry {
		parsed, err := eligibility.ParseDate(date)
		if err != nil {
			s.logger().Warn("skipping malformed configured date", "date", date)
			continue
		}
		if s.Resolver.WithinHorizon(parsed) {
			plan = append(plan, date)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(plan)))
	return plan
}

func (s *Scheduler) bookedDates(ctx context.Context) (map[string]bool, error) {
	if s.Attempts == nil {
		return make(map[string]bool), nil
	}
	booked, err := s.Attempts.BookedDates(ctx, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("booking: load booked dates: %w", err)
	}
	if booked == nil {
		booked = make(map[string]bool)
	}
	return booked, nil
}

// recordAttempt appends the result to the ledger. Ledger write failures are
// logged; losing one entry is better than aborting a running campaign.
func (s *Scheduler) recordAttempt(ctx context.Context, round int, result Result) {
	if s.Attempts == nil {
		return
	}
	id := ""
	if s.NewID != nil {
		id = s.NewID()
	}
	entry := persistence.BookingAttempt{
		ID:      id,
		UserID:  s.UserID,
		Date:    result.Date,
		Slot:    result.Slot,
		Outcome: result.Outcome,
		Round:   round,
		Message: result.Message,
		At:      s.now(),
	}
	if err := s.Attempts.AppendAttempt(ctx, entry); err != nil {
		s.logger().Error("ledger append failed", "date", result.Date, "error", err)
	}
}
