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
	"github.com/example/deskbot/internal/poscache"
	"github.com/example/deskbot/internal/progress"
	"github.com/example/deskbot/internal/ranking"
	"github.com/example/deskbot/internal/vision"
)

// State labels the phase an attempt is in. Transitions only move forward;
// a failure aborts the attempt rather than rewinding.
type State string

const (
	StateNavigating      State = "navigating"
	StateDateSelected    State = "date_selected"
	StateMapLoaded       State = "map_loaded"
	StateSlotsDiscovered State = "slots_discovered"
	StateAttempting      State = "attempting"
	StateVerified        State = "verified"
)

// navigationRetryLimit bounds how often an attempt re-opens the floor view
// before giving up on the date.
const navigationRetryLimit = 3

// Result describes how an attempt for one date concluded.
type Result struct {
	Date       string
	Outcome    persistence.AttemptOutcome
	Slot       string
	Message    string
	Candidates int
}

// Runner executes the booking attempt state machine for a single date.
type Runner struct {
	Page     Page
	Detector *vision.Detector
	Ranking  *ranking.Engine
	Resolver *eligibility.Resolver
	Config   Config
	// Cache is the position cache for this floor, nil when none was
	// captured yet. It is only consulted when its viewport signature
	// matches the live viewport.
	Cache *poscache.Cache
	// SaveCache persists a refreshed cache document after discovery. Nil
	// disables persistence; save failures never fail the attempt.
	SaveCache func(doc poscache.Document) error
	Logger    *slog.Logger
	Reporter  progress.Reporter
	Now       func() time.Time
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) report(level progress.Level, format string, args ...any) {
	if r.Reporter == nil {
		return
	}
	r.Reporter.Report(progress.Event{
		Timestamp: r.now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Attempt runs the state machine for one date. Outcomes that are part of
// normal operation come back in the Result; the error return is reserved for
// session expiry and cancellation, both of which end the whole sweep.
func (r *Runner) Attempt(ctx context.Context, date string) (Result, error) {
	logger := logging.OrDefault(ctx, r.Logger).With("date", date)
	result := Result{Date: date}

	parsed, err := eligibility.ParseDate(date)
	if err != nil {
		result.Outcome = persistence.OutcomeFailed
		result.Message = err.Error()
		return result, nil
	}

	// The computed horizon is checked before the browser is touched at all.
	// A date past the window stays untried even when the vendor's calendar
	// would render its cell as enabled.
	if !r.Resolver.WithinHorizon(parsed) {
		result.Outcome = persistence.OutcomeSkippedIneligible
		result.Message = "date is outside the booking horizon"
		r.report(progress.LevelInfo, "%s is not eligible yet", date)
		return result, nil
	}

	logger.Debug("attempt state", "state", StateNavigating)
	if err := r.openWithRetry(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) || ctx.Err() != nil {
			return result, err
		}
		result.Outcome = persistence.OutcomeFailed
		result.Message = fmt.Sprintf("floor view did not load: %v", err)
		return result, nil
	}

	enabled, err := r.Page.SelectDate(ctx, date)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) || ctx.Err() != nil {
			return result, err
		}
		result.Outcome = persistence.OutcomeFailed
		result.Message = fmt.Sprintf("date selection failed: %v", err)
		return result, nil
	}
	logger.Debug("attempt state", "state", StateDateSelected, "rendered_enabled", enabled)

	if !r.Resolver.Eligible(parsed, enabled) {
		result.Outcome = persistence.OutcomeSkippedIneligible
		result.Message = "calendar renders the date as unavailable"
		r.report(progress.LevelInfo, "%s is not eligible yet", date)
		return result, nil
	}

	viewport, err := r.Page.Viewport(ctx)
	if err != nil {
		result.Outcome = persistence.OutcomeFailed
		result.Message = fmt.Sprintf("viewport read failed: %v", err)
		return result, nil
	}
	screenshot, err := r.Page.Screenshot(ctx)
	if err != nil {
		result.Outcome = persistence.OutcomeFailed
		result.Message = fmt.Sprintf("screenshot failed: %v", err)
		return result, nil
	}
	logger.Debug("attempt state", "state", StateMapLoaded, "viewport_width", viewport.Width, "viewport_height", viewport.Height)

	points, err := r.Detector.DetectIndicators(screenshot)
	if err != nil {
		result.Outcome = persistence.OutcomeFailed
		result.Message = fmt.Sprintf("indicator detection failed: %v", err)
		return result, nil
	}
	if len(points) == 0 {
		result.Outcome = persistence.OutcomeSkippedNoSlots
		result.Message = "no open-slot indicators on the floor map"
		r.report(progress.LevelInfo, "%s: no open slots visible", date)
		return result, nil
	}

	resolveOpts := vision.ResolveOptions{
		Tolerance: poscache.DefaultTolerance,
		Prober:    r.Page,
		Logger:    logger,
	}
	if r.Cache != nil && r.Cache.MatchesViewport(viewport) {
		resolveOpts.Index = r.Cache
	} else if r.Cache != nil {
		logger.Info("position cache viewport mismatch, falling back to discovery",
			"cached_width", r.Cache.Document().Viewport.Width,
			"cached_height", r.Cache.Document().Viewport.Height)
	}

	resolved, err := vision.ResolveSlots(ctx, points, resolveOpts)
	if err != nil {
		return result, err
	}
	logger.Debug("attempt state", "state", StateSlotsDiscovered, "indicators", len(points), "resolved", len(resolved))
	r.persistCache(viewport, date, resolved)

	taken, err := r.Page.TakenSlots(ctx)
	if err != nil {
		logger.Warn("taken-slot scan failed, continuing without it", "error", err)
		taken = nil
	}

	filtered := vision.FilterSlots(resolved, r.Config.DeskPrefix, r.Config.LockedSlots, taken)
	if len(filtered) == 0 {
		result.Outcome = persistence.OutcomeSkippedNoSlots
		result.Message = "every detected slot was filtered out"
		r.report(progress.LevelInfo, "%s: no bookable slots after filtering", date)
		return result, nil
	}

	candidates := r.Ranking.Rank(orderedSlots(points, filtered))
	return r.attemptCandidates(ctx, logger, date, candidates, filtered, result)
}

// attemptCandidates walks the ranked list, booking and verifying until a
// readback confirms the slot or the list is exhausted.
func (r *Runner) attemptCandidates(ctx context.Context, logger *slog.Logger, date string, candidates []ranking.Candidate, positions map[string]vision.Point, result Result) (Result, error) {
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Candidates++
		logger.Debug("attempt state", "state", StateAttempting, "slot", candidate.Slot, "priority", candidate.Priority)
		r.report(progress.LevelInfo, "%s: booking %s", date, candidate.Slot)

		if err := r.Page.BookSlot(ctx, candidate.Slot, positions[candidate.Slot]); err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return result, err
			}
			logger.Warn("booking click failed, trying next candidate", "slot", candidate.Slot, "error", err)
			continue
		}

		booked, err := r.Page.BookedSlot(ctx, date)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return result, err
			}
			logger.Warn("booking verification failed, trying next candidate", "slot", candidate.Slot, "error", err)
			continue
		}
		if booked != candidate.Slot {
			logger.Warn("verification readback names a different slot", "requested", candidate.Slot, "readback", booked)
			continue
		}

		logger.Info("attempt state", "state", StateVerified, "slot", candidate.Slot)
		r.report(progress.LevelSuccess, "%s: booked %s", date, candidate.Slot)
		result.Outcome = persistence.OutcomeBooked
		result.Slot = candidate.Slot
		if reason := r.Ranking.ReasonFor(candidate.Slot); reason != "" {
			result.Message = reason
		}
		return result, nil
	}

	// Every open slot was claimed from under us; that is contention, not a
	// malfunction, so the date is skipped rather than failed.
	result.Outcome = persistence.OutcomeSkippedNoSlots
	result.Message = fmt.Sprintf("no candidate could be verified after %d attempts", result.Candidates)
	r.report(progress.LevelWarning, "%s: %s", date, result.Message)
	return result, nil
}

// persistCache folds newly resolved positions into the cache document and
// saves it. The cache is an accelerator; failures here are logged, never
// fatal.
func (r *Runner) persistCache(viewport vision.Viewport, date string, resolved map[string]vision.Point) {
	if r.SaveCache == nil || len(resolved) == 0 {
		return
	}

	doc := poscache.Document{
		Viewport:   viewport,
		Building:   r.Config.Building,
		Floor:      r.Config.Floor,
		Mapping:    make(map[string]vision.Point, len(resolved)),
		CapturedAt: r.now(),
		SourceDate: date,
	}
	if r.Cache != nil && r.Cache.MatchesViewport(viewport) {
		for slot, p := range r.Cache.Document().Mapping {
			doc.Mapping[slot] = p
		}
	}
	changed := false
	for slot, p := range resolved {
		if existing, ok := doc.Mapping[slot]; !ok || existing != p {
			doc.Mapping[slot] = p
			changed = true
		}
	}
	if !changed {
		return
	}

	if err := r.SaveCache(doc); err != nil {
		r.logger().Warn("position cache save failed", "error", err)
		return
	}
	r.Cache = poscache.New(doc)
}

func (r *Runner) openWithRetry(ctx context.Context) error {
	var err error
	for try := 1; try <= navigationRetryLimit; try++ {
		err = r.Page.Open(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionExpired) || ctx.Err() != nil {
			return err
		}
		r.logger().Warn("floor view navigation failed", "try", try, "error", err)
	}
	return err
}

// orderedSlots returns the filtered slot identifiers in indicator discovery
// order, which makes equal-priority ranking deterministic.
func orderedSlots(points []vision.Point, filtered map[string]vision.Point) []string {
	byPoint := make(map[vision.Point]string, len(filtered))
	for slot, p := range filtered {
		byPoint[p] = slot
	}
	slots := make([]string, 0, len(filtered))
	for _, p := range points {
		if slot, ok := byPoint[p]; ok {
			slots = append(slots, slot)
			delete(byPoint, p)
		}
	}
	// Slots whose positions came from the cache with drifted coordinates
	// still belong in the list.
	if len(slots) < len(filtered) {
		seen := make(map[string]bool, len(slots))
		for _, slot := range slots {
			seen[slot] = true
		}
		var rest []string
		for slot := range filtered {
			if !seen[slot] {
				rest = append(rest, slot)
			}
		}
		sort.Strings(rest)
		slots = append(slots, rest...)
	}
	return slots
}
