// Package eligibility decides which target dates are currently bookable under
// the vendor's rolling horizon and expands weekday preferences into a sweep
// plan.
package eligibility

import (
	"strings"
	"time"
)

// DateLayout is the wire format for target dates throughout the system.
const DateLayout = "2006-01-02"

// DefaultHorizonDays matches the vendor's rolling booking window: four weeks
// plus one day.
const DefaultHorizonDays = 29

// Resolver evaluates dates against the rolling booking horizon.
type Resolver struct {
	now         func() time.Time
	horizonDays int
}

// NewResolver constructs a resolver. When now is nil, time.Now is used; a
// non-positive horizon falls back to DefaultHorizonDays.
func NewResolver(now func() time.Time, horizonDays int) *Resolver {
	if now == nil {
		now = time.Now
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Resolver{now: now, horizonDays: horizonDays}
}

// HorizonDays reports the configured horizon length.
func (r *Resolver) HorizonDays() int {
	return r.horizonDays
}

// Today returns the current date truncated to midnight in the local zone.
func (r *Resolver) Today() time.Time {
	return truncateToDay(r.now())
}

// WithinHorizon reports whether the date falls inside today..today+horizon,
// both ends inclusive. Comparison is at date precision.
func (r *Resolver) WithinHorizon(date time.Time) bool {
	day := truncateToDay(date)
	today := r.Today()
	last := today.AddDate(0, 0, r.horizonDays)
	return !day.Before(today) && !day.After(last)
}

// Eligible combines the two independent signals that must agree before a date
// is attempted: the computed horizon and the rendered calendar cell state. A
// date outside the horizon is never eligible even when the vendor misreports
// the cell as enabled.
func (r *Resolver) Eligible(date time.Time, renderedEnabled bool) bool {
	return r.WithinHorizon(date) && renderedEnabled
}

// PlanOptions shape the sweep plan produced by Plan.
type PlanOptions struct {
	// Weekdays selects which days of the week are targeted. Empty selects
	// none.
	Weekdays []time.Weekday
	// ExcludedDates removes dates from the plan. Entries are either a single
	// "2006-01-02" date or an inclusive "start:end" span.
	ExcludedDates []string
	// CutoffHour and CutoffMinute drop today from the plan once the local
	// time reaches the cutoff; slots booked for later the same day are of
	// little use. A negative CutoffHour disables the check.
	CutoffHour   int
	CutoffMinute int
}

// Plan expands the weekday selection across the horizon into target dates,
// sorted furthest first. The furthest date has had the least time for other
// users to claim it, so it is statistically most likely to still be open.
func (r *Resolver) Plan(opts PlanOptions) []string {
	if len(opts.Weekdays) == 0 {
		return nil
	}

	wanted := make(map[time.Weekday]bool, len(opts.Weekdays))
	for _, day := range opts.Weekdays {
		wanted[day] = true
	}

	excluded := newExclusionSet(opts.ExcludedDates)

	today := r.Today()
	last := today.AddDate(0, 0, r.horizonDays)

	skipToday := false
	if opts.CutoffHour >= 0 {
		cutoff := time.Date(today.Year(), today.Month(), today.Day(), opts.CutoffHour, opts.CutoffMinute, 0, 0, today.Location())
		skipToday = !r.now().Before(cutoff)
	}

	var dates []string
	for day := last; !day.Before(today); day = day.AddDate(0, 0, -1) {
		if !wanted[day.Weekday()] {
			continue
		}
		if skipToday && day.Equal(today) {
			continue
		}
		if excluded.contains(day) {
			continue
		}
		dates = append(dates, day.Format(DateLayout))
	}
	return dates
}

// ParseDate parses a wire-format date in the local zone.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.Local)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

type dateSpan struct {
	start time.Time
	end   time.Time
}

type exclusionSet struct {
	spans []dateSpan
}

func newExclusionSet(entries []string) exclusionSet {
	var set exclusionSet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if start, end, ok := strings.Cut(entry, ":"); ok {
			from, err1 := ParseDate(start)
			to, err2 := ParseDate(end)
			if err1 != nil || err2 != nil || to.Before(from) {
				continue
			}
			set.spans = append(set.spans, dateSpan{start: from, end: to})
			continue
		}
		day, err := ParseDate(entry)
		if err != nil {
			continue
		}
		set.spans = append(set.spans, dateSpan{start: day, end: day})
	}
	return set
}

func (s exclusionSet) contains(day time.Time) bool {
	day = truncateToDay(day)
	for _, span := range s.spans {
		if !day.Before(span.start) && !day.After(span.end) {
			return true
		}
	}
	return false
}
