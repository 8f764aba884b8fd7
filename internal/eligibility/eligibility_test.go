package eligibility

import (
	"testing"
	"time"

	"github.com/example/deskbot/internal/testfixtures"
)

// Wednesday, local midnight. All horizon math is date-precision so the exact
// clock time of "now" must not matter.
var reference = time.Date(2025, time.November, 5, 10, 30, 0, 0, time.Local)

func newTestResolver(t *testing.T, horizon int) (*Resolver, *testfixtures.Clock) {
	t.Helper()
	clock := testfixtures.NewClock(reference)
	return NewResolver(clock.Now, horizon), clock
}

func TestWithinHorizon(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver(t, 29)

	cases := []struct {
		name string
		date time.Time
		want bool
	}{
		{name: "today", date: reference, want: true},
		{name: "last horizon day", date: reference.AddDate(0, 0, 29), want: true},
		{name: "one past horizon", date: reference.AddDate(0, 0, 30), want: false},
		{name: "well past horizon", date: reference.AddDate(0, 0, 35), want: false},
		{name: "yesterday", date: reference.AddDate(0, 0, -1), want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := resolver.WithinHorizon(tc.date); got != tc.want {
				t.Fatalf("WithinHorizon(%s) = %v, want %v", tc.date.Format(DateLayout), got, tc.want)
			}
		})
	}
}

func TestEligibleRequiresBothSignals(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver(t, 29)

	inHorizon := reference.AddDate(0, 0, 7)
	beyond := reference.AddDate(0, 0, 35)

	if !resolver.Eligible(inHorizon, true) {
		t.Fatal("date inside horizon rendered enabled should be eligible")
	}
	if resolver.Eligible(inHorizon, false) {
		t.Fatal("rendered-disabled date must not be eligible")
	}
	// A misreported enabled cell never overrides the horizon.
	if resolver.Eligible(beyond, true) {
		t.Fatal("date beyond horizon must not be eligible even when rendered enabled")
	}
}

func TestPlanFurthestFirstWeekdays(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver(t, 29)

	dates := resolver.Plan(PlanOptions{
		Weekdays:   []time.Weekday{time.Wednesday, time.Thursday},
		CutoffHour: -1,
	})
	if len(dates) == 0 {
		t.Fatal("expected a non-empty plan")
	}

	// Strictly descending, all Wed/Thu, all within the horizon.
	prev := time.Time{}
	for i, value := range dates {
		day, err := ParseDate(value)
		if err != nil {
			t.Fatalf("plan produced unparsable date %q: %v", value, err)
		}
		if wd := day.Weekday(); wd != time.Wednesday && wd != time.Thursday {
			t.Fatalf("plan contains %s which is a %s", value, wd)
		}
		if !resolver.WithinHorizon(day) {
			t.Fatalf("plan contains out-of-horizon date %s", value)
		}
		if i > 0 && !day.Before(prev) {
			t.Fatalf("plan not sorted furthest-first: %s before %s", prev.Format(DateLayout), value)
		}
		prev = day
	}

	// Reference is a Wednesday before cutoff, so today is in the plan last.
	if dates[len(dates)-1] != reference.Format(DateLayout) {
		t.Fatalf("closest planned date = %s, want today %s", dates[len(dates)-1], reference.Format(DateLayout))
	}
}

func TestPlanCutoffDropsToday(t *testing.T) {
	t.Parallel()

	resolver, clock := newTestResolver(t, 29)
	clock.Set(time.Date(2025, time.November, 5, 18, 0, 0, 0, time.Local))

	dates := resolver.Plan(PlanOptions{
		Weekdays:     []time.Weekday{time.Wednesday},
		CutoffHour:   18,
		CutoffMinute: 0,
	})
	today := "2025-11-05"
	for _, value := range dates {
		if value == today {
			t.Fatalf("today %s should be dropped at the cutoff", today)
		}
	}
}

func TestPlanExclusions(t *testing.T) {
	t.Parallel()

	resolver, _ := newTestResolver(t, 29)

	dates := resolver.Plan(PlanOptions{
		Weekdays:      []time.Weekday{time.Wednesday, time.Thursday},
		ExcludedDates: []string{"2025-11-12", "2025-11-19:2025-11-21"},
		CutoffHour:    -1,
	})
	banned := map[string]bool{"2025-11-12": true, "2025-11-19": true, "2025-11-20": true, "2025-11-21": true}
	for _, value := range dates {
		if banned[value] {
			t.Fatalf("excluded date %s present in plan %v", value, dates)
		}
	}
}
