// Package ranking orders discovered slot identifiers by user-configured
// preference ranges.
package ranking

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SentinelPriority is assigned to slots that match no configured range. It
// sorts after every configured priority.
const SentinelPriority = 999

// Range maps a span of slot identifiers to a priority. Lower priority values
// are more preferred. Spans use the form "2.24.01-2.24.20": both endpoints
// share a namespace prefix and differ only in the numeric final segment, and
// both bounds are inclusive.
type Range struct {
	Span     string `json:"range" yaml:"range"`
	Priority int    `json:"priority" yaml:"priority"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Candidate pairs a slot identifier with the priority it resolved to.
type Candidate struct {
	Slot     string
	Priority int
}

// ParseSpan splits a span into its start and end identifiers.
func ParseSpan(span string) (start, end string, err error) {
	parts := strings.SplitN(span, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("ranking: invalid span %q", span)
	}
	start = strings.TrimSpace(parts[0])
	end = strings.TrimSpace(parts[1])
	if start == "" || end == "" {
		return "", "", fmt.Errorf("ranking: invalid span %q", span)
	}
	return start, end, nil
}

// slotNumber extracts the numeric final segment of a slot identifier.
// Identifiers that do not follow the prefix.number form report ok=false.
func slotNumber(slot string) (prefix string, number int, ok bool) {
	idx := strings.LastIndex(slot, ".")
	if idx <= 0 || idx == len(slot)-1 {
		return "", 0, false
	}
	number, err := strconv.Atoi(slot[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return slot[:idx], number, true
}

// Contains reports whether the slot identifier falls within the range span.
// The slot must share the span's namespace prefix; the numeric final segment
// is compared against the inclusive bounds.
func (r Range) Contains(slot string) bool {
	start, end, err := ParseSpan(r.Span)
	if err != nil {
		return false
	}
	startPrefix, startNum, ok := slotNumber(start)
	if !ok {
		return false
	}
	endPrefix, endNum, ok := slotNumber(end)
	if !ok || startPrefix != endPrefix {
		return false
	}
	slotPrefix, num, ok := slotNumber(slot)
	if !ok || slotPrefix != startPrefix {
		return false
	}
	return startNum <= num && num <= endNum
}

// Engine resolves slot priorities against an ordered list of ranges.
type Engine struct {
	ranges []Range
}

// NewEngine constructs an engine over the declared ranges. Declaration order
// is significant: when ranges overlap, the first match wins.
func NewEngine(ranges []Range) *Engine {
	return &Engine{ranges: append([]Range(nil), ranges...)}
}

// PriorityFor returns the priority of the first declared range containing the
// slot, or SentinelPriority when no range matches.
func (e *Engine) PriorityFor(slot string) int {
	if e == nil {
		return SentinelPriority
	}
	for _, r := range e.ranges {
		if r.Contains(slot) {
			return r.Priority
		}
	}
	return SentinelPriority
}

// ReasonFor returns the configured reason for the slot's resolved range, or
// an empty string when unranked.
func (e *Engine) ReasonFor(slot string) string {
	if e == nil {
		return ""
	}
	for _, r := range e.ranges {
		if r.Contains(slot) {
			return r.Reason
		}
	}
	return ""
}

// Rank orders the slots ascending by priority, best first. The sort is
// stable: slots with equal priority keep their discovery order. That
// tie-break is a stated contract, not an accident of implementation.
func (e *Engine) Rank(slots []string) []Candidate {
	candidates := make([]Candidate, 0, len(slots))
	for _, slot := range slots {
		candidates = append(candidates, Candidate{Slot: slot, Priority: e.PriorityFor(slot)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates
}
