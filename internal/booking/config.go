package booking

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/deskbot/internal/eligibility"
	"github.com/example/deskbot/internal/ranking"
)

// Default wait bands in seconds. Early rounds poll briskly to catch
// cancellations; sustained campaigns back off hard to stay polite.
const (
	defaultWaitEarly = 60
	defaultWaitMid   = 300
	defaultWaitLate  = 900
)

// DefaultRestartRounds is how many rounds a browser instance serves before
// being torn down and relaunched to shed accumulated renderer state.
const DefaultRestartRounds = 50

// WaitBands hold the inter-round pause, in seconds, for each phase of a
// campaign.
type WaitBands struct {
	Rounds1To5   int `json:"rounds_1_to_5" yaml:"rounds_1_to_5"`
	Rounds6To15  int `json:"rounds_6_to_15" yaml:"rounds_6_to_15"`
	Rounds16Plus int `json:"rounds_16_plus" yaml:"rounds_16_plus"`
}

// Config is the per-user booking document. It round-trips through JSON for
// storage and YAML for operator-edited files.
type Config struct {
	Building   string `json:"building" yaml:"building"`
	Floor      string `json:"floor" yaml:"floor"`
	DeskPrefix string `json:"desk_prefix" yaml:"desk_prefix"`
	// Weekdays are Go weekday numbers, Sunday = 0.
	Weekdays       []time.Weekday  `json:"weekdays" yaml:"weekdays"`
	PriorityRanges []ranking.Range `json:"priority_ranges,omitempty" yaml:"priority_ranges,omitempty"`
	// LockedSlots are never booked regardless of priority.
	LockedSlots []string `json:"locked_slots,omitempty" yaml:"locked_slots,omitempty"`
	// DatesToTry overrides the weekday plan with an explicit date list.
	DatesToTry    []string  `json:"dates_to_try,omitempty" yaml:"dates_to_try,omitempty"`
	ExcludedDates []string  `json:"excluded_dates,omitempty" yaml:"excluded_dates,omitempty"`
	WaitTimes     WaitBands `json:"wait_times" yaml:"wait_times"`
	// BrowserRestartRounds is the restart cadence; zero selects the
	// default, negative disables restarts.
	BrowserRestartRounds int  `json:"browser_restart_rounds,omitempty" yaml:"browser_restart_rounds,omitempty"`
	StopAtFirstSuccess   bool `json:"stop_at_first_success,omitempty" yaml:"stop_at_first_success,omitempty"`
	// CutoffHour and CutoffMinute drop today from the plan past the local
	// cutoff. Zero values select the 18:00 default; CutoffHour -1 disables.
	CutoffHour   int `json:"cutoff_hour,omitempty" yaml:"cutoff_hour,omitempty"`
	CutoffMinute int `json:"cutoff_minute,omitempty" yaml:"cutoff_minute,omitempty"`
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset tunables in place.
func (c *Config) ApplyDefaults() {
	if c.WaitTimes.Rounds1To5 <= 0 {
		c.WaitTimes.Rounds1To5 = defaultWaitEarly
	}
	if c.WaitTimes.Rounds6To15 <= 0 {
		c.WaitTimes.Rounds6To15 = defaultWaitMid
	}
	if c.WaitTimes.Rounds16Plus <= 0 {
		c.WaitTimes.Rounds16Plus = defaultWaitLate
	}
	if c.BrowserRestartRounds == 0 {
		c.BrowserRestartRounds = DefaultRestartRounds
	}
	if c.CutoffHour == 0 && c.CutoffMinute == 0 {
		c.CutoffHour = 18
	}
}

// Validate reports field level issues. It does not mutate the receiver;
// callers normally ApplyDefaults first.
func (c Config) Validate() error {
	vErr := &ValidationError{}
	if c.Building == "" {
		vErr.add("building", "building is required")
	}
	if c.Floor == "" {
		vErr.add("floor", "floor is required")
	}
	if c.DeskPrefix == "" {
		vErr.add("desk_prefix", "desk prefix is required")
	}
	if len(c.Weekdays) == 0 && len(c.DatesToTry) == 0 {
		vErr.add("weekdays", "at least one weekday or explicit date is required")
	}
	for _, day := range c.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			vErr.add("weekdays", fmt.Sprintf("weekday %d is out of range", day))
			break
		}
	}
	for _, date := range c.DatesToTry {
		if _, err := eligibility.ParseDate(date); err != nil {
			vErr.add("dates_to_try", fmt.Sprintf("date %q is not in 2006-01-02 form", date))
			break
		}
	}
	for _, r := range c.PriorityRanges {
		if _, _, err := ranking.ParseSpan(r.Span); err != nil {
			vErr.add("priority_ranges", fmt.Sprintf("range %q is not a valid span", r.Span))
			break
		}
		if r.Priority < 1 || r.Priority >= ranking.SentinelPriority {
			vErr.add("priority_ranges", fmt.Sprintf("priority %d is out of range", r.Priority))
			break
		}
	}
	if c.CutoffHour > 23 || c.CutoffMinute < 0 || c.CutoffMinute > 59 {
		vErr.add("cutoff", "cutoff must be a valid time of day")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

// WaitFor returns the pause after the given one-based round.
func (c Config) WaitFor(round int) time.Duration {
	switch {
	case round <= 5:
		return time.Duration(c.WaitTimes.Rounds1To5) * time.Second
	case round <= 15:
		return time.Duration(c.WaitTimes.Rounds6To15) * time.Second
	default:
		return time.Duration(c.WaitTimes.Rounds16Plus) * time.Second
	}
}

// PlanOptions maps the config onto a sweep plan request.
func (c Config) PlanOptions() eligibility.PlanOptions {
	return eligibility.PlanOptions{
		Weekdays:      c.Weekdays,
		ExcludedDates: c.ExcludedDates,
		CutoffHour:    c.CutoffHour,
		CutoffMinute:  c.CutoffMinute,
	}
}

// RankingEngine builds the priority engine for this config.
func (c Config) RankingEngine() *ranking.Engine {
	return ranking.NewEngine(c.PriorityRanges)
}

// ParseConfig decodes a stored JSON document, applying defaults.
func ParseConfig(document []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(document, &cfg); err != nil {
		return Config{}, fmt.Errorf("booking: decode config document: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ParseConfigYAML decodes an operator-edited YAML file, applying defaults.
func ParseConfigYAML(document []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(document, &cfg); err != nil {
		return Config{}, fmt.Errorf("booking: decode config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// EncodeConfig serializes the config to its stored JSON form.
func EncodeConfig(cfg Config) ([]byte, error) {
	document, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("booking: encode config document: %w", err)
	}
	return document, nil
}
