package condition

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// TimeWindowConfig restricts a branch to a daily window, optionally on some weekdays.
type TimeWindowConfig struct {
	Field    string   `json:"field"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Weekdays []string `json:"weekdays"`
	Timezone string   `json:"timezone"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// TimeWindowCondition is true when the timestamp found at Field, or the
// evaluation time when Field is empty, falls in [start, end). Windows whose
// end is before their start wrap past midnight.
type TimeWindowCondition struct {
	id       string
	field    string
	start    int
	end      int
	weekdays map[time.Weekday]bool
	location *time.Location
	now      func() time.Time
}

// NewTimeWindowCondition creates a time window condition from raw config.
func NewTimeWindowCondition(id string, raw json.RawMessage, now func() time.Time) (*TimeWindowCondition, error) {
	var config TimeWindowConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	start, err := parseClock(config.Start)
	if err != nil {
		return nil, protocol.Configf("invalid start: %w", err)
	}

	end, err := parseClock(config.End)
	if err != nil {
		return nil, protocol.Configf("invalid end: %w", err)
	}

	if config.Timezone == "" {
		config.Timezone = "UTC"
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, protocol.Configf("invalid timezone %q: %w", config.Timezone, err)
	}

	var weekdays map[time.Weekday]bool

	if len(config.Weekdays) > 0 {
		weekdays = make(map[time.Weekday]bool, len(config.Weekdays))

		for _, name := range config.Weekdays {
			day, ok := weekdayNames[strings.ToLower(name)[:min(3, len(name))]]
			if !ok {
				return nil, protocol.Configf("unknown weekday %q", name)
			}

			weekdays[day] = true
		}
	}

	if now == nil {
		now = time.Now
	}

	return &TimeWindowCondition{
		id:       id,
		field:    config.Field,
		start:    start,
		end:      end,
		weekdays: weekdays,
		location: location,
		now:      now,
	}, nil
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}

	return t.Hour()*60 + t.Minute(), nil
}

func (c *TimeWindowCondition) Evaluate(ectx *models.ExecutionContext) string {
	at := c.now()

	if c.field != "" {
		v, ok := ectx.Lookup(c.field)
		if !ok {
			return models.BranchFalse
		}

		parsed, ok := toTime(v)
		if !ok {
			return models.BranchFalse
		}

		at = parsed
	}

	return label(c.contains(at))
}

func (c *TimeWindowCondition) contains(at time.Time) bool {
	local := at.In(c.location)

	if c.weekdays != nil && !c.weekdays[local.Weekday()] {
		return false
	}

	minute := local.Hour()*60 + local.Minute()

	if c.start <= c.end {
		return minute >= c.start && minute < c.end
	}

	return minute >= c.start || minute < c.end
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)

		return parsed, err == nil
	}

	return time.Time{}, false
}

func (c *TimeWindowCondition) Outcomes() []string { return booleanOutcomes }

// TimeWindowConditionFactory creates TimeWindowCondition instances.
type TimeWindowConditionFactory struct {
	now func() time.Time
}

// NewTimeWindowConditionFactory creates a new time window condition factory.
// A nil clock uses time.Now.
func NewTimeWindowConditionFactory(now func() time.Time) protocol.ConditionFactory {
	return &TimeWindowConditionFactory{now: now}
}

func (f *TimeWindowConditionFactory) Create(id string, config json.RawMessage) (protocol.Condition, error) {
	return NewTimeWindowCondition(id, config, f.now)
}

func (f *TimeWindowConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *TimeWindowConditionFactory) ID() string { return "time_window" }

func (f *TimeWindowConditionFactory) Name() string { return "Time Window" }

func (f *TimeWindowConditionFactory) Description() string {
	return "Routes on whether a timestamp, or the current time, falls inside a daily window"
}

func (f *TimeWindowConditionFactory) Schema() map[string]any {
	clock := map[string]any{"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":  map[string]any{"const": "time_window"},
			"field": map[string]any{"type": "string", "description": "RFC3339 timestamp field; empty uses the evaluation time"},
			"start": clock,
			"end":   clock,
			"weekdays": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
				"examples": [][]string{
					{"mon", "tue", "wed", "thu", "fri"},
				},
			},
			"timezone": map[string]any{"type": "string", "default": "UTC"},
		},
		"required": []string{"type", "start", "end"},
	}
}
