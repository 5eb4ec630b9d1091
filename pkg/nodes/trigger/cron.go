package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/robfig/cron/v3"
)

// TickField is the payload key of scheduled events, an RFC3339 timestamp.
const TickField = "tick"

// CronConfig defines the configuration for cron trigger nodes.
type CronConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
}

// CronTrigger fires when its schedule is due in the minute of a scheduler tick.
type CronTrigger struct {
	id       string
	schedule cron.Schedule
	location *time.Location
}

// NewCronTrigger creates a cron trigger from raw config.
func NewCronTrigger(id string, raw json.RawMessage) (*CronTrigger, error) {
	config := CronConfig{Timezone: "UTC"}
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Schedule == "" {
		return nil, protocol.ConfigError(errors.New("schedule is required"))
	}

	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, protocol.Configf("invalid schedule %q: %w", config.Schedule, err)
	}

	if config.Timezone == "" {
		config.Timezone = "UTC"
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, protocol.Configf("invalid timezone %q: %w", config.Timezone, err)
	}

	return &CronTrigger{id: id, schedule: schedule, location: location}, nil
}

func (t *CronTrigger) Matches(event models.IncomingEvent) bool {
	if event.TriggerType != models.TriggerTypeScheduled {
		return false
	}

	tick, err := ParseTick(event.Payload)
	if err != nil {
		return false
	}

	return t.DueAt(tick)
}

// DueAt reports whether the schedule fires within the minute containing tick.
func (t *CronTrigger) DueAt(tick time.Time) bool {
	minute := tick.In(t.location).Truncate(time.Minute)

	return t.schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

// ParseTick reads the tick timestamp of a scheduled event payload.
func ParseTick(payload map[string]any) (time.Time, error) {
	switch v := payload[TickField].(type) {
	case string:
		return time.Parse(time.RFC3339, v)
	case time.Time:
		return v, nil
	default:
		return time.Time{}, fmt.Errorf("payload %s missing or not a timestamp", TickField)
	}
}

// CronTriggerFactory creates CronTrigger instances.
type CronTriggerFactory struct{}

// NewCronTriggerFactory creates a new cron trigger factory.
func NewCronTriggerFactory() protocol.TriggerFactory {
	return &CronTriggerFactory{}
}

func (f *CronTriggerFactory) Create(id string, config json.RawMessage) (protocol.Trigger, error) {
	return NewCronTrigger(id, config)
}

func (f *CronTriggerFactory) Kind() models.NodeKind { return models.NodeKindTrigger }

func (f *CronTriggerFactory) TriggerType() models.TriggerType { return models.TriggerTypeScheduled }

func (f *CronTriggerFactory) ID() string { return "cron" }

func (f *CronTriggerFactory) Name() string { return "Schedule" }

func (f *CronTriggerFactory) Description() string {
	return "Starts the workflow on a cron schedule, evaluated once per scheduler tick"
}

// Schema returns the JSON schema for cron trigger node configuration.
func (f *CronTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "cron"},
			"schedule": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Standard five-field cron expression",
				"examples": []string{
					"0 9 * * MON-FRI", // Every weekday at 9 AM
					"0 0 1 * *",       // First day of every month at midnight
					"*/15 * * * *",    // Every 15 minutes
				},
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "Timezone for the cron expression",
				"default":     "UTC",
				"examples":    []string{"UTC", "America/New_York", "Europe/London"},
			},
		},
		"required": []string{"type", "schedule"},
	}
}
