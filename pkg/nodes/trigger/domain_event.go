package trigger

import (
	"encoding/json"
	"errors"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// EventNameKey is the payload key carrying the domain event name.
const EventNameKey = "event_name"

// DomainEventConfig defines the configuration for domain event triggers.
type DomainEventConfig struct {
	EventName string         `json:"event_name"`
	Filters   map[string]any `json:"filters"`
}

// DomainEventTrigger matches named events published by the host application,
// optionally narrowed by equality filters on payload fields.
type DomainEventTrigger struct {
	id     string
	config DomainEventConfig
}

// NewDomainEventTrigger creates a domain event trigger from raw config.
func NewDomainEventTrigger(id string, raw json.RawMessage) (*DomainEventTrigger, error) {
	var config DomainEventConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.EventName == "" {
		return nil, protocol.ConfigError(errors.New("event_name is required"))
	}

	return &DomainEventTrigger{id: id, config: config}, nil
}

func (t *DomainEventTrigger) Matches(event models.IncomingEvent) bool {
	if event.TriggerType != models.TriggerTypeEvent {
		return false
	}

	name, _ := event.Payload[EventNameKey].(string)
	if name != t.config.EventName {
		return false
	}

	return matchFilters(t.config.Filters, event.Payload)
}

func matchFilters(filters map[string]any, payload map[string]any) bool {
	ectx := &models.ExecutionContext{TriggerPayload: payload}

	for path, want := range filters {
		got, ok := ectx.Lookup(models.PayloadPathPrefix + path)
		if !ok || !nodes.Equal(got, want) {
			return false
		}
	}

	return true
}

// DomainEventTriggerFactory creates DomainEventTrigger instances.
type DomainEventTriggerFactory struct{}

// NewDomainEventTriggerFactory creates a new domain event trigger factory.
func NewDomainEventTriggerFactory() protocol.TriggerFactory {
	return &DomainEventTriggerFactory{}
}

func (f *DomainEventTriggerFactory) Create(id string, config json.RawMessage) (protocol.Trigger, error) {
	return NewDomainEventTrigger(id, config)
}

func (f *DomainEventTriggerFactory) Kind() models.NodeKind { return models.NodeKindTrigger }

func (f *DomainEventTriggerFactory) TriggerType() models.TriggerType { return models.TriggerTypeEvent }

func (f *DomainEventTriggerFactory) ID() string { return "domain_event" }

func (f *DomainEventTriggerFactory) Name() string { return "Domain Event" }

func (f *DomainEventTriggerFactory) Description() string {
	return "Starts the workflow when the application publishes a named event, such as survey.completed or contact.created."
}

func (f *DomainEventTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "domain_event"},
			"event_name": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Name of the domain event, matched against the payload event_name",
				"examples":    []string{"survey.completed", "contact.created", "plan.published"},
			},
			"filters": map[string]any{
				"type":        "object",
				"description": "Payload fields (dotted paths) that must equal the given values",
			},
		},
		"required": []string{"type", "event_name"},
	}
}
