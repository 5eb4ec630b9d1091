// Package trigger provides the built-in trigger node handlers.
package trigger

import (
	"encoding/json"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// ManualTrigger starts a run from the editor's test button.
type ManualTrigger struct {
	id string
}

// Matches reports whether the event is a manual test.
func (t *ManualTrigger) Matches(event models.IncomingEvent) bool {
	return event.IsManualTest()
}

// ManualTriggerFactory creates ManualTrigger instances.
type ManualTriggerFactory struct{}

// NewManualTriggerFactory creates a new manual trigger factory.
func NewManualTriggerFactory() protocol.TriggerFactory {
	return &ManualTriggerFactory{}
}

func (f *ManualTriggerFactory) Create(id string, _ json.RawMessage) (protocol.Trigger, error) {
	return &ManualTrigger{id: id}, nil
}

func (f *ManualTriggerFactory) Kind() models.NodeKind { return models.NodeKindTrigger }

func (f *ManualTriggerFactory) TriggerType() models.TriggerType { return models.TriggerTypeManual }

func (f *ManualTriggerFactory) ID() string { return "manual" }

func (f *ManualTriggerFactory) Name() string { return "Manual" }

func (f *ManualTriggerFactory) Description() string {
	return "Starts the workflow on demand. Manual runs are always test runs."
}

func (f *ManualTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "manual"},
		},
		"required": []string{"type"},
	}
}
