package trigger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// Payload keys of the generic metric event shape {metric_key, value}.
const (
	MetricKeyField   = "metric_key"
	MetricValueField = "value"
)

// MetricThresholdConfig defines a threshold on a named metric.
type MetricThresholdConfig struct {
	MetricKey string `json:"metric_key"`
	Op        string `json:"op"`
	Value     any    `json:"value"`
}

// Validate checks the threshold definition.
func (c MetricThresholdConfig) Validate() error {
	if c.MetricKey == "" {
		return errors.New("metric_key is required")
	}

	if !nodes.ValidOperator(c.Op) {
		return fmt.Errorf("unknown operator %q", c.Op)
	}

	if _, ok := nodes.ToFloat(c.Value); !ok {
		return fmt.Errorf("value must be a number, got %T", c.Value)
	}

	return nil
}

// MetricValue extracts the metric from a payload. Both {"attendance_rate": 0.6}
// and {"metric_key": "attendance_rate", "value": 0.6} are accepted.
func MetricValue(payload map[string]any, metricKey string) (any, bool) {
	if v, ok := payload[metricKey]; ok {
		return v, true
	}

	if key, _ := payload[MetricKeyField].(string); key == metricKey {
		v, ok := payload[MetricValueField]

		return v, ok
	}

	return nil, false
}

// MetricThresholdTrigger fires when a metric event crosses the threshold.
type MetricThresholdTrigger struct {
	id     string
	config MetricThresholdConfig
}

// NewMetricThresholdTrigger creates a metric threshold trigger from raw config.
func NewMetricThresholdTrigger(id string, raw json.RawMessage) (*MetricThresholdTrigger, error) {
	var config MetricThresholdConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, protocol.ConfigError(err)
	}

	return &MetricThresholdTrigger{id: id, config: config}, nil
}

func (t *MetricThresholdTrigger) Matches(event models.IncomingEvent) bool {
	if event.TriggerType != models.TriggerTypeEvent {
		return false
	}

	v, ok := MetricValue(event.Payload, t.config.MetricKey)
	if !ok {
		return false
	}

	matched, err := nodes.Compare(v, t.config.Op, t.config.Value)

	return err == nil && matched
}

// MetricThresholdTriggerFactory creates MetricThresholdTrigger instances.
type MetricThresholdTriggerFactory struct{}

// NewMetricThresholdTriggerFactory creates a new metric threshold trigger factory.
func NewMetricThresholdTriggerFactory() protocol.TriggerFactory {
	return &MetricThresholdTriggerFactory{}
}

func (f *MetricThresholdTriggerFactory) Create(id string, config json.RawMessage) (protocol.Trigger, error) {
	return NewMetricThresholdTrigger(id, config)
}

func (f *MetricThresholdTriggerFactory) Kind() models.NodeKind { return models.NodeKindTrigger }

func (f *MetricThresholdTriggerFactory) TriggerType() models.TriggerType {
	return models.TriggerTypeEvent
}

func (f *MetricThresholdTriggerFactory) ID() string { return "metric_threshold" }

func (f *MetricThresholdTriggerFactory) Name() string { return "Metric Threshold" }

func (f *MetricThresholdTriggerFactory) Description() string {
	return "Starts the workflow when a reported metric crosses a threshold"
}

// Schema returns the JSON schema for metric threshold configuration.
func (f *MetricThresholdTriggerFactory) Schema() map[string]any {
	return MetricThresholdSchema("metric_threshold")
}

// MetricThresholdSchema is shared with the metric_threshold condition.
func MetricThresholdSchema(typeName string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": typeName},
			"metric_key": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Name of the metric",
				"examples":    []string{"attendance_rate", "survey_response_rate"},
			},
			"op": map[string]any{
				"type": "string",
				"enum": nodes.Operators,
			},
			"value": map[string]any{
				"type":        "number",
				"description": "Threshold the metric is compared against",
			},
		},
		"required": []string{"type", "metric_key", "op", "value"},
		"examples": []map[string]any{
			{"type": typeName, "metric_key": "attendance_rate", "op": "<", "value": 0.8},
		},
	}
}
