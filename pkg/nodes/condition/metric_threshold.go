package condition

import (
	"encoding/json"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/nodes/trigger"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// MetricThresholdCondition re-checks a metric threshold during the walk. It
// reads the same payload shapes as the metric_threshold trigger.
type MetricThresholdCondition struct {
	id     string
	config trigger.MetricThresholdConfig
}

// NewMetricThresholdCondition creates a metric threshold condition from raw config.
func NewMetricThresholdCondition(id string, raw json.RawMessage) (*MetricThresholdCondition, error) {
	var config trigger.MetricThresholdConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, protocol.ConfigError(err)
	}

	return &MetricThresholdCondition{id: id, config: config}, nil
}

func (c *MetricThresholdCondition) Evaluate(ectx *models.ExecutionContext) string {
	v, ok := trigger.MetricValue(ectx.TriggerPayload, c.config.MetricKey)
	if !ok {
		v, ok = ectx.Lookup(c.config.MetricKey)
	}

	if !ok {
		return models.BranchFalse
	}

	matched, err := nodes.Compare(v, c.config.Op, c.config.Value)

	return label(err == nil && matched)
}

func (c *MetricThresholdCondition) Outcomes() []string { return booleanOutcomes }

// MetricThresholdConditionFactory creates MetricThresholdCondition instances.
type MetricThresholdConditionFactory struct{}

// NewMetricThresholdConditionFactory creates a new metric threshold condition factory.
func NewMetricThresholdConditionFactory() protocol.ConditionFactory {
	return &MetricThresholdConditionFactory{}
}

func (f *MetricThresholdConditionFactory) Create(id string, config json.RawMessage) (protocol.Condition, error) {
	return NewMetricThresholdCondition(id, config)
}

func (f *MetricThresholdConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *MetricThresholdConditionFactory) ID() string { return "metric_threshold" }

func (f *MetricThresholdConditionFactory) Name() string { return "Metric Threshold" }

func (f *MetricThresholdConditionFactory) Description() string {
	return "Routes on whether a metric of the triggering event crosses a threshold"
}

func (f *MetricThresholdConditionFactory) Schema() map[string]any {
	return trigger.MetricThresholdSchema("metric_threshold")
}
