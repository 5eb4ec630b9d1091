package condition

import (
	"encoding/json"
	"errors"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// InSetConfig checks membership of a field value in a fixed set.
type InSetConfig struct {
	Field  string `json:"field"`
	Values []any  `json:"values"`
}

// InSetCondition is true when the field equals one of the configured values.
type InSetCondition struct {
	id     string
	config InSetConfig
}

// NewInSetCondition creates a set membership condition from raw config.
func NewInSetCondition(id string, raw json.RawMessage) (*InSetCondition, error) {
	var config InSetConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Field == "" {
		return nil, protocol.ConfigError(errors.New("field is required"))
	}

	if len(config.Values) == 0 {
		return nil, protocol.ConfigError(errors.New("values must not be empty"))
	}

	return &InSetCondition{id: id, config: config}, nil
}

func (c *InSetCondition) Evaluate(ectx *models.ExecutionContext) string {
	got, ok := ectx.Lookup(c.config.Field)
	if !ok {
		return models.BranchFalse
	}

	for _, v := range c.config.Values {
		if nodes.Equal(got, v) {
			return models.BranchTrue
		}
	}

	return models.BranchFalse
}

func (c *InSetCondition) Outcomes() []string { return booleanOutcomes }

// InSetConditionFactory creates InSetCondition instances.
type InSetConditionFactory struct{}

// NewInSetConditionFactory creates a new set membership condition factory.
func NewInSetConditionFactory() protocol.ConditionFactory {
	return &InSetConditionFactory{}
}

func (f *InSetConditionFactory) Create(id string, config json.RawMessage) (protocol.Condition, error) {
	return NewInSetCondition(id, config)
}

func (f *InSetConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *InSetConditionFactory) ID() string { return "in_set" }

func (f *InSetConditionFactory) Name() string { return "In Set" }

func (f *InSetConditionFactory) Description() string {
	return "Routes on whether a field value is one of a list of values"
}

func (f *InSetConditionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":  map[string]any{"const": "in_set"},
			"field": map[string]any{"type": "string", "minLength": 1},
			"values": map[string]any{
				"type":     "array",
				"minItems": 1,
				"examples": [][]any{{"sms", "voice"}, {1, 2, 3}},
			},
		},
		"required": []string{"type", "field", "values"},
	}
}
