package condition

import (
	"encoding/json"
	"errors"
	"slices"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// DefaultSwitchLabel is used when no case matches and no default label is set.
const DefaultSwitchLabel = "default"

// SwitchCase maps a field value to a branch label.
type SwitchCase struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// SwitchConfig routes on the value of a field.
type SwitchConfig struct {
	Field   string       `json:"field"`
	Cases   []SwitchCase `json:"cases"`
	Default string       `json:"default"`
}

// SwitchCondition returns the label of the first case equal to the field value.
type SwitchCondition struct {
	id       string
	config   SwitchConfig
	outcomes []string
}

// NewSwitchCondition creates a switch condition from raw config.
func NewSwitchCondition(id string, raw json.RawMessage) (*SwitchCondition, error) {
	var config SwitchConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Field == "" {
		return nil, protocol.ConfigError(errors.New("field is required"))
	}

	if len(config.Cases) == 0 {
		return nil, protocol.ConfigError(errors.New("at least one case is required"))
	}

	if config.Default == "" {
		config.Default = DefaultSwitchLabel
	}

	outcomes := make([]string, 0, len(config.Cases)+1)

	for i, c := range config.Cases {
		if c.Label == "" {
			return nil, protocol.Configf("case %d has no label", i)
		}

		if !slices.Contains(outcomes, c.Label) {
			outcomes = append(outcomes, c.Label)
		}
	}

	if !slices.Contains(outcomes, config.Default) {
		outcomes = append(outcomes, config.Default)
	}

	return &SwitchCondition{id: id, config: config, outcomes: outcomes}, nil
}

func (c *SwitchCondition) Evaluate(ectx *models.ExecutionContext) string {
	got, ok := ectx.Lookup(c.config.Field)
	if !ok {
		return c.config.Default
	}

	for _, sc := range c.config.Cases {
		if nodes.Equal(got, sc.Value) {
			return sc.Label
		}
	}

	return c.config.Default
}

func (c *SwitchCondition) Outcomes() []string { return c.outcomes }

// SwitchConditionFactory creates SwitchCondition instances.
type SwitchConditionFactory struct{}

// NewSwitchConditionFactory creates a new switch condition factory.
func NewSwitchConditionFactory() protocol.ConditionFactory {
	return &SwitchConditionFactory{}
}

func (f *SwitchConditionFactory) Create(id string, config json.RawMessage) (protocol.Condition, error) {
	return NewSwitchCondition(id, config)
}

func (f *SwitchConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *SwitchConditionFactory) ID() string { return "switch" }

func (f *SwitchConditionFactory) Name() string { return "Switch" }

func (f *SwitchConditionFactory) Description() string {
	return "Routes to the branch whose case matches the field value, or to the default branch"
}

func (f *SwitchConditionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":  map[string]any{"const": "switch"},
			"field": map[string]any{"type": "string", "minLength": 1},
			"cases": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value": map[string]any{},
						"label": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"value", "label"},
				},
			},
			"default": map[string]any{"type": "string", "default": DefaultSwitchLabel},
		},
		"required": []string{"type", "field", "cases"},
	}
}
