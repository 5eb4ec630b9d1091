// Package condition provides the built-in condition node handlers. Conditions
// are pure and fail closed: anything that cannot be evaluated selects the
// false branch.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

var booleanOutcomes = []string{models.BranchTrue, models.BranchFalse}

func label(ok bool) string {
	if ok {
		return models.BranchTrue
	}

	return models.BranchFalse
}

// CompareConfig compares a context field with a literal value.
type CompareConfig struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// CompareCondition evaluates "field op value" against the run context.
type CompareCondition struct {
	id     string
	config CompareConfig
}

// NewCompareCondition creates a compare condition from raw config.
func NewCompareCondition(id string, raw json.RawMessage) (*CompareCondition, error) {
	var config CompareConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Field == "" {
		return nil, protocol.ConfigError(errors.New("field is required"))
	}

	if !nodes.ValidOperator(config.Op) {
		return nil, protocol.ConfigError(fmt.Errorf("unknown operator %q", config.Op))
	}

	return &CompareCondition{id: id, config: config}, nil
}

func (c *CompareCondition) Evaluate(ectx *models.ExecutionContext) string {
	got, ok := ectx.Lookup(c.config.Field)
	if !ok {
		return models.BranchFalse
	}

	matched, err := nodes.Compare(got, c.config.Op, c.config.Value)

	return label(err == nil && matched)
}

func (c *CompareCondition) Outcomes() []string { return booleanOutcomes }

// CompareConditionFactory creates CompareCondition instances.
type CompareConditionFactory struct{}

// NewCompareConditionFactory creates a new compare condition factory.
func NewCompareConditionFactory() protocol.ConditionFactory {
	return &CompareConditionFactory{}
}

func (f *CompareConditionFactory) Create(id string, config json.RawMessage) (protocol.Condition, error) {
	return NewCompareCondition(id, config)
}

func (f *CompareConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *CompareConditionFactory) ID() string { return "compare" }

func (f *CompareConditionFactory) Name() string { return "Compare" }

func (f *CompareConditionFactory) Description() string {
	return "Compares a payload field or variable with a value and routes to the true or false branch"
}

func (f *CompareConditionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "compare"},
			"field": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Dotted path looked up in variables, then in the trigger payload. Prefix with vars. or payload. to pin one.",
				"examples":    []string{"attendance_rate", "payload.student.grade", "vars.lookup.status"},
			},
			"op": map[string]any{
				"type": "string",
				"enum": nodes.Operators,
			},
			"value": map[string]any{
				"description": "Value the field is compared against",
			},
		},
		"required": []string{"type", "field", "op", "value"},
	}
}
