package condition

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExpressionConfig holds a boolean expr-lang expression over payload, vars and test_mode.
type ExpressionConfig struct {
	Expression string `json:"expression"`
}

// ExpressionCondition evaluates a compiled expression; errors and non-boolean
// results select the false branch.
type ExpressionCondition struct {
	id      string
	program *vm.Program
}

func (c *ExpressionCondition) Evaluate(ectx *models.ExecutionContext) string {
	out, err := expr.Run(c.program, ectx.Env())
	if err != nil {
		return models.BranchFalse
	}

	b, ok := out.(bool)

	return label(ok && b)
}

func (c *ExpressionCondition) Outcomes() []string { return booleanOutcomes }

// ExpressionConditionFactory creates ExpressionCondition instances. Compiled
// programs are cached by source and shared across runs.
type ExpressionConditionFactory struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExpressionConditionFactory creates a new expression condition factory.
func NewExpressionConditionFactory() protocol.ConditionFactory {
	return &ExpressionConditionFactory{cache: make(map[string]*vm.Program)}
}

func (f *ExpressionConditionFactory) Create(id string, raw json.RawMessage) (protocol.Condition, error) {
	var config ExpressionConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Expression == "" {
		return nil, protocol.ConfigError(errors.New("expression is required"))
	}

	program, err := f.compile(config.Expression)
	if err != nil {
		return nil, protocol.Configf("invalid expression: %w", err)
	}

	return &ExpressionCondition{id: id, program: program}, nil
}

func (f *ExpressionConditionFactory) compile(source string) (*vm.Program, error) {
	f.mu.RLock()
	program, ok := f.cache[source]
	f.mu.RUnlock()

	if ok {
		return program, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if program, ok := f.cache[source]; ok {
		return program, nil
	}

	env := map[string]any{
		"payload":   map[string]any{},
		"vars":      map[string]any{},
		"test_mode": false,
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	f.cache[source] = program

	return program, nil
}

func (f *ExpressionConditionFactory) Kind() models.NodeKind { return models.NodeKindCondition }

func (f *ExpressionConditionFactory) ID() string { return "expression" }

func (f *ExpressionConditionFactory) Name() string { return "Expression" }

func (f *ExpressionConditionFactory) Description() string {
	return "Evaluates a boolean expression over the trigger payload and variables"
}

func (f *ExpressionConditionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "expression"},
			"expression": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples": []string{
					`payload.attendance_rate < 0.8 && payload.grade in [6, 7, 8]`,
					`vars.c1.outcome == "true" || test_mode`,
					`len(payload.responses ?? []) > 3`,
				},
			},
		},
		"required": []string{"type", "expression"},
	}
}
