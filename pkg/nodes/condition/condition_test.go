package condition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execContext(t *testing.T, payload map[string]any, vars map[string]any) *models.ExecutionContext {
	t.Helper()

	ectx := models.NewExecutionContext("wf", models.IncomingEvent{TenantID: "acme", Payload: payload}, false)
	for k, v := range vars {
		require.NoError(t, ectx.SetVariable(k, v))
	}

	return ectx
}

func create(t *testing.T, f protocol.ConditionFactory, raw string) protocol.Condition {
	t.Helper()

	c, err := f.Create("c1", json.RawMessage(raw))
	require.NoError(t, err)

	return c
}

func assertConfigError(t *testing.T, err error) {
	t.Helper()

	var nodeErr *protocol.NodeError

	require.True(t, errors.As(err, &nodeErr), "expected a node error, got %v", err)
	assert.Equal(t, models.ErrorKindConfig, nodeErr.Kind)
}

func TestCompareCondition(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		payload map[string]any
		want    string
	}{
		{"less than", `{"type":"compare","field":"attendance_rate","op":"<","value":0.8}`, map[string]any{"attendance_rate": 0.65}, models.BranchTrue},
		{"not less than", `{"type":"compare","field":"attendance_rate","op":"<","value":0.8}`, map[string]any{"attendance_rate": 0.8}, models.BranchFalse},
		{"int payload", `{"type":"compare","field":"count","op":">=","value":3}`, map[string]any{"count": 3}, models.BranchTrue},
		{"string equality", `{"type":"compare","field":"status","op":"==","value":"active"}`, map[string]any{"status": "active"}, models.BranchTrue},
		{"string inequality", `{"type":"compare","field":"status","op":"!=","value":"active"}`, map[string]any{"status": "active"}, models.BranchFalse},
		{"nested path", `{"type":"compare","field":"student.grade","op":"==","value":7}`, map[string]any{"student": map[string]any{"grade": 7}}, models.BranchTrue},
		{"missing field fails closed", `{"type":"compare","field":"nope","op":"<","value":1}`, map[string]any{}, models.BranchFalse},
		{"incomparable fails closed", `{"type":"compare","field":"status","op":"<","value":1}`, map[string]any{"status": "active"}, models.BranchFalse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := create(t, NewCompareConditionFactory(), tt.config)
			assert.Equal(t, tt.want, c.Evaluate(execContext(t, tt.payload, nil)))
		})
	}
}

func TestCompareCondition_ReadsVariablesFirst(t *testing.T) {
	c := create(t, NewCompareConditionFactory(), `{"type":"compare","field":"score","op":">","value":5}`)
	ectx := execContext(t, map[string]any{"score": 1}, map[string]any{"score": 9})

	assert.Equal(t, models.BranchTrue, c.Evaluate(ectx))

	c = create(t, NewCompareConditionFactory(), `{"type":"compare","field":"payload.score","op":">","value":5}`)
	assert.Equal(t, models.BranchFalse, c.Evaluate(ectx))
}

func TestCompareCondition_InvalidConfig(t *testing.T) {
	f := NewCompareConditionFactory()

	for _, raw := range []string{
		`{"type":"compare","op":"<","value":1}`,
		`{"type":"compare","field":"x","op":"=~","value":1}`,
		`{"type":"compare","field":`,
	} {
		_, err := f.Create("c1", json.RawMessage(raw))
		assertConfigError(t, err)
	}
}

func TestMetricThresholdCondition(t *testing.T) {
	c := create(t, NewMetricThresholdConditionFactory(), `{"type":"metric_threshold","metric_key":"attendance_rate","op":"<","value":0.8}`)

	assert.Equal(t, models.BranchTrue, c.Evaluate(execContext(t, map[string]any{"attendance_rate": 0.65}, nil)))
	assert.Equal(t, models.BranchFalse, c.Evaluate(execContext(t, map[string]any{"attendance_rate": 0.9}, nil)))
	assert.Equal(t, models.BranchTrue, c.Evaluate(execContext(t, map[string]any{"metric_key": "attendance_rate", "value": 0.1}, nil)))
	assert.Equal(t, models.BranchFalse, c.Evaluate(execContext(t, map[string]any{}, nil)))
}

func TestInSetCondition(t *testing.T) {
	c := create(t, NewInSetConditionFactory(), `{"type":"in_set","field":"channel","values":["sms","voice"]}`)

	assert.Equal(t, models.BranchTrue, c.Evaluate(execContext(t, map[string]any{"channel": "sms"}, nil)))
	assert.Equal(t, models.BranchFalse, c.Evaluate(execContext(t, map[string]any{"channel": "email"}, nil)))

	numbers := create(t, NewInSetConditionFactory(), `{"type":"in_set","field":"grade","values":[6,7,8]}`)
	assert.Equal(t, models.BranchTrue, numbers.Evaluate(execContext(t, map[string]any{"grade": 7.0}, nil)))

	_, err := NewInSetConditionFactory().Create("c1", json.RawMessage(`{"type":"in_set","field":"x","values":[]}`))
	assertConfigError(t, err)
}

func TestTimeWindowCondition(t *testing.T) {
	monday9am := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return monday9am }

	f := NewTimeWindowConditionFactory(now)

	office := create(t, f, `{"type":"time_window","start":"08:00","end":"17:00","weekdays":["mon","tue","wed","thu","fri"]}`)
	assert.Equal(t, models.BranchTrue, office.Evaluate(execContext(t, nil, nil)))

	weekend := create(t, f, `{"type":"time_window","start":"08:00","end":"17:00","weekdays":["Saturday","sun"]}`)
	assert.Equal(t, models.BranchFalse, weekend.Evaluate(execContext(t, nil, nil)))

	overnight := create(t, f, `{"type":"time_window","field":"sent_at","start":"22:00","end":"06:00"}`)
	assert.Equal(t, models.BranchTrue, overnight.Evaluate(execContext(t, map[string]any{"sent_at": "2026-03-02T23:30:00Z"}, nil)))
	assert.Equal(t, models.BranchTrue, overnight.Evaluate(execContext(t, map[string]any{"sent_at": "2026-03-02T05:59:00Z"}, nil)))
	assert.Equal(t, models.BranchFalse, overnight.Evaluate(execContext(t, map[string]any{"sent_at": "2026-03-02T12:00:00Z"}, nil)))
	assert.Equal(t, models.BranchFalse, overnight.Evaluate(execContext(t, map[string]any{"sent_at": "noon"}, nil)))

	tokyo := create(t, f, `{"type":"time_window","start":"17:00","end":"19:00","timezone":"Asia/Tokyo"}`)
	assert.Equal(t, models.BranchTrue, tokyo.Evaluate(execContext(t, nil, nil))) // 09:00 UTC is 18:00 in Tokyo

	for _, raw := range []string{
		`{"type":"time_window","start":"8am","end":"17:00"}`,
		`{"type":"time_window","start":"08:00","end":"17:00","weekdays":["someday"]}`,
		`{"type":"time_window","start":"08:00","end":"17:00","timezone":"Nowhere/City"}`,
	} {
		_, err := f.Create("c1", json.RawMessage(raw))
		assertConfigError(t, err)
	}
}

func TestExpressionCondition(t *testing.T) {
	f := NewExpressionConditionFactory()

	c := create(t, f, `{"type":"expression","expression":"payload.attendance_rate < 0.8 && payload.grade in [6, 7, 8]"}`)
	assert.Equal(t, models.BranchTrue, c.Evaluate(execContext(t, map[string]any{"attendance_rate": 0.5, "grade": 7}, nil)))
	assert.Equal(t, models.BranchFalse, c.Evaluate(execContext(t, map[string]any{"attendance_rate": 0.5, "grade": 9}, nil)))

	// a runtime error on a missing field fails closed
	assert.Equal(t, models.BranchFalse, c.Evaluate(execContext(t, map[string]any{}, nil)))

	vars := create(t, f, `{"type":"expression","expression":"vars.c0.outcome == \"true\""}`)
	assert.Equal(t, models.BranchTrue, vars.Evaluate(execContext(t, nil, map[string]any{"c0": map[string]any{"outcome": "true"}})))

	_, err := f.Create("c1", json.RawMessage(`{"type":"expression","expression":"payload.x <"}`))
	assertConfigError(t, err)
}

func TestExpressionConditionFactory_CachesPrograms(t *testing.T) {
	f := NewExpressionConditionFactory().(*ExpressionConditionFactory)

	first := create(t, f, `{"type":"expression","expression":"test_mode"}`).(*ExpressionCondition)
	second := create(t, f, `{"type":"expression","expression":"test_mode"}`).(*ExpressionCondition)

	assert.Same(t, first.program, second.program)
	assert.Len(t, f.cache, 1)
}

func TestSwitchCondition(t *testing.T) {
	c := create(t, NewSwitchConditionFactory(), `{"type":"switch","field":"channel","cases":[{"value":"sms","label":"text"},{"value":"voice","label":"call"}]}`)

	assert.Equal(t, "text", c.Evaluate(execContext(t, map[string]any{"channel": "sms"}, nil)))
	assert.Equal(t, "call", c.Evaluate(execContext(t, map[string]any{"channel": "voice"}, nil)))
	assert.Equal(t, DefaultSwitchLabel, c.Evaluate(execContext(t, map[string]any{"channel": "fax"}, nil)))
	assert.Equal(t, DefaultSwitchLabel, c.Evaluate(execContext(t, nil, nil)))
	assert.Equal(t, []string{"text", "call", DefaultSwitchLabel}, c.Outcomes())

	custom := create(t, NewSwitchConditionFactory(), `{"type":"switch","field":"n","cases":[{"value":1,"label":"one"}],"default":"other"}`)
	assert.Equal(t, "one", custom.Evaluate(execContext(t, map[string]any{"n": 1}, nil)))
	assert.Equal(t, []string{"one", "other"}, custom.Outcomes())

	_, err := NewSwitchConditionFactory().Create("c1", json.RawMessage(`{"type":"switch","field":"n","cases":[{"value":1}]}`))
	assertConfigError(t, err)
}
