// Package template renders node config strings against the state of a run.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
)

// ContextData returns the data a template sees for a run.
func ContextData(ectx *models.ExecutionContext) map[string]any {
	return map[string]any{
		"payload":   ectx.TriggerPayload,
		"vars":      ectx.Variables,
		"test_mode": ectx.TestMode,
		"execution": map[string]any{
			"id":          ectx.ExecutionID,
			"workflow_id": ectx.WorkflowID,
			"tenant_id":   ectx.TenantID,
		},
	}
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// Parse compiles a template so config errors surface when a node is created.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.
		New("node").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderString renders templateStr and returns the text output.
func RenderString(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render renders templateStr and converts the output to JSON, a number or a
// boolean when it looks like one.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return rendered, nil
}

// RenderValue renders every string found in v, descending into maps and slices.
func RenderValue(v any, data any) (any, error) {
	switch val := v.(type) {
	case string:
		if !NeedsTemplating(val) {
			return val, nil
		}

		return Render(val, data)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}

			out[k] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return v, nil
	}
}
