package action

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/dukex/flowpoint/pkg/template"
)

// LogConfig defines the configuration for log actions.
type LogConfig struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// LogAction writes a structured log line and nothing else.
type LogAction struct {
	id      string
	message string
	level   slog.Level
	logger  *slog.Logger
}

// NewLogAction creates a log action from raw config.
func NewLogAction(id string, raw json.RawMessage, logger *slog.Logger) (*LogAction, error) {
	config := LogConfig{Level: "info"}
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Message == "" {
		return nil, protocol.ConfigError(errors.New("message is required"))
	}

	level, ok := logLevels[strings.ToLower(config.Level)]
	if !ok {
		return nil, protocol.Configf("unknown level %q", config.Level)
	}

	if _, err := template.Parse(config.Message); err != nil {
		return nil, protocol.ConfigError(err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &LogAction{id: id, message: config.Message, level: level, logger: logger}, nil
}

func (a *LogAction) render(req protocol.ActionRequest) (string, error) {
	message, err := template.RenderString(a.message, template.ContextData(req.Context))
	if err != nil {
		return "", protocol.ConfigError(err)
	}

	return message, nil
}

func (a *LogAction) Execute(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	message, err := a.render(req)
	if err != nil {
		return nil, err
	}

	a.logger.Log(ctx, a.level, message,
		"tenant_id", req.Context.TenantID,
		"workflow_id", req.Context.WorkflowID,
		"execution_id", req.Context.ExecutionID,
		"node_id", req.NodeID,
	)

	return map[string]any{
		"message": message,
		"level":   a.level.String(),
	}, nil
}

func (a *LogAction) Simulate(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	message, err := a.render(req)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message": message,
		"level":   a.level.String(),
	}, nil
}

// LogActionFactory creates LogAction instances.
type LogActionFactory struct {
	logger *slog.Logger
}

// NewLogActionFactory creates a new log action factory.
func NewLogActionFactory(logger *slog.Logger) protocol.ActionFactory {
	return &LogActionFactory{logger: logger}
}

func (f *LogActionFactory) Create(id string, config json.RawMessage) (protocol.Action, error) {
	return NewLogAction(id, config, f.logger)
}

func (f *LogActionFactory) Kind() models.NodeKind { return models.NodeKindAction }

func (f *LogActionFactory) ID() string { return "log" }

func (f *LogActionFactory) Name() string { return "Log" }

func (f *LogActionFactory) Description() string {
	return "Writes a structured log line. Useful as a placeholder branch."
}

func (f *LogActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    map[string]any{"const": "log"},
			"message": map[string]any{"type": "string", "minLength": 1},
			"level": map[string]any{
				"type":    "string",
				"enum":    []string{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
		"required": []string{"type", "message"},
	}
}
