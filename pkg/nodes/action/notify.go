// Package action provides the built-in action node handlers. Each action
// performs one side effect through a collaborator and can simulate it.
package action

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/dukex/flowpoint/pkg/template"
)

var errNoNotifier = errors.New("no notifier configured")

// NotifyConfig defines the configuration for notify actions.
type NotifyConfig struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Template   string   `json:"template"`
}

// NotifyAction sends a notification through the Notifier.
type NotifyAction struct {
	id       string
	config   NotifyConfig
	notifier protocol.Notifier
}

// NewNotifyAction creates a notify action from raw config.
func NewNotifyAction(id string, raw json.RawMessage, notifier protocol.Notifier) (*NotifyAction, error) {
	var config NotifyConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.Channel == "" {
		return nil, protocol.ConfigError(errors.New("channel is required"))
	}

	if len(config.Recipients) == 0 {
		return nil, protocol.ConfigError(errors.New("at least one recipient is required"))
	}

	if _, err := template.Parse(config.Template); err != nil {
		return nil, protocol.ConfigError(err)
	}

	if _, err := template.Parse(config.Subject); err != nil {
		return nil, protocol.ConfigError(err)
	}

	return &NotifyAction{id: id, config: config, notifier: notifier}, nil
}

func (a *NotifyAction) build(req protocol.ActionRequest) (protocol.Notification, error) {
	data := template.ContextData(req.Context)

	message, err := template.RenderString(a.config.Template, data)
	if err != nil {
		return protocol.Notification{}, protocol.ConfigError(err)
	}

	subject, err := template.RenderString(a.config.Subject, data)
	if err != nil {
		return protocol.Notification{}, protocol.ConfigError(err)
	}

	return protocol.Notification{
		TenantID:       req.Context.TenantID,
		Channel:        a.config.Channel,
		Recipients:     a.config.Recipients,
		Subject:        subject,
		Message:        message,
		IdempotencyKey: req.IdempotencyToken,
		Metadata: map[string]any{
			"workflow_id":  req.Context.WorkflowID,
			"execution_id": req.Context.ExecutionID,
			"node_id":      req.NodeID,
		},
	}, nil
}

func (a *NotifyAction) Execute(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	if a.notifier == nil {
		return nil, protocol.PermanentError(errNoNotifier)
	}

	n, err := a.build(req)
	if err != nil {
		return nil, err
	}

	deliveryID, err := a.notifier.Notify(ctx, n)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"delivery_id": deliveryID,
		"channel":     n.Channel,
		"recipients":  n.Recipients,
		"message":     n.Message,
	}, nil
}

func (a *NotifyAction) Simulate(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	n, err := a.build(req)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"channel":         n.Channel,
		"recipients":      n.Recipients,
		"subject":         n.Subject,
		"message":         n.Message,
		"idempotency_key": n.IdempotencyKey,
	}, nil
}

// NotifyActionFactory creates NotifyAction instances.
type NotifyActionFactory struct {
	notifier protocol.Notifier
}

// NewNotifyActionFactory creates a new notify action factory.
func NewNotifyActionFactory(notifier protocol.Notifier) protocol.ActionFactory {
	return &NotifyActionFactory{notifier: notifier}
}

func (f *NotifyActionFactory) Create(id string, config json.RawMessage) (protocol.Action, error) {
	return NewNotifyAction(id, config, f.notifier)
}

func (f *NotifyActionFactory) Kind() models.NodeKind { return models.NodeKindAction }

func (f *NotifyActionFactory) ID() string { return "notify" }

func (f *NotifyActionFactory) Name() string { return "Notify" }

func (f *NotifyActionFactory) Description() string {
	return "Sends a templated notification to recipients through a delivery channel"
}

func (f *NotifyActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "notify"},
			"channel": map[string]any{
				"type":     "string",
				"examples": []string{"email", "sms", "voice"},
			},
			"recipients": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    map[string]any{"type": "string"},
				"examples": [][]string{{"staff"}, {"role:teacher", "contact:42"}},
			},
			"subject": map[string]any{"type": "string"},
			"template": map[string]any{
				"type":        "string",
				"description": "Message body, a Go text/template over .payload, .vars and .execution",
				"examples":    []string{"Attendance dropped to {{ .payload.attendance_rate }}"},
			},
		},
		"required": []string{"type", "channel", "recipients"},
	}
}
