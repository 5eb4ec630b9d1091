package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/dukex/flowpoint/pkg/template"
)

// IdempotencyKeyHeader carries the idempotency token on outgoing webhooks.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxResponseBody = 1 << 20

// CallWebhookConfig defines the configuration for call_webhook actions.
type CallWebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// HTTPError represents a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// CallWebhookAction POSTs a JSON body to an external endpoint.
type CallWebhookAction struct {
	id     string
	config CallWebhookConfig
	client protocol.HTTPDoer
}

// NewCallWebhookAction creates a call_webhook action from raw config.
func NewCallWebhookAction(id string, raw json.RawMessage, client protocol.HTTPDoer) (*CallWebhookAction, error) {
	var config CallWebhookConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.URL == "" {
		return nil, protocol.ConfigError(errors.New("url is required"))
	}

	if !template.NeedsTemplating(config.URL) {
		if u, err := url.Parse(config.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, protocol.Configf("url must be an absolute http(s) URL, got %q", config.URL)
		}
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &CallWebhookAction{id: id, config: config, client: client}, nil
}

type webhookRequest struct {
	url     string
	headers map[string]string
	body    []byte
}

func (a *CallWebhookAction) build(req protocol.ActionRequest) (webhookRequest, error) {
	data := template.ContextData(req.Context)

	target, err := template.RenderString(a.config.URL, data)
	if err != nil {
		return webhookRequest{}, protocol.ConfigError(err)
	}

	headers := make(map[string]string, len(a.config.Headers)+2)

	for k, v := range a.config.Headers {
		rendered, err := template.RenderString(v, data)
		if err != nil {
			return webhookRequest{}, protocol.ConfigError(fmt.Errorf("header %s: %w", k, err))
		}

		headers[k] = rendered
	}

	headers["Content-Type"] = "application/json"
	headers[IdempotencyKeyHeader] = req.IdempotencyToken

	body := a.config.Body
	if body == nil {
		body = map[string]any{
			"execution_id": req.Context.ExecutionID,
			"workflow_id":  req.Context.WorkflowID,
			"tenant_id":    req.Context.TenantID,
			"payload":      req.Context.TriggerPayload,
		}
	} else {
		body, err = template.RenderValue(body, data)
		if err != nil {
			return webhookRequest{}, protocol.ConfigError(err)
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return webhookRequest{}, protocol.ConfigError(fmt.Errorf("failed to encode body: %w", err))
	}

	return webhookRequest{url: target, headers: headers, body: encoded}, nil
}

func (a *CallWebhookAction) Execute(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	wr, err := a.build(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wr.url, bytes.NewReader(wr.body))
	if err != nil {
		return nil, protocol.ConfigError(fmt.Errorf("failed to create request: %w", err))
	}

	for k, v := range wr.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, protocol.TransientError(fmt.Errorf("request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, protocol.TransientError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}

		// 408, 429 and 5xx are worth another attempt
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, protocol.TransientError(httpErr)
		}

		return nil, protocol.PermanentError(httpErr)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}

func (a *CallWebhookAction) Simulate(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	wr, err := a.build(req)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"method":  http.MethodPost,
		"url":     wr.url,
		"headers": wr.headers,
		"body":    string(wr.body),
	}, nil
}

// CallWebhookActionFactory creates CallWebhookAction instances.
type CallWebhookActionFactory struct {
	client protocol.HTTPDoer
}

// NewCallWebhookActionFactory creates a new call_webhook action factory. A nil
// client uses an http.Client with a 30 second timeout.
func NewCallWebhookActionFactory(client protocol.HTTPDoer) protocol.ActionFactory {
	return &CallWebhookActionFactory{client: client}
}

func (f *CallWebhookActionFactory) Create(id string, config json.RawMessage) (protocol.Action, error) {
	return NewCallWebhookAction(id, config, f.client)
}

func (f *CallWebhookActionFactory) Kind() models.NodeKind { return models.NodeKindAction }

func (f *CallWebhookActionFactory) ID() string { return "call_webhook" }

func (f *CallWebhookActionFactory) Name() string { return "Call Webhook" }

func (f *CallWebhookActionFactory) Description() string {
	return "POSTs a JSON body to an external URL with an Idempotency-Key header"
}

func (f *CallWebhookActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "call_webhook"},
			"url": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"https://hooks.example.com/attendance"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "JSON body; string values may be templates. Defaults to the run identifiers and trigger payload.",
			},
		},
		"required": []string{"type", "url"},
	}
}
