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

var errNoRecordCreator = errors.New("no record creator configured")

// CreateRecordConfig defines the record to create. String field values are templates.
type CreateRecordConfig struct {
	RecordType string         `json:"record_type"`
	Fields     map[string]any `json:"fields"`
}

// CreateRecordAction creates a record in the host application.
type CreateRecordAction struct {
	id      string
	config  CreateRecordConfig
	creator protocol.RecordCreator
}

// NewCreateRecordAction creates a create_record action from raw config.
func NewCreateRecordAction(id string, raw json.RawMessage, creator protocol.RecordCreator) (*CreateRecordAction, error) {
	var config CreateRecordConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	if config.RecordType == "" {
		return nil, protocol.ConfigError(errors.New("record_type is required"))
	}

	return &CreateRecordAction{id: id, config: config, creator: creator}, nil
}

func (a *CreateRecordAction) build(req protocol.ActionRequest) (protocol.RecordRequest, error) {
	fields, err := template.RenderValue(a.config.Fields, template.ContextData(req.Context))
	if err != nil {
		return protocol.RecordRequest{}, protocol.ConfigError(err)
	}

	rendered, _ := fields.(map[string]any)
	if rendered == nil {
		rendered = map[string]any{}
	}

	return protocol.RecordRequest{
		TenantID:       req.Context.TenantID,
		RecordType:     a.config.RecordType,
		Fields:         rendered,
		IdempotencyKey: req.IdempotencyToken,
	}, nil
}

func (a *CreateRecordAction) Execute(ctx context.Context, req protocol.ActionRequest) (map[string]any, error) {
	if a.creator == nil {
		return nil, protocol.PermanentError(errNoRecordCreator)
	}

	record, err := a.build(req)
	if err != nil {
		return nil, err
	}

	id, err := a.creator.CreateRecord(ctx, record)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"record_id":   id,
		"record_type": record.RecordType,
	}, nil
}

func (a *CreateRecordAction) Simulate(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	record, err := a.build(req)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"record_type":     record.RecordType,
		"fields":          record.Fields,
		"idempotency_key": record.IdempotencyKey,
	}, nil
}

// CreateRecordActionFactory creates CreateRecordAction instances.
type CreateRecordActionFactory struct {
	creator protocol.RecordCreator
}

// NewCreateRecordActionFactory creates a new create_record action factory.
func NewCreateRecordActionFactory(creator protocol.RecordCreator) protocol.ActionFactory {
	return &CreateRecordActionFactory{creator: creator}
}

func (f *CreateRecordActionFactory) Create(id string, config json.RawMessage) (protocol.Action, error) {
	return NewCreateRecordAction(id, config, f.creator)
}

func (f *CreateRecordActionFactory) Kind() models.NodeKind { return models.NodeKindAction }

func (f *CreateRecordActionFactory) ID() string { return "create_record" }

func (f *CreateRecordActionFactory) Name() string { return "Create Record" }

func (f *CreateRecordActionFactory) Description() string {
	return "Creates a record, such as a follow-up task or a report entry, for the tenant"
}

func (f *CreateRecordActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "create_record"},
			"record_type": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"task", "contact_note", "report"},
			},
			"fields": map[string]any{
				"type":        "object",
				"description": "Record fields; string values may be templates",
			},
		},
		"required": []string{"type", "record_type"},
	}
}
