package models

import "time"

// IncomingEvent is the normalized inbound event handed to the event matcher by
// the surrounding application (manual-test button, channel webhook, cron tick,
// domain-event publisher).
type IncomingEvent struct {
	TenantID    string         `json:"tenant_id"             validate:"required"`
	TriggerType TriggerType    `json:"trigger_type"          validate:"required,oneof=manual event scheduled webhook"`
	DedupKey    string         `json:"dedup_key"             validate:"required"`
	Payload     map[string]any `json:"payload"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at,omitzero"`
}

// IsManualTest reports whether the event is a manual test run.
func (e IncomingEvent) IsManualTest() bool {
	return e.TriggerType == TriggerTypeManual
}

// IdempotencyKey returns the key under which at most one execution record may
// exist for the given tenant, workflow and event deduplication token.
func IdempotencyKey(tenantID, workflowID, dedupKey string) string {
	return tenantID + "/" + workflowID + "/" + dedupKey
}
