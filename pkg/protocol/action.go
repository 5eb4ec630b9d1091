package protocol

import (
	"context"
	"net/http"

	"github.com/dukex/flowpoint/pkg/models"
)

// ActionRequest is what an action receives for one attempt.
type ActionRequest struct {
	NodeID string

	// IdempotencyToken is stable across retries of the same node in the same run.
	IdempotencyToken string

	// Context must be treated as read-only.
	Context *models.ExecutionContext
}

// Action performs exactly one side effect. Execute may be called several times
// with the same idempotency token when a transient error is retried.
type Action interface {
	// Execute should return once ctx is done. The engine stops waiting for an
	// attempt at its step deadline and treats it as a transient failure, so a
	// call that outlives ctx keeps running unobserved and may be retried.
	Execute(ctx context.Context, req ActionRequest) (map[string]any, error)

	// Simulate reports what Execute would do without doing it.
	Simulate(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// Notification is handed to the Notifier by the notify action.
type Notification struct {
	TenantID       string         `json:"tenant_id"`
	Channel        string         `json:"channel"`
	Recipients     []string       `json:"recipients"`
	Subject        string         `json:"subject,omitempty"`
	Message        string         `json:"message"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Notifier delivers notifications through a channel (e-mail, SMS, voice).
type Notifier interface {
	Notify(ctx context.Context, n Notification) (deliveryID string, err error)
}

// RecordRequest asks the host application to create a record for a tenant.
type RecordRequest struct {
	TenantID       string         `json:"tenant_id"`
	RecordType     string         `json:"record_type"`
	Fields         map[string]any `json:"fields"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// RecordCreator creates records in the host application.
type RecordCreator interface {
	CreateRecord(ctx context.Context, req RecordRequest) (recordID string, err error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
