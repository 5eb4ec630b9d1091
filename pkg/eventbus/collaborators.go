package eventbus

import (
	"context"

	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// Notifier hands notifications to the delivery channels listening on the
// notifications topic. The request event id is the delivery id.
type Notifier struct {
	publisher EventPublisher
}

func NewNotifier(publisher EventPublisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) Notify(ctx context.Context, notification protocol.Notification) (string, error) {
	event := events.NewNotificationRequested(notification)

	err := n.publisher.Publish(ctx, notification.IdempotencyKey, event)
	if err != nil {
		return "", protocol.TransientError(err)
	}

	return event.ID, nil
}

// RecordCreator forwards record creation requests to the host application.
type RecordCreator struct {
	publisher EventPublisher
}

func NewRecordCreator(publisher EventPublisher) *RecordCreator {
	return &RecordCreator{publisher: publisher}
}

func (r *RecordCreator) CreateRecord(ctx context.Context, req protocol.RecordRequest) (string, error) {
	event := events.NewRecordRequested(req)

	err := r.publisher.Publish(ctx, req.IdempotencyKey, event)
	if err != nil {
		return "", protocol.TransientError(err)
	}

	return event.ID, nil
}

// EventForwarder publishes inbound events for the worker that owns dispatch.
type EventForwarder struct {
	publisher EventPublisher
}

func NewEventForwarder(publisher EventPublisher) *EventForwarder {
	return &EventForwarder{publisher: publisher}
}

// Emit publishes the event keyed by its idempotency scope so that duplicates
// land on the same partition.
func (f *EventForwarder) Emit(ctx context.Context, event models.IncomingEvent) error {
	msg := events.NewEventReceived(event)

	return f.publisher.Publish(ctx, event.TenantID+"/"+event.DedupKey, msg)
}
