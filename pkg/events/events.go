// Package events defines event types and structures exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	IncomingTopic      = "flowpoint.incoming"      // Inbound events to be matched and dispatched
	ExecutionTopic     = "flowpoint.executions"    // Execution lifecycle events for history/audit consumers
	NotificationTopic  = "flowpoint.notifications" // Notifications handed to the delivery channels
	RecordRequestTopic = "flowpoint.records"       // Record creation requests for the host application
	ControlTopic       = "flowpoint.control"       // Workflow lifecycle changes every dispatcher must see
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EventReceivedEvent EventType = "event.received"

	ExecutionStartedEvent  EventType = "execution.started"
	StepFinishedEvent      EventType = "step.finished"
	ExecutionFinishedEvent EventType = "execution.finished"

	NotificationRequestedEvent EventType = "notification.requested"
	RecordRequestedEvent       EventType = "record.requested"

	WorkflowPausedEvent  EventType = "workflow.paused"
	WorkflowDeletedEvent EventType = "workflow.deleted"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenant_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

func newBase(eventType EventType, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
	}
}

// EventReceived carries an inbound event from a producer to the worker.
type EventReceived struct {
	BaseEvent

	Event models.IncomingEvent `json:"event"`
}

func NewEventReceived(event models.IncomingEvent) *EventReceived {
	return &EventReceived{
		BaseEvent: newBase(EventReceivedEvent, event.TenantID, event.WorkflowID),
		Event:     event,
	}
}

func (e EventReceived) GetType() EventType {
	return EventReceivedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID     string             `json:"execution_id"`
	WorkflowVersion int                `json:"workflow_version"`
	TriggerType     models.TriggerType `json:"trigger_type"`
	EntryNodeIDs    []string           `json:"entry_node_ids"`
	TestMode        bool               `json:"test_mode"`
}

func NewExecutionStarted(rec *models.ExecutionRecord) *ExecutionStarted {
	return &ExecutionStarted{
		BaseEvent:       newBase(ExecutionStartedEvent, rec.TenantID, rec.WorkflowID),
		ExecutionID:     rec.ID,
		WorkflowVersion: rec.WorkflowVersion,
		TriggerType:     rec.TriggerType,
		EntryNodeIDs:    rec.EntryNodeIDs,
		TestMode:        rec.TestMode,
	}
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type StepFinished struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	Step        models.StepResult `json:"step"`
}

func NewStepFinished(rec *models.ExecutionRecord, step models.StepResult) *StepFinished {
	return &StepFinished{
		BaseEvent:   newBase(StepFinishedEvent, rec.TenantID, rec.WorkflowID),
		ExecutionID: rec.ID,
		Step:        step,
	}
}

func (e StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	StepCount   int                    `json:"step_count"`
	DurationMs  int64                  `json:"duration_ms"`
	TestMode    bool                   `json:"test_mode"`
}

func NewExecutionFinished(rec *models.ExecutionRecord) *ExecutionFinished {
	event := &ExecutionFinished{
		BaseEvent:   newBase(ExecutionFinishedEvent, rec.TenantID, rec.WorkflowID),
		ExecutionID: rec.ID,
		Status:      rec.Status,
		Error:       rec.Error,
		StepCount:   len(rec.Steps),
		TestMode:    rec.TestMode,
	}

	if rec.FinishedAt != nil {
		event.DurationMs = rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	}

	return event
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

type NotificationRequested struct {
	BaseEvent

	Notification protocol.Notification `json:"notification"`
}

func NewNotificationRequested(n protocol.Notification) *NotificationRequested {
	return &NotificationRequested{
		BaseEvent:    newBase(NotificationRequestedEvent, n.TenantID, ""),
		Notification: n,
	}
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type RecordRequested struct {
	BaseEvent

	Request protocol.RecordRequest `json:"request"`
}

func NewRecordRequested(req protocol.RecordRequest) *RecordRequested {
	return &RecordRequested{
		BaseEvent: newBase(RecordRequestedEvent, req.TenantID, ""),
		Request:   req,
	}
}

func (e RecordRequested) GetType() EventType {
	return RecordRequestedEvent
}

// WorkflowPaused tells every dispatcher to cancel the in-flight runs of a
// workflow that no longer accepts events.
type WorkflowPaused struct {
	BaseEvent
}

func NewWorkflowPaused(tenantID, workflowID string) *WorkflowPaused {
	return &WorkflowPaused{BaseEvent: newBase(WorkflowPausedEvent, tenantID, workflowID)}
}

func (e WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowDeleted struct {
	BaseEvent
}

func NewWorkflowDeleted(tenantID, workflowID string) *WorkflowDeleted {
	return &WorkflowDeleted{BaseEvent: newBase(WorkflowDeletedEvent, tenantID, workflowID)}
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

// TopicFor returns the topic events of the type are published on.
func TopicFor(eventType EventType) string {
	switch eventType {
	case EventReceivedEvent:
		return IncomingTopic
	case WorkflowPausedEvent, WorkflowDeletedEvent:
		return ControlTopic
	case NotificationRequestedEvent:
		return NotificationTopic
	case RecordRequestedEvent:
		return RecordRequestTopic
	default:
		return ExecutionTopic
	}
}

// New returns an empty event of the type for decoding, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case EventReceivedEvent:
		return &EventReceived{}
	case ExecutionStartedEvent:
		return &ExecutionStarted{}
	case StepFinishedEvent:
		return &StepFinished{}
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}
	case NotificationRequestedEvent:
		return &NotificationRequested{}
	case RecordRequestedEvent:
		return &RecordRequested{}
	case WorkflowPausedEvent:
		return &WorkflowPaused{}
	case WorkflowDeletedEvent:
		return &WorkflowDeleted{}
	default:
		return nil
	}
}

// Topics lists every topic in use.
func Topics() []string {
	return []string{IncomingTopic, ExecutionTopic, NotificationTopic, RecordRequestTopic, ControlTopic}
}
