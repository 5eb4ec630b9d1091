package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/services"
)

const shutdownTimeout = 30 * time.Second

// EventAcceptor starts the runs matching an inbound event.
type EventAcceptor interface {
	AcceptEvent(ctx context.Context, event models.IncomingEvent) (*services.AcceptResult, error)
}

// Runner is the dispatcher lifecycle.
type Runner interface {
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// Ticker emits the scheduled events; *scheduler.Scheduler satisfies it.
type Ticker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type WorkerManager struct {
	id        string
	logger    *slog.Logger
	eventBus  eventbus.EventSubscriber
	acceptor  EventAcceptor
	runner    Runner
	canceller services.WorkflowCanceller
	scheduler Ticker
}

// NewWorkerManager builds a worker consuming inbound events from eventBus.
// canceller stops the local runs of workflows paused or deleted elsewhere.
// scheduler may be nil when another worker owns the clock.
func NewWorkerManager(
	id string,
	eventBus eventbus.EventSubscriber,
	acceptor EventAcceptor,
	runner Runner,
	canceller services.WorkflowCanceller,
	scheduler Ticker,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "flowpoint-worker", "worker_id", id),
		eventBus:  eventBus,
		acceptor:  acceptor,
		runner:    runner,
		canceller: canceller,
		scheduler: scheduler,
	}
}

// Start runs until ctx is cancelled, then stops the clock and drains the runs in flight.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.EventReceivedEvent, w.handleEventReceived)
	if err != nil {
		return err
	}

	for _, eventType := range []events.EventType{events.WorkflowPausedEvent, events.WorkflowDeletedEvent} {
		err = w.eventBus.Handle(eventType, w.handleWorkflowStopped)
		if err != nil {
			return err
		}
	}

	w.runner.Start(ctx)

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return w.shutdown(ctx, err)
	}

	if w.scheduler != nil {
		err = w.scheduler.Start(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to start scheduler", "error", err)

			return w.shutdown(ctx, err)
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return w.shutdown(ctx, nil)
}

func (w *WorkerManager) shutdown(ctx context.Context, cause error) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if w.scheduler != nil {
		if err := w.scheduler.Stop(shutdownCtx); err != nil {
			w.logger.ErrorContext(shutdownCtx, "Failed to stop scheduler", "error", err)
		}
	}

	if err := w.runner.Shutdown(shutdownCtx); err != nil {
		w.logger.ErrorContext(shutdownCtx, "Failed to drain runs", "error", err)
	}

	return cause
}

func (w *WorkerManager) handleEventReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.EventReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EventReceived")

		return nil
	}

	logger := w.logger.With(
		"tenant_id", received.Event.TenantID,
		"trigger_type", received.Event.TriggerType,
		"dedup_key", received.Event.DedupKey,
	)

	result, err := w.acceptor.AcceptEvent(ctx, received.Event)
	if err != nil {
		if services.IsValidationError(err) {
			logger.WarnContext(ctx, "Dropping invalid event", "error", err)

			return nil
		}

		// Dispatch is idempotent per dedup key, so a redelivery only starts
		// what is still missing.
		if services.IsUnavailableError(err) {
			return fmt.Errorf("dispatcher busy: %w", err)
		}

		logger.ErrorContext(ctx, "Failed to accept event", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Event accepted", "executions", len(result.ExecutionIDs))

	return nil
}

func (w *WorkerManager) handleWorkflowStopped(ctx context.Context, event any) error {
	var base events.BaseEvent

	switch e := event.(type) {
	case *events.WorkflowPaused:
		base = e.BaseEvent
	case *events.WorkflowDeleted:
		base = e.BaseEvent
	default:
		w.logger.ErrorContext(ctx, "Invalid event type for workflow lifecycle change")

		return nil
	}

	if w.canceller == nil {
		return nil
	}

	cancelled := w.canceller.CancelWorkflow(ctx, base.TenantID, base.WorkflowID)

	w.logger.InfoContext(ctx, "Workflow stopped",
		"event_type", base.Type,
		"tenant_id", base.TenantID,
		"workflow_id", base.WorkflowID,
		"cancelled", cancelled,
	)

	return nil
}
