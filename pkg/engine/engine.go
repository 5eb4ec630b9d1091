// Package engine walks a workflow graph for one run, evaluating each node and
// recording its outcome in the execution log.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/otelhelper"
	"github.com/dukex/flowpoint/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReasonCancelled = "execution cancelled"
	ReasonTimedOut  = "execution timed out"
)

// Handlers builds node handlers; *registry.Registry satisfies it.
type Handlers interface {
	Condition(node models.Node) (protocol.Condition, error)
	Action(node models.Node) (protocol.Action, error)
}

// Recorder persists the progress of a run; persistence.ExecutionLog satisfies it.
type Recorder interface {
	Update(ctx context.Context, record *models.ExecutionRecord) error
}

// Run is one execution handed to the engine by the dispatcher.
type Run struct {
	// Record is the running execution record. The engine owns it for the
	// duration of Execute.
	Record     *models.ExecutionRecord
	Definition *models.WorkflowDefinition
	Context    *models.ExecutionContext

	// Cancelled is closed to cancel the run. It is observed between node
	// evaluations and between retry attempts, never in the middle of an action.
	Cancelled <-chan struct{}
}

type Engine struct {
	handlers  Handlers
	recorder  Recorder
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	config    Config
}

type Option func(*Engine)

// WithPublisher publishes lifecycle events for every run and step.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func New(handlers Handlers, recorder Recorder, config Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		handlers: handlers,
		recorder: recorder,
		tracer:   otel.Tracer("flowpoint/engine"),
		logger:   logger.With("module", "engine"),
		config:   config.withDefaults(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// IdempotencyToken is the token handed to the action of a node. It is stable
// across retries and redeliveries of the same run.
func IdempotencyToken(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// Execute walks the graph breadth-first from the run's entry nodes and returns
// the terminal record. A deadline on ctx is the whole-run timeout.
func (e *Engine) Execute(ctx context.Context, run Run) *models.ExecutionRecord {
	rec := run.Record
	ectx := run.Context
	ectx.ExecutionID = rec.ID

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.TenantIDKey, rec.TenantID),
		attribute.String(otelhelper.WorkflowIDKey, rec.WorkflowID),
		attribute.Int(otelhelper.WorkflowVersionKey, rec.WorkflowVersion),
		attribute.String(otelhelper.ExecutionIDKey, rec.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(rec.TriggerType)),
		attribute.Bool(otelhelper.TestModeKey, rec.TestMode),
	)
	defer span.End()

	logger := e.logger.With(
		"execution_id", rec.ID,
		"tenant_id", rec.TenantID,
		"workflow_id", rec.WorkflowID,
		"workflow_version", rec.WorkflowVersion,
	)

	walkCtx, stop := context.WithCancel(ctx)
	defer stop()

	if run.Cancelled != nil {
		go func() {
			select {
			case <-run.Cancelled:
				stop()
			case <-walkCtx.Done():
			}
		}()
	}

	logger.InfoContext(ctx, "Execution started", "entry_nodes", rec.EntryNodeIDs, "test_mode", rec.TestMode)
	e.publish(ctx, logger, rec.ID, events.NewExecutionStarted(rec))

	w := &walk{
		engine:  e,
		logger:  logger,
		ix:      graph.NewIndex(run.Definition),
		record:  rec,
		ectx:    ectx,
		visited: make(map[string]bool),
	}

	for _, id := range rec.EntryNodeIDs {
		w.visited[id] = true
	}

	for _, id := range rec.EntryNodeIDs {
		w.enqueue(w.ix.Successors(id))
	}

	for len(w.queue) > 0 {
		if walkCtx.Err() != nil || closed(run.Cancelled) {
			rec.Error = abortReason(ctx)
			w.skipQueued(ctx)

			break
		}

		id := w.queue[0]
		w.queue = w.queue[1:]

		node, ok := w.ix.Node(id)
		if !ok {
			continue
		}

		var (
			step models.StepResult
			next []string
		)

		switch node.Kind {
		case models.NodeKindCondition:
			step, next = w.evaluateCondition(ctx, node)
		case models.NodeKindAction:
			step, next = w.executeAction(ctx, walkCtx, node)
		default:
			// trigger nodes are entry points only
			continue
		}

		w.recordStep(ctx, step)
		w.ends.observe(step, next)
		w.enqueue(next)
	}

	if rec.Error == "" && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rec.Error = ReasonTimedOut
	}

	rec.Status = terminalStatus(rec.Error, w.ends)
	finished := time.Now().UTC()
	rec.FinishedAt = &finished

	e.persist(ctx, logger, rec)

	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(rec.Status)))

	if rec.Status != models.ExecutionStatusSucceeded {
		otelhelper.SetError(span, errors.New(failureMessage(rec)))
	}

	logger.InfoContext(ctx, "Execution finished",
		"status", rec.Status,
		"steps", len(rec.Steps),
		"error", rec.Error,
		"duration", finished.Sub(rec.StartedAt),
	)
	e.publish(ctx, logger, rec.ID, events.NewExecutionFinished(rec))

	return rec
}

// terminalStatus applies the status rule to the branch ends: a run-level
// abort fails the run, failed ends only are failed, failed ends mixed with
// succeeded ends are partially failed, and everything else succeeded.
func terminalStatus(runError string, ends branchEnds) models.ExecutionStatus {
	if runError != "" {
		return models.ExecutionStatusFailed
	}

	switch {
	case ends.failed > 0 && ends.succeeded > 0:
		return models.ExecutionStatusPartiallyFailed
	case ends.failed > 0:
		return models.ExecutionStatusFailed
	default:
		return models.ExecutionStatusSucceeded
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func abortReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimedOut
	}

	return ReasonCancelled
}

func failureMessage(rec *models.ExecutionRecord) string {
	if rec.Error != "" {
		return rec.Error
	}

	return "execution " + string(rec.Status)
}

// persist writes the record even when the run context is already done.
func (e *Engine) persist(ctx context.Context, logger *slog.Logger, rec *models.ExecutionRecord) {
	err := e.recorder.Update(context.WithoutCancel(ctx), rec.Clone())
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist execution record", "status", rec.Status, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(context.WithoutCancel(ctx), key, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
