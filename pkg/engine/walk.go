package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/otelhelper"
	"github.com/dukex/flowpoint/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// walk is the single-threaded state of one run.
type walk struct {
	engine *Engine
	logger *slog.Logger
	ix     *graph.Index
	record *models.ExecutionRecord
	ectx   *models.ExecutionContext

	queue   []string
	visited map[string]bool
	ends    branchEnds
}

// branchEnds counts where the walk stopped following a path. A failed step
// ends its branch; a succeeded step ends it when it has nowhere to go.
type branchEnds struct {
	failed    int
	succeeded int
}

// observe counts step as a branch end given the successors it selected.
// Successors already visited through another path still continue a branch.
func (b *branchEnds) observe(step models.StepResult, next []string) {
	switch {
	case step.Status == models.StepStatusFailed:
		b.failed++
	case step.Status == models.StepStatusSucceeded && len(next) == 0:
		b.succeeded++
	}
}

// enqueue adds nodes not seen before. Marking at enqueue time keeps diamonds
// and malformed graphs from evaluating a node twice.
func (w *walk) enqueue(ids []string) {
	for _, id := range ids {
		if w.visited[id] {
			continue
		}

		w.visited[id] = true
		w.queue = append(w.queue, id)
	}
}

func newStep(node models.Node) models.StepResult {
	return models.StepResult{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Type:      node.HandlerType(),
		StartedAt: time.Now().UTC(),
	}
}

func finish(step models.StepResult) models.StepResult {
	step.Duration = time.Since(step.StartedAt)

	return step
}

func fail(step models.StepResult, err error) models.StepResult {
	step.Status = models.StepStatusFailed
	step.Error = &models.StepError{Kind: protocol.Classify(err), Message: err.Error()}

	return finish(step)
}

// nolint:spancheck // the span is ended by the caller
func (w *walk) startSpan(ctx context.Context, node models.Node) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, w.engine.tracer, "engine."+string(node.Kind),
		attribute.String(otelhelper.ExecutionIDKey, w.record.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
		attribute.String(otelhelper.NodeTypeKey, node.HandlerType()),
	)
}

func endSpan(span trace.Span, step models.StepResult) {
	span.SetAttributes(
		attribute.String(otelhelper.StepStatusKey, string(step.Status)),
		attribute.Int(otelhelper.StepAttemptsKey, step.Attempts),
	)

	if step.Error != nil {
		otelhelper.SetError(span, errors.New(step.Error.Message),
			attribute.String(otelhelper.NodeIDKey, step.NodeID),
			attribute.String("error.kind", string(step.Error.Kind)),
		)
	}

	span.End()
}

// configError keeps an already classified build error as it is.
func configError(err error) error {
	var nodeErr *protocol.NodeError
	if errors.As(err, &nodeErr) {
		return err
	}

	return protocol.ConfigError(err)
}

// evaluateCondition runs a pure condition once and follows only the edges
// labelled with its outcome.
func (w *walk) evaluateCondition(ctx context.Context, node models.Node) (models.StepResult, []string) {
	_, span := w.startSpan(ctx, node)

	step := newStep(node)
	step.Attempts = 1

	outcome := models.BranchFalse

	condition, err := w.engine.handlers.Condition(node)
	if err != nil {
		// fail closed: the config error stays on the step and the false edges are followed
		err = configError(err)
		step.Error = &models.StepError{Kind: protocol.Classify(err), Message: err.Error()}

		w.logger.WarnContext(ctx, "Condition not built, taking the false branch", "node_id", node.ID, "error", err)
	} else {
		outcome = condition.Evaluate(w.ectx)
	}

	step.Status = models.StepStatusSucceeded
	step.Outcome = outcome
	step = finish(step)

	w.setVariable(ctx, node.ID, map[string]any{"outcome": outcome})
	endSpan(span, step)

	return step, w.ix.SuccessorsByLabel(node.ID, outcome)
}

// executeAction runs an action, retrying transient errors, and follows every
// outgoing edge on success. Test runs call Simulate instead.
func (w *walk) executeAction(ctx, walkCtx context.Context, node models.Node) (models.StepResult, []string) {
	ctx, span := w.startSpan(ctx, node)

	step := newStep(node)

	action, err := w.engine.handlers.Action(node)
	if err != nil {
		step.Attempts = 1
		step = fail(step, configError(err))
		endSpan(span, step)

		return step, nil
	}

	req := protocol.ActionRequest{
		NodeID:           node.ID,
		IdempotencyToken: IdempotencyToken(w.record.ID, node.ID),
		Context:          w.ectx,
	}

	var output map[string]any

	if w.record.TestMode {
		stepCtx, cancel := context.WithTimeout(ctx, w.engine.config.StepTimeout)
		output, err = action.Simulate(stepCtx, req)
		cancel()

		step.Attempts = 1
		step.Simulated = true
	} else {
		output, step.Attempts, err = w.executeWithRetry(ctx, walkCtx, action, req)
	}

	if err != nil {
		step = fail(step, err)
		endSpan(span, step)

		w.logger.WarnContext(ctx, "Action failed",
			"node_id", node.ID,
			"type", step.Type,
			"attempts", step.Attempts,
			"error_kind", step.Error.Kind,
			"error", err,
		)

		return step, nil
	}

	if output == nil {
		output = map[string]any{}
	}

	step.Status = models.StepStatusSucceeded
	step.Output = output
	step = finish(step)

	w.setVariable(ctx, node.ID, output)
	endSpan(span, step)

	return step, w.ix.Successors(node.ID)
}

// executeWithRetry bounds each attempt by the step timeout. Backoff waits are
// interrupted by cancellation; the attempt in flight is abandoned only when
// its step deadline passes.
func (w *walk) executeWithRetry(
	ctx, walkCtx context.Context,
	action protocol.Action,
	req protocol.ActionRequest,
) (map[string]any, int, error) {
	var (
		output   map[string]any
		attempts int
		lastErr  error
	)

	operation := func() error {
		attempts++

		stepCtx, cancel := context.WithTimeout(ctx, w.engine.config.StepTimeout)
		defer cancel()

		result, err := attempt(stepCtx, action, req)
		if err == nil {
			output = result
			lastErr = nil

			return nil
		}

		lastErr = err

		if protocol.Classify(err) != models.ErrorKindTransient || ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		w.logger.WarnContext(ctx, "Retrying action after transient error",
			"node_id", req.NodeID,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(w.engine.config.retryPolicy(), walkCtx), notify)
	if err != nil && lastErr != nil {
		err = lastErr
	}

	return output, attempts, err
}

type attemptResult struct {
	output map[string]any
	err    error
}

// attempt runs one Execute call and gives up on it when ctx is done, so an
// action that ignores its context still cannot hold the run past the step
// deadline. The abandoned call finishes in the background.
func attempt(ctx context.Context, action protocol.Action, req protocol.ActionRequest) (map[string]any, error) {
	done := make(chan attemptResult, 1)

	if req.Context != nil {
		req.Context = req.Context.Snapshot()
	}

	go func() {
		output, err := action.Execute(ctx, req)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case result := <-done:
		return result.output, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *walk) setVariable(ctx context.Context, key string, value any) {
	err := w.ectx.SetVariable(key, value)
	if err != nil {
		w.logger.WarnContext(ctx, "Variable not written", "node_id", key, "error", err)
	}
}

// recordStep appends the step, persists the record and announces the step.
func (w *walk) recordStep(ctx context.Context, step models.StepResult) {
	w.record.Steps = append(w.record.Steps, step)

	w.logger.DebugContext(ctx, "Step finished",
		"node_id", step.NodeID,
		"kind", step.Kind,
		"type", step.Type,
		"status", step.Status,
		"outcome", step.Outcome,
		"duration", step.Duration,
	)

	w.engine.persist(ctx, w.logger, w.record)
	w.engine.publish(ctx, w.logger, w.record.ID, events.NewStepFinished(w.record, step))
}

// skipQueued records every node still waiting in the queue as skipped.
func (w *walk) skipQueued(ctx context.Context) {
	now := time.Now().UTC()

	for _, id := range w.queue {
		node, ok := w.ix.Node(id)
		if !ok || node.IsTrigger() {
			continue
		}

		step := newStep(node)
		step.StartedAt = now
		step.Status = models.StepStatusSkipped
		w.record.Steps = append(w.record.Steps, step)

		w.engine.publish(ctx, w.logger, w.record.ID, events.NewStepFinished(w.record, step))
	}

	w.queue = nil
}
