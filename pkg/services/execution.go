package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EventMatcher finds the runs an event starts; *matcher.Matcher satisfies it.
type EventMatcher interface {
	Match(ctx context.Context, event models.IncomingEvent) ([]matcher.Match, error)
}

// Dispatcher runs matched events; *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, match matcher.Match, event models.IncomingEvent) (string, error)
	Enqueue(ctx context.Context, tenantID, workflowID string, event models.IncomingEvent) (string, error)
	Cancel(ctx context.Context, executionID string) error
	Wait(ctx context.Context, executionID string) (*models.ExecutionRecord, error)
}

type Execution struct {
	log        persistence.ExecutionLog
	matcher    EventMatcher
	dispatcher Dispatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewExecution(log persistence.ExecutionLog, m EventMatcher, d Dispatcher, logger *slog.Logger) *Execution {
	return &Execution{
		log:        log,
		matcher:    m,
		dispatcher: d,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With("module", "execution_service"),
	}
}

// AcceptResult lists the executions started (or found, for duplicates) by an event.
type AcceptResult struct {
	ExecutionIDs []string `json:"execution_ids"`
}

// AcceptEvent matches the event against the tenant's active workflows and
// dispatches one run per matching workflow. Dispatch failures of single
// workflows are joined into the returned error alongside the ids that did start.
func (s *Execution) AcceptEvent(ctx context.Context, event models.IncomingEvent) (*AcceptResult, error) {
	if err := s.validate.Struct(event); err != nil {
		return nil, NewValidationError("accept_event", "invalid_event", err.Error(), ErrInvalidRequest)
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	matches, err := s.matcher.Match(ctx, event)
	if err != nil {
		return nil, err
	}

	result := &AcceptResult{ExecutionIDs: make([]string, 0, len(matches))}

	var errs []error

	for _, match := range matches {
		id, err := s.dispatcher.Dispatch(ctx, match, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", match.Definition.ID, err))

			continue
		}

		result.ExecutionIDs = append(result.ExecutionIDs, id)
	}

	s.logger.InfoContext(ctx, "Event accepted",
		"tenant_id", event.TenantID,
		"trigger_type", event.TriggerType,
		"dedup_key", event.DedupKey,
		"matches", len(matches),
		"executions", len(result.ExecutionIDs),
	)

	return result, errors.Join(errs...)
}

// TestRequest describes a manual test run.
type TestRequest struct {
	Payload map[string]any `json:"payload"`

	// DedupKey makes repeated clicks return the same run; a fresh key is used when empty.
	DedupKey string `json:"dedup_key"`
}

// RunTest runs the workflow in test mode whatever its status and waits for
// the result. Actions are simulated.
func (s *Execution) RunTest(ctx context.Context, tenantID, workflowID string, req TestRequest) (*models.ExecutionRecord, error) {
	dedupKey := req.DedupKey
	if dedupKey == "" {
		dedupKey = "test-" + uuid.NewString()
	}

	event := models.IncomingEvent{
		TenantID:    tenantID,
		TriggerType: models.TriggerTypeManual,
		DedupKey:    dedupKey,
		Payload:     req.Payload,
		WorkflowID:  workflowID,
		OccurredAt:  time.Now().UTC(),
	}

	id, err := s.dispatcher.Enqueue(ctx, tenantID, workflowID, event)
	if err != nil {
		return nil, err
	}

	return s.dispatcher.Wait(ctx, id)
}

// Get returns an execution of the tenant. Executions of other tenants are
// reported as not found.
func (s *Execution) Get(ctx context.Context, tenantID, executionID string) (*models.ExecutionRecord, error) {
	record, err := s.log.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if record.TenantID != tenantID {
		return nil, persistence.NewExecutionError("get", executionID, persistence.ErrExecutionNotFound)
	}

	return record, nil
}

// List returns one page of the tenant's execution history.
func (s *Execution) List(ctx context.Context, query persistence.ExecutionQuery) (*persistence.ExecutionPage, error) {
	if err := s.validate.Struct(query); err != nil {
		return nil, NewValidationError("list_executions", "invalid_query", err.Error(), ErrInvalidRequest)
	}

	page, err := s.log.List(ctx, query.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return page, nil
}

// Cancel requests cancellation of a running execution of the tenant.
func (s *Execution) Cancel(ctx context.Context, tenantID, executionID string) error {
	record, err := s.Get(ctx, tenantID, executionID)
	if err != nil {
		return err
	}

	if record.Status.Terminal() {
		return &ServiceError{Op: "cancel", Code: "execution_finished", Message: "execution already " + string(record.Status), Err: ErrExecutionFinished}
	}

	return s.dispatcher.Cancel(ctx, executionID)
}
