package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/graph"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
)

// DefinitionValidator checks nodes against their handlers; *registry.Registry satisfies it.
type DefinitionValidator interface {
	Validate(def *models.WorkflowDefinition) []graph.Issue
}

// WorkflowCanceller cancels in-flight runs; *dispatcher.Dispatcher satisfies it.
type WorkflowCanceller interface {
	CancelWorkflow(ctx context.Context, tenantID, workflowID string) int
}

type Workflow struct {
	persistence persistence.Persistence
	validator   DefinitionValidator
	canceller   WorkflowCanceller
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

type WorkflowOption func(*Workflow)

// WithLifecyclePublisher announces pauses and deletions on the bus so that
// dispatchers in other processes cancel their runs too.
func WithLifecyclePublisher(publisher eventbus.EventPublisher) WorkflowOption {
	return func(w *Workflow) {
		w.publisher = publisher
	}
}

// NewWorkflow creates a new workflow service. canceller may be nil when no
// dispatcher runs in the process.
func NewWorkflow(
	persistence persistence.Persistence,
	validator DefinitionValidator,
	canceller WorkflowCanceller,
	logger *slog.Logger,
	opts ...WorkflowOption,
) *Workflow {
	w := &Workflow{
		persistence: persistence,
		validator:   validator,
		canceller:   canceller,
		logger:      logger.With("module", "workflow_service"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Validate reports every structural and handler problem of def at once.
func (w *Workflow) Validate(def *models.WorkflowDefinition) error {
	if def == nil {
		return ErrWorkflowNil
	}

	issues := graph.Validate(def)
	if w.validator != nil {
		issues = append(issues, w.validator.Validate(def)...)
	}

	return graph.NewValidationError(issues)
}

// Create stores a new definition for the tenant. New definitions start as
// drafts unless a status is given.
func (w *Workflow) Create(ctx context.Context, tenantID string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, ErrWorkflowNil
	}

	def = def.Clone()
	def.ID = ""
	def.TenantID = tenantID

	if def.Status == "" {
		def.Status = models.WorkflowStatusDraft
	}

	return w.save(ctx, "create", def)
}

// Update replaces the stored definition; the version is bumped by the store.
func (w *Workflow) Update(ctx context.Context, tenantID, workflowID string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.Get(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	def = def.Clone()
	def.ID = workflowID
	def.TenantID = tenantID

	if def.Status == "" {
		def.Status = existing.Status
	}

	saved, err := w.save(ctx, "update", def)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusActive && saved.Status != models.WorkflowStatusActive {
		w.cancel(ctx, tenantID, workflowID)
	}

	return saved, nil
}

func (w *Workflow) save(ctx context.Context, op string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if !def.Status.Valid() {
		return nil, NewValidationError(op, "invalid_status", fmt.Sprintf("unknown status %q", def.Status), ErrInvalidStatus)
	}

	if err := w.Validate(def); err != nil {
		return nil, err
	}

	saved, err := w.persistence.GraphStore().Save(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow saved",
		"tenant_id", saved.TenantID,
		"workflow_id", saved.ID,
		"version", saved.Version,
		"status", saved.Status,
	)

	return saved, nil
}

// Get loads one definition of the tenant.
func (w *Workflow) Get(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	return w.persistence.GraphStore().Load(ctx, tenantID, workflowID)
}

// List returns every definition of the tenant, newest first.
func (w *Workflow) List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	defs, err := w.persistence.GraphStore().List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return defs, nil
}

// Activate makes the definition visible to the event matcher.
func (w *Workflow) Activate(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	return w.setStatus(ctx, tenantID, workflowID, models.WorkflowStatusActive)
}

// Pause hides the definition from the event matcher and cancels its in-flight runs.
func (w *Workflow) Pause(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	def, err := w.setStatus(ctx, tenantID, workflowID, models.WorkflowStatusPaused)
	if err != nil {
		return nil, err
	}

	w.cancel(ctx, tenantID, workflowID)
	w.announce(ctx, tenantID, events.NewWorkflowPaused(tenantID, workflowID))

	return def, nil
}

func (w *Workflow) setStatus(ctx context.Context, tenantID, workflowID string, status models.WorkflowStatus) (*models.WorkflowDefinition, error) {
	def, err := w.Get(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if def.Status == status {
		return def, nil
	}

	def.Status = status

	return w.save(ctx, "set_status", def)
}

// Delete removes the definition and cancels its in-flight runs. Execution
// records of the workflow are kept.
func (w *Workflow) Delete(ctx context.Context, tenantID, workflowID string) error {
	err := w.persistence.GraphStore().Delete(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}

	w.cancel(ctx, tenantID, workflowID)
	w.announce(ctx, tenantID, events.NewWorkflowDeleted(tenantID, workflowID))

	w.logger.InfoContext(ctx, "Workflow deleted", "tenant_id", tenantID, "workflow_id", workflowID)

	return nil
}

func (w *Workflow) cancel(ctx context.Context, tenantID, workflowID string) {
	if w.canceller == nil {
		return
	}

	w.canceller.CancelWorkflow(ctx, tenantID, workflowID)
}

// announce is best effort: the change is already stored and runs elsewhere
// still stop at their run timeout.
func (w *Workflow) announce(ctx context.Context, tenantID string, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.Publish(ctx, tenantID, event)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to announce workflow change", "event_type", event.GetType(), "error", err)
	}
}
