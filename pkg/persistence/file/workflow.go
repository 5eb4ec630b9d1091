package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
)

// WorkflowRepository stores definitions as <root>/<tenant>/workflows/<id>.json.
type WorkflowRepository struct {
	p *Persistence
}

func (wr *WorkflowRepository) path(tenantID, workflowID string) string {
	return filepath.Join(wr.p.tenantDir(tenantID, workflowsDir), workflowID+".json")
}

// Load retrieves a workflow of a tenant by its ID.
func (wr *WorkflowRepository) Load(_ context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	if persistence.ValidateIdentifier(tenantID) != nil || persistence.ValidateIdentifier(workflowID) != nil {
		return nil, persistence.NewWorkflowError("Load", tenantID, workflowID, persistence.ErrWorkflowNotFound)
	}

	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	return wr.load(tenantID, workflowID)
}

func (wr *WorkflowRepository) load(tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	err := readJSON(wr.path(tenantID, workflowID), &def)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("Load", tenantID, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	return &def, nil
}

// LoadActiveByTriggerType returns the active workflows of a tenant reacting to the trigger type.
func (wr *WorkflowRepository) LoadActiveByTriggerType(ctx context.Context, tenantID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	all, err := wr.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowDefinition, 0, len(all))

	for _, def := range all {
		if def.Status == models.WorkflowStatusActive && def.TriggerType == triggerType {
			active = append(active, def)
		}
	}

	return active, nil
}

// List returns every workflow of a tenant, newest first.
func (wr *WorkflowRepository) List(_ context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	if err := persistence.ValidateIdentifier(tenantID); err != nil {
		return nil, err
	}

	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	root := os.DirFS(wr.p.tenantDir(tenantID, workflowsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		def, err := wr.load(tenantID, strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, def)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// Save writes the workflow, assigning identity, timestamps and the next version.
func (wr *WorkflowRepository) Save(_ context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, errors.New("workflow definition is nil")
	}

	saved := def.Clone()

	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	var existing *models.WorkflowDefinition

	if saved.ID != "" && persistence.ValidateIdentifier(saved.TenantID) == nil && persistence.ValidateIdentifier(saved.ID) == nil {
		current, err := wr.load(saved.TenantID, saved.ID)
		if err != nil && !persistence.IsWorkflowNotFound(err) {
			return nil, err
		}

		existing = current
	}

	err := persistence.PrepareSave(saved, existing, time.Now().UTC())
	if err != nil {
		return nil, persistence.NewWorkflowError("Save", saved.TenantID, saved.ID, err)
	}

	err = writeJSON(wr.path(saved.TenantID, saved.ID), saved)
	if err != nil {
		return nil, persistence.NewWorkflowError("Save", saved.TenantID, saved.ID, err)
	}

	return saved, nil
}

// Delete removes a workflow of a tenant by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, tenantID, workflowID string) error {
	if persistence.ValidateIdentifier(tenantID) != nil || persistence.ValidateIdentifier(workflowID) != nil {
		return persistence.NewWorkflowError("Delete", tenantID, workflowID, persistence.ErrWorkflowNotFound)
	}

	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	err := os.Remove(wr.path(tenantID, workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewWorkflowError("Delete", tenantID, workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	return nil
}

// Tenants lists the tenant directories holding at least one workflow.
func (wr *WorkflowRepository) Tenants(_ context.Context) ([]string, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	matches, err := fs.Glob(os.DirFS(wr.p.root), "*/"+workflowsDir+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	seen := make(map[string]bool)
	tenants := make([]string, 0)

	for _, match := range matches {
		tenant, _, _ := strings.Cut(match, "/")
		if !seen[tenant] {
			seen[tenant] = true
			tenants = append(tenants, tenant)
		}
	}

	sort.Strings(tenants)

	return tenants, nil
}
