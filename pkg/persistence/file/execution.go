package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
)

// ExecutionRepository stores records as <root>/<tenant>/executions/<id>.json.
type ExecutionRepository struct {
	p *Persistence
}

func (er *ExecutionRepository) path(tenantID, executionID string) string {
	return filepath.Join(er.p.tenantDir(tenantID, executionsDir), executionID+".json")
}

// Create stores a new record. At most one record exists per tenant, workflow
// and dedup key.
func (er *ExecutionRepository) Create(_ context.Context, record *models.ExecutionRecord) error {
	if record == nil {
		return errors.New("execution record is nil")
	}

	if err := validateRecordKeys(record); err != nil {
		return persistence.NewExecutionError("Create", record.ID, err)
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	if _, err := os.Stat(er.path(record.TenantID, record.ID)); err == nil {
		return persistence.NewExecutionError("Create", record.ID, persistence.ErrExecutionAlreadyExists)
	}

	existing, err := er.findByDedupKey(record.TenantID, record.WorkflowID, record.DedupKey)
	if err != nil && !persistence.IsExecutionNotFound(err) {
		return err
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", existing.ID, persistence.ErrExecutionAlreadyExists)
	}

	err = writeJSON(er.path(record.TenantID, record.ID), record)
	if err != nil {
		return persistence.NewExecutionError("Create", record.ID, err)
	}

	return nil
}

// Update replaces a running record. Terminal records are immutable.
func (er *ExecutionRepository) Update(_ context.Context, record *models.ExecutionRecord) error {
	if record == nil {
		return errors.New("execution record is nil")
	}

	if err := validateRecordKeys(record); err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	var current models.ExecutionRecord

	err := readJSON(er.path(record.TenantID, record.ID), &current)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewExecutionError("Update", record.ID, persistence.ErrExecutionNotFound)
		}

		return fmt.Errorf("failed to fetch execution %s: %w", record.ID, err)
	}

	if current.Status.Terminal() {
		return persistence.NewExecutionError("Update", record.ID, persistence.ErrRecordTerminal)
	}

	err = writeJSON(er.path(record.TenantID, record.ID), record)
	if err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	return nil
}

// Get reads a record by its ID, whichever tenant owns it.
func (er *ExecutionRepository) Get(_ context.Context, executionID string) (*models.ExecutionRecord, error) {
	if persistence.ValidateIdentifier(executionID) != nil {
		return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	matches, err := fs.Glob(os.DirFS(er.p.root), "*/"+executionsDir+"/"+executionID+".json")
	if err != nil {
		return nil, fmt.Errorf("failed to search execution %s: %w", executionID, err)
	}

	if len(matches) == 0 {
		return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
	}

	var record models.ExecutionRecord

	err = readJSON(filepath.Join(er.p.root, matches[0]), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	return &record, nil
}

// GetByDedupKey reads the record claimed by the idempotency key.
func (er *ExecutionRepository) GetByDedupKey(_ context.Context, tenantID, workflowID, dedupKey string) (*models.ExecutionRecord, error) {
	er.p.mu.RLock()
	defer er.p.mu.RUnlock()

	return er.findByDedupKey(tenantID, workflowID, dedupKey)
}

func (er *ExecutionRepository) findByDedupKey(tenantID, workflowID, dedupKey string) (*models.ExecutionRecord, error) {
	records, err := er.all(tenantID)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if record.WorkflowID == workflowID && record.DedupKey == dedupKey {
			return record, nil
		}
	}

	key := models.IdempotencyKey(tenantID, workflowID, dedupKey)

	return nil, persistence.NewExecutionError("GetByDedupKey", key, persistence.ErrExecutionNotFound)
}

// List returns one page of the tenant's records, newest first.
func (er *ExecutionRepository) List(_ context.Context, query persistence.ExecutionQuery) (*persistence.ExecutionPage, error) {
	if err := persistence.ValidateIdentifier(query.TenantID); err != nil {
		return nil, err
	}

	query = query.Normalize()

	er.p.mu.RLock()
	records, err := er.all(query.TenantID)
	er.p.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	filtered := make([]*models.ExecutionRecord, 0, len(records))

	for _, record := range records {
		if query.Matches(record) {
			filtered = append(filtered, record)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].StartedAt.Equal(filtered[j].StartedAt) {
			return filtered[i].ID > filtered[j].ID
		}

		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	totalCount := int64(len(filtered))

	start := min(query.Offset, len(filtered))
	end := min(start+query.Limit, len(filtered))

	return &persistence.ExecutionPage{
		Records:     filtered[start:end],
		TotalCount:  totalCount,
		HasNextPage: int64(query.Offset+query.Limit) < totalCount,
	}, nil
}

func (er *ExecutionRepository) all(tenantID string) ([]*models.ExecutionRecord, error) {
	dir := er.p.tenantDir(tenantID, executionsDir)

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	records := make([]*models.ExecutionRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		var record models.ExecutionRecord

		err := readJSON(filepath.Join(dir, file), &record)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("failed to load execution %s: %w", file, err)
		}

		records = append(records, &record)
	}

	return records, nil
}

func validateRecordKeys(record *models.ExecutionRecord) error {
	if err := persistence.ValidateIdentifier(record.TenantID); err != nil {
		return err
	}

	return persistence.ValidateIdentifier(record.ID)
}
