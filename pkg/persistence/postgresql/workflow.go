package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		return nil, err
	}

	var def models.WorkflowDefinition

	err = json.Unmarshal(document, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow document: %w", err)
	}

	return &def, nil
}

// Load returns a workflow of a tenant by its ID.
func (r *WorkflowRepository) Load(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, workflowID)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("Load", tenantID, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return def, nil
}

// LoadActiveByTriggerType returns the active workflows of a tenant reacting to the trigger type.
func (r *WorkflowRepository) LoadActiveByTriggerType(ctx context.Context, tenantID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT document
		FROM workflows
		WHERE tenant_id = $1 AND status = $2 AND trigger_type = $3
		ORDER BY created_at DESC
	`

	return r.query(ctx, query, tenantID, models.WorkflowStatusActive, triggerType)
}

// List returns every workflow of a tenant, newest first.
func (r *WorkflowRepository) List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	return r.query(ctx, `SELECT document FROM workflows WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// Save upserts a workflow, assigning identity, timestamps and the next version
// inside one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def == nil {
		return nil, errors.New("workflow definition is nil")
	}

	saved := def.Clone()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var existing *models.WorkflowDefinition

	if saved.ID != "" {
		row := tx.QueryRowContext(ctx, `SELECT document FROM workflows WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, saved.TenantID, saved.ID)

		existing, err = scanDefinition(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to lock workflow %s: %w", saved.ID, err)
		}
	}

	err = persistence.PrepareSave(saved, existing, time.Now().UTC())
	if err != nil {
		return nil, persistence.NewWorkflowError("Save", saved.TenantID, saved.ID, err)
	}

	document, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow %s: %w", saved.ID, err)
	}

	upsert := `
		INSERT INTO workflows (tenant_id, id, name, status, trigger_type, mode, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name
		  , status = EXCLUDED.status
		  , trigger_type = EXCLUDED.trigger_type
		  , mode = EXCLUDED.mode
		  , version = EXCLUDED.version
		  , document = EXCLUDED.document
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		saved.TenantID, saved.ID, saved.Name, saved.Status, saved.TriggerType, saved.Mode,
		saved.Version, string(document), saved.CreatedAt, saved.UpdatedAt,
	)
	if err != nil {
		return nil, persistence.NewWorkflowError("Save", saved.TenantID, saved.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return saved, nil
}

// Delete hard deletes a workflow of a tenant. Its execution records are kept.
func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, workflowID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE tenant_id = $1 AND id = $2`, tenantID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", workflowID, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", tenantID, workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// Tenants returns every tenant owning at least one workflow.
func (r *WorkflowRepository) Tenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM workflows ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tenants := make([]string, 0)

	for rows.Next() {
		var tenant string

		err := rows.Scan(&tenant)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}

		tenants = append(tenants, tenant)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}
