// Package persistence provides the data storage abstraction for workflow
// definitions and the execution log.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Persistence groups the stores of one backend.
type Persistence interface {
	GraphStore() GraphStore
	ExecutionLog() ExecutionLog

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// GraphStore persists workflow definitions per tenant. It is pure data access:
// definitions are validated before Save is called.
type GraphStore interface {
	Load(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error)
	LoadActiveByTriggerType(ctx context.Context, tenantID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)

	// Save assigns an id to new definitions, stamps the timestamps and bumps
	// the version. It returns the stored definition.
	Save(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error)

	List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, tenantID, workflowID string) error

	// Tenants returns every tenant owning at least one definition.
	Tenants(ctx context.Context) ([]string, error)
}

// ExecutionLog is the append-only record of every run. Records are created in
// the running state and refuse updates once terminal.
type ExecutionLog interface {
	Create(ctx context.Context, record *models.ExecutionRecord) error
	Update(ctx context.Context, record *models.ExecutionRecord) error
	Get(ctx context.Context, executionID string) (*models.ExecutionRecord, error)
	GetByDedupKey(ctx context.Context, tenantID, workflowID, dedupKey string) (*models.ExecutionRecord, error)
	List(ctx context.Context, query ExecutionQuery) (*ExecutionPage, error)
}

// ExecutionQuery filters the execution log of one tenant.
type ExecutionQuery struct {
	TenantID   string                 `query:"-"`
	WorkflowID string                 `query:"workflow_id"`
	Status     models.ExecutionStatus `query:"status"      validate:"omitempty,oneof=running succeeded failed partially_failed"`
	NodeID     string                 `query:"node_id"`
	Limit      int                    `query:"limit"       validate:"omitempty,min=1,max=100"`
	Offset     int                    `query:"offset"      validate:"omitempty,min=0"`
}

// ExecutionPage is one page of records ordered by started_at descending.
type ExecutionPage struct {
	Records     []*models.ExecutionRecord `json:"records"`
	TotalCount  int64                     `json:"total_count"`
	HasNextPage bool                      `json:"has_next_page"`
}

// Normalize applies the default and maximum page size.
func (q ExecutionQuery) Normalize() ExecutionQuery {
	if q.Limit <= 0 || q.Limit > MaxPageSize {
		q.Limit = DefaultPageSize
	}

	if q.Offset < 0 {
		q.Offset = 0
	}

	return q
}

// Matches reports whether the record passes every filter of the query.
func (q ExecutionQuery) Matches(record *models.ExecutionRecord) bool {
	if record.TenantID != q.TenantID {
		return false
	}

	if q.WorkflowID != "" && record.WorkflowID != q.WorkflowID {
		return false
	}

	if q.Status != "" && record.Status != q.Status {
		return false
	}

	if q.NodeID != "" && !record.HasStep(q.NodeID) {
		return false
	}

	return true
}

// PrepareSave fills the storage-owned fields of def. existing is the stored
// version of the same definition, or nil when def is new.
func PrepareSave(def *models.WorkflowDefinition, existing *models.WorkflowDefinition, now time.Time) error {
	if def.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		def.ID = id.String()
	}

	if err := ValidateIdentifier(def.TenantID); err != nil {
		return err
	}

	if err := ValidateIdentifier(def.ID); err != nil {
		return err
	}

	if existing != nil {
		def.Version = existing.Version + 1
		def.CreatedAt = existing.CreatedAt
	} else {
		def.Version = 1
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	return nil
}

// ValidateIdentifier rejects ids that cannot be used as a path segment or key.
func ValidateIdentifier(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\*?[]`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}

	return nil
}
