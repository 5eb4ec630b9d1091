package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const executionColumns = `
	id
  , tenant_id
  , workflow_id
  , workflow_version
  , dedup_key
  , trigger_type
  , entry_node_ids
  , test_mode
  , status
  , error_message
  , steps
  , started_at
  , finished_at
`

// ExecutionRepository handles execution-log database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new record; the dedup index enforces one record per
// tenant, workflow and dedup key.
func (r *ExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	if record == nil {
		return errors.New("execution record is nil")
	}

	entryNodes, steps, err := marshalRecordJSON(record)
	if err != nil {
		return persistence.NewExecutionError("Create", record.ID, err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.TenantID, record.WorkflowID, record.WorkflowVersion, record.DedupKey,
		record.TriggerType, entryNodes, record.TestMode, record.Status, nullString(record.Error),
		steps, record.StartedAt, record.FinishedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("Create", record.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", record.ID, err)
	}

	return nil
}

// Update replaces a running record. Terminal records are immutable.
func (r *ExecutionRepository) Update(ctx context.Context, record *models.ExecutionRecord) error {
	if record == nil {
		return errors.New("execution record is nil")
	}

	entryNodes, steps, err := marshalRecordJSON(record)
	if err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	query := `
		UPDATE executions SET
			entry_node_ids = $2
		  , status = $3
		  , error_message = $4
		  , steps = $5
		  , finished_at = $6
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, entryNodes, record.Status, nullString(record.Error), steps, record.FinishedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	if affected > 0 {
		return nil
	}

	var status string

	err = r.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, record.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewExecutionError("Update", record.ID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return persistence.NewExecutionError("Update", record.ID, err)
	}

	return persistence.NewExecutionError("Update", record.ID, persistence.ErrRecordTerminal)
}

// Get returns a record by its ID.
func (r *ExecutionRepository) Get(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, executionID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Get", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return record, nil
}

// GetByDedupKey returns the record claimed by the idempotency key.
func (r *ExecutionRepository) GetByDedupKey(ctx context.Context, tenantID, workflowID, dedupKey string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE tenant_id = $1 AND workflow_id = $2 AND dedup_key = $3`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, tenantID, workflowID, dedupKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			key := models.IdempotencyKey(tenantID, workflowID, dedupKey)

			return nil, persistence.NewExecutionError("GetByDedupKey", key, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return record, nil
}

// List returns one page of the tenant's records, newest first.
func (r *ExecutionRepository) List(ctx context.Context, query persistence.ExecutionQuery) (*persistence.ExecutionPage, error) {
	query = query.Normalize()

	conditions := []string{"tenant_id = $1"}
	args := []any{query.TenantID}

	if query.WorkflowID != "" {
		args = append(args, query.WorkflowID)
		conditions = append(conditions, "workflow_id = $"+strconv.Itoa(len(args)))
	}

	if query.Status != "" {
		args = append(args, query.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}

	if query.NodeID != "" {
		filter, err := json.Marshal([]map[string]string{{"node_id": query.NodeID}})
		if err != nil {
			return nil, fmt.Errorf("failed to build node filter: %w", err)
		}

		args = append(args, string(filter))
		conditions = append(conditions, "steps @> $"+strconv.Itoa(len(args))+"::jsonb")
	}

	where := strings.Join(conditions, " AND ")

	var totalCount int64

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE `+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	pageArgs := append(args, query.Limit, query.Offset)
	pageQuery := `SELECT ` + executionColumns + ` FROM executions WHERE ` + where +
		` ORDER BY started_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)

	rows, err := r.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.ExecutionRecord, 0, query.Limit)

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return &persistence.ExecutionPage{
		Records:     records,
		TotalCount:  totalCount,
		HasNextPage: int64(query.Offset+query.Limit) < totalCount,
	}, nil
}

func scanRecord(row rowScanner) (*models.ExecutionRecord, error) {
	var (
		record     models.ExecutionRecord
		entryNodes []byte
		steps      []byte
		errMessage sql.NullString
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&record.ID, &record.TenantID, &record.WorkflowID, &record.WorkflowVersion, &record.DedupKey,
		&record.TriggerType, &entryNodes, &record.TestMode, &record.Status, &errMessage,
		&steps, &record.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(entryNodes, &record.EntryNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry nodes: %w", err)
	}

	if err := json.Unmarshal(steps, &record.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	record.Error = errMessage.String

	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		record.FinishedAt = &t
	}

	record.StartedAt = record.StartedAt.UTC()

	return &record, nil
}

func marshalRecordJSON(record *models.ExecutionRecord) (string, string, error) {
	entryNodes := record.EntryNodeIDs
	if entryNodes == nil {
		entryNodes = []string{}
	}

	steps := record.Steps
	if steps == nil {
		steps = []models.StepResult{}
	}

	entryJSON, err := json.Marshal(entryNodes)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal entry nodes: %w", err)
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal steps: %w", err)
	}

	return string(entryJSON), string(stepsJSON), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
