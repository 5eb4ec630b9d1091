package mocks

import (
	"context"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Graphs     *MockGraphStore
	Executions *MockExecutionLog
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Graphs:     &MockGraphStore{},
		Executions: &MockExecutionLog{},
	}
}

func (m *MockPersistence) GraphStore() persistence.GraphStore {
	return m.Graphs
}

func (m *MockPersistence) ExecutionLog() persistence.ExecutionLog {
	return m.Executions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockGraphStore is a mock implementation of persistence.GraphStore interface.
type MockGraphStore struct {
	mock.Mock
}

func (m *MockGraphStore) Load(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, tenantID, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockGraphStore) LoadActiveByTriggerType(
	ctx context.Context,
	tenantID string,
	triggerType models.TriggerType,
) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, tenantID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockGraphStore) Save(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, def)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockGraphStore) List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockGraphStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	args := m.Called(ctx, tenantID, workflowID)

	return args.Error(0)
}

func (m *MockGraphStore) Tenants(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// MockExecutionLog is a mock implementation of persistence.ExecutionLog interface.
type MockExecutionLog struct {
	mock.Mock
}

func (m *MockExecutionLog) Create(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionLog) Update(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionLog) Get(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionLog) GetByDedupKey(
	ctx context.Context,
	tenantID, workflowID, dedupKey string,
) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, tenantID, workflowID, dedupKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionLog) List(ctx context.Context, query persistence.ExecutionQuery) (*persistence.ExecutionPage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.ExecutionPage), args.Error(1)
}
