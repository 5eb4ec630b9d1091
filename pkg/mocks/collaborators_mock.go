package mocks

import (
	"context"

	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of protocol.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n protocol.Notification) (string, error) {
	args := m.Called(ctx, n)

	return args.String(0), args.Error(1)
}

// MockRecordCreator is a mock implementation of protocol.RecordCreator.
type MockRecordCreator struct {
	mock.Mock
}

func (m *MockRecordCreator) CreateRecord(ctx context.Context, req protocol.RecordRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}
