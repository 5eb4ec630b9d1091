package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence/file"
	"github.com/dukex/flowpoint/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"postgres://user:pass@db:5432/flowpoint":   "postgresql",
		"postgresql://user:pass@db:5432/flowpoint": "postgresql",
		"file:///var/lib/flowpoint":                "file",
		"./data":                                   "file",
		"mysql://db/flowpoint":                     "file",
	}

	for url, want := range tests {
		assert.Equal(t, want, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	root := t.TempDir()

	p, err := NewPersistence(t.Context(), slog.Default(), "file://"+root)
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(t.Context()))

	_, ok := p.(*file.Persistence)
	assert.True(t, ok)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(EventBusConfig{Provider: "gochannel"}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(EventBusConfig{Provider: "kafka"}, slog.Default())
	require.Error(t, err, "kafka needs brokers")

	_, err = NewEventBus(EventBusConfig{Provider: "carrier-pigeon"}, slog.Default())
	require.Error(t, err)
}

func TestNewDedupStore(t *testing.T) {
	store, err := NewDedupStore(t.Context(), slog.Default(), "", time.Hour)
	require.NoError(t, err)

	_, ok := store.(*dedup.MemoryStore)
	assert.True(t, ok)

	mr := miniredis.RunT(t)

	store, err = NewDedupStore(t.Context(), slog.Default(), "redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	_, claimed, err := store.Claim(t.Context(), "acme/wf/k", "exec-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = NewDedupStore(t.Context(), slog.Default(), "not a url", time.Hour)
	require.Error(t, err)
}

func TestNewRuntime_PublishesLifecycle(t *testing.T) {
	bus, err := NewEventBus(EventBusConfig{Provider: "gochannel"}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	finished := make(chan *events.ExecutionFinished, 1)
	notified := make(chan *events.NotificationRequested, 1)

	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionFinished)

		return nil
	}))
	require.NoError(t, bus.Handle(events.NotificationRequestedEvent, func(_ context.Context, event any) error {
		notified <- event.(*events.NotificationRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	rt := NewRuntime(file.NewPersistence(t.TempDir()), dedup.NewMemoryStore(), bus, RuntimeConfig{}, slog.Default())
	rt.Start(t.Context())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = rt.Shutdown(ctx)
	})

	def, err := rt.Workflows.Create(t.Context(), "acme", &models.WorkflowDefinition{
		Name:        "Low attendance alert",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerTypeEvent,
		Mode:        models.WorkflowModeSimple,
		Nodes: []models.Node{
			{ID: "t", Kind: models.NodeKindTrigger, Config: json.RawMessage(`{"type":"domain_event","event_name":"attendance.recorded"}`)},
			{ID: "n", Kind: models.NodeKindAction, Config: json.RawMessage(`{"type":"notify","channel":"email","recipients":["staff@acme.test"],"template":"{{.payload.student}} missed class"}`)},
		},
		Edges: []models.Edge{{ID: "e1", From: "t", To: "n"}},
	})
	require.NoError(t, err)

	result, err := rt.Executions.AcceptEvent(t.Context(), models.IncomingEvent{
		TenantID:    "acme",
		TriggerType: models.TriggerTypeEvent,
		DedupKey:    "att-7",
		Payload:     map[string]any{"event_name": "attendance.recorded", "student": "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, result.ExecutionIDs, 1)

	select {
	case event := <-notified:
		assert.Equal(t, "acme", event.Notification.TenantID)
		assert.Equal(t, "Ada missed class", event.Notification.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("notification not published")
	}

	select {
	case event := <-finished:
		assert.Equal(t, result.ExecutionIDs[0], event.ExecutionID)
		assert.Equal(t, def.ID, event.WorkflowID)
		assert.Equal(t, models.ExecutionStatusSucceeded, event.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("execution finished event not published")
	}
}

func TestNewRuntime_AttendanceScenario(t *testing.T) {
	bus, err := NewEventBus(EventBusConfig{Provider: "gochannel"}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	rt := NewRuntime(file.NewPersistence(t.TempDir()), dedup.NewMemoryStore(), bus, RuntimeConfig{}, slog.Default())
	rt.Start(t.Context())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = rt.Shutdown(ctx)
	})

	_, err = rt.Workflows.Create(t.Context(), "school", testutil.AttendanceWorkflow("school"))
	require.NoError(t, err)

	result, err := rt.Executions.AcceptEvent(t.Context(), models.IncomingEvent{
		TenantID:    "school",
		TriggerType: models.TriggerTypeEvent,
		DedupKey:    "att-42",
		Payload:     map[string]any{"event_name": "attendance.recorded", "student": "Grace", "rate": 0.65},
	})
	require.NoError(t, err)
	require.Len(t, result.ExecutionIDs, 1)

	record, err := rt.Dispatcher.Wait(t.Context(), result.ExecutionIDs[0])
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, record.Status)
	assert.True(t, record.HasStep("check"))
	assert.True(t, record.HasStep("notify"))
	assert.False(t, record.HasStep("log-only"))
}

func TestNewRuntime_AnnouncesPause(t *testing.T) {
	bus, err := NewEventBus(EventBusConfig{Provider: "gochannel"}, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	paused := make(chan *events.WorkflowPaused, 1)

	require.NoError(t, bus.Handle(events.WorkflowPausedEvent, func(_ context.Context, event any) error {
		paused <- event.(*events.WorkflowPaused)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	rt := NewRuntime(file.NewPersistence(t.TempDir()), dedup.NewMemoryStore(), bus, RuntimeConfig{}, slog.Default())

	def, err := rt.Workflows.Create(t.Context(), "school", testutil.AttendanceWorkflow("school"))
	require.NoError(t, err)

	_, err = rt.Workflows.Pause(t.Context(), "school", def.ID)
	require.NoError(t, err)

	select {
	case event := <-paused:
		assert.Equal(t, "school", event.TenantID)
		assert.Equal(t, def.ID, event.WorkflowID)
	case <-time.After(3 * time.Second):
		t.Fatal("pause not announced")
	}
}
