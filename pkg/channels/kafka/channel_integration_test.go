package kafka_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	channel "github.com/dukex/flowpoint/pkg/channels/kafka"
	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

func startBroker(t *testing.T) []string {
	t.Helper()

	if testing.Short() {
		t.Skip("kafka broker test skipped in short mode")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("flowpoint-test"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	return brokers
}

func TestWatermillEventBus_KafkaRoundTrip(t *testing.T) {
	brokers := startBroker(t)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := channel.CreateChannel(watermill.NewSlogLogger(logger), brokers, "flowpoint-test", false)
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.EventReceived, 1)

	require.NoError(t, bus.Handle(events.EventReceivedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EventReceived)

		return nil
	}))

	incoming := models.IncomingEvent{
		TenantID:    "acme",
		TriggerType: models.TriggerTypeEvent,
		DedupKey:    "evt-1",
		Payload:     map[string]any{"event_name": "attendance.recorded", "rate": 0.6},
	}

	// publishing first creates the topic; the subscriber starts from the oldest offset
	require.NoError(t, bus.Publish(t.Context(), "acme", events.NewEventReceived(incoming)))

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	select {
	case event := <-received:
		assert.Equal(t, "acme", event.Event.TenantID)
		assert.Equal(t, "evt-1", event.Event.DedupKey)
		assert.Equal(t, "attendance.recorded", event.Event.Payload["event_name"])
		assert.InDelta(t, 0.6, event.Event.Payload["rate"], 0.0001)
	case <-time.After(60 * time.Second):
		t.Fatal("event was not delivered through kafka")
	}
}
