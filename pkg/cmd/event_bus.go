package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpoint/pkg/channels/gochannel"
	"github.com/dukex/flowpoint/pkg/channels/kafka"
	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/events"
	"github.com/google/uuid"
)

// EventBusConfig selects and configures the event bus transport.
type EventBusConfig struct {
	Provider    string // gochannel or kafka
	Brokers     string // comma separated, kafka only
	ServiceName string
	OtelEnabled bool

	// InstanceID names the consumer group of the control topic; every process
	// needs its own. Generated when empty.
	InstanceID string
}

func NewEventBus(config EventBusConfig, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch config.Provider {
	case "kafka":
		brokers := kafka.ParseBrokers(config.Brokers)

		pub, sub, err := kafka.CreateChannel(adapter, brokers, config.ServiceName, config.OtelEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		instanceID := config.InstanceID
		if instanceID == "" {
			instanceID = uuid.NewString()[:8]
		}

		control, err := kafka.CreateBroadcastSubscriber(adapter, brokers, config.ServiceName, instanceID, config.OtelEnabled)
		if err != nil {
			_ = pub.Close()
			_ = sub.Close()

			return nil, fmt.Errorf("failed to create Kafka control subscriber: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger,
			eventbus.WithTopicSubscriber(events.ControlTopic, control),
		), nil
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", config.Provider)
	}
}
