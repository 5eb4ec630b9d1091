package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowpoint/pkg/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var ErrAlreadySubscribed = errors.New("event bus already subscribed")

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topicSubs  map[string]message.Subscriber
	logger     *slog.Logger

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
	subscribed    bool
}

type Option func(*WatermillEventBus)

// WithTopicSubscriber consumes topic through sub instead of the shared
// subscriber, e.g. to give every process its own copy of broadcast topics.
func WithTopicSubscriber(topic string, sub message.Subscriber) Option {
	return func(eb *WatermillEventBus) {
		eb.topicSubs[topic] = sub
	}
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger, opts ...Option) *WatermillEventBus {
	eb := &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		topicSubs:     make(map[string]message.Subscriber),
		logger:        logger.With("module", "eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

func (eb *WatermillEventBus) subscriberFor(topic string) message.Subscriber {
	if sub, ok := eb.topicSubs[topic]; ok {
		return sub
	}

	return eb.subscriber
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends the event to the topic of its type. The key is carried as
// metadata and used by partitioned transports to keep related events ordered.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	err = eb.publisher.Publish(events.TopicFor(event.GetType()), msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.GetType(), err)
	}

	return nil
}

// Subscribe starts consuming every topic that carries a handled event type.
// Handlers must be registered before Subscribe is called.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	var topics []string

	for eventType := range eb.subscriptions {
		topic := events.TopicFor(eventType)
		if !slices.Contains(topics, topic) {
			topics = append(topics, topic)
		}
	}

	slices.Sort(topics)

	for _, topic := range topics {
		messages, err := eb.subscriberFor(topic).Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		go eb.consume(ctx, topic, messages)
	}

	eb.subscribed = true

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, exists := eb.subscriptions[eventType]
		eb.mu.RUnlock()

		if !exists {
			msg.Ack()

			continue
		}

		event := events.New(eventType)
		if event == nil {
			eb.logger.Error("Dropping message of unknown event type", "topic", topic, "event_type", eventType)
			msg.Ack()

			continue
		}

		err := json.Unmarshal(msg.Payload, event)
		if err != nil {
			eb.logger.Error("Dropping undecodable message", "topic", topic, "event_type", eventType, "error", err)
			msg.Ack()

			continue
		}

		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))

		err = handler(msgCtx, event)
		if err != nil {
			eb.logger.Warn("Handler failed, message will be redelivered",
				"topic", topic,
				"event_type", eventType,
				"message_id", msg.UUID,
				"error", err,
			)
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	if events.New(eventType) == nil {
		return fmt.Errorf("cannot handle unknown event type %q", eventType)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	errs := []error{eb.subscriber.Close()}

	for _, sub := range eb.topicSubs {
		if sub != eb.subscriber {
			errs = append(errs, sub.Close())
		}
	}

	return errors.Join(errs...)
}
