// Package kafka provides the Kafka transport for the event bus.
package kafka

import (
	"errors"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

const keyMetadata = "key"

var ErrNoBrokers = errors.New("no kafka brokers configured")

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(list string) []string {
	var brokers []string

	for broker := range strings.SplitSeq(list, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

// CreateChannel connects a publisher and a subscriber in the consumer group of
// the service. Inbound events are partitioned by the publish key.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, serviceName string, otelEnabled bool) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriber, err := newSubscriber(logger, brokers, "cg-"+serviceName, sarama.OffsetOldest, otelEnabled)
	if err != nil {
		return nil, nil, err
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true
	saramaPublisherConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(partitionKey),
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           otelEnabled,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}

// CreateBroadcastSubscriber subscribes in a consumer group of its own, so the
// instance sees every message of its topics. It starts at the newest offset.
func CreateBroadcastSubscriber(logger watermill.LoggerAdapter, brokers []string, serviceName, instanceID string, otelEnabled bool) (*kafka.Subscriber, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	return newSubscriber(logger, brokers, "cg-"+serviceName+"-"+instanceID, sarama.OffsetNewest, otelEnabled)
}

func newSubscriber(logger watermill.LoggerAdapter, brokers []string, group string, initialOffset int64, otelEnabled bool) (*kafka.Subscriber, error) {
	saramaSubscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaSubscriberConfig.Consumer.Offsets.Initial = initialOffset

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaSubscriberConfig,
			ConsumerGroup:         group,
			OTELEnabled:           otelEnabled,
		},
		logger,
	)
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(keyMetadata), nil
}
