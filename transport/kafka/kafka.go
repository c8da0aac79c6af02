// Package kafka provides the Kafka transport for protoroute.
//
// Consumed messages carry their partition, offset and key as metadata (see
// transport.Position). Published messages are partitioned by the key set with
// transport.SetKey.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/protoroute/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

var errBrokersRequired = errors.New("kafka: at least one broker is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errBrokersRequired
	}
	clientID := cfg.GetKafkaClientID()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             NewMarshaler(),
			OverwriteSaramaConfig: SaramaPublisherConfig(clientID),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           PositionUnmarshaler{},
			ConsumerGroup:         cfg.GetConsumerGroup(),
			OverwriteSaramaConfig: SaramaSubscriberConfig(clientID),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// SaramaSubscriberConfig starts new consumer groups from the oldest offset so
// no event published before the first deployment is skipped.
func SaramaSubscriberConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	if clientID != "" {
		cfg.ClientID = clientID
	}
	return cfg
}

// SaramaPublisherConfig waits for all in-sync replicas before a publish succeeds.
func SaramaPublisherConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if clientID != "" {
		cfg.ClientID = clientID
	}
	return cfg
}

// NewMarshaler returns a marshaler that uses the transport key metadata as
// the Kafka message key.
func NewMarshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(keyFromMetadata)
}

func keyFromMetadata(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(transport.MetadataKeyKey), nil
}

// PositionUnmarshaler decorates an Unmarshaler with the partition, offset and
// key of the consumed record. A nil Unmarshaler uses kafka.DefaultMarshaler.
type PositionUnmarshaler struct {
	Unmarshaler kafka.Unmarshaler
}

func (u PositionUnmarshaler) Unmarshal(record *sarama.ConsumerMessage) (*message.Message, error) {
	inner := u.Unmarshaler
	if inner == nil {
		inner = kafka.DefaultMarshaler{}
	}

	msg, err := inner.Unmarshal(record)
	if err != nil {
		return nil, err
	}
	transport.SetPosition(msg, record.Partition, record.Offset, record.Key)
	return msg, nil
}
