package transport

// Capabilities describes what a transport backend guarantees. The service
// consults it at startup to warn when a failure policy cannot be honoured.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsOrdering: messages within a partition/stream are delivered in order.
	SupportsOrdering bool

	// SupportsPartitioning: publishers can pick a partition through a message key.
	SupportsPartitioning bool

	// SupportsPosition: consumed messages carry partition and offset metadata.
	SupportsPosition bool

	// SupportsAck: the broker only considers a message done after an explicit ack.
	SupportsAck bool

	// SupportsNack: a nacked message is delivered again.
	SupportsNack bool

	// SupportsNativeDLQ: the broker can dead-letter by itself. When false,
	// protoroute forwards dead letters to a topic.
	SupportsNativeDLQ bool

	// SupportsTracing: headers are propagated end to end.
	SupportsTracing bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// RequiresDLQEmulation reports whether dead letters must be forwarded by the application.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports at-least-once semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// CanHoldPartition reports whether a nacked message blocks later messages of
// the same partition until it succeeds. Only then can a halt policy stop a
// partition from advancing.
func (c Capabilities) CanHoldPartition() bool {
	return c.SupportsOrdering && c.SupportsNack
}

var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsPosition: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for Apache Kafka. The subscriber resends a nacked
	// message before reading further from its partition.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsPosition:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsTracing:      true,
		MaxMessageSize:       1048576,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsNativeDLQ: true,
		SupportsTracing:   true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	// NATSJetStreamCapabilities for NATS JetStream. Consumers keep one
	// message in flight, so a nak is redelivered before the next message.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsPosition: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		MaxMessageSize:   1048576,
	}

	// AWSCapabilities for AWS SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsNativeDLQ: true,
		SupportsTracing:   true,
		MaxMessageSize:    262144,
	}

	// HTTPCapabilities for the webhook transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsAck:     true,
		SupportsTracing: true,
	}
)

var (
	// PostgresCapabilities for the PostgreSQL queue. Topics are consumed
	// head first with the row id as offset.
	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsOrdering: true,
		SupportsPosition: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	// SQLiteCapabilities for the SQLite queue.
	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsOrdering: true,
		SupportsPosition: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}
)

// GetCapabilities returns the capabilities registered for transportName.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
