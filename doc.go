// Package protoroute consumes protobuf events from topic-partitioned
// transports and routes every message to the handler bound to its topic.
//
// A Binding pairs a topic with a Schema (how payload bytes decode into a
// typed Value) and a Handler (what to do with the decoded event). Bindings
// are registered on a Service, which subscribes to every bound topic through
// a Watermill router, decodes each message, and dispatches it. The outcome of
// a dispatch decides what happens to the partition:
//
//   - ack: the handler succeeded or returned ErrSkip
//   - retry: the handler failed; the message is retried with backoff
//   - dead letter: the payload did not decode, or the topic is unroutable
//     under the dead_letter policy
//   - halt: the message is nacked after HaltBackoff and the partition is held
//     until an operator intervenes
//
// Dead letters carry their consumed position in the original_topic,
// original_partition, original_offset and original_key metadata keys.
//
// A minimal consumer fills Config (or calls LoadConfig), creates a Service,
// registers its bindings with RegisterRoute, and calls Start. Bindings can be
// replaced at runtime with Reload.
//
// # Transports
//
// Transports register themselves with the transport registry on import:
//   - channel: in-memory Go channels with ordered, blocking publishes
//   - kafka: partitioned topics with consumer groups
//   - rabbitmq: AMQP durable queues
//   - aws: SNS/SQS, LocalStack compatible
//   - nats: NATS core
//   - nats-jetstream: durable JetStream consumers, one message in flight
//   - postgres, sqlite: table-backed queues consumed in row order
//   - http: webhook style delivery
//
// Import github.com/drblury/protoroute/transport/transports to register all
// of them.
//
// # Middleware
//
// The default chain adds correlation IDs, message logging, Prometheus
// metrics, dead-letter forwarding, retries, and panic recovery. Custom
// middleware is appended after it.
package protoroute
