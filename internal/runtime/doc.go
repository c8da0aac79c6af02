/*
Package runtime hosts the topic-routed event consumer behind protoroute.

# Architecture Overview

A Service subscribes to every bound topic through a Watermill router. Each
message is turned into a routing.InboundMessage, decoded by the schema bound
to its topic, and handed to that topic's handler. The Dispatcher classifies
the result into an Outcome, and the middleware chain turns the outcome into
an ack, a retry, a dead-letter publish, or a nack that holds the partition.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill), one no-publisher handler per topic
  - Publisher and subscriber connections from the transport factory
  - Middleware chain
  - HTTP servers for /metrics and /routes
  - The routing.Router with its schema and handler registries

Bindings are registered before Start. Reload swaps them atomically while the
service runs.

## Dispatch (dispatch.go, outcome.go)

Dispatcher routes one message, runs RouteHooks, and records metrics.
Classifier maps routing errors onto outcomes:
  - nil or routing.ErrSkip: ack
  - handler failures: retry
  - decode failures: dead letter (halt without a dead-letter topic)
  - unroutable topics: dead letter or halt, per UnroutablePolicy

A halted message is held for the halt backoff before the nack reaches the
transport.

## Middleware (middleware.go)

The default chain, outermost first:
  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of message payloads
  - Metrics: Prometheus handler metrics
  - PoisonQueue: forwards dead-lettered messages to DeadLetterTopic, with
    the consumed position copied to the original_* keys
  - Retry: exponential backoff for retryable outcomes
  - Recoverer: panic recovery

## Metrics and status (metrics.go, status.go)

RouteMetrics counts outcomes per topic. Status reports the bindings, the
incomplete topics, and the per-topic counters, and is served as JSON on
/routes next to /metrics.

## Publishing (publisher.go)

PublishEvent emits binary protobuf events with the event-type header and
partition key set. TransportProducer binds it to a publisher.

# Sub-packages

  - config/: service configuration, environment loading and validation
  - errors/: sentinel errors and error types
  - ids/: ULID message IDs, UUID entity IDs and partition keys
  - jsoncodec/: JSON marshaling on top of sonic
  - logging/: logger interface and adapters
  - metadata/: message metadata and position headers
  - routing/: schema and handler registries, the message router
  - transport/: transport factory over the transport registry

# Usage Example

	cfg := &protoroute.Config{
		PubSubSystem:    "kafka",
		KafkaBrokers:    []string{"localhost:9092"},
		DeadLetterTopic: "entity-dead-letter",
	}

	svc, err := protoroute.NewService(cfg, logger, ctx, protoroute.ServiceDependencies{})
	if err != nil {
		return err
	}

	err = svc.RegisterRoute(protoroute.Binding{
		Topic:   "entity-topic",
		Schema:  protoroute.MustProtoSchema(&pb.Entity{}),
		Handler: handler,
	})
	if err != nil {
		return err
	}

	return svc.Start(ctx)
*/
package runtime
