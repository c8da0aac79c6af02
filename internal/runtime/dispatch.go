package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	metadatapkg "github.com/drblury/protoroute/internal/runtime/metadata"
	"github.com/drblury/protoroute/internal/runtime/routing"
	"github.com/drblury/protoroute/transport"
)

const tracerName = "github.com/drblury/protoroute"

// MetadataKeyCorrelationID is the correlation identifier carried by every
// published and consumed message.
const MetadataKeyCorrelationID = "correlation_id"

// Dispatcher adapts transport messages to the router and classifies the
// result. It is the only place that decides between ack, retry, dead-letter
// and halt.
type Dispatcher struct {
	router     *routing.Router
	classifier Classifier
	hooks      RouteHooks
	tracer     trace.Tracer

	haltBackoff time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHaltBackoff pauses a halted message for d before it is nacked, so a
// transport that redelivers immediately does not spin on it. Zero disables
// the pause.
func WithHaltBackoff(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.haltBackoff = d
		}
	}
}

// NewDispatcher wires a dispatcher around router.
func NewDispatcher(router *routing.Router, classifier Classifier, hooks RouteHooks, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		router:     router,
		classifier: classifier,
		hooks:      hooks,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classifier returns the classifier used by Dispatch.
func (d *Dispatcher) Classifier() Classifier { return d.classifier }

// InboundFromMessage converts a consumed message into the router's input.
// Position metadata written by the transport becomes fields; everything else
// becomes headers.
func InboundFromMessage(topic string, msg *message.Message) routing.InboundMessage {
	partition, offset, key := transport.Position(msg.Metadata)
	return routing.InboundMessage{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Headers:   metadatapkg.Headers(msg.Metadata, transport.IsPositionKey),
		Value:     msg.Payload,
	}
}

// Dispatch routes msg received on topic. A nil error means the message is to
// be acknowledged. Otherwise the returned error is the routing error and the
// outcome tells the middleware chain what to do with it.
func (d *Dispatcher) Dispatch(topic string, msg *message.Message) (Outcome, error) {
	in := InboundFromMessage(topic, msg)

	ctx, span := d.tracer.Start(msg.Context(), "protoroute.route "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.Int64("messaging.kafka.partition", int64(in.Partition)),
			attribute.Int64("messaging.kafka.offset", in.Offset),
			attribute.String("messaging.message.id", msg.UUID),
			attribute.String("protoroute.event_type", in.EventType()),
		),
	)
	defer span.End()

	rc := RouteContext{
		Topic:         topic,
		Partition:     in.Partition,
		Offset:        in.Offset,
		Key:           in.Key,
		EventType:     in.EventType(),
		MessageUUID:   msg.UUID,
		CorrelationID: msg.Metadata.Get(MetadataKeyCorrelationID),
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	d.hooks.received(rc)

	err := d.router.Route(ctx, in)

	rc.Duration = time.Since(rc.StartedAt)
	rc.Outcome = d.classifier.Classify(err)
	rc.Skipped = err != nil && errors.Is(err, routing.ErrSkip)
	span.SetAttributes(attribute.String("protoroute.outcome", rc.Outcome.String()))
	if rc.Outcome != OutcomeAck {
		span.RecordError(err)
		span.SetStatus(codes.Error, rc.Outcome.String())
	}
	d.hooks.finished(rc, err)

	if rc.Outcome == OutcomeAck {
		return OutcomeAck, nil
	}
	return rc.Outcome, err
}

// HandlerFor returns the watermill handler consuming topic.
func (d *Dispatcher) HandlerFor(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		outcome, err := d.Dispatch(topic, msg)
		if outcome == OutcomeHalt {
			d.waitHalted(msg)
		}
		return err
	}
}

// waitHalted blocks for the halt backoff or until the message context ends.
func (d *Dispatcher) waitHalted(msg *message.Message) {
	if d.haltBackoff <= 0 {
		return
	}
	timer := time.NewTimer(d.haltBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-msg.Context().Done():
	}
}
