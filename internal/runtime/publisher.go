package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
	idspkg "github.com/drblury/protoroute/internal/runtime/ids"
	metadatapkg "github.com/drblury/protoroute/internal/runtime/metadata"
	"github.com/drblury/protoroute/internal/runtime/routing"
	"github.com/drblury/protoroute/transport"
)

// OutboundEvent is a protobuf event to publish.
type OutboundEvent struct {
	// EventType is written to the eventType header consumers dispatch on.
	EventType string
	// Key selects the partition on transports that partition by key.
	Key     string
	Payload proto.Message
	// Metadata is copied onto the message; it may carry a correlation_id.
	Metadata metadatapkg.Metadata
}

// Producer emits protobuf events onto the configured transport.
type Producer interface {
	PublishEvent(ctx context.Context, topic string, event OutboundEvent) error
}

// NewMessageFromEvent encodes event as binary protobuf and attaches the
// headers consumers rely on.
func NewMessageFromEvent(event OutboundEvent) (*message.Message, error) {
	if event.Payload == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	if event.EventType == "" {
		return nil, errspkg.ErrEventTypeRequired
	}

	payload, err := proto.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(event.Metadata)
	msg.Metadata.Set(routing.EventTypeHeader, event.EventType)
	if msg.Metadata.Get(MetadataKeyCorrelationID) == "" {
		msg.Metadata.Set(MetadataKeyCorrelationID, idspkg.CreateULID())
	}
	transport.SetKey(msg, event.Key)
	return msg, nil
}

// PublishEvent encodes the event and publishes it to topic.
func PublishEvent(ctx context.Context, publisher message.Publisher, topic string, event OutboundEvent) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := NewMessageFromEvent(event)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishEvent emits the event using the Service publisher.
func (s *Service) PublishEvent(ctx context.Context, topic string, event OutboundEvent) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishEvent(ctx, s.publisher, topic, event)
}

// TransportProducer publishes events through a bare publisher, for processes
// that only produce.
type TransportProducer struct {
	publisher message.Publisher
}

// NewProducer wraps publisher.
func NewProducer(publisher message.Publisher) *TransportProducer {
	return &TransportProducer{publisher: publisher}
}

func (p *TransportProducer) PublishEvent(ctx context.Context, topic string, event OutboundEvent) error {
	return PublishEvent(ctx, p.publisher, topic, event)
}

// Close closes the wrapped publisher.
func (p *TransportProducer) Close() error {
	if p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}
