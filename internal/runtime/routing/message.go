package routing

// EventTypeHeader is the header carrying the producer-assigned event name.
const EventTypeHeader = "eventType"

// Value is a decoded domain value. Concrete types are discriminated by
// TypeName so handlers can switch on them safely.
type Value interface {
	TypeName() string
}

// Position identifies where a message was read from.
type Position struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
}

// InboundMessage is the transport-neutral view of a single consumed message.
type InboundMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string][]byte
	Value     []byte
}

// EventType returns the eventType header, or "" when the producer did not set one.
func (m InboundMessage) EventType() string {
	if m.Headers == nil {
		return ""
	}
	return string(m.Headers[EventTypeHeader])
}

// Position returns the message coordinates.
func (m InboundMessage) Position() Position {
	return Position{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
	}
}

// DecodedEvent is what a Handler receives.
type DecodedEvent struct {
	EventType string
	Value     Value
	Position  Position
}
