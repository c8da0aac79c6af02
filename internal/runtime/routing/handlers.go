package routing

import (
	"context"
	"slices"
	"sync"

	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
)

// Handler processes a decoded event. A returned error is reported to the
// caller as a HandlerFailureError; returning ErrSkip marks the event as
// deliberately ignored.
type Handler interface {
	Handle(ctx context.Context, event DecodedEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event DecodedEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event DecodedEvent) error {
	return f(ctx, event)
}

// HandlerRegistry maps topics to handlers. Safe for concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds handler to topic, replacing any previous binding.
func (r *HandlerRegistry) Register(topic string, handler Handler) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if isNilHandler(handler) {
		return errspkg.ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = handler
	return nil
}

// Resolve returns the handler bound to topic.
func (r *HandlerRegistry) Resolve(topic string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[topic]
	return handler, ok
}

// Topics returns the bound topics in sorted order.
func (r *HandlerRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// Len returns the number of bound topics.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clone returns an independent copy of the registry.
func (r *HandlerRegistry) Clone() *HandlerRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewHandlerRegistry()
	for topic, handler := range r.handlers {
		clone.handlers[topic] = handler
	}
	return clone
}

// EventMux dispatches on DecodedEvent.EventType within a single topic.
// Events without a matching entry go to the fallback, or are ignored when
// no fallback is set.
type EventMux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewEventMux returns an empty mux.
func NewEventMux() *EventMux {
	return &EventMux{handlers: make(map[string]Handler)}
}

// On registers handler for eventType, replacing any previous entry. It panics
// when handler is nil.
func (m *EventMux) On(eventType string, handler Handler) *EventMux {
	if isNilHandler(handler) {
		panic("routing: nil handler for event type " + eventType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = handler
	return m
}

// OnFunc registers fn for eventType.
func (m *EventMux) OnFunc(eventType string, fn func(context.Context, DecodedEvent) error) *EventMux {
	return m.On(eventType, HandlerFunc(fn))
}

// Fallback sets the handler for unknown event types. It panics when handler
// is nil.
func (m *EventMux) Fallback(handler Handler) *EventMux {
	if isNilHandler(handler) {
		panic("routing: nil fallback handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = handler
	return m
}

func isNilHandler(handler Handler) bool {
	if handler == nil {
		return true
	}
	fn, ok := handler.(HandlerFunc)
	return ok && fn == nil
}

// EventTypes lists the registered event types in sorted order.
func (m *EventMux) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.handlers))
	for eventType := range m.handlers {
		types = append(types, eventType)
	}
	slices.Sort(types)
	return types
}

func (m *EventMux) Handle(ctx context.Context, event DecodedEvent) error {
	m.mu.RLock()
	handler, ok := m.handlers[event.EventType]
	if !ok {
		handler = m.fallback
	}
	m.mu.RUnlock()

	if handler == nil {
		return nil
	}
	return handler.Handle(ctx, event)
}
