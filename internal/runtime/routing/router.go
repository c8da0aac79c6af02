package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

type bindings struct {
	schemas  *SchemaRegistry
	handlers *HandlerRegistry
}

// Router resolves a topic to its schema and handler, decodes the payload,
// and invokes the handler. It never retries and never logs: failures are
// returned as typed errors for the caller to act on.
//
// The registries in use can be replaced atomically with Swap while messages
// are being routed.
type Router struct {
	current        atomic.Pointer[bindings]
	handlerTimeout time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithHandlerTimeout bounds each handler invocation. Zero disables the bound.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		if timeout > 0 {
			r.handlerTimeout = timeout
		}
	}
}

// NewRouter builds a router over the given registries. Nil registries are
// replaced with empty ones.
func NewRouter(schemas *SchemaRegistry, handlers *HandlerRegistry, opts ...Option) *Router {
	r := &Router{}
	for _, opt := range opts {
		opt(r)
	}
	r.Swap(schemas, handlers)
	return r
}

// Swap atomically replaces both registries. Routes already in flight finish
// against the registries they started with.
func (r *Router) Swap(schemas *SchemaRegistry, handlers *HandlerRegistry) {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	r.current.Store(&bindings{schemas: schemas, handlers: handlers})
}

// Schemas returns the schema registry currently in use.
func (r *Router) Schemas() *SchemaRegistry { return r.current.Load().schemas }

// Handlers returns the handler registry currently in use.
func (r *Router) Handlers() *HandlerRegistry { return r.current.Load().handlers }

// Snapshot returns copies of both registries taken from one set of bindings.
// Later registrations and swaps do not affect them.
func (r *Router) Snapshot() (*SchemaRegistry, *HandlerRegistry) {
	b := r.current.Load()
	return b.schemas.Clone(), b.handlers.Clone()
}

// HandlerTimeout returns the configured per-handler bound.
func (r *Router) HandlerTimeout() time.Duration { return r.handlerTimeout }

// Topics returns every topic bound in either registry.
func (r *Router) Topics() []string {
	b := r.current.Load()
	return BoundTopics(b.schemas, b.handlers)
}

// Incomplete returns topics bound in only one of the two registries.
func (r *Router) Incomplete() []string {
	b := r.current.Load()
	return IncompleteTopics(b.schemas, b.handlers)
}

// Route processes a single message. It returns nil on success, or one of
// *UnroutableTopicError, *DecodeFailureError or *HandlerFailureError.
func (r *Router) Route(ctx context.Context, msg InboundMessage) error {
	b := r.current.Load()

	schema, hasSchema := b.schemas.Resolve(msg.Topic)
	handler, hasHandler := b.handlers.Resolve(msg.Topic)
	if !hasSchema || !hasHandler {
		return &UnroutableTopicError{
			Topic:          msg.Topic,
			Partition:      msg.Partition,
			Offset:         msg.Offset,
			MissingSchema:  !hasSchema,
			MissingHandler: !hasHandler,
		}
	}

	value, err := decode(schema, msg.Value)
	if err != nil {
		return &DecodeFailureError{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			TypeName:  schema.TypeName,
			Cause:     err,
		}
	}

	event := DecodedEvent{
		EventType: msg.EventType(),
		Value:     value,
		Position:  msg.Position(),
	}
	if err := r.invoke(ctx, handler, event); err != nil {
		return &HandlerFailureError{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			EventType: event.EventType,
			Cause:     err,
		}
	}
	return nil
}

func decode(schema Schema, payload []byte) (value Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, &PanicError{Value: rec}
		}
	}()

	value, err = schema.Decode(payload)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("%w: decoder returned no value", ErrTypeMismatch)
	}
	if got := value.TypeName(); got != schema.TypeName {
		return nil, fmt.Errorf("%w: want %q, got %q", ErrTypeMismatch, schema.TypeName, got)
	}
	return value, nil
}

// invoke waits for the handler to return even after the deadline passes so
// that a partition never has two messages in flight.
func (r *Router) invoke(ctx context.Context, handler Handler, event DecodedEvent) (err error) {
	if r.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()

	err = handler.Handle(ctx, event)
	if r.handlerTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if err == nil {
			return fmt.Errorf("%w after %s", ErrHandlerTimeout, r.handlerTimeout)
		}
		return fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, r.handlerTimeout, err)
	}
	return err
}

// IncompleteTopics returns topics that have a schema but no handler or the
// other way round, in sorted order.
func IncompleteTopics(schemas *SchemaRegistry, handlers *HandlerRegistry) []string {
	var incomplete []string
	for _, topic := range BoundTopics(schemas, handlers) {
		_, hasSchema := schemas.Resolve(topic)
		_, hasHandler := handlers.Resolve(topic)
		if hasSchema != hasHandler {
			incomplete = append(incomplete, topic)
		}
	}
	return incomplete
}

// BoundTopics returns every topic bound in either registry, in sorted order.
func BoundTopics(schemas *SchemaRegistry, handlers *HandlerRegistry) []string {
	merged := slices.Concat(schemas.Topics(), handlers.Topics())
	slices.Sort(merged)
	return slices.Compact(merged)
}
