package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/protoroute/internal/runtime"
	idspkg "github.com/drblury/protoroute/internal/runtime/ids"
	"github.com/drblury/protoroute/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	"github.com/drblury/protoroute/internal/runtime/routing"
)

// ErrUnexpectedValue is returned when a handler receives something other than an Entity.
var ErrUnexpectedValue = errors.New("entity: unexpected value")

// CreatedFunc observes entities handled by Service.
type CreatedFunc func(ctx context.Context, e Entity, pos routing.Position) error

// Service consumes entity-topic. Unknown event types are ignored.
type Service struct {
	logger    loggingpkg.ServiceLogger
	mux       *routing.EventMux
	onCreated CreatedFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOnCreated runs fn after an entity-created event was logged. An error
// from fn fails the event.
func WithOnCreated(fn CreatedFunc) ServiceOption {
	return func(s *Service) { s.onCreated = fn }
}

// NewService returns the entity event handler.
func NewService(logger loggingpkg.ServiceLogger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	s := &Service{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = routing.NewEventMux().OnFunc(EventCreated, s.handleCreated)
	return s
}

func (s *Service) Handle(ctx context.Context, event routing.DecodedEvent) error {
	return s.mux.Handle(ctx, event)
}

// EventTypes lists the handled event types.
func (s *Service) EventTypes() []string { return s.mux.EventTypes() }

func (s *Service) handleCreated(ctx context.Context, event routing.DecodedEvent) error {
	e, ok := event.Value.(Entity)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedValue, event.Value)
	}

	s.logger.Info("New entity created", loggingpkg.LogFields{
		"entity":    jsoncodec.MarshalString(e),
		"topic":     event.Position.Topic,
		"partition": event.Position.Partition,
		"offset":    event.Position.Offset,
		"key":       string(event.Position.Key),
	})

	if s.onCreated != nil {
		return s.onCreated(ctx, e, event.Position)
	}
	return nil
}

// Binding binds the entity schema and handler to entity-topic.
func Binding(handler routing.Handler) routing.Binding {
	return routing.Binding{Topic: Topic, Schema: Schema(), Handler: handler}
}

// CreatedEvent builds the entity-created event for e, keyed by a fresh
// entity-<uuid> partition key.
func CreatedEvent(e Entity) runtime.OutboundEvent {
	return runtime.OutboundEvent{
		EventType: EventCreated,
		Key:       idspkg.PartitionKey(KeyPrefix),
		Payload:   ToProto(e),
	}
}
