package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired        = sterrors.New("protoroute: event service is required")
	ErrHandlerRequired        = sterrors.New("protoroute: handler is required")
	ErrTopicRequired          = sterrors.New("protoroute: topic is required")
	ErrSchemaRequired         = sterrors.New("protoroute: schema is required")
	ErrSchemaTypeNameRequired = sterrors.New("protoroute: schema type name is required")
	ErrDecoderRequired        = sterrors.New("protoroute: schema decoder is required")
	ErrPublisherRequired      = sterrors.New("protoroute: publisher is required")
	ErrEventPayloadRequired   = sterrors.New("protoroute: event payload is required")
	ErrEventTypeRequired      = sterrors.New("protoroute: event type is required")
	ErrIncompleteBindings     = sterrors.New("protoroute: topics must have both a schema and a handler")
	ErrAlreadyRunning         = sterrors.New("protoroute: service is already running")
	ErrNoRoutes               = sterrors.New("protoroute: no routes registered")
)

// ConfigValidationError wraps the joined configuration problems reported by
// config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("protoroute: invalid configuration: %v", e.Err)
}

func (e *ConfigValidationError) Unwrap() error { return e.Err }
