package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnroutableTopic matches messages whose topic lacks a schema or a handler.
	ErrUnroutableTopic = errors.New("protoroute: unroutable topic")
	// ErrDecodeFailure matches payloads the bound schema could not decode.
	ErrDecodeFailure = errors.New("protoroute: decode failure")
	// ErrHandlerFailure matches errors reported by a handler.
	ErrHandlerFailure = errors.New("protoroute: handler failure")
	// ErrHandlerTimeout is the cause recorded when a handler outlives its deadline.
	ErrHandlerTimeout = errors.New("protoroute: handler timed out")
	// ErrTypeMismatch is the cause recorded when a decoder produced a value of the wrong type.
	ErrTypeMismatch = errors.New("protoroute: decoded type does not match schema")
	// ErrSkip may be returned by handlers that deliberately ignore a message.
	// The message is acknowledged without further processing.
	ErrSkip = errors.New("protoroute: skip message")
)

// UnroutableTopicError reports a topic that is missing a schema, a handler, or both.
type UnroutableTopicError struct {
	Topic          string
	Partition      int32
	Offset         int64
	MissingSchema  bool
	MissingHandler bool
}

func (e *UnroutableTopicError) Error() string {
	var missing []string
	if e.MissingSchema {
		missing = append(missing, "schema")
	}
	if e.MissingHandler {
		missing = append(missing, "handler")
	}
	return fmt.Sprintf("%s: no %s for topic %q (partition %d, offset %d)",
		ErrUnroutableTopic, strings.Join(missing, " or "), e.Topic, e.Partition, e.Offset)
}

func (e *UnroutableTopicError) Is(target error) bool { return target == ErrUnroutableTopic }

// DecodeFailureError reports malformed bytes or a schema identity mismatch.
type DecodeFailureError struct {
	Topic     string
	Partition int32
	Offset    int64
	TypeName  string
	Cause     error
}

func (e *DecodeFailureError) Error() string {
	return fmt.Sprintf("%s: topic %q (partition %d, offset %d) schema %q: %v",
		ErrDecodeFailure, e.Topic, e.Partition, e.Offset, e.TypeName, e.Cause)
}

func (e *DecodeFailureError) Is(target error) bool { return target == ErrDecodeFailure }

func (e *DecodeFailureError) Unwrap() error { return e.Cause }

// HandlerFailureError wraps the error a handler returned. The cause is kept
// unconverted so callers can match it with errors.Is and errors.As.
type HandlerFailureError struct {
	Topic     string
	Partition int32
	Offset    int64
	EventType string
	Cause     error
}

func (e *HandlerFailureError) Error() string {
	return fmt.Sprintf("%s: topic %q (partition %d, offset %d) event %q: %v",
		ErrHandlerFailure, e.Topic, e.Partition, e.Offset, e.EventType, e.Cause)
}

func (e *HandlerFailureError) Is(target error) bool { return target == ErrHandlerFailure }

func (e *HandlerFailureError) Unwrap() error { return e.Cause }

// PanicError carries a recovered panic value from a decoder or handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
