package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entityValue struct {
	ID   string
	Name string
}

func (entityValue) TypeName() string { return "entity" }

type orderValue struct{ ID string }

func (orderValue) TypeName() string { return "order" }

// entitySchema decodes "id,name" payloads.
func entitySchema() Schema {
	return Schema{
		TypeName: "entity",
		Decode: func(payload []byte) (Value, error) {
			id, name, ok := strings.Cut(string(payload), ",")
			if !ok || id == "" {
				return nil, fmt.Errorf("malformed entity payload %q", payload)
			}
			return entityValue{ID: id, Name: name}, nil
		},
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []DecodedEvent
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, event DecodedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) calls() []DecodedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DecodedEvent(nil), h.events...)
}

func entityMessage(payload string, headers map[string][]byte) InboundMessage {
	return InboundMessage{
		Topic:     "entity-topic",
		Partition: 0,
		Offset:    42,
		Key:       []byte("k1"),
		Headers:   headers,
		Value:     []byte(payload),
	}
}

func newEntityRouter(t *testing.T, handler Handler, opts ...Option) *Router {
	t.Helper()
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()
	require.NoError(t, schemas.Register("entity-topic", entitySchema()))
	require.NoError(t, handlers.Register("entity-topic", handler))
	return NewRouter(schemas, handlers, opts...)
}

func TestRouteDeliversDecodedEvent(t *testing.T) {
	handler := &recordingHandler{}
	router := newEntityRouter(t, handler)

	msg := entityMessage("e1,widget", map[string][]byte{EventTypeHeader: []byte("entity-created")})
	require.NoError(t, router.Route(context.Background(), msg))

	calls := handler.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "entity-created", calls[0].EventType)
	assert.Equal(t, entityValue{ID: "e1", Name: "widget"}, calls[0].Value)
	assert.Equal(t, Position{Topic: "entity-topic", Partition: 0, Offset: 42, Key: []byte("k1")}, calls[0].Position)
}

func TestRouteMissingEventTypeHeaderYieldsEmptyString(t *testing.T) {
	handler := &recordingHandler{}
	router := newEntityRouter(t, handler)

	require.NoError(t, router.Route(context.Background(), entityMessage("e1,widget", nil)))

	calls := handler.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0].EventType)
}

func TestRouteSchemaWithoutHandlerIsUnroutable(t *testing.T) {
	schemas := NewSchemaRegistry()
	require.NoError(t, schemas.Register("entity-topic", entitySchema()))
	router := NewRouter(schemas, NewHandlerRegistry())

	err := router.Route(context.Background(), entityMessage("e1,widget", nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnroutableTopic)
	var unroutable *UnroutableTopicError
	require.ErrorAs(t, err, &unroutable)
	assert.Equal(t, "entity-topic", unroutable.Topic)
	assert.Equal(t, int64(42), unroutable.Offset)
	assert.False(t, unroutable.MissingSchema)
	assert.True(t, unroutable.MissingHandler)
}

func TestRouteUnknownTopicNeverInvokesHandler(t *testing.T) {
	handler := &recordingHandler{}
	router := newEntityRouter(t, handler)

	msg := entityMessage("e1,widget", nil)
	msg.Topic = "unknown-topic"
	err := router.Route(context.Background(), msg)

	var unroutable *UnroutableTopicError
	require.ErrorAs(t, err, &unroutable)
	assert.True(t, unroutable.MissingSchema)
	assert.True(t, unroutable.MissingHandler)
	assert.Contains(t, err.Error(), "schema or handler")
	assert.Empty(t, handler.calls())
}

func TestRouteMalformedPayloadIsDecodeFailure(t *testing.T) {
	handler := &recordingHandler{}
	router := newEntityRouter(t, handler)

	err := router.Route(context.Background(), entityMessage("garbage", nil))

	assert.ErrorIs(t, err, ErrDecodeFailure)
	var decodeErr *DecodeFailureError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "entity", decodeErr.TypeName)
	assert.Equal(t, "entity-topic", decodeErr.Topic)
	assert.Empty(t, handler.calls())
}

func TestRouteTypeMismatchIsDecodeFailure(t *testing.T) {
	handler := &recordingHandler{}
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()
	require.NoError(t, schemas.Register("entity-topic", Schema{
		TypeName: "entity",
		Decode: func([]byte) (Value, error) {
			return orderValue{ID: "o1"}, nil
		},
	}))
	require.NoError(t, handlers.Register("entity-topic", handler))
	router := NewRouter(schemas, handlers)

	err := router.Route(context.Background(), entityMessage("e1,x", nil))

	assert.ErrorIs(t, err, ErrDecodeFailure)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Empty(t, handler.calls())
}

func TestRouteNilValueIsDecodeFailure(t *testing.T) {
	handler := &recordingHandler{}
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()
	require.NoError(t, schemas.Register("t", Schema{
		TypeName: "entity",
		Decode:   func([]byte) (Value, error) { return nil, nil },
	}))
	require.NoError(t, handlers.Register("t", handler))

	err := NewRouter(schemas, handlers).Route(context.Background(), InboundMessage{Topic: "t"})

	assert.ErrorIs(t, err, ErrDecodeFailure)
	assert.Empty(t, handler.calls())
}

func TestRouteDecoderPanicIsDecodeFailure(t *testing.T) {
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()
	require.NoError(t, schemas.Register("t", Schema{
		TypeName: "entity",
		Decode:   func([]byte) (Value, error) { panic("boom") },
	}))
	require.NoError(t, handlers.Register("t", &recordingHandler{}))

	err := NewRouter(schemas, handlers).Route(context.Background(), InboundMessage{Topic: "t"})

	assert.ErrorIs(t, err, ErrDecodeFailure)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
}

func TestRouteHandlerErrorIsWrappedUnconverted(t *testing.T) {
	cause := errors.New("db unavailable")
	handler := &recordingHandler{err: cause}
	router := newEntityRouter(t, handler)

	msg := entityMessage("e1,widget", map[string][]byte{EventTypeHeader: []byte("entity-created")})
	err := router.Route(context.Background(), msg)

	assert.ErrorIs(t, err, ErrHandlerFailure)
	assert.ErrorIs(t, err, cause)
	var failure *HandlerFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "entity-created", failure.EventType)
	assert.Equal(t, int64(42), failure.Offset)
	assert.Same(t, cause, failure.Cause)
	assert.Len(t, handler.calls(), 1)
}

func TestRouteHandlerSkipIsVisibleToCaller(t *testing.T) {
	router := newEntityRouter(t, &recordingHandler{err: ErrSkip})

	err := router.Route(context.Background(), entityMessage("e1,widget", nil))

	assert.ErrorIs(t, err, ErrSkip)
	assert.ErrorIs(t, err, ErrHandlerFailure)
}

func TestRouteHandlerPanicIsHandlerFailure(t *testing.T) {
	router := newEntityRouter(t, HandlerFunc(func(context.Context, DecodedEvent) error {
		panic("handler exploded")
	}))

	err := router.Route(context.Background(), entityMessage("e1,widget", nil))

	assert.ErrorIs(t, err, ErrHandlerFailure)
	var panicErr *PanicError
	assert.ErrorAs(t, err, &panicErr)
}

func TestRouteHandlerTimeout(t *testing.T) {
	var finished atomic.Bool
	slow := HandlerFunc(func(ctx context.Context, _ DecodedEvent) error {
		<-ctx.Done()
		finished.Store(true)
		return ctx.Err()
	})
	router := newEntityRouter(t, slow, WithHandlerTimeout(20*time.Millisecond))

	err := router.Route(context.Background(), entityMessage("e1,widget", nil))

	assert.True(t, finished.Load(), "router must wait for the handler to return")
	assert.ErrorIs(t, err, ErrHandlerFailure)
	assert.ErrorIs(t, err, ErrHandlerTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouteLateSuccessAfterDeadlineIsTimeout(t *testing.T) {
	late := HandlerFunc(func(ctx context.Context, _ DecodedEvent) error {
		<-ctx.Done()
		return nil
	})
	router := newEntityRouter(t, late, WithHandlerTimeout(10*time.Millisecond))

	err := router.Route(context.Background(), entityMessage("e1,widget", nil))

	assert.ErrorIs(t, err, ErrHandlerTimeout)
}

func TestRouteWithinTimeoutSucceeds(t *testing.T) {
	handler := &recordingHandler{}
	router := newEntityRouter(t, handler, WithHandlerTimeout(time.Second))

	require.NoError(t, router.Route(context.Background(), entityMessage("e1,widget", nil)))
	assert.Equal(t, time.Second, router.HandlerTimeout())
}

func TestRouteUsesLatestRegistration(t *testing.T) {
	first := &recordingHandler{}
	second := &recordingHandler{}
	router := newEntityRouter(t, first)

	require.NoError(t, router.Handlers().Register("entity-topic", second))
	require.NoError(t, router.Route(context.Background(), entityMessage("e1,widget", nil)))

	assert.Empty(t, first.calls())
	assert.Len(t, second.calls(), 1)
}

func TestRouteInvokesHandlerExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	router := newEntityRouter(t, HandlerFunc(func(context.Context, DecodedEvent) error {
		calls.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, router.Route(context.Background(), entityMessage("e1,widget", nil)))
	}
	assert.Equal(t, int32(10), calls.Load())
}

func TestSwapReplacesBindingsAtomically(t *testing.T) {
	oldHandler := &recordingHandler{}
	router := newEntityRouter(t, oldHandler)

	newHandler := &recordingHandler{}
	schemas, handlers, err := BuildRegistries([]Binding{
		{Topic: "order-topic", Schema: Schema{TypeName: "order", Decode: func(b []byte) (Value, error) {
			return orderValue{ID: string(b)}, nil
		}}, Handler: newHandler},
	})
	require.NoError(t, err)
	router.Swap(schemas, handlers)

	err = router.Route(context.Background(), entityMessage("e1,widget", nil))
	assert.ErrorIs(t, err, ErrUnroutableTopic)

	require.NoError(t, router.Route(context.Background(), InboundMessage{Topic: "order-topic", Value: []byte("o-9")}))
	assert.Empty(t, oldHandler.calls())
	require.Len(t, newHandler.calls(), 1)
	assert.Equal(t, orderValue{ID: "o-9"}, newHandler.calls()[0].Value)
}

func TestRouteConcurrentWithSwap(t *testing.T) {
	var handled atomic.Int64
	handler := HandlerFunc(func(context.Context, DecodedEvent) error {
		handled.Add(1)
		return nil
	})
	router := newEntityRouter(t, handler)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := router.Route(context.Background(), entityMessage("e1,widget", nil)); err != nil {
					t.Errorf("unexpected route error: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		schemas, handlers, err := BuildRegistries([]Binding{{Topic: "entity-topic", Schema: entitySchema(), Handler: handler}})
		require.NoError(t, err)
		router.Swap(schemas, handlers)
	}
	wg.Wait()

	assert.Equal(t, int64(800), handled.Load())
}

func TestRouterNilRegistriesAreEmpty(t *testing.T) {
	router := NewRouter(nil, nil)

	assert.Empty(t, router.Topics())
	err := router.Route(context.Background(), InboundMessage{Topic: "anything"})
	assert.ErrorIs(t, err, ErrUnroutableTopic)
}

func TestRouterTopicsAndIncomplete(t *testing.T) {
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()
	require.NoError(t, schemas.Register("a", entitySchema()))
	require.NoError(t, schemas.Register("b", entitySchema()))
	require.NoError(t, handlers.Register("b", &recordingHandler{}))
	require.NoError(t, handlers.Register("c", &recordingHandler{}))

	router := NewRouter(schemas, handlers)

	assert.Equal(t, []string{"a", "b", "c"}, router.Topics())
	assert.Equal(t, []string{"a", "c"}, router.Incomplete())
}

func TestRouterSnapshotIsDetached(t *testing.T) {
	router := newEntityRouter(t, &recordingHandler{})

	schemas, handlers := router.Snapshot()
	require.NoError(t, router.Handlers().Register("order-topic", &recordingHandler{}))
	router.Swap(nil, nil)

	assert.Equal(t, 1, schemas.Len())
	assert.Equal(t, 1, handlers.Len())
	assert.Equal(t, []string{"entity-topic"}, BoundTopics(schemas, handlers))
	assert.Empty(t, IncompleteTopics(schemas, handlers))
	assert.Empty(t, router.Topics())
}
