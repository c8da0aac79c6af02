package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	"github.com/drblury/protoroute/internal/runtime/routing"
	transportpkg "github.com/drblury/protoroute/internal/runtime/transport"
	"github.com/drblury/protoroute/transport"
	channeltransport "github.com/drblury/protoroute/transport/channel"
)

const (
	testTopic           = "entity-topic"
	testDeadLetterTopic = "entity-dead-letter"
)

type testPublisher struct {
	mu        sync.Mutex
	published []string
	messages  []*message.Message
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// captureLogger records every entry so tests can assert on log output.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, err: err, fields: fields})
}

func (l *captureLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }
func (l *captureLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}
func (l *captureLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}
func (l *captureLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}
func (l *captureLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *captureLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:         channeltransport.TransportName,
		DeadLetterTopic:      testDeadLetterTopic,
		UnroutablePolicy:     configpkg.UnroutableDeadLetter,
		RetryMaxRetries:      2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}
}

// newChannelTransport builds the in-memory transport shared by a test's
// producer and consumer.
func newChannelTransport(t *testing.T) transport.Transport {
	t.Helper()
	tr, err := channeltransport.Build(context.Background(), nil, watermill.NopLogger{})
	require.NoError(t, err)
	return tr
}

func newTestService(t *testing.T, conf *configpkg.Config, tr transport.Transport, hooks RouteHooks) *Service {
	t.Helper()
	svc, err := NewService(conf, loggingpkg.NopLogger(), context.Background(), ServiceDependencies{
		TransportFactory:  transportpkg.Static(tr),
		Hooks:             hooks,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// startService runs svc in the background and waits until it consumes.
func startService(t *testing.T, svc *Service) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case err := <-done:
		cancel()
		t.Fatalf("service stopped before running: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("service did not start")
	}

	var once sync.Once
	var stopErr error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case stopErr = <-done:
			case <-time.After(5 * time.Second):
				t.Error("service did not stop")
			}
		})
		return stopErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func stringSchema() routing.Schema {
	return routing.MustProtoSchema(&wrapperspb.StringValue{}, routing.WithTypeName("entity"))
}

func stringEvent(eventType, value string) OutboundEvent {
	return OutboundEvent{
		EventType: eventType,
		Key:       "key-" + value,
		Payload:   wrapperspb.String(value),
	}
}

// recordingHandler stores the values it receives and fails while failures > 0.
type recordingHandler struct {
	mu       sync.Mutex
	values   []string
	events   []routing.DecodedEvent
	failures int
	err      error
}

func (h *recordingHandler) Handle(_ context.Context, event routing.DecodedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if h.failures > 0 {
		h.failures--
		return h.err
	}
	if v, ok := event.Value.(routing.ProtoValue); ok {
		h.values = append(h.values, v.Message.(*wrapperspb.StringValue).GetValue())
	}
	return nil
}

func (h *recordingHandler) Values() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.values...)
}

func (h *recordingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *recordingHandler) Events() []routing.DecodedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]routing.DecodedEvent(nil), h.events...)
}
