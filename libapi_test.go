package protoroute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/types/known/wrapperspb"

	channeltransport "github.com/drblury/protoroute/transport/channel"
)

func TestSchemaExports(t *testing.T) {
	if _, err := ProtoSchema(nil); err == nil {
		t.Fatal("expected error for nil prototype")
	}

	schema := MustProtoSchema(&wrapperspb.StringValue{}, WithTypeName("greeting"))
	if schema.TypeName != "greeting" {
		t.Fatalf("unexpected type name %q", schema.TypeName)
	}

	jsonSchema := JSONSchema[noteValue]()
	if err := jsonSchema.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	value, err := jsonSchema.Decode([]byte(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := value.(noteValue).Text; got != "hi" {
		t.Fatalf("unexpected text %q", got)
	}
}

type noteValue struct {
	Text string `json:"text"`
}

func (noteValue) TypeName() string { return "note" }

func TestErrorExportsAreSentinels(t *testing.T) {
	err := PublishEvent(context.Background(), nil, "topic", OutboundEvent{})
	if !errors.Is(err, ErrPublisherRequired) {
		t.Fatalf("expected publisher required error, got %v", err)
	}

	if OutcomeHalt.String() != "halt" {
		t.Fatalf("unexpected outcome string %q", OutcomeHalt.String())
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewSlogServiceLogger(NewJSONLogger(&discard{}, "debug"))
	logger.Info("boot", LogFields{"component": "test"})
	NopLogger().Debug("quiet", nil)
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestServiceRoundTrip(t *testing.T) {
	tr, err := channeltransport.Build(context.Background(), nil, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("build transport: %v", err)
	}

	conf := &Config{
		PubSubSystem:    channeltransport.TransportName,
		DeadLetterTopic: "dead-letter",
	}
	svc, err := NewService(conf, NopLogger(), context.Background(), ServiceDependencies{
		TransportFactory:  StaticTransport(tr),
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	var (
		mu   sync.Mutex
		seen []string
	)
	handler := NewEventMux().OnFunc("greeted", func(_ context.Context, event DecodedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.Value.(ProtoValue).Message.(*wrapperspb.StringValue).GetValue())
		return nil
	})
	err = svc.RegisterRoute(Binding{
		Topic:   "greetings",
		Schema:  MustProtoSchema(&wrapperspb.StringValue{}, WithTypeName("greeting")),
		Handler: handler,
	})
	if err != nil {
		t.Fatalf("register route: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not start")
	}

	producer := NewProducer(svc.Publisher())
	event := OutboundEvent{EventType: "greeted", Key: "k-1", Payload: wrapperspb.String("hello")}
	if err := producer.PublishEvent(context.Background(), "greetings", event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("unexpected deliveries %v", seen)
	}
}
