// Package jetstream provides a NATS JetStream transport for protoroute.
//
// Every topic is a subject of one stream. Consumers are durable pull
// consumers with one message in flight, so a nacked message is redelivered
// before the next one and the stream sequence serves as offset.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/protoroute/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is the stream holding every topic.
	DefaultStreamName = "PROTOROUTE"
	// DefaultAckWait is how long the server waits for an ack before redelivering.
	DefaultAckWait = 30 * time.Second

	// HeaderUUID carries the watermill message UUID.
	HeaderUUID = "protoroute_uuid"

	fetchWait = time.Second
)

var (
	errURLRequired = errors.New("nats-jetstream: URL is required")
	errClosed      = errors.New("nats-jetstream: transport is closed")
)

func init() {
	Register()
}

// Register adds the JetStream transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	URL string
	// StreamName is created on start with subjects <StreamName>.>.
	StreamName string
	// ConsumerGroup prefixes the durable consumer names. Instances sharing
	// a group share the consumer of a topic.
	ConsumerGroup string
	AckWait       time.Duration
	// Replicas is the stream replica count in a cluster.
	Replicas int
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "protoroute"
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements Publisher and Subscriber for JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subMu         sync.Mutex
	subscriptions []*nats.Subscription

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// Build creates a JetStream transport from the service configuration.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL(), ConsumerGroup: cfg.GetConsumerGroup()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: t, Subscriber: t}, nil
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errURLRequired
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("protoroute"))
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats-jetstream: context: %w", err)
	}

	t := &Transport{
		nc:      nc,
		js:      js,
		config:  cfg,
		logger:  logger,
		closing: make(chan struct{}),
	}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  t.config.Replicas,
	}
	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("nats-jetstream: stream %s: %w", t.config.StreamName, err)
		}
	}
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// Publish stores messages on the topic subject and waits for the stream to
// acknowledge each one.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errClosed
	}
	subject := Subject(t.config.StreamName, topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(toNATS(subject, topic, msg)); err != nil {
			return fmt.Errorf("nats-jetstream: publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Subscribe binds the durable consumer of topic and delivers its messages
// one at a time.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errClosed
	}

	subject := Subject(t.config.StreamName, topic)
	durable := DurableName(t.config.ConsumerGroup, topic)
	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    -1,
		MaxAckPending: 1,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("nats-jetstream: consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable, nats.Bind(t.config.StreamName, durable))
	if err != nil {
		return nil, fmt.Errorf("nats-jetstream: subscribe %s: %w", topic, err)
	}
	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.consume(ctx, sub, topic, out)
	return out, nil
}

func (t *Transport) consume(ctx context.Context, sub *nats.Subscription, topic string, out chan<- *message.Message) {
	defer t.wg.Done()
	defer close(out)

	for ctx.Err() == nil && !t.isClosed() {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) && ctx.Err() == nil {
				t.logger.Error("Fetch failed", err, watermill.LogFields{"topic": topic})
				time.Sleep(fetchWait)
			}
			continue
		}
		for _, natsMsg := range msgs {
			if !t.deliver(ctx, natsMsg, topic, out) {
				return
			}
		}
	}
}

// deliver hands one message to the router and settles it. It reports false
// once the subscription is over.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, topic string, out chan<- *message.Message) bool {
	var sequence uint64
	if meta, err := natsMsg.Metadata(); err == nil {
		sequence = meta.Sequence.Stream
	}
	msg := toMessage(natsMsg, sequence)
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		t.nak(natsMsg, topic)
		return false
	case <-t.closing:
		t.nak(natsMsg, topic)
		return false
	}

	select {
	case <-msg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Ack failed", err, watermill.LogFields{"topic": topic, "offset": sequence})
		}
		return true
	case <-msg.Nacked():
		t.nak(natsMsg, topic)
		return true
	case <-ctx.Done():
	case <-t.closing:
	}
	t.nak(natsMsg, topic)
	return false
}

func (t *Transport) nak(natsMsg *nats.Msg, topic string) {
	if err := natsMsg.Nak(); err != nil {
		t.logger.Error("Nak failed", err, watermill.LogFields{"topic": topic})
	}
}

// Close stops the subscriptions and the connection.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.wg.Wait()

		t.subMu.Lock()
		for _, sub := range t.subscriptions {
			_ = sub.Unsubscribe()
		}
		t.subscriptions = nil
		t.subMu.Unlock()

		t.nc.Close()
	})
	return nil
}

// Subject returns the stream subject of topic.
func Subject(stream, topic string) string {
	return stream + "." + topic
}

// DurableName derives a valid consumer name from the group and topic.
func DurableName(group, topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, group+"_"+topic)
}

// toNATS copies msg into a NATS message. The message ID is scoped to the
// topic so a dead letter republished with the same UUID is not
// deduplicated by the stream.
func toNATS(subject, topic string, msg *message.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Metadata {
		if k == transport.MetadataKeyPartition || k == transport.MetadataKeyOffset {
			continue
		}
		header.Set(k, v)
	}
	header.Set(HeaderUUID, msg.UUID)
	header.Set(nats.MsgIdHdr, topic+"/"+msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: header}
}

// toMessage converts a consumed NATS message. sequence is its stream
// sequence.
func toMessage(natsMsg *nats.Msg, sequence uint64) *message.Message {
	uuid := natsMsg.Header.Get(HeaderUUID)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if len(v) == 0 || k == HeaderUUID || k == nats.MsgIdHdr {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	key := []byte(msg.Metadata.Get(transport.MetadataKeyKey))
	transport.SetPosition(msg, 0, int64(sequence), key)
	return msg
}
