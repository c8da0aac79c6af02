// Package channel provides an in-memory transport for tests and local runs.
//
// Each topic behaves like a single Kafka partition: published messages are
// stamped with partition 0 and a per-topic increasing offset, and Publish
// returns only once the subscribers acknowledged them. A nacked message is
// redelivered before anything published after it.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/protoroute/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport. Messages published before a
// subscriber exists are kept and replayed to it.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{
		OutputChannelBuffer:            64,
		Persistent:                     true,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return transport.Transport{
		Publisher:  NewSequencingPublisher(pub),
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// SequencingPublisher assigns partition 0 and a per-topic offset to each
// message before handing it to the wrapped publisher. Publishes to the same
// topic are serialised; different topics do not wait on each other.
type SequencingPublisher struct {
	next message.Publisher

	mu      sync.Mutex
	offsets map[string]int64
	locks   map[string]*sync.Mutex
}

// NewSequencingPublisher wraps next.
func NewSequencingPublisher(next message.Publisher) *SequencingPublisher {
	return &SequencingPublisher{
		next:    next,
		offsets: make(map[string]int64),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (p *SequencingPublisher) topicLock(topic string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[topic]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[topic] = lock
	}
	return lock
}

// Publish holds the topic lock while forwarding so offsets reach subscribers
// in order. The offset only advances when the wrapped publisher succeeds.
func (p *SequencingPublisher) Publish(topic string, messages ...*message.Message) error {
	lock := p.topicLock(topic)
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	offset := p.offsets[topic]
	p.mu.Unlock()

	for _, msg := range messages {
		key := msg.Metadata.Get(transport.MetadataKeyKey)
		transport.SetPosition(msg, 0, offset, []byte(key))
		offset++
	}
	if err := p.next.Publish(topic, messages...); err != nil {
		return err
	}

	p.mu.Lock()
	p.offsets[topic] = offset
	p.mu.Unlock()
	return nil
}

func (p *SequencingPublisher) Close() error {
	return p.next.Close()
}
