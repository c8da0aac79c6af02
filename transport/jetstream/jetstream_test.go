package jetstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protoroute/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	t.Cleanup(func() { transport.DefaultRegistry = original })

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.CanHoldPartition())
	assert.True(t, caps.SupportsPosition)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.NATSJetStreamCapabilities, Capabilities())
}

func TestConfigWithDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg := Config{}.withDefaults()
		assert.Equal(t, DefaultStreamName, cfg.StreamName)
		assert.Equal(t, "protoroute", cfg.ConsumerGroup)
		assert.Equal(t, DefaultAckWait, cfg.AckWait)
		assert.Equal(t, 1, cfg.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{StreamName: "EVENTS", ConsumerGroup: "billing", AckWait: time.Minute, Replicas: 3}.withDefaults()
		assert.Equal(t, "EVENTS", cfg.StreamName)
		assert.Equal(t, "billing", cfg.ConsumerGroup)
		assert.Equal(t, time.Minute, cfg.AckWait)
		assert.Equal(t, 3, cfg.Replicas)
	})
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, errURLRequired)
}

func TestBuildRequiresURL(t *testing.T) {
	_, err := Build(context.Background(), urlConfig{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, errURLRequired)
}

type urlConfig struct {
	transport.Config
}

func (urlConfig) GetNATSURL() string       { return "" }
func (urlConfig) GetConsumerGroup() string { return "" }

func TestSubjectAndDurableName(t *testing.T) {
	assert.Equal(t, "PROTOROUTE.entity-topic", Subject(DefaultStreamName, "entity-topic"))
	assert.Equal(t, "billing_orders_v1", DurableName("billing", "orders.v1"))
	assert.Equal(t, "g_a_b_c", DurableName("g", "a*b>c"))
}

func TestToNATS(t *testing.T) {
	msg := message.NewMessage("uuid-1", []byte("payload"))
	msg.Metadata.Set("eventType", "entity-created")
	transport.SetPosition(msg, 2, 40, []byte("entity-1"))

	natsMsg := toNATS("PROTOROUTE.entity-topic", "entity-topic", msg)

	assert.Equal(t, "PROTOROUTE.entity-topic", natsMsg.Subject)
	assert.Equal(t, []byte("payload"), natsMsg.Data)
	assert.Equal(t, "entity-created", natsMsg.Header.Get("eventType"))
	assert.Equal(t, "entity-1", natsMsg.Header.Get(transport.MetadataKeyKey))
	assert.Equal(t, "uuid-1", natsMsg.Header.Get(HeaderUUID))
	assert.Equal(t, "entity-topic/uuid-1", natsMsg.Header.Get(nats.MsgIdHdr))
	assert.Empty(t, natsMsg.Header.Get(transport.MetadataKeyPartition))
	assert.Empty(t, natsMsg.Header.Get(transport.MetadataKeyOffset))
}

func TestToMessage(t *testing.T) {
	natsMsg := toNATS("PROTOROUTE.entity-topic", "entity-topic", func() *message.Message {
		msg := message.NewMessage("uuid-1", []byte("payload"))
		msg.Metadata.Set("eventType", "entity-created")
		transport.SetKey(msg, "entity-1")
		return msg
	}())

	msg := toMessage(natsMsg, 17)

	require.Equal(t, "uuid-1", msg.UUID)
	assert.Equal(t, []byte("payload"), []byte(msg.Payload))
	assert.Equal(t, "entity-created", msg.Metadata.Get("eventType"))
	assert.Empty(t, msg.Metadata.Get(HeaderUUID))
	assert.Empty(t, msg.Metadata.Get(nats.MsgIdHdr))

	partition, offset, key := transport.Position(msg.Metadata)
	assert.Equal(t, int32(0), partition)
	assert.Equal(t, int64(17), offset)
	assert.Equal(t, []byte("entity-1"), key)
}

func TestToMessageWithoutUUIDHeader(t *testing.T) {
	msg := toMessage(&nats.Msg{Data: []byte("x")}, 3)
	assert.NotEmpty(t, msg.UUID)
	_, offset, key := transport.Position(msg.Metadata)
	assert.Equal(t, int64(3), offset)
	assert.Nil(t, key)
}
