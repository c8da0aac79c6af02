// Package transport defines the interfaces shared by protoroute transports.
// Each broker implementation lives in its own sub-package and registers a
// Builder with the transport registry.
package transport

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. Transports only depend on
// this interface, not on the full config package.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// SQL queues
	GetPostgresURL() string
	GetSQLiteFile() string
}

// ServerStarter is implemented by subscribers that serve inbound traffic
// themselves. The server must start only after every topic is subscribed.
type ServerStarter interface {
	StartHTTPServer() error
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Metadata keys carrying the broker position of a consumed message. Transports
// that know where a message came from set them; the dispatcher reads them back
// and strips them from the headers handed to handlers.
const (
	MetadataKeyPartition = "protoroute_partition"
	MetadataKeyOffset    = "protoroute_offset"
	MetadataKeyKey       = "protoroute_key"
)

// SetPosition records partition, offset and key on msg.
func SetPosition(msg *message.Message, partition int32, offset int64, key []byte) {
	msg.Metadata.Set(MetadataKeyPartition, strconv.FormatInt(int64(partition), 10))
	msg.Metadata.Set(MetadataKeyOffset, strconv.FormatInt(offset, 10))
	if len(key) > 0 {
		msg.Metadata.Set(MetadataKeyKey, string(key))
	}
}

// SetKey sets the partition key used when publishing msg.
func SetKey(msg *message.Message, key string) {
	if key != "" {
		msg.Metadata.Set(MetadataKeyKey, key)
	}
}

// Position reads what SetPosition stored. Missing or unparsable values are
// reported as zero and, for the offset, -1.
func Position(md message.Metadata) (partition int32, offset int64, key []byte) {
	offset = -1
	if v := md.Get(MetadataKeyPartition); v != "" {
		if p, err := strconv.ParseInt(v, 10, 32); err == nil {
			partition = int32(p)
		}
	}
	if v := md.Get(MetadataKeyOffset); v != "" {
		if o, err := strconv.ParseInt(v, 10, 64); err == nil {
			offset = o
		}
	}
	if v := md.Get(MetadataKeyKey); v != "" {
		key = []byte(v)
	}
	return partition, offset, key
}

// IsPositionKey reports whether key is one of the position metadata keys.
func IsPositionKey(key string) bool {
	switch key {
	case MetadataKeyPartition, MetadataKeyOffset, MetadataKeyKey:
		return true
	}
	return false
}
