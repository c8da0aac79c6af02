package routing

import (
	"slices"
	"sync"

	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
)

// DecodeFunc turns raw payload bytes into a domain value. It must be pure:
// malformed input yields an error, never a partially populated value.
type DecodeFunc func(payload []byte) (Value, error)

// Schema describes how a topic's payload is decoded.
type Schema struct {
	// TypeName is the expected Value.TypeName of decoded values.
	TypeName string
	Decode   DecodeFunc
}

// Validate reports whether the schema can be registered.
func (s Schema) Validate() error {
	if s.TypeName == "" {
		return errspkg.ErrSchemaTypeNameRequired
	}
	if s.Decode == nil {
		return errspkg.ErrDecoderRequired
	}
	return nil
}

// SchemaRegistry maps topics to schemas. Safe for concurrent use.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]Schema)}
}

// Register binds schema to topic, replacing any previous binding.
func (r *SchemaRegistry) Register(topic string, schema Schema) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if err := schema.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[topic] = schema
	return nil
}

// Resolve returns the schema bound to topic.
func (r *SchemaRegistry) Resolve(topic string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[topic]
	return schema, ok
}

// Topics returns the bound topics in sorted order.
func (r *SchemaRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.schemas))
	for topic := range r.schemas {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// Len returns the number of bound topics.
func (r *SchemaRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Clone returns an independent copy of the registry.
func (r *SchemaRegistry) Clone() *SchemaRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := NewSchemaRegistry()
	for topic, schema := range r.schemas {
		clone.schemas[topic] = schema
	}
	return clone
}
