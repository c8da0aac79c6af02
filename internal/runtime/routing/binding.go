package routing

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
)

// Binding pairs a topic with its schema and handler.
type Binding struct {
	Topic   string
	Schema  Schema
	Handler Handler
}

// BuildRegistries creates fresh registries from bindings. Later bindings for
// the same topic replace earlier ones.
func BuildRegistries(bindings []Binding) (*SchemaRegistry, *HandlerRegistry, error) {
	schemas := NewSchemaRegistry()
	handlers := NewHandlerRegistry()

	for i, b := range bindings {
		if err := schemas.Register(b.Topic, b.Schema); err != nil {
			return nil, nil, fmt.Errorf("binding %d (%q): %w", i, b.Topic, err)
		}
		if err := handlers.Register(b.Topic, b.Handler); err != nil {
			return nil, nil, fmt.Errorf("binding %d (%q): %w", i, b.Topic, err)
		}
	}
	return schemas, handlers, nil
}

// CheckComplete fails when any topic is bound in only one registry.
func CheckComplete(schemas *SchemaRegistry, handlers *HandlerRegistry) error {
	incomplete := IncompleteTopics(schemas, handlers)
	if len(incomplete) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", errspkg.ErrIncompleteBindings, strings.Join(incomplete, ", "))
}
