// Package entity holds the entity domain: its wire schema, the events
// published about it and the handler consuming them.
package entity

import (
	"github.com/go-playground/validator/v10"

	idspkg "github.com/drblury/protoroute/internal/runtime/ids"
)

const (
	// Topic carries every entity event.
	Topic = "entity-topic"
	// EventCreated is the eventType header of a newly created entity.
	EventCreated = "entity-created"
	// TypeName discriminates Entity among decoded values.
	TypeName = "entity"
	// KeyPrefix prefixes the partition keys of entity events.
	KeyPrefix = "entity"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Entity is the decoded form of entity.v1.Entity.
type Entity struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"max=256"`
}

func (Entity) TypeName() string { return TypeName }

// New returns an entity with a fresh random ID.
func New(name string) Entity {
	return Entity{ID: idspkg.NewEntityID(), Name: name}
}

// Validate checks the struct tags of e.
func (e Entity) Validate() error {
	return validate.Struct(e)
}
