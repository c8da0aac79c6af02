package entity

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/drblury/protoroute/internal/runtime/routing"
)

// FullName is the protobuf name of the entity message.
const FullName protoreflect.FullName = "entity.v1.Entity"

// descriptor mirrors:
//
//	syntax = "proto3";
//	package entity.v1;
//	message Entity {
//	  string id = 1;
//	  string name = 2;
//	}
var descriptor = mustDescriptor()

var (
	idField   = descriptor.Fields().ByNumber(1)
	nameField = descriptor.Fields().ByNumber(2)
)

func mustDescriptor() protoreflect.MessageDescriptor {
	stringField := func(name string, number int32) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		}
	}

	file, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:    proto.String("entity/v1/entity.proto"),
		Package: proto.String("entity.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Entity"),
			Field: []*descriptorpb.FieldDescriptorProto{
				stringField("id", 1),
				stringField("name", 2),
			},
		}},
	}, nil)
	if err != nil {
		panic(fmt.Sprintf("entity: build descriptor: %v", err))
	}
	return file.Messages().ByName("Entity")
}

// Descriptor returns the message descriptor of entity.v1.Entity.
func Descriptor() protoreflect.MessageDescriptor { return descriptor }

// ToProto converts e into an entity.v1.Entity message.
func ToProto(e Entity) proto.Message {
	msg := dynamicpb.NewMessage(descriptor)
	msg.Set(idField, protoreflect.ValueOfString(e.ID))
	msg.Set(nameField, protoreflect.ValueOfString(e.Name))
	return msg
}

// FromProto reads an entity.v1.Entity message, generated or dynamic.
func FromProto(msg proto.Message) (Entity, error) {
	if msg == nil {
		return Entity{}, fmt.Errorf("entity: nil message")
	}
	m := msg.ProtoReflect()
	if got := m.Descriptor().FullName(); got != FullName {
		return Entity{}, fmt.Errorf("entity: unexpected message %s", got)
	}
	fields := m.Descriptor().Fields()
	return Entity{
		ID:   m.Get(fields.ByNumber(1)).String(),
		Name: m.Get(fields.ByNumber(2)).String(),
	}, nil
}

// Marshal encodes e in the binary protobuf wire format.
func Marshal(e Entity) ([]byte, error) {
	return proto.Marshal(ToProto(e))
}

// Unmarshal decodes a binary entity.v1.Entity without validating it.
func Unmarshal(payload []byte) (Entity, error) {
	msg := dynamicpb.NewMessage(descriptor)
	if err := proto.Unmarshal(payload, msg); err != nil {
		return Entity{}, err
	}
	return FromProto(msg)
}

// Decode is the schema decoder of entity-topic. Entities without an ID are
// rejected.
func Decode(payload []byte) (routing.Value, error) {
	e, err := Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("validate entity: %w", err)
	}
	return e, nil
}

// Schema returns the schema bound to entity-topic.
func Schema() routing.Schema {
	return routing.Schema{TypeName: TypeName, Decode: Decode}
}
