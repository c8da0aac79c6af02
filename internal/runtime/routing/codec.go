package routing

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
	"github.com/drblury/protoroute/internal/runtime/jsoncodec"
)

// ValidateFunc checks a freshly decoded value.
type ValidateFunc func(value any) error

// CodecOption tunes the schemas built by ProtoSchema and JSONSchema.
type CodecOption func(*codecOptions)

type codecOptions struct {
	typeName string
	validate ValidateFunc
}

// WithTypeName overrides the schema type name.
func WithTypeName(name string) CodecOption {
	return func(o *codecOptions) { o.typeName = name }
}

// WithValidation runs validate on every decoded value. A validation error is
// reported as a decode failure.
func WithValidation(validate ValidateFunc) CodecOption {
	return func(o *codecOptions) { o.validate = validate }
}

func applyCodecOptions(opts []CodecOption) codecOptions {
	var o codecOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// ProtoValue is the Value produced by ProtoSchema.
type ProtoValue struct {
	Message  proto.Message
	typeName string
}

func (v ProtoValue) TypeName() string { return v.typeName }

// ProtoSchema decodes binary protobuf payloads into fresh instances of the
// prototype's message type. Generated and dynamic messages are both
// supported. The type name defaults to the message's full name.
func ProtoSchema(prototype proto.Message, opts ...CodecOption) (Schema, error) {
	if prototype == nil {
		return Schema{}, errspkg.ErrSchemaRequired
	}

	o := applyCodecOptions(opts)
	msgType := prototype.ProtoReflect().Type()
	typeName := o.typeName
	if typeName == "" {
		typeName = string(msgType.Descriptor().FullName())
	}

	return Schema{
		TypeName: typeName,
		Decode: func(payload []byte) (Value, error) {
			msg := msgType.New().Interface()
			if err := proto.Unmarshal(payload, msg); err != nil {
				return nil, err
			}
			if o.validate != nil {
				if err := o.validate(msg); err != nil {
					return nil, fmt.Errorf("validate %s: %w", typeName, err)
				}
			}
			return ProtoValue{Message: msg, typeName: typeName}, nil
		},
	}, nil
}

// MustProtoSchema is like ProtoSchema but panics on error.
func MustProtoSchema(prototype proto.Message, opts ...CodecOption) Schema {
	schema, err := ProtoSchema(prototype, opts...)
	if err != nil {
		panic(err)
	}
	return schema
}

// JSONSchema decodes JSON payloads into T. T's zero value supplies the type
// name unless WithTypeName is given.
func JSONSchema[T Value](opts ...CodecOption) Schema {
	o := applyCodecOptions(opts)
	typeName := o.typeName
	if typeName == "" {
		var zero T
		typeName = zero.TypeName()
	}

	return Schema{
		TypeName: typeName,
		Decode: func(payload []byte) (Value, error) {
			var value T
			if err := jsoncodec.Unmarshal(payload, &value); err != nil {
				return nil, err
			}
			if o.validate != nil {
				if err := o.validate(value); err != nil {
					return nil, fmt.Errorf("validate %s: %w", typeName, err)
				}
			}
			return value, nil
		},
	}
}
