package protoroute

import (
	runtimepkg "github.com/drblury/protoroute/internal/runtime"
	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
	idspkg "github.com/drblury/protoroute/internal/runtime/ids"
	jsoncodec "github.com/drblury/protoroute/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	metadatapkg "github.com/drblury/protoroute/internal/runtime/metadata"
	"github.com/drblury/protoroute/internal/runtime/routing"
	transportpkg "github.com/drblury/protoroute/internal/runtime/transport"
	newtransport "github.com/drblury/protoroute/transport"
)

type (
	Config               = configpkg.Config
	UnroutablePolicy     = configpkg.UnroutablePolicy
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	// Routing
	Value                = routing.Value
	Schema               = routing.Schema
	DecodeFunc           = routing.DecodeFunc
	Handler              = routing.Handler
	HandlerFunc          = routing.HandlerFunc
	Binding              = routing.Binding
	InboundMessage       = routing.InboundMessage
	DecodedEvent         = routing.DecodedEvent
	Position             = routing.Position
	SchemaRegistry       = routing.SchemaRegistry
	HandlerRegistry      = routing.HandlerRegistry
	Router               = routing.Router
	RouterOption         = routing.Option
	EventMux             = routing.EventMux
	ProtoValue           = routing.ProtoValue
	CodecOption          = routing.CodecOption
	ValidateFunc         = routing.ValidateFunc
	UnroutableTopicError = routing.UnroutableTopicError
	DecodeFailureError   = routing.DecodeFailureError
	HandlerFailureError  = routing.HandlerFailureError
	PanicError           = routing.PanicError

	// Dispatch
	Dispatcher       = runtimepkg.Dispatcher
	DispatcherOption = runtimepkg.DispatcherOption
	Outcome          = runtimepkg.Outcome
	Classifier       = runtimepkg.Classifier
	RouteContext     = runtimepkg.RouteContext
	RouteHooks       = runtimepkg.RouteHooks
	RouteMetrics     = runtimepkg.RouteMetrics
	TopicStats       = runtimepkg.TopicStats
	StatusReport     = runtimepkg.StatusReport
	RouteStatus      = runtimepkg.RouteStatus

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer          = runtimepkg.Producer
	OutboundEvent     = runtimepkg.OutboundEvent
	TransportProducer = runtimepkg.TransportProducer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Transports
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

const (
	OutcomeAck        = runtimepkg.OutcomeAck
	OutcomeRetry      = runtimepkg.OutcomeRetry
	OutcomeDeadLetter = runtimepkg.OutcomeDeadLetter
	OutcomeHalt       = runtimepkg.OutcomeHalt

	UnroutableDeadLetter = configpkg.UnroutableDeadLetter
	UnroutableHalt       = configpkg.UnroutableHalt

	// EventTypeHeader is the header handlers dispatch on.
	EventTypeHeader = routing.EventTypeHeader
	// MetadataKeyCorrelationID is the correlation identifier header.
	MetadataKeyCorrelationID = runtimepkg.MetadataKeyCorrelationID

	MetadataKeyOriginalTopic     = runtimepkg.MetadataKeyOriginalTopic
	MetadataKeyOriginalPartition = runtimepkg.MetadataKeyOriginalPartition
	MetadataKeyOriginalOffset    = runtimepkg.MetadataKeyOriginalOffset
	MetadataKeyOriginalKey       = runtimepkg.MetadataKeyOriginalKey
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewSchemaRegistry  = routing.NewSchemaRegistry
	NewHandlerRegistry = routing.NewHandlerRegistry
	NewRouter          = routing.NewRouter
	WithHandlerTimeout = routing.WithHandlerTimeout
	NewEventMux        = routing.NewEventMux
	BuildRegistries    = routing.BuildRegistries
	CheckComplete      = routing.CheckComplete
	BoundTopics        = routing.BoundTopics
	ProtoSchema        = routing.ProtoSchema
	MustProtoSchema    = routing.MustProtoSchema
	WithTypeName       = routing.WithTypeName
	WithValidation     = routing.WithValidation

	NewDispatcher       = runtimepkg.NewDispatcher
	WithHaltBackoff     = runtimepkg.WithHaltBackoff
	NewClassifier       = runtimepkg.NewClassifier
	InboundFromMessage  = runtimepkg.InboundFromMessage
	NewRouteMetrics     = runtimepkg.NewRouteMetrics
	LoggingHooks        = runtimepkg.LoggingHooks
	MetricsHooks        = runtimepkg.MetricsHooks
	NewMessageFromEvent = runtimepkg.NewMessageFromEvent
	PublishEvent        = runtimepkg.PublishEvent
	NewProducer         = runtimepkg.NewProducer

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	DefaultTransportFactory = transportpkg.DefaultFactory
	StaticTransport         = transportpkg.Static

	// Use RegisterTransport and BuildTransport to work with the transport
	// packages. Import transports individually, for example
	// _ "github.com/drblury/protoroute/transport/kafka", or all of them via
	// transport/transports.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrUnroutableTopic = routing.ErrUnroutableTopic
	ErrDecodeFailure   = routing.ErrDecodeFailure
	ErrHandlerFailure  = routing.ErrHandlerFailure
	ErrHandlerTimeout  = routing.ErrHandlerTimeout
	ErrTypeMismatch    = routing.ErrTypeMismatch
	ErrSkip            = routing.ErrSkip

	ErrServiceRequired        = errspkg.ErrServiceRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrTopicRequired          = errspkg.ErrTopicRequired
	ErrSchemaRequired         = errspkg.ErrSchemaRequired
	ErrSchemaTypeNameRequired = errspkg.ErrSchemaTypeNameRequired
	ErrDecoderRequired        = errspkg.ErrDecoderRequired
	ErrPublisherRequired      = errspkg.ErrPublisherRequired
	ErrEventPayloadRequired   = errspkg.ErrEventPayloadRequired
	ErrEventTypeRequired      = errspkg.ErrEventTypeRequired
	ErrIncompleteBindings     = errspkg.ErrIncompleteBindings
	ErrAlreadyRunning         = errspkg.ErrAlreadyRunning
	ErrNoRoutes               = errspkg.ErrNoRoutes

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewJSONLogger             = loggingpkg.NewJSONLogger
	NopLogger                 = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// JSONSchema decodes JSON payloads into T.
func JSONSchema[T Value](opts ...CodecOption) Schema {
	return routing.JSONSchema[T](opts...)
}
