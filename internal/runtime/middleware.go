package runtime

import (
	"errors"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	idspkg "github.com/drblury/protoroute/internal/runtime/ids"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	metadatapkg "github.com/drblury/protoroute/internal/runtime/metadata"
	"github.com/drblury/protoroute/transport"
)

// Dead letters carry where they were consumed. The transport overwrites the
// position keys when the dead-letter topic is published or consumed.
const (
	MetadataKeyOriginalTopic     = "original_topic"
	MetadataKeyOriginalPartition = "original_partition"
	MetadataKeyOriginalOffset    = "original_offset"
	MetadataKeyOriginalKey       = "original_key"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the standard middleware chain. The first entry
// is the outermost: dead-lettering sees an error only once retries are done.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		MetricsMiddleware(),
		PoisonQueueMiddleware(),
		RetryMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds watermill's Prometheus router metrics and exposes
// /metrics on the configured port.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				metricsNamespace,
				s.Conf.PubSubSystem,
			)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the metadata of handled messages at trace level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// RetryMiddleware retries handler failures with exponential backoff using the
// retry settings from the service config. Decode failures and unroutable
// messages are never retried.
func RetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			cfg := RetryMiddlewareConfig{
				MaxRetries:      s.Conf.RetryMaxRetries,
				InitialInterval: s.Conf.RetryInitialInterval,
				MaxInterval:     s.Conf.RetryMaxInterval,
			}
			return retryMiddleware(cfg, s.dispatcher.Classifier(), s.wmLogger), nil
		},
	}
}

// PoisonQueueMiddleware publishes messages classified as OutcomeDeadLetter to
// the configured dead-letter topic and acknowledges them. Without a
// dead-letter topic it is not installed.
func PoisonQueueMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf.DeadLetterTopic == "" {
				return nil, nil
			}
			if s.publisher == nil {
				return nil, errors.New("publisher is required for poison queue middleware")
			}
			classifier := s.dispatcher.Classifier()
			deadLetter := func(err error) bool { return classifier.Classify(err) == OutcomeDeadLetter }
			poisonQueue, err := middleware.PoisonQueueWithFilter(s.publisher, s.Conf.DeadLetterTopic, deadLetter)
			if err != nil {
				return nil, err
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return poisonQueue(stampOrigin(h, deadLetter))
			}, nil
		},
	}
}

// stampOrigin copies the consumed position into the original_* keys of
// messages that are about to be dead-lettered.
func stampOrigin(h message.HandlerFunc, deadLetter func(error) bool) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err != nil && deadLetter(err) {
			md := metadatapkg.FromWatermill(msg.Metadata).WithAll(originMetadata(msg))
			msg.Metadata = metadatapkg.ToWatermill(md)
		}
		return produced, err
	}
}

func originMetadata(msg *message.Message) metadatapkg.Metadata {
	partition, offset, key := transport.Position(msg.Metadata)
	origin := metadatapkg.New(MetadataKeyOriginalPartition, strconv.FormatInt(int64(partition), 10))
	if topic := message.SubscribeTopicFromCtx(msg.Context()); topic != "" {
		origin = origin.With(MetadataKeyOriginalTopic, topic)
	}
	if offset >= 0 {
		origin = origin.With(MetadataKeyOriginalOffset, strconv.FormatInt(offset, 10))
	}
	if len(key) > 0 {
		origin = origin.With(MetadataKeyOriginalKey, string(key))
	}
	return origin
}

// RecovererMiddleware converts panics escaping the dispatcher into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(MetadataKeyCorrelationID) == "" {
			msg.Metadata.Set(MetadataKeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Trace("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload_size": len(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func retryMiddleware(cfg RetryMiddlewareConfig, classifier Classifier, logger watermill.LoggerAdapter) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return classifier.Classify(params.Err) == OutcomeRetry
		},
		Logger: logger,
	}.Middleware
}
