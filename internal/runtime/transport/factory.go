package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/protoroute/internal/runtime/config"
	"github.com/drblury/protoroute/transport"

	// Registers every built-in transport.
	_ "github.com/drblury/protoroute/transport/transports"
)

var errConfigRequired = errors.New("config is required")

// Factory abstracts how the service initialises its message transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory builds the transport named by conf.PubSubSystem from the
// transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if conf == nil {
		return transport.Transport{}, errConfigRequired
	}
	return transport.Build(ctx, conf, logger)
}

// Static returns a factory handing out an already constructed transport, for
// example an in-memory pub/sub shared between a producer and a consumer.
func Static(t transport.Transport) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return t, nil
	})
}

// Capabilities returns what the configured transport supports.
func Capabilities(conf *config.Config) transport.Capabilities {
	if conf == nil {
		return transport.Capabilities{}
	}
	return transport.GetCapabilities(conf.PubSubSystem)
}
