// Command entity-producer serves POST /entity and publishes an
// entity-created event for every entity it creates.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/protoroute/internal/api"
	"github.com/drblury/protoroute/internal/runtime"
	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	transportpkg "github.com/drblury/protoroute/internal/runtime/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := configpkg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return err
	}

	logger := loggingpkg.NewSlogServiceLogger(loggingpkg.NewJSONLogger(os.Stdout, conf.LogLevel))
	logger.Info("Starting entity producer", loggingpkg.LogFields{"config": conf.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := transportpkg.DefaultFactory().Build(ctx, conf, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	// Only the publishing side is used.
	if tr.Subscriber != nil {
		_ = tr.Subscriber.Close()
	}

	producer := runtime.NewProducer(tr.Publisher)
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close producer", err, nil)
		}
	}()

	return api.NewServer(producer, logger, conf.APIPort).Run(ctx)
}
