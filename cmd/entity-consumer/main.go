// Command entity-consumer logs every entity-created event on entity-topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/protoroute/internal/entity"
	"github.com/drblury/protoroute/internal/runtime"
	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
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

	logger := loggingpkg.NewSlogServiceLogger(loggingpkg.NewJSONLogger(os.Stdout, conf.LogLevel))
	logger.Info("Starting entity consumer", loggingpkg.LogFields{"config": conf.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := runtime.NewService(conf, logger, ctx, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.RegisterRoute(entity.Binding(entity.NewService(logger))); err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Entity consumer stopped", nil)
	return nil
}
