package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	errspkg "github.com/drblury/protoroute/internal/runtime/errors"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
	"github.com/drblury/protoroute/internal/runtime/routing"
	transportpkg "github.com/drblury/protoroute/internal/runtime/transport"
	"github.com/drblury/protoroute/transport"
)

const (
	routerCloseTimeout  = 30 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Hooks run after the built-in logging and metrics hooks.
	Hooks RouteHooks
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service consumes every bound topic through a Watermill router and hands
// each message to the Dispatcher.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger   watermill.LoggerAdapter
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	caps       transport.Capabilities

	routes     *routing.Router
	dispatcher *Dispatcher
	metrics    *RouteMetrics
	registerer prometheus.Registerer

	mu         sync.Mutex
	running    bool
	runCtx     context.Context
	subscribed map[string]bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Register
// routes on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, &errspkg.ConfigValidationError{Err: err}
	}
	if log == nil {
		log = loggingpkg.NopLogger()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddPlugin(plugin.SignalsHandler)

	registerer := deps.MetricsRegisterer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	routeMetrics := NewRouteMetrics(registerer)
	if conf.MetricsEnabled {
		if err := routeMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register route metrics: %w", err)
		}
	}

	routes := routing.NewRouter(nil, nil, routing.WithHandlerTimeout(conf.HandlerTimeout))
	hooks := LoggingHooks(log).Merge(MetricsHooks(routeMetrics)).Merge(deps.Hooks)

	s := &Service{
		Conf:       conf,
		Logger:     log,
		wmLogger:   wmLogger,
		publisher:  tr.Publisher,
		subscriber: tr.Subscriber,
		router:     router,
		caps:       transportpkg.Capabilities(conf),
		routes:     routes,
		dispatcher: NewDispatcher(routes, NewClassifier(conf), hooks, WithHaltBackoff(conf.EffectiveHaltBackoff())),
		metrics:    routeMetrics,
		registerer: registerer,
		subscribed: make(map[string]bool),
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	s.registerStatusHandler()
	s.warnOnWeakHalt()

	return s, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

// warnOnWeakHalt logs when halting cannot hold a partition on this transport.
func (s *Service) warnOnWeakHalt() {
	if s.caps.CanHoldPartition() {
		return
	}
	if s.Conf.EffectiveUnroutablePolicy() == configpkg.UnroutableHalt || s.Conf.DeadLetterTopic == "" {
		s.Logger.Info("Transport cannot hold a partition; halted messages are redelivered out of order", loggingpkg.LogFields{
			"pubsub_system": s.Conf.PubSubSystem,
		})
	}
}

// RegisterSchema binds the schema used to decode payloads on topic. A later
// registration for the same topic replaces the earlier one.
func (s *Service) RegisterSchema(topic string, schema routing.Schema) error {
	if err := s.ensureNotRunning(); err != nil {
		return err
	}
	return s.routes.Schemas().Register(topic, schema)
}

// RegisterHandler binds the handler for topic. A later registration for the
// same topic replaces the earlier one.
func (s *Service) RegisterHandler(topic string, handler routing.Handler) error {
	if err := s.ensureNotRunning(); err != nil {
		return err
	}
	return s.routes.Handlers().Register(topic, handler)
}

// RegisterRoute binds both the schema and the handler of a topic.
func (s *Service) RegisterRoute(binding routing.Binding) error {
	if err := binding.Schema.Validate(); err != nil {
		return err
	}
	if binding.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if err := s.RegisterSchema(binding.Topic, binding.Schema); err != nil {
		return err
	}
	return s.RegisterHandler(binding.Topic, binding.Handler)
}

// Reload replaces every binding at once. Messages in flight finish with the
// bindings they started with. New topics are subscribed immediately when the
// service is running; topics that disappear stay subscribed and their
// messages become unroutable.
func (s *Service) Reload(bindings []routing.Binding) error {
	schemas, handlers, err := routing.BuildRegistries(bindings)
	if err != nil {
		return err
	}
	if err := routing.CheckComplete(schemas, handlers); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes.Swap(schemas, handlers)
	s.Logger.Info("Routes reloaded", loggingpkg.LogFields{"topics": schemas.Topics()})

	if !s.running {
		return nil
	}
	added := false
	for _, topic := range schemas.Topics() {
		if s.subscribeLocked(topic) {
			added = true
		}
	}
	if added {
		return s.router.RunHandlers(s.runCtx)
	}
	return nil
}

func (s *Service) ensureNotRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: use Reload to change routes", errspkg.ErrAlreadyRunning)
	}
	return nil
}

// subscribeLocked adds the watermill handler for topic. It reports whether a
// handler was added.
func (s *Service) subscribeLocked(topic string) bool {
	if s.subscribed[topic] {
		return false
	}
	s.router.AddNoPublisherHandler("route:"+topic, topic, s.subscriber, s.dispatcher.HandlerFor(topic))
	s.subscribed[topic] = true
	return true
}

// Start subscribes to every bound topic and runs until ctx is cancelled or
// the router stops. It refuses to start while a topic has only a schema or
// only a handler.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.prepareStart(runCtx); err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return routerRun(s.router, gctx)
	})
	if starter, ok := s.subscriber.(transport.ServerStarter); ok {
		s.startTransportServer(g, gctx, starter)
	}
	s.startHTTPServers(g, gctx)

	return g.Wait()
}

func (s *Service) prepareStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errspkg.ErrAlreadyRunning
	}
	if err := routing.CheckComplete(s.routes.Schemas(), s.routes.Handlers()); err != nil {
		return err
	}
	topics := s.routes.Topics()
	if len(topics) == 0 {
		return errspkg.ErrNoRoutes
	}
	for _, topic := range topics {
		s.subscribeLocked(topic)
	}

	s.running = true
	s.runCtx = ctx
	s.Logger.Info("Starting event service", loggingpkg.LogFields{
		"topics":            topics,
		"dead_letter_topic": s.Conf.DeadLetterTopic,
		"unroutable_policy": string(s.Conf.EffectiveUnroutablePolicy()),
	})
	return nil
}

// startTransportServer starts a subscriber that serves inbound traffic itself
// once all topics are subscribed.
func (s *Service) startTransportServer(g *errgroup.Group, ctx context.Context, starter transport.ServerStarter) {
	g.Go(func() error {
		select {
		case <-s.router.Running():
		case <-ctx.Done():
			return nil
		}
		go func() {
			<-ctx.Done()
			_ = s.subscriber.Close()
		}()
		if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("transport server: %w", err)
		}
		return nil
	})
}

// Running is closed once the router has started consuming.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the transport.
func (s *Service) Close() error {
	var errs []error
	if err := s.router.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher exposes the transport publisher.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Routes exposes the message router and its current bindings.
func (s *Service) Routes() *routing.Router { return s.routes }

// Dispatcher exposes the dispatcher consuming every topic.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// Metrics exposes the per-topic routing metrics.
func (s *Service) Metrics() *RouteMetrics { return s.metrics }

// RegisterHTTPHandler serves handler on port once the service starts.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(g *errgroup.Group, ctx context.Context) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
}
