// Package api serves the HTTP endpoint that creates entities and publishes
// their entity-created events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/drblury/protoroute/internal/entity"
	"github.com/drblury/protoroute/internal/runtime"
	"github.com/drblury/protoroute/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
)

const shutdownTimeout = 30 * time.Second

// CreateEntityRequest is the body of POST /entity.
type CreateEntityRequest struct {
	Name string `json:"name" validate:"required,max=256"`
}

// CreateEntityResponse is returned once the event was published.
type CreateEntityResponse struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ErrorResponse carries the reason a request failed.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server publishes an entity-created event for every created entity.
type Server struct {
	producer runtime.Producer
	logger   loggingpkg.ServiceLogger
	validate *validator.Validate
	port     int
}

// NewServer returns a server listening on port once Run is called.
func NewServer(producer runtime.Producer, logger loggingpkg.ServiceLogger, port int) *Server {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &Server{
		producer: producer,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		port:     port,
	}
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /entity", s.createEntity)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", loggingpkg.LogFields{"address": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unable to parse JSON: %v", err)})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	e := entity.New(req.Name)
	event := entity.CreatedEvent(e)
	if err := s.producer.PublishEvent(r.Context(), entity.Topic, event); err != nil {
		s.logger.Error("Failed to publish entity", err, loggingpkg.LogFields{"entity_id": e.ID})
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "failed to publish entity"})
		return
	}

	s.logger.Info("Entity published", loggingpkg.LogFields{
		"entity_id": e.ID,
		"key":       event.Key,
		"topic":     entity.Topic,
	})
	writeJSON(w, http.StatusOK, CreateEntityResponse{ID: e.ID, Key: event.Key, Message: "entity created"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, body)
}
