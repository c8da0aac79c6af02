package runtime

import (
	"net/http"

	"github.com/drblury/protoroute/internal/runtime/jsoncodec"
	"github.com/drblury/protoroute/internal/runtime/routing"
)

// RouteStatus describes one bound topic.
type RouteStatus struct {
	Topic    string      `json:"topic"`
	TypeName string      `json:"type_name"`
	Stats    *TopicStats `json:"stats,omitempty"`
}

// StatusReport is served on /routes.
type StatusReport struct {
	Running          bool          `json:"running"`
	PubSubSystem     string        `json:"pubsub_system"`
	DeadLetterTopic  string        `json:"dead_letter_topic,omitempty"`
	UnroutablePolicy string        `json:"unroutable_policy"`
	Routes           []RouteStatus `json:"routes"`
	Incomplete       []string      `json:"incomplete,omitempty"`
}

// Status returns the current bindings together with their outcome counters.
func (s *Service) Status() StatusReport {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	schemas, handlers := s.routes.Snapshot()
	routes := make([]RouteStatus, 0, max(schemas.Len(), handlers.Len()))
	for _, topic := range routing.BoundTopics(schemas, handlers) {
		rs := RouteStatus{Topic: topic, Stats: s.metrics.Topic(topic)}
		if schema, ok := schemas.Resolve(topic); ok {
			rs.TypeName = schema.TypeName
		}
		routes = append(routes, rs)
	}

	return StatusReport{
		Running:          running,
		PubSubSystem:     s.Conf.PubSubSystem,
		DeadLetterTopic:  s.Conf.DeadLetterTopic,
		UnroutablePolicy: string(s.Conf.EffectiveUnroutablePolicy()),
		Routes:           routes,
		Incomplete:       routing.IncompleteTopics(schemas, handlers),
	}
}

// registerStatusHandler serves /routes next to /metrics.
func (s *Service) registerStatusHandler() {
	if !s.Conf.MetricsEnabled || s.Conf.MetricsPort == 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/routes", http.HandlerFunc(s.handleGetRoutes))
}

func (s *Service) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode route status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
