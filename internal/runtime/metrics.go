package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/protoroute/internal/runtime/routing"
)

const metricsNamespace = "protoroute"

// RouteMetrics counts routing outcomes per topic.
type RouteMetrics struct {
	mu     sync.RWMutex
	topics map[string]*TopicStats

	messagesTotal     *prometheus.CounterVec
	routeDuration     *prometheus.HistogramVec
	deadLetteredTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// TopicStats is a point-in-time view of one topic's outcomes.
type TopicStats struct {
	Acked        uint64    `json:"acked"`
	Retried      uint64    `json:"retried"`
	DeadLettered uint64    `json:"dead_lettered"`
	Halted       uint64    `json:"halted"`
	LastOutcome  string    `json:"last_outcome"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// NewRouteMetrics creates the collectors. Nothing is registered until
// Register is called, so tests can use unregistered instances.
func NewRouteMetrics(registerer prometheus.Registerer) *RouteMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RouteMetrics{
		topics:     make(map[string]*TopicStats),
		registerer: registerer,
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Routed messages by topic and outcome.",
		}, []string{"topic", "outcome"}),
		routeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "router",
			Name:      "route_duration_seconds",
			Help:      "Time spent decoding and handling a message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic", "outcome"}),
		deadLetteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Messages forwarded to the dead-letter topic by reason.",
		}, []string{"topic", "reason"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *RouteMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.messagesTotal, m.routeDuration, m.deadLetteredTotal} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Observe records one routing attempt.
func (m *RouteMetrics) Observe(topic string, outcome Outcome, duration time.Duration) {
	label := outcome.String()
	m.messagesTotal.WithLabelValues(topic, label).Inc()
	m.routeDuration.WithLabelValues(topic, label).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.topics[topic]
	if !ok {
		stats = &TopicStats{}
		m.topics[topic] = stats
	}
	switch outcome {
	case OutcomeAck:
		stats.Acked++
	case OutcomeRetry:
		stats.Retried++
	case OutcomeDeadLetter:
		stats.DeadLettered++
	case OutcomeHalt:
		stats.Halted++
	}
	stats.LastOutcome = label
	stats.LastSeenAt = time.Now()
}

// DeadLettered counts a message forwarded to the dead-letter topic.
func (m *RouteMetrics) DeadLettered(topic string, err error) {
	m.deadLetteredTotal.WithLabelValues(topic, deadLetterReason(err)).Inc()
}

// Topic returns a copy of the stats for topic, or nil when nothing was seen.
func (m *RouteMetrics) Topic(topic string) *TopicStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats, ok := m.topics[topic]
	if !ok {
		return nil
	}
	cp := *stats
	return &cp
}

// Snapshot returns copies of all per-topic stats.
func (m *RouteMetrics) Snapshot() map[string]TopicStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]TopicStats, len(m.topics))
	for topic, stats := range m.topics {
		out[topic] = *stats
	}
	return out
}

func deadLetterReason(err error) string {
	switch {
	case errors.Is(err, routing.ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(err, routing.ErrUnroutableTopic):
		return "unroutable"
	default:
		return "other"
	}
}
