package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/protoroute/internal/runtime/logging"
)

// RouteContext describes one routing attempt to hooks.
type RouteContext struct {
	Topic         string
	Partition     int32
	Offset        int64
	Key           []byte
	EventType     string
	MessageUUID   string
	CorrelationID string
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when routing started.
	StartedAt time.Time
	// Duration and Outcome are only set in OnRouted and OnFailed.
	Duration time.Duration
	Outcome  Outcome
	// Skipped is set when the handler declined the event with routing.ErrSkip.
	Skipped bool
}

// Fields returns the structured log fields identifying the message.
func (c RouteContext) Fields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"topic":        c.Topic,
		"partition":    c.Partition,
		"offset":       c.Offset,
		"event_type":   c.EventType,
		"message_uuid": c.MessageUUID,
	}
	if len(c.Key) > 0 {
		fields["key"] = string(c.Key)
	}
	if c.CorrelationID != "" {
		fields["correlation_id"] = c.CorrelationID
	}
	return fields
}

// RouteHooks observe the dispatcher. All hooks are optional.
type RouteHooks struct {
	// OnReceived is called before the router runs.
	OnReceived func(ctx RouteContext)
	// OnRouted is called when the outcome is OutcomeAck.
	OnRouted func(ctx RouteContext)
	// OnFailed is called with the routing error for every other outcome.
	OnFailed func(ctx RouteContext, err error)
}

// Merge combines two RouteHooks. The hooks from other run after those of h.
func (h RouteHooks) Merge(other RouteHooks) RouteHooks {
	return RouteHooks{
		OnReceived: chain(h.OnReceived, other.OnReceived),
		OnRouted:   chain(h.OnRouted, other.OnRouted),
		OnFailed:   chainErr(h.OnFailed, other.OnFailed),
	}
}

func chain(a, b func(RouteContext)) func(RouteContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RouteContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(RouteContext, error)) func(RouteContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RouteContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h RouteHooks) received(ctx RouteContext) {
	if h.OnReceived != nil {
		h.OnReceived(ctx)
	}
}

func (h RouteHooks) finished(ctx RouteContext, err error) {
	if ctx.Outcome == OutcomeAck {
		if h.OnRouted != nil {
			h.OnRouted(ctx)
		}
		return
	}
	if h.OnFailed != nil {
		h.OnFailed(ctx, err)
	}
}

// LoggingHooks log every routing decision.
func LoggingHooks(logger loggingpkg.ServiceLogger) RouteHooks {
	return RouteHooks{
		OnReceived: func(ctx RouteContext) {
			logger.Trace("Routing message", ctx.Fields())
		},
		OnRouted: func(ctx RouteContext) {
			fields := ctx.Fields()
			fields["outcome"] = ctx.Outcome.String()
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			if ctx.Skipped {
				fields["skipped"] = true
			}
			logger.Debug("Message routed", fields)
		},
		OnFailed: func(ctx RouteContext, err error) {
			fields := ctx.Fields()
			fields["outcome"] = ctx.Outcome.String()
			fields["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Message routing failed", err, fields)
		},
	}
}

// MetricsHooks record every routing decision in m.
func MetricsHooks(m *RouteMetrics) RouteHooks {
	observe := func(ctx RouteContext) {
		m.Observe(ctx.Topic, ctx.Outcome, ctx.Duration)
	}
	return RouteHooks{
		OnRouted: observe,
		OnFailed: func(ctx RouteContext, err error) {
			observe(ctx)
			if ctx.Outcome == OutcomeDeadLetter {
				m.DeadLettered(ctx.Topic, err)
			}
		},
	}
}
