package runtime

import (
	"errors"

	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	"github.com/drblury/protoroute/internal/runtime/routing"
)

// Outcome is what the service does with a consumed message once the router
// has returned.
type Outcome int

const (
	// OutcomeAck acknowledges the message; its offset is committed.
	OutcomeAck Outcome = iota
	// OutcomeRetry re-runs the handler with backoff and nacks once retries
	// are exhausted, so the transport redelivers the message.
	OutcomeRetry
	// OutcomeDeadLetter forwards the message to the dead-letter topic and
	// acknowledges it.
	OutcomeDeadLetter
	// OutcomeHalt nacks the message without retrying. The partition does not
	// advance until an operator intervenes.
	OutcomeHalt
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	case OutcomeHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Classifier maps routing errors onto outcomes. It never acknowledges a
// failed message without either dead-lettering it or holding it back.
type Classifier struct {
	UnroutablePolicy configpkg.UnroutablePolicy
	// DeadLetterEnabled is false when no dead-letter topic is configured;
	// messages that would be dead-lettered halt instead.
	DeadLetterEnabled bool
}

// NewClassifier derives a Classifier from conf.
func NewClassifier(conf *configpkg.Config) Classifier {
	if conf == nil {
		return Classifier{UnroutablePolicy: configpkg.UnroutableDeadLetter}
	}
	return Classifier{
		UnroutablePolicy:  conf.EffectiveUnroutablePolicy(),
		DeadLetterEnabled: conf.DeadLetterTopic != "",
	}
}

// Classify returns the outcome for the error returned by routing.Router.Route.
func (c Classifier) Classify(err error) Outcome {
	switch {
	case err == nil, errors.Is(err, routing.ErrSkip):
		return OutcomeAck
	case errors.Is(err, routing.ErrDecodeFailure):
		return c.deadLetterOrHalt()
	case errors.Is(err, routing.ErrUnroutableTopic):
		if c.UnroutablePolicy == configpkg.UnroutableHalt {
			return OutcomeHalt
		}
		return c.deadLetterOrHalt()
	default:
		// handler failures and anything unexpected are transient until proven otherwise
		return OutcomeRetry
	}
}

func (c Classifier) deadLetterOrHalt() Outcome {
	if c.DeadLetterEnabled {
		return OutcomeDeadLetter
	}
	return OutcomeHalt
}
