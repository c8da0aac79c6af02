package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	configpkg "github.com/drblury/protoroute/internal/runtime/config"
	"github.com/drblury/protoroute/internal/runtime/routing"
)

func TestClassify(t *testing.T) {
	unroutable := &routing.UnroutableTopicError{Topic: "t", MissingSchema: true, MissingHandler: true}
	decode := &routing.DecodeFailureError{Topic: "t", TypeName: "entity", Cause: errors.New("bad bytes")}
	handler := &routing.HandlerFailureError{Topic: "t", Cause: errors.New("db down")}
	skipped := &routing.HandlerFailureError{Topic: "t", Cause: fmt.Errorf("not mine: %w", routing.ErrSkip)}
	panicked := &routing.HandlerFailureError{Topic: "t", Cause: &routing.PanicError{Value: "boom"}}

	deadLetter := Classifier{UnroutablePolicy: configpkg.UnroutableDeadLetter, DeadLetterEnabled: true}
	halt := Classifier{UnroutablePolicy: configpkg.UnroutableHalt, DeadLetterEnabled: true}
	noDLQ := Classifier{UnroutablePolicy: configpkg.UnroutableDeadLetter}

	tests := []struct {
		name       string
		classifier Classifier
		err        error
		want       Outcome
	}{
		{"success", deadLetter, nil, OutcomeAck},
		{"skip", deadLetter, skipped, OutcomeAck},
		{"handler failure", deadLetter, handler, OutcomeRetry},
		{"handler panic", deadLetter, panicked, OutcomeRetry},
		{"unknown error", deadLetter, errors.New("surprise"), OutcomeRetry},
		{"decode failure", deadLetter, decode, OutcomeDeadLetter},
		{"wrapped decode failure", deadLetter, fmt.Errorf("dispatch: %w", decode), OutcomeDeadLetter},
		{"unroutable dead letter", deadLetter, unroutable, OutcomeDeadLetter},
		{"unroutable halt", halt, unroutable, OutcomeHalt},
		{"decode failure under halt policy", halt, decode, OutcomeDeadLetter},
		{"decode failure without dlq", noDLQ, decode, OutcomeHalt},
		{"unroutable without dlq", noDLQ, unroutable, OutcomeHalt},
		{"handler failure without dlq", noDLQ, handler, OutcomeRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.classifier.Classify(tt.err))
		})
	}
}

func TestNewClassifier(t *testing.T) {
	c := NewClassifier(&configpkg.Config{DeadLetterTopic: "dlq", UnroutablePolicy: "HALT"})
	assert.Equal(t, configpkg.UnroutableHalt, c.UnroutablePolicy)
	assert.True(t, c.DeadLetterEnabled)

	c = NewClassifier(&configpkg.Config{})
	assert.Equal(t, configpkg.UnroutableDeadLetter, c.UnroutablePolicy)
	assert.False(t, c.DeadLetterEnabled)

	c = NewClassifier(nil)
	assert.Equal(t, configpkg.UnroutableDeadLetter, c.UnroutablePolicy)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ack", OutcomeAck.String())
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "dead_letter", OutcomeDeadLetter.String())
	assert.Equal(t, "halt", OutcomeHalt.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
