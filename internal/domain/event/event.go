// Package event defines the envelope exchanged with the decision, validation
// and execution engines, and the typed payloads carried inside it.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Topic identifies the kind of event. The segment before the first dot is its family.
type Topic string

const (
	TopicDecisionRequest    Topic = "decision.request"
	TopicDecisionStart      Topic = "decision.start"
	TopicDecisionToken      Topic = "decision.token"
	TopicDecisionCandidates Topic = "decision.candidates_found"
	TopicDecisionSelected   Topic = "decision.selected"
	TopicDecisionError      Topic = "decision.error"
	TopicDecisionDone       Topic = "decision.done"

	TopicValidationRequest Topic = "validation.request"
	TopicValidationStarted Topic = "validation.started"
	TopicValidationCheck   Topic = "validation.check"
	TopicValidationDone    Topic = "validation.done"
	TopicValidationTimeout Topic = "validation.timeout"

	TopicExecutionStart    Topic = "execution.start"
	TopicExecutionCancel   Topic = "execution.cancel"
	TopicExecutionQueued   Topic = "execution.queued"
	TopicExecutionStarted  Topic = "execution.started"
	TopicExecutionProgress Topic = "execution.progress"
	TopicExecutionStdout   Topic = "execution.stdout_line"
	TopicExecutionFinished Topic = "execution.finished"
	TopicExecutionError    Topic = "execution.error"
	TopicExecutionTimeout  Topic = "execution.timeout"
)

// Family groups topics by the engine that produces them.
type Family string

const (
	FamilyDecision   Family = "decision"
	FamilyValidation Family = "validation"
	FamilyExecution  Family = "execution"
)

var knownFamilies = map[Family]bool{
	FamilyDecision:   true,
	FamilyValidation: true,
	FamilyExecution:  true,
}

// Family returns the topic family, or "" when the topic has no dot.
func (t Topic) Family() Family {
	f, _, ok := strings.Cut(string(t), ".")
	if !ok {
		return ""
	}
	return Family(f)
}

// Envelope is one event on the wire.
type Envelope struct {
	Topic         Topic           `json:"topic"`
	CorrelationID string          `json:"correlation_id"`
	RunID         string          `json:"run_id,omitempty"`
	Timestamp     int64           `json:"ts"`
	Payload       json.RawMessage `json:"payload"`
}

// Key identifies an event for duplicate suppression.
type Key struct {
	Topic         Topic
	CorrelationID string
	Timestamp     int64
}

// Key returns the dedup key of the envelope.
func (e *Envelope) Key() Key {
	return Key{Topic: e.Topic, CorrelationID: e.CorrelationID, Timestamp: e.Timestamp}
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Topic, err)
	}
	return nil
}

var (
	ErrEmptyTopic       = errors.New("empty topic")
	ErrUnknownFamily    = errors.New("unknown topic family")
	ErrNoCorrelation    = errors.New("missing correlation id")
	ErrPayloadNotObject = errors.New("payload is not a JSON object")
	ErrNoTimestamp      = errors.New("missing or non-positive ts")
)

// Decode parses and validates a raw event. An absent or null payload is
// normalized to an empty object.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	if len(e.Payload) == 0 || bytes.Equal(e.Payload, []byte("null")) {
		e.Payload = json.RawMessage("{}")
	}
	return e, nil
}

// Validate checks the structural rules every routable envelope must satisfy.
func (e *Envelope) Validate() error {
	if e.Topic == "" {
		return ErrEmptyTopic
	}
	if !knownFamilies[e.Topic.Family()] {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, e.Topic)
	}
	if e.CorrelationID == "" {
		return ErrNoCorrelation
	}
	p := bytes.TrimSpace(e.Payload)
	if len(p) > 0 && !bytes.Equal(p, []byte("null")) && p[0] != '{' {
		return ErrPayloadNotObject
	}
	// ts is part of the dedup key; without it distinct events would collide.
	if e.Timestamp <= 0 {
		return ErrNoTimestamp
	}
	return nil
}

var lastStamp atomic.Int64

// Stamp returns a unix-nano timestamp strictly greater than any previous
// call in this process.
func Stamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

// New builds a locally produced envelope with a fresh timestamp.
func New(topic Topic, correlationID string, payload any) (Envelope, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
		}
		raw = b
	}
	return Envelope{
		Topic:         topic,
		CorrelationID: correlationID,
		Timestamp:     Stamp(),
		Payload:       raw,
	}, nil
}
