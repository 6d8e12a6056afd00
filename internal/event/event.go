package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lifeline/internal/services"
)

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindObservation  Kind = "observation"
	KindDetection    Kind = "detection"
	KindDisbursement Kind = "disbursement"
)

// Valid reports whether the kind is one of the known discriminators.
func (k Kind) Valid() bool {
	switch k {
	case KindObservation, KindDetection, KindDisbursement:
		return true
	}
	return false
}

// Event is the unit of work flowing through the pipeline. The ID is assigned
// when the event enters the system and persists across every stage; it doubles
// as the disbursement idempotency key. Exactly one payload pointer is set and
// it must match Kind.
type Event struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      Kind      `json:"kind"`

	// RetryCount mirrors the delivery attempt bookkeeping of the queue
	// envelope; the worker fills it in before invoking a handler. It is not
	// part of the immutable payload.
	RetryCount int `json:"retry_count"`

	Observation  *Observation  `json:"observation,omitempty"`
	Detection    *Detection    `json:"detection,omitempty"`
	Disbursement *Disbursement `json:"disbursement,omitempty"`
}

// NewObservation wraps a raw observation in a transport event with a fresh id.
func NewObservation(obs Observation) *Event {
	return &Event{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Kind:        KindObservation,
		Observation: &obs,
	}
}

// WithDetection derives a detection event preserving identity. Stages derive
// rather than construct so the id survives hand-offs and redeliveries.
func (e *Event) WithDetection(det Detection) *Event {
	return &Event{
		ID:        e.ID,
		CreatedAt: e.CreatedAt,
		Kind:      KindDetection,
		Detection: &det,
	}
}

// WithDisbursement derives a disbursement event preserving identity.
func (e *Event) WithDisbursement(d Disbursement) *Event {
	return &Event{
		ID:           e.ID,
		CreatedAt:    e.CreatedAt,
		Kind:         KindDisbursement,
		Disbursement: &d,
	}
}

// Validate checks structural integrity: a stable id, a known kind, and exactly
// one payload matching that kind.
func (e *Event) Validate() error {
	if e == nil {
		return services.Wrap(services.ErrValidation, "event", "validate", "nil event", nil)
	}
	if e.ID == "" {
		return services.Wrap(services.ErrValidation, "event", "validate", "missing id", nil)
	}
	if !e.Kind.Valid() {
		return services.Wrap(services.ErrValidation, "event", "validate", fmt.Sprintf("unknown kind %q", e.Kind), nil)
	}

	set := 0
	if e.Observation != nil {
		set++
	}
	if e.Detection != nil {
		set++
	}
	if e.Disbursement != nil {
		set++
	}
	if set != 1 {
		return services.Wrap(services.ErrValidation, "event", "validate", fmt.Sprintf("expected exactly one payload, found %d", set), nil)
	}

	switch e.Kind {
	case KindObservation:
		if e.Observation == nil {
			return services.Wrap(services.ErrValidation, "event", "validate", "observation payload missing", nil)
		}
		return e.Observation.Validate()
	case KindDetection:
		if e.Detection == nil {
			return services.Wrap(services.ErrValidation, "event", "validate", "detection payload missing", nil)
		}
		return e.Detection.Validate()
	case KindDisbursement:
		if e.Disbursement == nil {
			return services.Wrap(services.ErrValidation, "event", "validate", "disbursement payload missing", nil)
		}
		return e.Disbursement.Validate()
	}
	return nil
}

// Encode serializes the event for queue transport.
func (e *Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "event", "encode", "marshal failed", err)
	}
	return data, nil
}

// Decode parses and validates an event from queue transport bytes.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, services.Wrap(services.ErrValidation, "event", "decode", "unmarshal failed", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
