package models

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// EventType classifies a delivery event.
type EventType string

const (
	EventAck            EventType = "ack"
	EventNack           EventType = "nack"
	EventDeliveryReport EventType = "delivery_report"
)

func (e EventType) MarshalJSON() ([]byte, error) {
	if e == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(e))
}

func (e *EventType) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch EventType(v) {
	case EventAck, EventNack, EventDeliveryReport:
		*e = EventType(v)
		return nil
	}
	return fmt.Errorf("unknown event_type %q", v)
}

// DeliveryStatus is the terminal state of a delivery report. Nullable.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDelivered DeliveryStatus = "delivered"
)

func (d DeliveryStatus) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

func (d *DeliveryStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch DeliveryStatus(v) {
	case DeliveryPending, DeliveryFailed, DeliveryDelivered:
		*d = DeliveryStatus(v)
		return nil
	}
	return fmt.Errorf("unknown delivery_status %q", v)
}

// Event is the canonical delivery event envelope carried on the bus.
type Event struct {
	UserMessageID   string         `json:"user_message_id"`
	EventType       EventType      `json:"event_type"`
	EventID         string         `json:"event_id"`
	MessageType     string         `json:"message_type"`
	MessageVersion  string         `json:"message_version"`
	Timestamp       Timestamp      `json:"timestamp"`
	RoutingMetadata Metadata       `json:"routing_metadata"`
	HelperMetadata  Metadata       `json:"helper_metadata"`
	SentMessageID   *string        `json:"sent_message_id"`
	NackReason      *string        `json:"nack_reason"`
	DeliveryStatus  DeliveryStatus `json:"delivery_status"`
}

// NewEvent builds an event with the envelope defaults filled in.
func NewEvent(userMessageID string, eventType EventType) *Event {
	return &Event{
		UserMessageID:   userMessageID,
		EventType:       eventType,
		EventID:         GenerateID(),
		MessageType:     TypeEvent,
		MessageVersion:  MessageVersion,
		Timestamp:       Now(),
		RoutingMetadata: Metadata{},
		HelperMetadata:  Metadata{},
	}
}

// Validate enforces the event-type-conditional required fields.
func (e *Event) Validate() error {
	switch e.EventType {
	case EventAck:
		if e.SentMessageID == nil {
			return fmt.Errorf("%w: ack requires sent_message_id", ErrMalformedEnvelope)
		}
	case EventNack:
		if e.NackReason == nil {
			return fmt.Errorf("%w: nack requires nack_reason", ErrMalformedEnvelope)
		}
	case EventDeliveryReport:
		if e.DeliveryStatus == "" {
			return fmt.Errorf("%w: delivery_report requires delivery_status", ErrMalformedEnvelope)
		}
	default:
		return fmt.Errorf("%w: missing event_type", ErrMalformedEnvelope)
	}
	return nil
}

// ToJSON serializes the event for the bus.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes a bus payload into an event. Any failure wraps
// ErrMalformedEnvelope.
func ParseEvent(body []byte) (*Event, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedEnvelope)
	}
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.UserMessageID == "" {
		return nil, fmt.Errorf("%w: missing user_message_id", ErrMalformedEnvelope)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
