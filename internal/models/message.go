package models

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope marks a bus payload that cannot be decoded into a
// canonical message or event. Retrying a delivery that fails with this is
// pointless.
var ErrMalformedEnvelope = errors.New("malformed envelope")

const (
	MessageVersion  = "20110921"
	TypeUserMessage = "user_message"
	TypeEvent       = "event"
)

// SessionEvent demarcates the conversation session. The zero value is the
// distinct NONE wire value, serialized as JSON null.
type SessionEvent string

const (
	SessionNone   SessionEvent = ""
	SessionNew    SessionEvent = "new"
	SessionResume SessionEvent = "resume"
	SessionClose  SessionEvent = "close"
)

func (s SessionEvent) MarshalJSON() ([]byte, error) {
	if s == SessionNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *SessionEvent) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SessionNone
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch SessionEvent(v) {
	case SessionNew, SessionResume, SessionClose:
		*s = SessionEvent(v)
		return nil
	}
	return fmt.Errorf("unknown session_event %q", v)
}

// TransportType is the transport this adapter speaks. Only http_api exists.
type TransportType string

const TransportHTTPAPI TransportType = "http_api"

func (t TransportType) MarshalJSON() ([]byte, error) {
	if t == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

func (t *TransportType) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if TransportType(v) != TransportHTTPAPI {
		return fmt.Errorf("unknown transport_type %q", v)
	}
	*t = TransportType(v)
	return nil
}

// AddressType classifies an address field. Nullable on the wire.
type AddressType string

const AddressMSISDN AddressType = "msisdn"

func (a AddressType) MarshalJSON() ([]byte, error) {
	if a == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

func (a *AddressType) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if AddressType(v) != AddressMSISDN {
		return fmt.Errorf("unknown address type %q", v)
	}
	*a = AddressType(v)
	return nil
}

// Message is the canonical user message envelope carried on the bus.
type Message struct {
	ToAddr            string        `json:"to_addr"`
	FromAddr          string        `json:"from_addr"`
	TransportName     string        `json:"transport_name"`
	TransportType     TransportType `json:"transport_type"`
	MessageVersion    string        `json:"message_version"`
	MessageType       string        `json:"message_type"`
	Timestamp         Timestamp     `json:"timestamp"`
	RoutingMetadata   Metadata      `json:"routing_metadata"`
	HelperMetadata    Metadata      `json:"helper_metadata"`
	MessageID         string        `json:"message_id"`
	InReplyTo         *string       `json:"in_reply_to"`
	Provider          *string       `json:"provider"`
	SessionEvent      SessionEvent  `json:"session_event"`
	Content           *string       `json:"content"`
	TransportMetadata Metadata      `json:"transport_metadata"`
	Group             *string       `json:"group"`
	ToAddrType        AddressType   `json:"to_addr_type"`
	FromAddrType      AddressType   `json:"from_addr_type"`
}

// GenerateID returns a random 128-bit hex id.
func GenerateID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewMessage builds a message with the envelope defaults filled in.
func NewMessage(toAddr, fromAddr, transportName string) *Message {
	return &Message{
		ToAddr:            toAddr,
		FromAddr:          fromAddr,
		TransportName:     transportName,
		TransportType:     TransportHTTPAPI,
		MessageVersion:    MessageVersion,
		MessageType:       TypeUserMessage,
		Timestamp:         Now(),
		RoutingMetadata:   Metadata{},
		HelperMetadata:    Metadata{},
		TransportMetadata: Metadata{},
		MessageID:         GenerateID(),
	}
}

// ToJSON serializes the message for the bus.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a bus payload into a message. Any failure wraps
// ErrMalformedEnvelope.
func ParseMessage(body []byte) (*Message, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedEnvelope)
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if m.ToAddr == "" || m.FromAddr == "" || m.TransportName == "" {
		return nil, fmt.Errorf("%w: missing required field", ErrMalformedEnvelope)
	}
	if m.TransportType == "" {
		return nil, fmt.Errorf("%w: missing transport_type", ErrMalformedEnvelope)
	}
	return &m, nil
}
