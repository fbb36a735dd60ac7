// Package gabp implements the wire protocol of the Game Agent Bridge
// Protocol (GABP) v1.0: the message envelope, its request/response/event
// variants, the error object, and the length-prefixed frame codec that
// carries them over a byte stream.
package gabp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the literal value of the envelope's v field.
const ProtocolVersion = "gabp/1"

// SchemaVersion is the literal schemaVersion advertised in the welcome result.
const SchemaVersion = "1.0"

// MessageType discriminates the three envelope variants.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
)

// Error is the wire error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("gabp: %d: %s", e.Code, e.Message)
}

// NewError builds an *Error, marshaling data if provided.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Message is the wire envelope shared by every GABP message, with all
// variant-specific fields folded in as optional. Encoding always emits the
// exact wire field names; decoding tolerates any subset being present so a
// single type can represent request, response, and event frames.
type Message struct {
	V    string      `json:"v"`
	ID   string      `json:"id"`
	Type MessageType `json:"type"`

	// Request fields.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields.
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	// Event fields.
	Channel   string          `json:"channel,omitempty"`
	Seq       *uint64         `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// IsRequest reports whether the message is a well-formed request.
func (m *Message) IsRequest() bool { return m.Type == TypeRequest && m.Method != "" }

// IsResponse reports whether the message is a well-formed response.
func (m *Message) IsResponse() bool { return m.Type == TypeResponse }

// IsEvent reports whether the message is a well-formed event.
func (m *Message) IsEvent() bool { return m.Type == TypeEvent }

// NewRequest builds a request envelope. id is generated if empty.
func NewRequest(id, method string, params any) (*Message, error) {
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := marshalOrNil(params)
	if err != nil {
		return nil, fmt.Errorf("gabp: marshal params: %w", err)
	}
	return &Message{V: ProtocolVersion, ID: id, Type: TypeRequest, Method: method, Params: raw}, nil
}

// NewResult builds a success response envelope echoing requestID.
func NewResult(requestID string, result any) (*Message, error) {
	raw, err := marshalOrNil(result)
	if err != nil {
		return nil, fmt.Errorf("gabp: marshal result: %w", err)
	}
	return &Message{V: ProtocolVersion, ID: requestID, Type: TypeResponse, Result: raw}, nil
}

// NewErrorResponse builds a failure response envelope echoing requestID.
func NewErrorResponse(requestID string, gabpErr *Error) *Message {
	return &Message{V: ProtocolVersion, ID: requestID, Type: TypeResponse, Error: gabpErr}
}

// NewEvent builds an event envelope with a fresh id and the given sequence.
// timestamp defaults to time.Now().UTC() in RFC3339Nano when zero.
func NewEvent(channel string, seq uint64, payload any, timestamp time.Time) (*Message, error) {
	raw, err := marshalOrNil(payload)
	if err != nil {
		return nil, fmt.Errorf("gabp: marshal payload: %w", err)
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return &Message{
		V:         ProtocolVersion,
		ID:        uuid.NewString(),
		Type:      TypeEvent,
		Channel:   channel,
		Seq:       &seq,
		Payload:   raw,
		Timestamp: timestamp.UTC().Format(time.RFC3339Nano),
	}, nil
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
