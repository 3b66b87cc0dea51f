// Package wire defines the Converse real-time frame format.
//
// Every frame on the socket is a JSON object with an operation discriminant
// and a body:
//
//	{"op": "message", "body": {...}}
//
// This package is the single place the wire shape is defined; protocol
// changes must not leak into the transport or the SDK surface.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op is the frame operation discriminant.
type Op string

// Inbound operations.
const (
	// OpReady is the first control frame after a successful handshake. Its
	// body carries the server-assigned session id.
	OpReady Op = "ready"
	// OpPong answers an OpPing liveness frame.
	OpPong Op = "pong"
	// OpThinking signals an in-progress assistant turn.
	OpThinking Op = "thinking"
	// OpSuggestions carries suggestion chips for the current turn.
	OpSuggestions Op = "suggestions"
	// OpMessage carries primary conversation content. Its body may embed a
	// recommendations section.
	OpMessage Op = "message"
	// OpError carries a server-side error condition.
	OpError Op = "error"
)

// Outbound operations.
const (
	// OpHello is the first frame the client sends: bearer token plus device
	// metadata used for server-side routing.
	OpHello Op = "hello"
	// OpPing is the client liveness probe.
	OpPing Op = "ping"
)

// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the decoded, typed representation of a frame.
type Envelope struct {
	Op   Op              `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Decode parses a raw inbound frame into an Envelope.
//
// A frame that is not a JSON object or is missing its op discriminant fails
// with ErrMalformedFrame; callers are expected to drop such frames without
// surfacing them to consumers.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Op == "" {
		return Envelope{}, fmt.Errorf("%w: missing op", ErrMalformedFrame)
	}
	return env, nil
}

// Encode serializes an outbound frame.
func Encode(op Op, body any) ([]byte, error) {
	var raw json.RawMessage
	switch v := body.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = json.RawMessage(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", op, err)
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Op: op, Body: raw})
}

// ReadyBody is the body of an OpReady control frame.
type ReadyBody struct {
	SessionID string `json:"sessionId"`
}

// ParseReady extracts the server-assigned session id from a ready frame.
func ParseReady(env Envelope) (ReadyBody, error) {
	var body ReadyBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return ReadyBody{}, fmt.Errorf("%w: ready body: %v", ErrMalformedFrame, err)
	}
	return body, nil
}

// ErrorBody is the body of an OpError frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// CodeAuthRejected marks a server error frame that invalidates the current
// token. The transport must not reconnect after seeing it.
const CodeAuthRejected = "auth-rejected"

// CloseAuthRejected is the websocket close code the server uses when it tears
// a connection down over bad credentials.
const CloseAuthRejected = 4401

// ParseError extracts an error body. A body that fails to parse is reported
// with an empty code so callers treat it as a generic transport condition.
func ParseError(env Envelope) ErrorBody {
	var body ErrorBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return ErrorBody{}
	}
	return body
}

// Recommendations returns the embedded recommendations section of a message
// body, if present and non-null.
func Recommendations(env Envelope) (json.RawMessage, bool) {
	if env.Op != OpMessage || len(env.Body) == 0 {
		return nil, false
	}
	var probe struct {
		Recommendations json.RawMessage `json:"recommendations"`
	}
	if err := json.Unmarshal(env.Body, &probe); err != nil {
		return nil, false
	}
	if len(probe.Recommendations) == 0 || string(probe.Recommendations) == "null" {
		return nil, false
	}
	return probe.Recommendations, true
}

// DeviceMetadata is the flat device record attached to the hello frame.
//
// The SDK does not interpret these values; they exist for server-side
// routing and capacity decisions.
type DeviceMetadata struct {
	DeviceID     string   `json:"deviceId,omitempty"`
	Locale       string   `json:"locale,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	UserAgent    string   `json:"userAgent,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	OSVersion    string   `json:"osVersion,omitempty"`
	Timezone     string   `json:"timezone,omitempty"`
	ScreenWidth  int      `json:"screenWidth,omitempty"`
	ScreenHeight int      `json:"screenHeight,omitempty"`
	Online       bool     `json:"online"`
}

// HelloBody is the body of the outbound handshake frame.
type HelloBody struct {
	Token  string         `json:"token"`
	Device DeviceMetadata `json:"device"`
}

// Hello builds the handshake frame.
func Hello(token string, device DeviceMetadata) ([]byte, error) {
	return Encode(OpHello, HelloBody{Token: token, Device: device})
}

// PingBody is the body of an outbound liveness frame.
type PingBody struct {
	Timestamp int64 `json:"ts"`
}

// Ping builds a liveness frame carrying the given send timestamp (ms).
func Ping(timestampMs int64) ([]byte, error) {
	return Encode(OpPing, PingBody{Timestamp: timestampMs})
}

// MessageBody is the body of an outbound message frame.
type MessageBody struct {
	// LocalID is a client-generated idempotency key echoed back by the
	// server so callers can reconcile optimistic UI entries.
	LocalID string          `json:"localId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Message builds an outbound message frame around an opaque JSON payload.
func Message(localID string, payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty message payload")
	}
	return Encode(OpMessage, MessageBody{LocalID: localID, Payload: payload})
}
