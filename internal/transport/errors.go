package transport

import "errors"

// Sentinel errors returned by the imperative transport surface.
var (
	// ErrNotConnected is returned by Send when no session is established.
	// The transport never queues payloads; callers retry after reconnection.
	ErrNotConnected = errors.New("not connected")

	// ErrEmptyToken is returned by Connect when the session handle carries no
	// bearer token.
	ErrEmptyToken = errors.New("session token is empty")

	// ErrNoEndpoint is returned by Connect when no endpoint URL is resolved.
	ErrNoEndpoint = errors.New("endpoint URL is empty")

	// ErrAlreadyActive is returned by Connect while a session is already
	// connecting, connected, or reconnecting.
	ErrAlreadyActive = errors.New("transport already active")

	// ErrAuthRejected marks a server-side token rejection. Fatal: the
	// transport closes and does not retry with the same credentials.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrAttemptsExhausted marks a spent reconnection budget. Fatal: the
	// transport closes until an explicit Connect with fresh credentials.
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// ConditionKind classifies consumer-facing conditions.
type ConditionKind string

const (
	// KindTransport covers socket-level failures. Recoverable: the transport
	// reconnects on its own.
	KindTransport ConditionKind = "transport"
	// KindProtocol covers malformed or unexpected frames. Recoverable: the
	// frame is dropped.
	KindProtocol ConditionKind = "protocol"
	// KindAuthRejected covers server token rejections. Fatal.
	KindAuthRejected ConditionKind = "auth-rejected"
	// KindAttemptsExhausted covers a spent reconnection budget. Fatal.
	KindAttemptsExhausted ConditionKind = "attempts-exhausted"
)

// Condition is a consumer-facing error notification.
//
// Non-fatal conditions are informational; the transport recovers by itself.
// Fatal conditions leave the transport Closed.
type Condition struct {
	Kind  ConditionKind
	Err   error
	Fatal bool
}

func (c Condition) String() string {
	if c.Err == nil {
		return string(c.Kind)
	}
	return string(c.Kind) + ": " + c.Err.Error()
}
