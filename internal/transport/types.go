package transport

import (
	"encoding/json"
	"time"

	"github.com/nuvola-ai/converse-go/internal/actor"
	"github.com/nuvola-ai/converse-go/internal/wire"
)

// ConnState is the connection lifecycle state.
type ConnState string

const (
	// StateIdle is the initial state before any Connect call.
	StateIdle ConnState = "Idle"
	// StateConnecting means a dial is in flight.
	StateConnecting ConnState = "Connecting"
	// StateConnected means a live socket exists and heartbeats run.
	StateConnected ConnState = "Connected"
	// StateReconnecting means the socket dropped and a redial is scheduled.
	StateReconnecting ConnState = "Reconnecting"
	// StateClosed is terminal until the next explicit Connect.
	StateClosed ConnState = "Closed"
)

// CloseReason records why the transport reached StateClosed.
type CloseReason string

const (
	CloseExplicit          CloseReason = "explicit"
	CloseAuthRejectedBy    CloseReason = "auth-rejected"
	CloseAttemptsExhausted CloseReason = "max-attempts-exceeded"
)

// SessionHandle identifies one connection attempt. It is supplied by the
// caller, passed by value, and never mutated by the transport.
type SessionHandle struct {
	// Token is the opaque bearer token from the auth collaborator.
	Token string
	// SessionID is the caller's session identifier, used for the connected
	// notification when the server does not assign one.
	SessionID string
	// EndpointURL is the resolved websocket endpoint.
	EndpointURL string
	// Device is the flat metadata record attached to the handshake frame.
	Device wire.DeviceMetadata
}

// HeartbeatConfig tunes liveness detection.
type HeartbeatConfig struct {
	// Interval between liveness pings while connected.
	Interval time.Duration
	// Timeout is how long to wait for a pong before declaring the
	// connection stale.
	Timeout time.Duration
}

// DefaultHeartbeat returns the stock heartbeat configuration.
func DefaultHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second}
}

// readyWaitDelay bounds how long the connected notification waits for the
// server's ready control frame before falling back to the handle's own id.
const readyWaitDelay = 2 * time.Second

// Timer names. Timer identity on the wire between reducer and runtime is
// (name, generation); a fired timer whose generation is stale is ignored.
const (
	timerReconnect = "reconnect"
	timerHeartbeat = "heartbeat"
	timerPongWait  = "pong-wait"
	timerReadyWait = "ready-wait"
)

// State is the reducer-owned connection state. Exactly one instance exists
// per Transport; only the reducer mutates it.
type State struct {
	FSM    ConnState
	Reason CloseReason

	// Gen increments on every dial (initial connect, every redial, and
	// disconnect). Sockets and timers capture the generation that created
	// them; the reducer discards events from superseded generations.
	Gen int64

	// Attempt counts consecutive reconnect attempts. Reset to zero on any
	// successful Connected transition and on explicit disconnect.
	Attempt int

	Handle SessionHandle

	// SessionID is the server-assigned id from the ready frame, empty until
	// the server sends one.
	SessionID string

	// Announced is set once the connected notification fired for this
	// session (with either the server id or the handle fallback).
	Announced bool

	// AwaitingPong is set between sending a ping and receiving its pong.
	AwaitingPong bool

	// Up tracks the last connectivity value announced through the
	// connection-changed notification, so it only fires on transitions.
	Up bool

	// Policy and Heartbeat are immutable after New; they live on State so
	// the reducer stays a pure function of its inputs.
	Policy    Policy
	Heartbeat HeartbeatConfig
}

// Commands (caller → reducer).

type cmdConnect struct {
	actor.InputBase
	Handle SessionHandle
	Reply  chan error
}

type cmdSend struct {
	actor.InputBase
	LocalID string
	Payload json.RawMessage
	Reply   chan error
}

type cmdDisconnect struct {
	actor.InputBase
	Reply chan error
}

// Events (runtime → reducer). All carry the generation of the socket or
// timer that produced them.

type evDialSucceeded struct {
	actor.InputBase
	Gen int64
}

type evDialFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

type evSocketClosed struct {
	actor.InputBase
	Gen int64
	Err error
}

type evSocketError struct {
	actor.InputBase
	Gen          int64
	Err          error
	AuthRejected bool
}

type evFrameReceived struct {
	actor.InputBase
	Gen int64
	Env wire.Envelope
}

type evTimerFired struct {
	actor.InputBase
	Gen  int64
	Name string
}

// Effects (reducer → runtime).

type effDial struct {
	actor.EffectBase
	Gen   int64
	URL   string
	Hello []byte
}

type effCloseSocket struct {
	actor.EffectBase
	// Gen selects the socket to close; zero closes whatever is open.
	Gen int64
}

type effWriteFrame struct {
	actor.EffectBase
	Gen   int64
	Frame []byte
}

// effSendPing asks the runtime to write a liveness frame; the runtime stamps
// it from its clock so the reducer stays time-free.
type effSendPing struct {
	actor.EffectBase
	Gen int64
}

type effStartTimer struct {
	actor.EffectBase
	Gen   int64
	Name  string
	After time.Duration
}

type effCancelTimer struct {
	actor.EffectBase
	Name string
}

type effCancelAllTimers struct {
	actor.EffectBase
}

// Consumer notification effects. The runtime forwards them to the handler
// registry, which runs them on its own callback goroutine.

type effNotifyConnected struct {
	actor.EffectBase
	SessionID string
}

type effNotifyConnChanged struct {
	actor.EffectBase
	Up bool
}

type effNotifyEnvelope struct {
	actor.EffectBase
	Category Category
	Env      wire.Envelope
}

type effNotifyError struct {
	actor.EffectBase
	Cond Condition
}

type effAppendHistory struct {
	actor.EffectBase
	SessionID string
	Env       wire.Envelope
}
