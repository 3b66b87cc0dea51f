// Package transport implements the durable full-duplex session link: a
// websocket connection driven by a pure state machine, with heartbeat
// liveness, bounded-jitter reconnection, and ordered delivery of classified
// inbound frames to consumer handlers.
package transport

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nuvola-ai/converse-go/internal/actor"
)

// Options configures a Transport. The zero value selects defaults for every
// field.
type Options struct {
	// Policy governs reconnect delays. Unset fields are defaulted; a fully
	// zero value means DefaultPolicy.
	Policy Policy
	// Heartbeat tunes liveness pings. Unset fields are defaulted.
	Heartbeat HeartbeatConfig
	// History, when set, receives primary content frames for retention.
	History History
	// Clock supplies timestamps for outbound pings. Nil means the wall clock.
	Clock actor.Clock
	// QueueSize bounds the serialized handler callback queue.
	QueueSize int
}

// Transport is the public face of the session link. All methods are safe for
// concurrent use; commands are serialized through the actor mailbox.
type Transport struct {
	handlers *Handlers
	runtime  *Runtime
	actor    *actor.Actor[State]
}

// New builds a stopped Transport. Call Connect to bring the link up and Close
// when done with the instance.
func New(opts Options) *Transport {
	opts.Policy = opts.Policy.withDefaults()
	if opts.Heartbeat.Interval == 0 {
		opts.Heartbeat.Interval = DefaultHeartbeat().Interval
	}
	if opts.Heartbeat.Timeout == 0 {
		opts.Heartbeat.Timeout = DefaultHeartbeat().Timeout
	}

	handlers := NewHandlers(opts.QueueSize)
	runtime := NewRuntime(handlers, opts.History, opts.Clock)

	initial := State{
		FSM:       StateIdle,
		Policy:    opts.Policy,
		Heartbeat: opts.Heartbeat,
	}
	a := actor.New(initial, Reduce, runtime)
	a.Start()

	return &Transport{handlers: handlers, runtime: runtime, actor: a}
}

// Handlers exposes the notification registry for callback registration.
func (t *Transport) Handlers() *Handlers { return t.handlers }

// Connect starts a connection attempt for the given session handle. It
// returns once the command has been validated and the dial is underway; the
// connected notification reports actual establishment.
//
// Connect fails with ErrAlreadyActive while a previous connection is still
// live or retrying.
func (t *Transport) Connect(handle SessionHandle) error {
	reply := make(chan error, 1)
	return t.command(cmdConnect{Handle: handle, Reply: reply}, reply)
}

// Send transmits a caller payload over the live connection. The payload is
// tagged with a fresh local identifier for correlation. Send fails with
// ErrNotConnected unless the link is established.
func (t *Transport) Send(payload json.RawMessage) (string, error) {
	localID := uuid.NewString()
	reply := make(chan error, 1)
	if err := t.command(cmdSend{LocalID: localID, Payload: payload, Reply: reply}, reply); err != nil {
		return "", err
	}
	return localID, nil
}

// Disconnect tears the link down deliberately: no reconnection, no further
// notifications. Idempotent.
func (t *Transport) Disconnect() error {
	reply := make(chan error, 1)
	return t.command(cmdDisconnect{Reply: reply}, reply)
}

// State returns a snapshot of the connection state. Observability only.
func (t *Transport) State() State { return t.actor.State() }

// Close tears down the link and releases the actor loop and callback queue.
// The Transport is unusable afterwards.
func (t *Transport) Close() {
	_ = t.Disconnect()
	t.actor.Stop()
	t.handlers.close()
}

func (t *Transport) command(in actor.Input, reply chan error) error {
	if !t.actor.Enqueue(in) {
		return actor.ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-t.actor.Done():
		return actor.ErrStopped
	}
}

// Probe reports whether the runtime currently holds an open socket or armed
// timers. Test observability.
func (t *Transport) Probe() (socket bool, timers int) {
	return t.runtime.HasSocket(), t.runtime.ActiveTimers()
}
