package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nuvola-ai/converse-go/internal/actor"
	"github.com/nuvola-ai/converse-go/internal/wire"
	"github.com/nuvola-ai/converse-go/pkg/logger"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// History receives primary content frames for session-visible retention.
// The transport only appends; reading history back is the collaborator's
// concern.
type History interface {
	Append(sessionID string, env wire.Envelope) error
}

// Runtime interprets state machine effects: it owns the single live socket,
// the timer set, and nothing else.
//
// Runtime never mutates machine state. Every socket event and timer expiry is
// emitted back into the actor mailbox tagged with the generation that created
// it, so the reducer can discard signals from superseded connection attempts.
type Runtime struct {
	notifier *Handlers
	history  History
	clock    actor.Clock
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	connGen int64
	timers  map[string]*time.Timer
}

// NewRuntime wires a runtime to its notification registry and optional
// history collaborator.
func NewRuntime(notifier *Handlers, history History, clock actor.Clock) *Runtime {
	if clock == nil {
		clock = actor.RealClock{}
	}
	return &Runtime{
		notifier: notifier,
		history:  history,
		clock:    clock,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		timers:   make(map[string]*time.Timer),
	}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effDial:
			go r.dial(ctx, e, emit)
		case effCloseSocket:
			r.closeSocket(e.Gen)
		case effWriteFrame:
			r.write(e.Gen, e.Frame, emit)
		case effSendPing:
			if frame, err := wire.Ping(r.clock.Now().UnixMilli()); err == nil {
				r.write(e.Gen, frame, emit)
			}
		case effStartTimer:
			r.startTimer(e.Gen, e.Name, e.After, emit)
		case effCancelTimer:
			r.cancelTimer(e.Name)
		case effCancelAllTimers:
			r.cancelAllTimers()

		case effNotifyConnected:
			r.notifier.notifyConnected(e.SessionID)
		case effNotifyConnChanged:
			r.notifier.notifyConnectionChanged(e.Up)
		case effNotifyEnvelope:
			r.notifier.deliver(e.Category, e.Env)
		case effNotifyError:
			if e.Cond.Fatal {
				logger.Warnf("transport: %s", e.Cond)
			} else {
				logger.Debugf("transport: %s", e.Cond)
			}
			r.notifier.notifyError(e.Cond)
		case effAppendHistory:
			if r.history != nil {
				if err := r.history.Append(e.SessionID, e.Env); err != nil {
					logger.Warnf("transport: append history: %v", err)
				}
			}
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.cancelAllTimers()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *Runtime) dial(ctx context.Context, eff effDial, emit func(actor.Input)) {
	logger.Debugf("transport: dialing %s (gen %d)", eff.URL, eff.Gen)

	conn, resp, err := r.dialer.DialContext(ctx, eff.URL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			emit(evSocketError{Gen: eff.Gen, Err: err, AuthRejected: true})
			return
		}
		emit(evDialFailed{Gen: eff.Gen, Err: err})
		return
	}

	r.mu.Lock()
	// At most one live socket: a successful dial displaces whatever was
	// still open from a previous generation.
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = conn
	r.connGen = eff.Gen
	r.mu.Unlock()

	conn.SetWriteDeadline(r.clock.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, eff.Hello); err != nil {
		r.closeSocket(eff.Gen)
		emit(evDialFailed{Gen: eff.Gen, Err: err})
		return
	}

	emit(evDialSucceeded{Gen: eff.Gen})
	go r.readLoop(conn, eff.Gen, emit)
}

// readLoop pumps inbound frames into the mailbox until the socket dies.
func (r *Runtime) readLoop(conn *websocket.Conn, gen int64, emit func(actor.Input)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			_ = conn.Close()

			if websocket.IsCloseError(err, wire.CloseAuthRejected) {
				emit(evSocketError{Gen: gen, Err: err, AuthRejected: true})
				return
			}
			emit(evSocketClosed{Gen: gen, Err: err})
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			// Malformed frames are dropped here: they never reach the state
			// machine and never invoke a consumer handler.
			logger.Warnf("transport: dropping frame: %v", err)
			continue
		}
		emit(evFrameReceived{Gen: gen, Env: env})
	}
}

func (r *Runtime) write(gen int64, frame []byte, emit func(actor.Input)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.connGen != gen {
		return
	}
	r.conn.SetWriteDeadline(r.clock.Now().Add(writeTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		logger.Debugf("transport: write failed: %v", err)
		emit(evSocketError{Gen: gen, Err: err})
	}
}

func (r *Runtime) closeSocket(gen int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	if gen != 0 && gen != r.connGen {
		return
	}
	_ = r.conn.Close()
	r.conn = nil
}

func (r *Runtime) startTimer(gen int64, name string, after time.Duration, emit func(actor.Input)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[name]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		r.mu.Lock()
		// The slot may already hold a replacement armed after this timer
		// fired; only remove our own entry.
		if r.timers[name] == timer {
			delete(r.timers, name)
		}
		r.mu.Unlock()
		emit(evTimerFired{Gen: gen, Name: name})
	})
	r.timers[name] = timer
}

func (r *Runtime) cancelTimer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[name]; ok {
		t.Stop()
		delete(r.timers, name)
	}
}

func (r *Runtime) cancelAllTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
}

// ActiveTimers reports how many timers are armed. Test observability.
func (r *Runtime) ActiveTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// HasSocket reports whether a socket is currently open. Test observability.
func (r *Runtime) HasSocket() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}
