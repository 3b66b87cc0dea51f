package transport

import (
	"errors"
	"fmt"

	"github.com/nuvola-ai/converse-go/internal/actor"
	"github.com/nuvola-ai/converse-go/internal/wire"
)

// Reduce is the connection state machine.
//
// It is a pure function: every socket event, timer expiry, and caller command
// arrives as an input, and all I/O leaves as effects. Events tagged with a
// generation older than State.Gen belong to a superseded connection attempt
// and are dropped, which is what makes a transition out of Connected
// idempotent when a socket close races a heartbeat timeout.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdConnect:
		return reduceConnect(state, in)
	case cmdSend:
		return reduceSend(state, in)
	case cmdDisconnect:
		return reduceDisconnect(state, in)

	case evDialSucceeded:
		return reduceDialSucceeded(state, in)
	case evDialFailed:
		if in.Gen != state.Gen || state.FSM != StateConnecting {
			return state, nil
		}
		return reduceConnectionLost(state, in.Err)
	case evSocketClosed:
		if in.Gen != state.Gen {
			return state, nil
		}
		return reduceConnectionLost(state, in.Err)
	case evSocketError:
		if in.Gen != state.Gen {
			return state, nil
		}
		if in.AuthRejected {
			return reduceFatalClose(state, CloseAuthRejectedBy, Condition{
				Kind:  KindAuthRejected,
				Err:   fmt.Errorf("%w: %v", ErrAuthRejected, in.Err),
				Fatal: true,
			})
		}
		return reduceConnectionLost(state, in.Err)
	case evFrameReceived:
		if in.Gen != state.Gen || state.FSM != StateConnected {
			return state, nil
		}
		return reduceFrame(state, in.Env)
	case evTimerFired:
		if in.Gen != state.Gen {
			return state, nil
		}
		return reduceTimerFired(state, in)
	default:
		return state, nil
	}
}

func reduceConnect(state State, cmd cmdConnect) (State, []actor.Effect) {
	if state.FSM != StateIdle && state.FSM != StateClosed {
		reply(cmd.Reply, ErrAlreadyActive)
		return state, nil
	}
	if cmd.Handle.Token == "" {
		reply(cmd.Reply, ErrEmptyToken)
		return state, nil
	}
	if cmd.Handle.EndpointURL == "" {
		reply(cmd.Reply, ErrNoEndpoint)
		return state, nil
	}

	hello, err := wire.Hello(cmd.Handle.Token, cmd.Handle.Device)
	if err != nil {
		reply(cmd.Reply, err)
		return state, nil
	}

	state.Gen++
	state.FSM = StateConnecting
	state.Reason = ""
	state.Handle = cmd.Handle
	state.Attempt = 0
	state.SessionID = ""
	state.Announced = false
	state.AwaitingPong = false

	reply(cmd.Reply, nil)
	return state, []actor.Effect{
		effCancelAllTimers{},
		effDial{Gen: state.Gen, URL: cmd.Handle.EndpointURL, Hello: hello},
	}
}

func reduceSend(state State, cmd cmdSend) (State, []actor.Effect) {
	if state.FSM != StateConnected {
		reply(cmd.Reply, ErrNotConnected)
		return state, nil
	}
	frame, err := wire.Message(cmd.LocalID, cmd.Payload)
	if err != nil {
		reply(cmd.Reply, err)
		return state, nil
	}
	// Fire and forget: a failed write surfaces as a socket error event, not
	// as a Send error.
	reply(cmd.Reply, nil)
	return state, []actor.Effect{effWriteFrame{Gen: state.Gen, Frame: frame}}
}

func reduceDisconnect(state State, cmd cmdDisconnect) (State, []actor.Effect) {
	reply(cmd.Reply, nil)
	if state.FSM == StateClosed || state.FSM == StateIdle {
		return state, nil
	}

	wasUp := state.Up
	state.Gen++ // invalidate in-flight socket events and timers
	state.FSM = StateClosed
	state.Reason = CloseExplicit
	state.Attempt = 0
	state.AwaitingPong = false
	state.Up = false

	effects := []actor.Effect{
		effCancelAllTimers{},
		effCloseSocket{},
	}
	if wasUp {
		effects = append(effects, effNotifyConnChanged{Up: false})
	}
	return state, effects
}

func reduceDialSucceeded(state State, ev evDialSucceeded) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateConnecting {
		return state, nil
	}

	state.FSM = StateConnected
	state.Attempt = 0
	state.AwaitingPong = false
	state.Up = true

	return state, []actor.Effect{
		effNotifyConnChanged{Up: true},
		effStartTimer{Gen: state.Gen, Name: timerHeartbeat, After: state.Heartbeat.Interval},
		effStartTimer{Gen: state.Gen, Name: timerReadyWait, After: readyWaitDelay},
	}
}

// reduceConnectionLost handles every recoverable exit from Connecting or
// Connected: dial failures, socket closes, socket errors, and heartbeat
// timeouts all funnel here.
func reduceConnectionLost(state State, cause error) (State, []actor.Effect) {
	switch state.FSM {
	case StateConnecting, StateConnected:
	default:
		// Already reconnecting or closed; a second trigger is a no-op.
		return state, nil
	}

	wasUp := state.Up
	oldGen := state.Gen
	state.Attempt++
	state.AwaitingPong = false
	state.Up = false

	var effects []actor.Effect
	effects = append(effects,
		effCancelAllTimers{},
		effCloseSocket{Gen: oldGen},
	)
	if wasUp {
		effects = append(effects, effNotifyConnChanged{Up: false})
	}

	delay, ok := state.Policy.Delay(state.Attempt)
	if !ok {
		state.FSM = StateClosed
		state.Reason = CloseAttemptsExhausted
		effects = append(effects, effNotifyError{Cond: Condition{
			Kind:  KindAttemptsExhausted,
			Err:   fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, state.Attempt-1, cause),
			Fatal: true,
		}})
		return state, effects
	}

	state.FSM = StateReconnecting
	effects = append(effects,
		effNotifyError{Cond: Condition{Kind: KindTransport, Err: cause}},
		effStartTimer{Gen: state.Gen, Name: timerReconnect, After: delay},
	)
	return state, effects
}

// reduceFatalClose tears the transport down without scheduling a retry.
func reduceFatalClose(state State, reason CloseReason, cond Condition) (State, []actor.Effect) {
	wasUp := state.Up
	oldGen := state.Gen
	state.Gen++
	state.FSM = StateClosed
	state.Reason = reason
	state.Attempt = 0
	state.AwaitingPong = false
	state.Up = false

	effects := []actor.Effect{
		effCancelAllTimers{},
		effCloseSocket{Gen: oldGen},
		effNotifyError{Cond: cond},
	}
	if wasUp {
		effects = append(effects, effNotifyConnChanged{Up: false})
	}
	return state, effects
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	switch ev.Name {
	case timerReconnect:
		if state.FSM != StateReconnecting {
			return state, nil
		}
		// The handle already encoded successfully during Connect.
		hello, _ := wire.Hello(state.Handle.Token, state.Handle.Device)
		state.Gen++
		state.FSM = StateConnecting
		state.SessionID = ""
		state.Announced = false
		return state, []actor.Effect{
			effDial{Gen: state.Gen, URL: state.Handle.EndpointURL, Hello: hello},
		}

	case timerHeartbeat:
		if state.FSM != StateConnected {
			return state, nil
		}
		state.AwaitingPong = true
		return state, []actor.Effect{
			effSendPing{Gen: state.Gen},
			effStartTimer{Gen: state.Gen, Name: timerPongWait, After: state.Heartbeat.Timeout},
		}

	case timerPongWait:
		if state.FSM != StateConnected || !state.AwaitingPong {
			return state, nil
		}
		// Synthetic stale-connection signal: treated exactly like a socket
		// close so recovery follows the one shared path.
		return reduceConnectionLost(state, errors.New("heartbeat timeout"))

	case timerReadyWait:
		if state.FSM != StateConnected || state.Announced {
			return state, nil
		}
		return announceConnected(state, state.Handle.SessionID)

	default:
		return state, nil
	}
}

// announceConnected fires the connected notification exactly once per
// established session.
func announceConnected(state State, sessionID string) (State, []actor.Effect) {
	state.Announced = true
	state.SessionID = sessionID
	return state, []actor.Effect{
		effCancelTimer{Name: timerReadyWait},
		effNotifyConnected{SessionID: sessionID},
	}
}

// reduceFrame classifies a decoded envelope. Precedence mirrors the
// protocol's layering of auxiliary signals over primary content: liveness
// first, then progress indicators, then suggestion chips, then primary
// content, and finally a forward-compatible fallback for unknown ops.
func reduceFrame(state State, env wire.Envelope) (State, []actor.Effect) {
	var effects []actor.Effect

	// The first inbound frame settles the connected notification: a ready
	// control frame supplies the server-assigned session id, anything else
	// means the server will not send one and the handle's id is used.
	if !state.Announced {
		if env.Op == wire.OpReady {
			if body, err := wire.ParseReady(env); err == nil && body.SessionID != "" {
				return announceConnected(state, body.SessionID)
			}
			return announceConnected(state, state.Handle.SessionID)
		}
		var announceEffects []actor.Effect
		state, announceEffects = announceConnected(state, state.Handle.SessionID)
		effects = append(effects, announceEffects...)
	}

	switch env.Op {
	case wire.OpPong:
		// Consumed by the heartbeat cycle, never forwarded to the consumer.
		if !state.AwaitingPong {
			return state, effects
		}
		state.AwaitingPong = false
		effects = append(effects,
			effCancelTimer{Name: timerPongWait},
			effStartTimer{Gen: state.Gen, Name: timerHeartbeat, After: state.Heartbeat.Interval},
		)
		return state, effects

	case wire.OpReady:
		// Duplicate ready frames after announcement are ignored.
		return state, effects

	case wire.OpThinking:
		effects = append(effects, effNotifyEnvelope{Category: CategoryThinking, Env: env})
		return state, effects

	case wire.OpSuggestions:
		effects = append(effects, effNotifyEnvelope{Category: CategorySuggestions, Env: env})
		return state, effects

	case wire.OpMessage:
		effects = append(effects,
			effAppendHistory{SessionID: state.SessionID, Env: env},
			effNotifyEnvelope{Category: CategoryMessage, Env: env},
		)
		if _, ok := wire.Recommendations(env); ok {
			effects = append(effects, effNotifyEnvelope{Category: CategoryRecommendations, Env: env})
		}
		return state, effects

	case wire.OpError:
		body := wire.ParseError(env)
		if body.Code == wire.CodeAuthRejected {
			return reduceFatalClose(state, CloseAuthRejectedBy, Condition{
				Kind:  KindAuthRejected,
				Err:   fmt.Errorf("%w: %s", ErrAuthRejected, body.Message),
				Fatal: true,
			})
		}
		effects = append(effects, effNotifyError{Cond: Condition{
			Kind: KindTransport,
			Err:  fmt.Errorf("server error %s: %s", body.Code, body.Message),
		}})
		return state, effects

	default:
		// Unknown ops are forwarded as generic messages rather than dropped,
		// so future frame shapes degrade gracefully.
		effects = append(effects, effNotifyEnvelope{Category: CategoryMessage, Env: env})
		return state, effects
	}
}

// reply answers a command's reply channel without blocking the loop.
func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
