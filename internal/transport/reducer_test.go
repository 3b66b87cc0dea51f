package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuvola-ai/converse-go/internal/actor"
	"github.com/nuvola-ai/converse-go/internal/wire"
)

func testPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxAttempts: 3, Multiplier: 2, JitterFactor: 0}
}

func testHandle() SessionHandle {
	return SessionHandle{
		Token:       "tok-123",
		SessionID:   "local-session",
		EndpointURL: "wss://example.test/v1/stream",
	}
}

func idleState() State {
	return State{
		FSM:       StateIdle,
		Policy:    testPolicy(),
		Heartbeat: HeartbeatConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second},
	}
}

// connect drives idle state through Connect and a successful dial.
func connectedState(t *testing.T) State {
	t.Helper()
	state, _ := actor.Step(idleState(), cmdConnect{Handle: testHandle()}, Reduce)
	require.Equal(t, StateConnecting, state.FSM)
	state, _ = actor.Step(state, evDialSucceeded{Gen: state.Gen}, Reduce)
	require.Equal(t, StateConnected, state.FSM)
	return state
}

func frame(t *testing.T, op string, body string) wire.Envelope {
	t.Helper()
	env, err := wire.Decode([]byte(`{"op":"` + op + `","body":` + body + `}`))
	require.NoError(t, err)
	return env
}

// effectsOfType extracts all effects assignable to E, preserving order.
func effectsOfType[E actor.Effect](effects []actor.Effect) []E {
	var out []E
	for _, e := range effects {
		if typed, ok := e.(E); ok {
			out = append(out, typed)
		}
	}
	return out
}

func timersStarted(effects []actor.Effect) []string {
	var names []string
	for _, e := range effectsOfType[effStartTimer](effects) {
		names = append(names, e.Name)
	}
	return names
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		state   State
		handle  SessionHandle
		wantErr error
	}{
		{
			name:    "empty token",
			state:   idleState(),
			handle:  SessionHandle{EndpointURL: "wss://example.test"},
			wantErr: ErrEmptyToken,
		},
		{
			name:    "empty endpoint",
			state:   idleState(),
			handle:  SessionHandle{Token: "tok"},
			wantErr: ErrNoEndpoint,
		},
		{
			name:    "already connecting",
			state:   State{FSM: StateConnecting, Policy: testPolicy()},
			handle:  testHandle(),
			wantErr: ErrAlreadyActive,
		},
		{
			name:    "already reconnecting",
			state:   State{FSM: StateReconnecting, Policy: testPolicy()},
			handle:  testHandle(),
			wantErr: ErrAlreadyActive,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reply := make(chan error, 1)
			next, effects := actor.Step(tc.state, cmdConnect{Handle: tc.handle, Reply: reply}, Reduce)
			require.ErrorIs(t, <-reply, tc.wantErr)
			require.Equal(t, tc.state.FSM, next.FSM)
			require.Empty(t, effects)
		})
	}
}

func TestConnectDials(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	state, effects := actor.Step(idleState(), cmdConnect{Handle: testHandle(), Reply: reply}, Reduce)

	require.NoError(t, <-reply)
	require.Equal(t, StateConnecting, state.FSM)
	require.Equal(t, int64(1), state.Gen)

	dials := effectsOfType[effDial](effects)
	require.Len(t, dials, 1)
	require.Equal(t, state.Gen, dials[0].Gen)
	require.Equal(t, "wss://example.test/v1/stream", dials[0].URL)

	var hello map[string]any
	require.NoError(t, json.Unmarshal(dials[0].Hello, &hello))
	require.Equal(t, "hello", hello["op"])
}

func TestDialSucceededStartsHeartbeat(t *testing.T) {
	t.Parallel()

	state, _ := actor.Step(idleState(), cmdConnect{Handle: testHandle()}, Reduce)
	state, effects := actor.Step(state, evDialSucceeded{Gen: state.Gen}, Reduce)

	require.Equal(t, StateConnected, state.FSM)
	require.True(t, state.Up)
	require.Zero(t, state.Attempt)

	changed := effectsOfType[effNotifyConnChanged](effects)
	require.Len(t, changed, 1)
	require.True(t, changed[0].Up)
	require.ElementsMatch(t, []string{timerHeartbeat, timerReadyWait}, timersStarted(effects))
}

func TestStaleDialSucceededIgnored(t *testing.T) {
	t.Parallel()

	state, _ := actor.Step(idleState(), cmdConnect{Handle: testHandle()}, Reduce)
	next, effects := actor.Step(state, evDialSucceeded{Gen: state.Gen - 1}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)
}

func TestReadyFrameAnnouncesServerSession(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, effects := actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "ready", `{"sessionId":"srv-42"}`),
	}, Reduce)

	require.True(t, state.Announced)
	require.Equal(t, "srv-42", state.SessionID)

	conns := effectsOfType[effNotifyConnected](effects)
	require.Len(t, conns, 1)
	require.Equal(t, "srv-42", conns[0].SessionID)

	// Duplicate ready frames after announcement do nothing.
	_, effects = actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "ready", `{"sessionId":"srv-43"}`),
	}, Reduce)
	require.Empty(t, effectsOfType[effNotifyConnected](effects))
}

func TestFirstContentFrameAnnouncesHandleSession(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, effects := actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "message", `{"text":"hi"}`),
	}, Reduce)

	require.True(t, state.Announced)
	require.Equal(t, "local-session", state.SessionID)

	conns := effectsOfType[effNotifyConnected](effects)
	require.Len(t, conns, 1)
	require.Equal(t, "local-session", conns[0].SessionID)
	// The frame is still delivered after the announcement.
	require.NotEmpty(t, effectsOfType[effNotifyEnvelope](effects))
}

func TestReadyWaitTimerFallsBack(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, effects := actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

	require.True(t, state.Announced)
	conns := effectsOfType[effNotifyConnected](effects)
	require.Len(t, conns, 1)
	require.Equal(t, "local-session", conns[0].SessionID)
}

func TestHeartbeatCyclesStayConnected(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	for i := 0; i < 3; i++ {
		var effects []actor.Effect
		state, effects = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerHeartbeat}, Reduce)
		require.True(t, state.AwaitingPong)
		require.Len(t, effectsOfType[effSendPing](effects), 1)
		require.Contains(t, timersStarted(effects), timerPongWait)

		state, effects = actor.Step(state, evFrameReceived{
			Gen: state.Gen,
			Env: frame(t, "pong", `{"ts":1}`),
		}, Reduce)
		require.False(t, state.AwaitingPong)
		require.Contains(t, timersStarted(effects), timerHeartbeat)
		// Pongs never reach a consumer handler.
		require.Empty(t, effectsOfType[effNotifyEnvelope](effects))
	}
	require.Equal(t, StateConnected, state.FSM)
}

func TestMissedPongReconnects(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerHeartbeat}, Reduce)
	state, effects := actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerPongWait}, Reduce)

	require.Equal(t, StateReconnecting, state.FSM)
	require.Equal(t, 1, state.Attempt)
	require.False(t, state.Up)

	changed := effectsOfType[effNotifyConnChanged](effects)
	require.Len(t, changed, 1)
	require.False(t, changed[0].Up)

	timers := effectsOfType[effStartTimer](effects)
	require.Len(t, timers, 1)
	require.Equal(t, timerReconnect, timers[0].Name)
	require.Equal(t, time.Second, timers[0].After)
}

func TestPongWithoutOutstandingPingIgnored(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)
	next, effects := actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "pong", `{"ts":1}`),
	}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)
}

func TestReconnectTimerRedials(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evSocketClosed{Gen: state.Gen, Err: errors.New("reset")}, Reduce)
	require.Equal(t, StateReconnecting, state.FSM)

	prevGen := state.Gen
	state, effects := actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReconnect}, Reduce)
	require.Equal(t, StateConnecting, state.FSM)
	require.Equal(t, prevGen+1, state.Gen)
	require.False(t, state.Announced)

	dials := effectsOfType[effDial](effects)
	require.Len(t, dials, 1)
	require.Equal(t, state.Gen, dials[0].Gen)
}

func TestBackoffDelaysGrowPerAttempt(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	for i, expect := range want {
		var effects []actor.Effect
		state, effects = actor.Step(state, evSocketClosed{Gen: state.Gen, Err: errors.New("refused")}, Reduce)
		require.Equal(t, StateReconnecting, state.FSM)
		require.Equal(t, i+1, state.Attempt)

		timers := effectsOfType[effStartTimer](effects)
		require.Len(t, timers, 1)
		require.Equal(t, expect, timers[0].After)

		state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReconnect}, Reduce)
		require.Equal(t, StateConnecting, state.FSM)
	}
}

func TestAttemptsExhaustedIsTerminal(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	for i := 0; i < testPolicy().MaxAttempts; i++ {
		state, _ = actor.Step(state, evSocketClosed{Gen: state.Gen, Err: errors.New("refused")}, Reduce)
		require.Equal(t, StateReconnecting, state.FSM)
		state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReconnect}, Reduce)
	}

	state, effects := actor.Step(state, evDialFailed{Gen: state.Gen, Err: errors.New("refused")}, Reduce)
	require.Equal(t, StateClosed, state.FSM)
	require.Equal(t, CloseAttemptsExhausted, state.Reason)
	require.Empty(t, timersStarted(effects))

	conds := effectsOfType[effNotifyError](effects)
	require.Len(t, conds, 1)
	require.True(t, conds[0].Cond.Fatal)
	require.Equal(t, KindAttemptsExhausted, conds[0].Cond.Kind)
	require.ErrorIs(t, conds[0].Cond.Err, ErrAttemptsExhausted)

	// Terminal until the next explicit Connect.
	next, effects := actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReconnect}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)

	reply := make(chan error, 1)
	next, _ = actor.Step(state, cmdConnect{Handle: testHandle(), Reply: reply}, Reduce)
	require.NoError(t, <-reply)
	require.Equal(t, StateConnecting, next.FSM)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	reply := make(chan error, 1)
	state, effects := actor.Step(state, cmdDisconnect{Reply: reply}, Reduce)

	require.NoError(t, <-reply)
	require.Equal(t, StateClosed, state.FSM)
	require.Equal(t, CloseExplicit, state.Reason)
	require.Len(t, effectsOfType[effCancelAllTimers](effects), 1)
	require.Len(t, effectsOfType[effCloseSocket](effects), 1)

	changed := effectsOfType[effNotifyConnChanged](effects)
	require.Len(t, changed, 1)
	require.False(t, changed[0].Up)

	reply = make(chan error, 1)
	next, effects := actor.Step(state, cmdDisconnect{Reply: reply}, Reduce)
	require.NoError(t, <-reply)
	require.Equal(t, state, next)
	require.Empty(t, effects)
}

func TestStaleSocketEventsAfterDisconnectIgnored(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	liveGen := state.Gen
	state, _ = actor.Step(state, cmdDisconnect{}, Reduce)

	next, effects := actor.Step(state, evSocketClosed{Gen: liveGen, Err: errors.New("eof")}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)

	next, effects = actor.Step(state, evFrameReceived{Gen: liveGen, Env: frame(t, "message", `{}`)}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)
}

func TestSendRequiresConnected(t *testing.T) {
	t.Parallel()

	for _, fsm := range []ConnState{StateIdle, StateConnecting, StateReconnecting, StateClosed} {
		reply := make(chan error, 1)
		state := State{FSM: fsm, Policy: testPolicy()}
		_, effects := actor.Step(state, cmdSend{LocalID: "m1", Payload: json.RawMessage(`{"text":"x"}`), Reply: reply}, Reduce)
		require.ErrorIs(t, <-reply, ErrNotConnected, "state %s", fsm)
		require.Empty(t, effects)
	}
}

func TestSendWritesTaggedFrame(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	reply := make(chan error, 1)
	_, effects := actor.Step(state, cmdSend{
		LocalID: "m1",
		Payload: json.RawMessage(`{"text":"hi"}`),
		Reply:   reply,
	}, Reduce)
	require.NoError(t, <-reply)

	writes := effectsOfType[effWriteFrame](effects)
	require.Len(t, writes, 1)
	require.Equal(t, state.Gen, writes[0].Gen)

	var sent struct {
		Op   string `json:"op"`
		Body struct {
			LocalID string `json:"localId"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal(writes[0].Frame, &sent))
	require.Equal(t, "message", sent.Op)
	require.Equal(t, "m1", sent.Body.LocalID)
}

func TestMessageWithRecommendationsOrdering(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

	_, effects := actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "message", `{"text":"pick one","recommendations":[{"label":"a"}]}`),
	}, Reduce)

	require.Len(t, effectsOfType[effAppendHistory](effects), 1)

	notifies := effectsOfType[effNotifyEnvelope](effects)
	require.Len(t, notifies, 2)
	require.Equal(t, CategoryMessage, notifies[0].Category)
	require.Equal(t, CategoryRecommendations, notifies[1].Category)
}

func TestMessageWithoutRecommendations(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

	_, effects := actor.Step(state, evFrameReceived{
		Gen: state.Gen,
		Env: frame(t, "message", `{"text":"plain","recommendations":null}`),
	}, Reduce)

	notifies := effectsOfType[effNotifyEnvelope](effects)
	require.Len(t, notifies, 1)
	require.Equal(t, CategoryMessage, notifies[0].Category)
}

func TestAuxiliaryFrameClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   string
		want Category
	}{
		{"thinking", CategoryThinking},
		{"suggestions", CategorySuggestions},
		{"hologram", CategoryMessage}, // unknown ops degrade to messages
	}

	for _, tc := range tests {
		t.Run(tc.op, func(t *testing.T) {
			t.Parallel()

			state := connectedState(t)
			state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

			_, effects := actor.Step(state, evFrameReceived{
				Gen: state.Gen,
				Env: frame(t, tc.op, `{}`),
			}, Reduce)
			notifies := effectsOfType[effNotifyEnvelope](effects)
			require.Len(t, notifies, 1)
			require.Equal(t, tc.want, notifies[0].Category)
		})
	}
}

func TestServerErrorFrame(t *testing.T) {
	t.Parallel()

	t.Run("auth rejection closes without retry", func(t *testing.T) {
		t.Parallel()

		state := connectedState(t)
		state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

		state, effects := actor.Step(state, evFrameReceived{
			Gen: state.Gen,
			Env: frame(t, "error", `{"code":"auth-rejected","message":"token expired"}`),
		}, Reduce)

		require.Equal(t, StateClosed, state.FSM)
		require.Equal(t, CloseAuthRejectedBy, state.Reason)
		require.Empty(t, timersStarted(effects))

		conds := effectsOfType[effNotifyError](effects)
		require.Len(t, conds, 1)
		require.True(t, conds[0].Cond.Fatal)
		require.ErrorIs(t, conds[0].Cond.Err, ErrAuthRejected)
	})

	t.Run("other codes stay connected", func(t *testing.T) {
		t.Parallel()

		state := connectedState(t)
		state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerReadyWait}, Reduce)

		next, effects := actor.Step(state, evFrameReceived{
			Gen: state.Gen,
			Env: frame(t, "error", `{"code":"rate-limited","message":"slow down"}`),
		}, Reduce)

		require.Equal(t, StateConnected, next.FSM)
		conds := effectsOfType[effNotifyError](effects)
		require.Len(t, conds, 1)
		require.False(t, conds[0].Cond.Fatal)
	})
}

func TestAuthRejectedSocketClose(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, effects := actor.Step(state, evSocketError{
		Gen:          state.Gen,
		Err:          errors.New("close 4401"),
		AuthRejected: true,
	}, Reduce)

	require.Equal(t, StateClosed, state.FSM)
	require.Equal(t, CloseAuthRejectedBy, state.Reason)
	require.Empty(t, timersStarted(effects))
}

func TestSocketCloseRacingHeartbeatTimeout(t *testing.T) {
	t.Parallel()

	state := connectedState(t)
	state, _ = actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerHeartbeat}, Reduce)

	state, _ = actor.Step(state, evSocketClosed{Gen: state.Gen, Err: errors.New("eof")}, Reduce)
	require.Equal(t, StateReconnecting, state.FSM)
	require.Equal(t, 1, state.Attempt)

	// The losing trigger is a no-op: attempt count does not double-bump.
	next, effects := actor.Step(state, evTimerFired{Gen: state.Gen, Name: timerPongWait}, Reduce)
	require.Equal(t, state, next)
	require.Empty(t, effects)
	require.Equal(t, 1, next.Attempt)
}
