package actor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuvola-ai/converse-go/internal/actor"
	"github.com/nuvola-ai/converse-go/internal/actor/actortest"
)

type counterState struct {
	Total int
}

type addInput struct {
	actor.InputBase
	N int
}

type noteEffect struct {
	actor.EffectBase
	Total int
}

type boomInput struct {
	actor.InputBase
}

func countReducer(state counterState, input actor.Input) (counterState, []actor.Effect) {
	switch in := input.(type) {
	case addInput:
		state.Total += in.N
		return state, []actor.Effect{noteEffect{Total: state.Total}}
	case boomInput:
		panic("boom")
	default:
		return state, nil
	}
}

func TestActorProcessesInputsInOrder(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New(counterState{}, countReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		require.True(t, a.Enqueue(addInput{N: i}))
	}

	require.Eventually(t, func() bool {
		return a.State().Total == 15
	}, time.Second, time.Millisecond)

	effects := rt.Effects()
	require.Len(t, effects, 5)
	want := []int{1, 3, 6, 10, 15}
	for i, eff := range effects {
		require.Equal(t, want[i], eff.(noteEffect).Total)
	}
}

func TestActorRuntimeCanEmitFollowUps(t *testing.T) {
	t.Parallel()

	// Each effect below a threshold re-emits an input, exercising the
	// mailbox feedback loop the real runtime uses for socket events.
	rt := &actortest.FakeRuntime{
		EmitFn: func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
			if note, ok := eff.(noteEffect); ok && note.Total < 4 {
				emit(addInput{N: 1})
			}
		},
	}
	a := actor.New(counterState{}, countReducer, rt)
	a.Start()
	defer a.Stop()

	require.True(t, a.Enqueue(addInput{N: 1}))
	require.Eventually(t, func() bool {
		return a.State().Total == 4
	}, time.Second, time.Millisecond)
}

func TestActorTransitionHook(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		totals []int
	)
	hooks := actor.Hooks[counterState]{
		OnTransition: func(prev, next counterState, _ actor.Input) {
			mu.Lock()
			totals = append(totals, next.Total)
			mu.Unlock()
		},
	}
	a := actor.New(counterState{}, countReducer, &actortest.FakeRuntime{}, actor.WithHooks(hooks))
	a.Start()
	defer a.Stop()

	a.Enqueue(addInput{N: 2})
	a.Enqueue(addInput{N: 3})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(totals) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2, 5}, totals)
}

func TestActorStop(t *testing.T) {
	t.Parallel()

	a := actor.New(counterState{}, countReducer, &actortest.FakeRuntime{})
	a.Start()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	require.False(t, a.Enqueue(addInput{N: 1}))

	// Stop is idempotent.
	a.Stop()
}

func TestActorPanicHook(t *testing.T) {
	t.Parallel()

	recovered := make(chan any, 1)
	hooks := actor.Hooks[counterState]{
		OnPanic: func(r any) { recovered <- r },
	}
	a := actor.New(counterState{}, countReducer, &actortest.FakeRuntime{}, actor.WithHooks(hooks))
	a.Start()

	a.Enqueue(boomInput{})

	select {
	case r := <-recovered:
		require.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic hook not invoked")
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after panic")
	}
}

func TestStepRunsReducerWithoutEffects(t *testing.T) {
	t.Parallel()

	next, effects := actor.Step(counterState{Total: 1}, addInput{N: 2}, countReducer)
	require.Equal(t, 3, next.Total)
	require.Len(t, effects, 1)
}

func TestFakeClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := actortest.NewFakeClock(start)
	require.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), clock.Now())
}
