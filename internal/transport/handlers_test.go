package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nuvola-ai/converse-go/internal/wire"
)

func TestHandlersLastRegistrationWins(t *testing.T) {
	t.Parallel()

	h := NewHandlers(0)
	defer h.close()

	got := make(chan string, 2)
	h.OnConnected(func(sessionID string) { got <- "first:" + sessionID })
	h.OnConnected(func(sessionID string) { got <- "second:" + sessionID })

	h.notifyConnected("s1")

	select {
	case v := <-got:
		require.Equal(t, "second:s1", v)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
	select {
	case v := <-got:
		t.Fatalf("replaced handler invoked: %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlersNilClearsSlot(t *testing.T) {
	t.Parallel()

	h := NewHandlers(0)
	defer h.close()

	got := make(chan struct{}, 1)
	h.OnMessage(func(wire.Envelope) { got <- struct{}{} })
	h.OnMessage(nil)

	h.deliver(CategoryMessage, wire.Envelope{Op: "message"})

	select {
	case <-got:
		t.Fatal("cleared handler invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlersPreserveOrder(t *testing.T) {
	t.Parallel()

	h := NewHandlers(0)
	defer h.close()

	var (
		mu    sync.Mutex
		order []Category
	)
	record := func(cat Category) func(wire.Envelope) {
		return func(wire.Envelope) {
			mu.Lock()
			order = append(order, cat)
			mu.Unlock()
		}
	}
	h.OnMessage(record(CategoryMessage))
	h.OnRecommendations(record(CategoryRecommendations))
	h.OnThinking(record(CategoryThinking))

	env := wire.Envelope{Op: "message"}
	h.deliver(CategoryThinking, env)
	h.deliver(CategoryMessage, env)
	h.deliver(CategoryRecommendations, env)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Category{CategoryThinking, CategoryMessage, CategoryRecommendations}, order)
}

func TestHandlersUnregisteredCategoryDropped(t *testing.T) {
	t.Parallel()

	h := NewHandlers(0)
	defer h.close()

	// No handler registered: delivery must not panic or block.
	h.deliver(CategorySuggestions, wire.Envelope{Op: "suggestions"})
	h.notifyError(Condition{Kind: KindTransport})
	h.notifyConnectionChanged(true)
}
