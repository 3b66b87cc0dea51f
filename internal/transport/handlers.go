package transport

import (
	"sync"

	"github.com/nuvola-ai/converse-go/internal/wire"
)

// Category names an envelope notification slot. Connected, connectivity and
// error notifications carry typed arguments instead and have no category.
type Category string

const (
	CategoryMessage         Category = "message"
	CategoryThinking        Category = "thinking"
	CategorySuggestions     Category = "suggestions"
	CategoryRecommendations Category = "recommendations"
)

// Handlers is the consumer notification registry: one handler slot per
// category, last registration wins. Registering nil clears a slot.
//
// Handlers run on a dedicated callback goroutine, in the order the state
// machine emitted them, and never concurrently with each other.
type Handlers struct {
	queue *callbackQueue

	mu                sync.Mutex
	connected         func(sessionID string)
	connectionChanged func(up bool)
	message           func(env wire.Envelope)
	thinking          func(env wire.Envelope)
	suggestions       func(env wire.Envelope)
	recommendations   func(env wire.Envelope)
	errh              func(cond Condition)
}

// NewHandlers returns an empty registry with its own callback goroutine.
// queueSize bounds the pending callback buffer; zero selects a default.
func NewHandlers(queueSize int) *Handlers {
	return &Handlers{queue: newCallbackQueue(queueSize)}
}

// close stops the callback goroutine.
func (h *Handlers) close() {
	h.queue.close()
}

// OnConnected registers the connected handler, replacing any previous one.
func (h *Handlers) OnConnected(fn func(sessionID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = fn
}

// OnConnectionChanged registers the connectivity handler, replacing any
// previous one.
func (h *Handlers) OnConnectionChanged(fn func(up bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectionChanged = fn
}

// OnMessage registers the message handler, replacing any previous one.
func (h *Handlers) OnMessage(fn func(env wire.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.message = fn
}

// OnThinking registers the thinking handler, replacing any previous one.
func (h *Handlers) OnThinking(fn func(env wire.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thinking = fn
}

// OnSuggestions registers the smart-suggestions handler, replacing any
// previous one.
func (h *Handlers) OnSuggestions(fn func(env wire.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.suggestions = fn
}

// OnRecommendations registers the recommendations handler, replacing any
// previous one.
func (h *Handlers) OnRecommendations(fn func(env wire.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recommendations = fn
}

// OnError registers the error handler, replacing any previous one.
func (h *Handlers) OnError(fn func(cond Condition)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errh = fn
}

func (h *Handlers) notifyConnected(sessionID string) {
	h.mu.Lock()
	fn := h.connected
	h.mu.Unlock()
	if fn != nil {
		h.queue.do(func() { fn(sessionID) })
	}
}

func (h *Handlers) notifyConnectionChanged(up bool) {
	h.mu.Lock()
	fn := h.connectionChanged
	h.mu.Unlock()
	if fn != nil {
		h.queue.do(func() { fn(up) })
	}
}

func (h *Handlers) deliver(cat Category, env wire.Envelope) {
	h.mu.Lock()
	var fn func(wire.Envelope)
	switch cat {
	case CategoryMessage:
		fn = h.message
	case CategoryThinking:
		fn = h.thinking
	case CategorySuggestions:
		fn = h.suggestions
	case CategoryRecommendations:
		fn = h.recommendations
	}
	h.mu.Unlock()
	if fn != nil {
		h.queue.do(func() { fn(env) })
	}
}

func (h *Handlers) notifyError(cond Condition) {
	h.mu.Lock()
	fn := h.errh
	h.mu.Unlock()
	if fn != nil {
		h.queue.do(func() { fn(cond) })
	}
}
