// Package types defines the public data shapes the SDK hands to consumers.
package types

import "encoding/json"

// Event is one decoded realtime frame: the operation discriminant plus the
// raw JSON body. Bodies the SDK does not interpret are passed through
// untouched so consumers can decode future fields themselves.
type Event struct {
	Op   string          `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

// MessageBody is the typed view of a message event body.
type MessageBody struct {
	// LocalID echoes the client-generated id for messages this client sent.
	LocalID string `json:"localId,omitempty"`
	// Role is the author of the message (e.g. "assistant", "user").
	Role string `json:"role,omitempty"`
	// Text is the rendered message text.
	Text string `json:"text,omitempty"`
	// Recommendations are optional follow-up actions embedded in the message.
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// ParseMessage decodes a message event body. Unknown fields are ignored.
func ParseMessage(ev Event) (MessageBody, error) {
	var body MessageBody
	err := json.Unmarshal(ev.Body, &body)
	return body, err
}

// Recommendation is one follow-up action attached to a message.
type Recommendation struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Suggestion is one suggestion chip for the current turn.
type Suggestion struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt,omitempty"`
}

// SuggestionsBody is the typed view of a suggestions event body.
type SuggestionsBody struct {
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// ParseSuggestions decodes a suggestions event body.
func ParseSuggestions(ev Event) (SuggestionsBody, error) {
	var body SuggestionsBody
	err := json.Unmarshal(ev.Body, &body)
	return body, err
}

// ThinkingBody is the typed view of a thinking event body.
type ThinkingBody struct {
	// Active reports whether the assistant is currently working on a turn.
	Active bool `json:"active"`
	// Hint is optional progress text suitable for display.
	Hint string `json:"hint,omitempty"`
}

// ParseThinking decodes a thinking event body.
func ParseThinking(ev Event) (ThinkingBody, error) {
	var body ThinkingBody
	err := json.Unmarshal(ev.Body, &body)
	return body, err
}

// HistoryEntry is one retained frame from the local encrypted history.
type HistoryEntry struct {
	ReceivedAtMs int64 `json:"receivedAtMs"`
	Event        Event `json:"event"`
}

// Assistant is one conversational backend offered by the server.
type Assistant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Prompt is a starter prompt from the server catalog.
type Prompt struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
