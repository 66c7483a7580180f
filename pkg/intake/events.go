package intake

import "github.com/tinyland-inc/bridgeclaw/pkg/providers/protocoltypes"

type EventType string

const (
	EventText   EventType = "text"   // streamed text fragment
	EventStatus EventType = "status" // progress note, not reply content
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event is one element of a processing stream. Exactly one of the
// payload fields is meaningful for a given type: Text for text/status,
// Err for error, Response for done.
type Event struct {
	Type     EventType
	Text     string
	Err      error
	Response *protocoltypes.LLMResponse
}
