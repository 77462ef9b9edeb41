package models

// CollectEventType discriminates events on the collect progress stream.
type CollectEventType string

const (
	CollectEventProgress CollectEventType = "progress"
	CollectEventDone     CollectEventType = "done"
	CollectEventError    CollectEventType = "error"
)

// CollectEvent is one message on the server-push stream a collect run emits.
// The stream is an ordered sequence of progress events terminated by exactly
// one done or error event.
type CollectEvent struct {
	Type    CollectEventType `json:"type"`
	Message string           `json:"message,omitempty"`
	Summary *CollectSummary  `json:"summary,omitempty"`
}

// CollectSummary is the terminal payload of a successful collect run.
type CollectSummary struct {
	ReferenceMonth     string   `json:"reference_month"`
	ResourceCount      int      `json:"resource_count"`
	PriceCount         int      `json:"price_count"`
	CompositionCount   int      `json:"composition_count"`
	BreakdownItemCount int      `json:"breakdown_item_count"`
	ErrorCount         int      `json:"error_count"`
	Errors             []string `json:"errors,omitempty"`
}

// NewProgressEvent builds a progress message event.
func NewProgressEvent(msg string) CollectEvent {
	return CollectEvent{Type: CollectEventProgress, Message: msg}
}

// NewDoneEvent builds the terminal success event.
func NewDoneEvent(summary *CollectSummary) CollectEvent {
	return CollectEvent{Type: CollectEventDone, Summary: summary}
}

// NewErrorEvent builds the terminal failure event.
func NewErrorEvent(msg string) CollectEvent {
	return CollectEvent{Type: CollectEventError, Message: msg}
}
