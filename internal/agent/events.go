// Package agent runs the model turn loop and exposes it as an event stream.
package agent

import "github.com/user/clawgate/internal/types"

// EventType identifies one kind of run event.
type EventType string

const (
	EventAgentStart EventType = "agent_start"
	// EventMessageUpdate carries the cumulative assistant text so far.
	// Consumers diff against the previous update to get the delta.
	EventMessageUpdate EventType = "message_update"
	// EventTextEnd marks the end of one assistant text segment. Segments
	// are separated by tool activity.
	EventTextEnd EventType = "text_end"
	// EventMessageEnd marks the end of the final assistant message.
	EventMessageEnd EventType = "message_end"

	EventToolStart  EventType = "tool_start"
	EventToolUpdate EventType = "tool_update"
	EventToolEnd    EventType = "tool_end"

	// Compaction events bracket a context-overflow recovery. WillRetry on
	// the end event says whether the run continues with a smaller window.
	EventCompactionStart EventType = "compaction_start"
	EventCompactionEnd   EventType = "compaction_end"

	EventAgentEnd EventType = "agent_end"
	EventError    EventType = "error"
)

// Event is one item on a run's event stream.
type Event struct {
	Type  EventType
	RunID types.RunID

	// Text is cumulative for message_update, and the full segment for
	// text_end / message_end.
	Text string

	ToolCallID string
	Tool       string
	Meta       map[string]any

	WillRetry bool
	Err       error
}
