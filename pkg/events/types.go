// Package events delivers per-chat progress events to UI clients.
//
// Every event is wrapped in a two-field envelope:
//
//	{"event": "<type>", "data": "<payload>"}
//
// where data is either a JSON-encoded payload object (the common case,
// see payloads.go) or plain text. Payload objects always carry a
// timestamp field (RFC3339Nano).
//
// Delivery is persist-then-broadcast: the full envelope is appended to
// the chat's replay log (a capped KVS list), then a live copy is
// published on the chat's pub/sub channel. Subscribers replay the log
// and merge the live feed, so late joiners see the whole session.
//
// Guarantees are deliberately loose: at-least-once delivery (an event
// landing between subscribe and replay can arrive twice), per-chat
// ordering only, and oversized live frames are replaced by a
// {"truncated": true} marker while the replay log keeps the full event.
package events

// Chat lifecycle events.
const (
	EventTypeStatus   = "status"
	EventTypeComplete = "complete"
	EventTypeError    = "error"
)

// Team orchestration events.
const (
	EventTypeWorkflow   = "workflow"
	EventTypeNodeResult = "node_result"
)

// Agent loop events.
const (
	EventTypeAgentStart    = "agent_start"
	EventTypeAgentThinking = "agent_thinking"
	EventTypeAgentComplete = "agent_complete"
	EventTypeAgentError    = "agent_error"
	EventTypeExplanation   = "explanation"
	EventTypeAnswer        = "answer"
)

// Tool execution events.
const (
	EventTypeActionStart       = "action_start"
	EventTypeActionComplete    = "action_complete"
	EventTypeToolProgress      = "tool_progress"
	EventTypeToolRetry         = "tool_retry"
	EventTypeUserInputRequired = "user_input_required"
)

// Playbook events.
const (
	EventTypePlaybookUpdate = "playbook_update"
)
