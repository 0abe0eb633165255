package events

import "time"

// Now returns the timestamp format used by every event payload.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// StatusPayload is the payload for status events.
// Published when a chat transitions between lifecycle states.
type StatusPayload struct {
	Status    string `json:"status"`           // pending, running, completed, failed, stopped
	Detail    string `json:"detail,omitempty"` // human-readable context for the transition
	Timestamp string `json:"timestamp"`        // RFC3339Nano
}

// CompletePayload is the terminal payload for a chat. Exactly one is
// published per chat run, regardless of how many agents took part.
type CompletePayload struct {
	Answer    string `json:"answer"`    // the final answer surfaced to the user
	Status    string `json:"status"`    // completed, failed, stopped
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ErrorPayload is the payload for chat-level error events.
type ErrorPayload struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// WorkflowPayload is the payload for workflow events.
// Published once when a team run starts, describing the planned layout.
type WorkflowPayload struct {
	Team      string   `json:"team"`       // team name from config
	StartRole string   `json:"start_role"` // role that receives the user query
	Roles     []string `json:"roles"`      // all roles instantiated for this run
	Timestamp string   `json:"timestamp"`  // RFC3339Nano
}

// NodeResultPayload is the payload for node_result events.
// Published when a delegated task completes and its result flows back.
type NodeResultPayload struct {
	NodeID    string `json:"node_id,omitempty"` // originating workflow node, if any
	AgentID   string `json:"agent_id"`          // agent that produced the result
	Role      string `json:"role"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentStartPayload is the payload for agent_start events.
type AgentStartPayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Query     string `json:"query"`     // the task the agent is starting on
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentThinkingPayload is the payload for agent_thinking events.
// One is published per loop iteration, carrying the parsed thought.
type AgentThinkingPayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Thought   string `json:"thought"`
	Iteration int    `json:"iteration,omitempty"` // 1-based
	Timestamp string `json:"timestamp"`           // RFC3339Nano
}

// AgentCompletePayload is the payload for agent_complete events.
type AgentCompletePayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentErrorPayload is the payload for agent_error events.
type AgentErrorPayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ExplanationPayload is the payload for explanation events: free text a
// coordinating agent surfaces to narrate what it is doing.
type ExplanationPayload struct {
	AgentID   string `json:"agent_id,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AnswerPayload is the payload for answer events: an intermediate answer
// fragment produced before the terminal complete event.
type AnswerPayload struct {
	AgentID   string `json:"agent_id,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ActionStartPayload is the payload for action_start events.
// Published before every tool attempt sequence begins.
type ActionStartPayload struct {
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Tool      string `json:"tool"`
	Input     string `json:"input,omitempty"` // stringified action input, already truncated
	Timestamp string `json:"timestamp"`       // RFC3339Nano
}

// ActionCompletePayload is the payload for action_complete events.
type ActionCompletePayload struct {
	AgentID    string `json:"agent_id"`
	Role       string `json:"role"`
	Tool       string `json:"tool"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// ToolProgressPayload is the payload for tool_progress events.
// Published at the start of each individual attempt.
type ToolProgressPayload struct {
	AgentID   string `json:"agent_id"`
	Tool      string `json:"tool"`
	Attempt   int    `json:"attempt"` // 1-based
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ToolRetryPayload is the payload for tool_retry events.
// Published once per failed attempt, including the final one.
type ToolRetryPayload struct {
	Tool       string `json:"tool"`
	Attempt    int    `json:"attempt"` // 1-based index of the attempt that failed
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// UserInputRequiredPayload is the payload for user_input_required events.
// Published when a run suspends until an operator replies via the input API.
type UserInputRequiredPayload struct {
	NodeID    string `json:"node_id"` // correlation key the input API must echo back
	AgentID   string `json:"agent_id"`
	Prompt    string `json:"prompt"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PlaybookUpdatePayload is the payload for playbook_update events.
// Published after each successful playbook regeneration.
type PlaybookUpdatePayload struct {
	Playbook  string `json:"playbook"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
