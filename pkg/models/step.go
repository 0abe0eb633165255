package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxActionInputLen caps the persisted form of a step's action input.
// Longer inputs are truncated before storage so scratchpad history stays
// bounded regardless of tool argument size.
const MaxActionInputLen = 200

// Step is one reasoning iteration as persisted to shared history.
// Steps carry the role of the agent that produced them so that prompt
// reconstruction can filter history per role.
type Step struct {
	Thought         string    `json:"thought,omitempty"`
	Action          string    `json:"action,omitempty"`
	ActionInput     string    `json:"action_input,omitempty"`
	Observation     string    `json:"observation,omitempty"`
	IsOriginQuery   bool      `json:"is_origin_query,omitempty"`
	ToolExecutionID string    `json:"tool_execution_id,omitempty"`
	Role            Role      `json:"role,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StringifyActionInput renders an arbitrary action-input value for storage,
// truncating at MaxActionInputLen. Maps and slices are serialized as JSON;
// everything else uses its default string form.
func StringifyActionInput(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	default:
		if b, err := json.Marshal(x); err == nil {
			s = string(b)
		} else {
			s = fmt.Sprintf("%v", x)
		}
	}
	if runes := []rune(s); len(runes) > MaxActionInputLen {
		s = string(runes[:MaxActionInputLen])
	}
	return s
}
