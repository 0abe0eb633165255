package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TeamEvent is the unit of work exchanged over role and agent queues.
// A task event asks the receiving role to do something; a result event
// (IsResult true) carries a completed sub-task back to the agent that
// delegated it.
type TeamEvent struct {
	ChatID     string          `json:"chat_id"`
	Priority   int             `json:"priority"`
	EventID    string          `json:"event_id"`
	Role       Role            `json:"role"`
	SenderID   string          `json:"sender_id"`
	SenderRole Role            `json:"sender_role"`
	Payload    json.RawMessage `json:"payload"`
	IsResult   bool            `json:"is_result"`
}

// TaskPayload is the payload of a delegation event.
type TaskPayload struct {
	Task        string `json:"task"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context,omitempty"`
}

// ResultPayload is the payload of a result event sent back to the
// delegating agent's private queue.
type ResultPayload struct {
	Context  ResultContext  `json:"context"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultContext carries the outcome of the delegated task together with the
// task wording it answers, so the receiver can resume without re-reading
// its own history.
type ResultContext struct {
	Result      string `json:"result"`
	Task        string `json:"task"`
	Description string `json:"description,omitempty"`
}

// ResultMetadata identifies the producing agent and the delegation the
// result responds to.
type ResultMetadata struct {
	OriginQuery     string    `json:"origin_query,omitempty"`
	OriginalEventID string    `json:"original_event_id"`
	AgentID         string    `json:"agent_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewTaskEvent builds a delegation event addressed to a role.
func NewTaskEvent(chatID string, to Role, senderID string, senderRole Role, task TaskPayload) (TeamEvent, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return TeamEvent{}, fmt.Errorf("failed to encode task payload: %w", err)
	}
	return TeamEvent{
		ChatID:     chatID,
		EventID:    uuid.NewString(),
		Role:       to,
		SenderID:   senderID,
		SenderRole: senderRole,
		Payload:    raw,
	}, nil
}

// NewResultEvent builds a result event addressed to a specific agent,
// responding to the delegation identified by originalEventID.
func NewResultEvent(chatID string, to Role, senderID string, senderRole Role, result ResultPayload) (TeamEvent, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return TeamEvent{}, fmt.Errorf("failed to encode result payload: %w", err)
	}
	return TeamEvent{
		ChatID:     chatID,
		EventID:    uuid.NewString(),
		Role:       to,
		SenderID:   senderID,
		SenderRole: senderRole,
		Payload:    raw,
		IsResult:   true,
	}, nil
}

// Task decodes the payload as a TaskPayload.
func (e TeamEvent) Task() (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return TaskPayload{}, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return p, nil
}

// Result decodes the payload as a ResultPayload.
func (e TeamEvent) Result() (ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ResultPayload{}, fmt.Errorf("failed to decode result payload: %w", err)
	}
	return p, nil
}

// Encode serializes the event for queue transport.
func (e TeamEvent) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode team event: %w", err)
	}
	return string(b), nil
}

// DecodeTeamEvent parses an event previously produced by Encode.
func DecodeTeamEvent(raw string) (TeamEvent, error) {
	var e TeamEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return TeamEvent{}, fmt.Errorf("failed to decode team event: %w", err)
	}
	return e, nil
}
