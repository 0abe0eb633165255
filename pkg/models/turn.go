package models

import "time"

// TurnType distinguishes who produced a conversation turn.
type TurnType string

const (
	TurnUser      TurnType = "user"
	TurnAssistant TurnType = "assistant"
)

// Turn is one entry in a chat's shared conversation history.
type Turn struct {
	Type      TurnType  `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
