package models

import "time"

// ChatStatus tracks the lifecycle of a submitted chat.
type ChatStatus string

const (
	ChatStatusPending   ChatStatus = "pending"
	ChatStatusRunning   ChatStatus = "running"
	ChatStatusCompleted ChatStatus = "completed"
	ChatStatusFailed    ChatStatus = "failed"
	ChatStatusStopped   ChatStatus = "stopped"
)

// ChatMeta is the per-chat record kept in the chat metadata hash. It exists
// so listings and retention can work without scanning event streams.
type ChatMeta struct {
	ChatID    string     `json:"chat_id"`
	Query     string     `json:"query"`
	Team      string     `json:"team,omitempty"`
	Author    string     `json:"author,omitempty"`
	Status    ChatStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
