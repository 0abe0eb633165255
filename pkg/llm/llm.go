// Package llm provides the model client used by agent loops and auxiliary
// analysis calls (playbook regeneration, tool memory, parser repair).
package llm

import (
	"context"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client is the single-call model contract. Implementations retry transient
// transport failures internally; deadlines are the caller's responsibility
// via ctx.
type Client interface {
	Complete(ctx context.Context, messages []Message, model string) (string, Usage, error)
}

// CompleteFunc adapts a function to the Client interface.
type CompleteFunc func(ctx context.Context, messages []Message, model string) (string, Usage, error)

func (f CompleteFunc) Complete(ctx context.Context, messages []Message, model string) (string, Usage, error) {
	return f(ctx, messages, model)
}

// TerminalError signals that the provider returned a terminal condition
// whose message should stand as the run's final answer, for example a
// content-policy refusal. The agent loop adopts the message and stops
// instead of retrying.
type TerminalError struct {
	Message string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("model returned terminal condition: %s", e.Message)
}
