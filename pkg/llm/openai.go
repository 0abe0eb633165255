package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds provider settings. BaseURL points the client at any
// endpoint speaking the OpenAI chat-completion protocol.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIClient implements Client over the OpenAI chat-completion API with
// linear-backoff retry on transient failures.
type OpenAIClient struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAI creates a model client. An empty API key is allowed so wiring
// can happen before credentials exist; calls then fail with a clear error.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	c := &OpenAIClient{
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		c.client = openai.NewClientWithConfig(clientCfg)
	}
	return c
}

// Complete performs one chat completion, retrying transient failures with
// linear backoff (delay, 2*delay, ...). Context expiry aborts the loop.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, model string) (string, Usage, error) {
	if c.client == nil {
		return "", Usage{}, fmt.Errorf("model API key not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(messages),
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("Model call failed, retrying",
				"model", model, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return "", Usage{}, fmt.Errorf("model call failed: %w", lastErr)
		}
	}
	if lastErr != nil {
		return "", Usage{}, fmt.Errorf("model call failed after %d attempts: %w", c.maxRetries, lastErr)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", usage, &TerminalError{
			Message: "The response was blocked by the provider's content filter.",
		}
	}
	return choice.Message.Content, usage, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}
	return out
}

// isRetryableError classifies transport failures worth retrying: rate
// limits, provider 5xx, and timeouts. Everything else (auth, validation)
// fails fast. Context expiry is caught by the backoff select.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return true
	}
	return false
}
