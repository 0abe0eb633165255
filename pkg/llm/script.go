package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedResponse is one canned model reply.
type ScriptedResponse struct {
	Text string
	Err  error
}

// ScriptedCall records one Complete invocation for assertion.
type ScriptedCall struct {
	Messages []Message
	Model    string
}

// ScriptedClient replays canned responses in order. It backs tests and
// offline development runs. When RepeatLast is set, an exhausted script
// keeps returning its final response instead of failing.
type ScriptedClient struct {
	mu         sync.Mutex
	responses  []ScriptedResponse
	calls      []ScriptedCall
	next       int
	RepeatLast bool
}

// NewScripted creates a client that replays the given responses in order.
func NewScripted(responses ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

func (c *ScriptedClient) Complete(_ context.Context, messages []Message, model string) (string, Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := make([]Message, len(messages))
	copy(copied, messages)
	c.calls = append(c.calls, ScriptedCall{Messages: copied, Model: model})

	idx := c.next
	if idx >= len(c.responses) {
		if c.RepeatLast && len(c.responses) > 0 {
			idx = len(c.responses) - 1
		} else {
			return "", Usage{}, fmt.Errorf("scripted client exhausted after %d responses", len(c.responses))
		}
	} else {
		c.next++
	}

	r := c.responses[idx]
	if r.Err != nil {
		return "", Usage{}, r.Err
	}
	return r.Text, Usage{TotalTokens: len(r.Text) / 4}, nil
}

// Calls returns the recorded invocations.
func (c *ScriptedClient) Calls() []ScriptedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScriptedCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times Complete was invoked.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
