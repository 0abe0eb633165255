package tool

import (
	"context"
	"fmt"

	"github.com/troupehq/troupe/pkg/events"
)

// InputWaiter blocks until an operator supplies a value for a node.
// Implemented by the session input broker.
type InputWaiter interface {
	Wait(ctx context.Context, nodeID string) (string, error)
}

// NewFinalAnswer returns the sentinel tool that ends a loop. The invoker
// echoes the answer so termination conditions observe it like any other
// tool result.
func NewFinalAnswer() *Tool {
	return &Tool{
		Name:        NameFinalAnswer,
		Description: "Deliver the final answer to the user and end the run.",
		Params: map[string]Param{
			"answer": {Type: "string", Required: true, Description: "The complete final answer."},
		},
		Outputs: map[string]string{"result": "The answer text, unchanged."},
		Invoke: func(_ context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"result": params["answer"]}, nil
		},
	}
}

// NewUserInput returns the interactive tool. It surfaces the prompt as a
// user_input_required event and suspends until the input API resumes the
// generated node, or ctx ends.
//
// chat_id, node_id and agent_id arrive as implicit parameters injected by
// the executor.
func NewUserInput(waiter InputWaiter, pub *events.Publisher) *Tool {
	return &Tool{
		Name:        NameUserInput,
		Description: "Ask the user a question and wait for their reply.",
		Params: map[string]Param{
			"prompt":     {Type: "string", Required: true, Description: "The question shown to the user."},
			"input_type": {Type: "string", Default: "text", Description: "Expected kind of reply."},
		},
		Outputs: map[string]string{"result": "The user's reply."},
		IsAsync: true,
		Invoke: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			nodeID, _ := params["node_id"].(string)
			if nodeID == "" {
				return nil, fmt.Errorf("user_input requires an injected node_id")
			}
			if waiter == nil {
				return nil, fmt.Errorf("user_input has no input broker")
			}
			chatID, _ := params["chat_id"].(string)
			agentID, _ := params["agent_id"].(string)
			prompt, _ := params["prompt"].(string)

			// If the prompt cannot be surfaced, nobody will ever answer:
			// fail the attempt instead of waiting forever.
			if pub != nil {
				if err := pub.PublishUserInputRequired(ctx, chatID, events.UserInputRequiredPayload{
					NodeID:  nodeID,
					AgentID: agentID,
					Prompt:  prompt,
				}); err != nil {
					return nil, fmt.Errorf("failed to surface input prompt: %w", err)
				}
			}

			value, err := waiter.Wait(ctx, nodeID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": value, "node_id": nodeID}, nil
		},
	}
}
