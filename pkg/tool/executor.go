package tool

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/models"
)

// Learner receives fire-and-forget post-execution learning requests.
// Implemented by MemoryManager.
type Learner interface {
	Learn(ctx context.Context, in LearnInput)
}

// Executor runs tool calls under the retry policy and emits progress
// events. One executor is shared by all agents in a process.
type Executor struct {
	pub     *events.Publisher
	learner Learner // nil disables post-execution learning
}

// NewExecutor creates an Executor. learner may be nil.
func NewExecutor(pub *events.Publisher, learner Learner) *Executor {
	return &Executor{pub: pub, learner: learner}
}

// Call carries the per-invocation context for one tool execution.
type Call struct {
	ChatID  string
	ConvID  string
	AgentID string
	Role    models.Role
	Tool    *Tool
	Params  map[string]any

	Stream  bool        // emit progress events on the chat stream
	Stopped func() bool // re-checked before each attempt; nil means never stopped

	// Learning context, used when tool memory is enabled.
	MemoryEnabled bool
	UserQuery     string
	UserName      string

	// Serialized transcript injected for tools declaring NeedHistory.
	History string
}

// Result is the outcome of a successful execution.
type Result struct {
	Output          map[string]any
	Observation     string // stringified "result" field
	ToolExecutionID string
	NodeID          string // set for user_input calls
}

// Execute runs the tool with up to 1 + MaxRetries attempts. Between
// attempts it sleeps the tool's retry delay and re-checks the stop flag.
// Every failed attempt emits a tool_retry event; exhaustion returns an
// *ExecutionError carrying the last attempt's error.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	t := call.Tool
	params := e.mergeImplicitParams(call)
	execID := uuid.New().String()

	nodeID, _ := params["node_id"].(string)

	if call.Stream && e.pub != nil {
		if err := e.pub.PublishActionStart(ctx, call.ChatID, events.ActionStartPayload{
			AgentID: call.AgentID,
			Role:    string(call.Role),
			Tool:    t.Name,
			Input:   models.StringifyActionInput(call.Params),
		}); err != nil {
			slog.Warn("Failed to publish action_start", "tool", t.Name, "error", err)
		}
	}

	attempts := 1 + t.MaxRetries
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if call.Stopped != nil && call.Stopped() {
			return nil, ErrStopped
		}

		if call.Stream && e.pub != nil {
			if err := e.pub.PublishToolProgress(ctx, call.ChatID, events.ToolProgressPayload{
				AgentID: call.AgentID,
				Tool:    t.Name,
				Attempt: attempt,
			}); err != nil {
				slog.Warn("Failed to publish tool_progress", "tool", t.Name, "error", err)
			}
		}

		output, err := t.Invoke(ctx, params)
		if err == nil {
			observation := models.StringifyActionInput(output["result"])
			if call.Stream && e.pub != nil {
				if perr := e.pub.PublishActionComplete(ctx, call.ChatID, events.ActionCompletePayload{
					AgentID:    call.AgentID,
					Role:       string(call.Role),
					Tool:       t.Name,
					DurationMS: time.Since(start).Milliseconds(),
				}); perr != nil {
					slog.Warn("Failed to publish action_complete", "tool", t.Name, "error", perr)
				}
			}
			e.learn(call, params, observation, nil)
			return &Result{
				Output:          output,
				Observation:     observation,
				ToolExecutionID: execID,
				NodeID:          nodeID,
			}, nil
		}

		lastErr = err
		slog.Warn("Tool attempt failed",
			"tool", t.Name, "attempt", attempt, "max_retries", t.MaxRetries, "error", err)
		if call.Stream && e.pub != nil {
			if perr := e.pub.PublishToolRetry(ctx, call.ChatID, events.ToolRetryPayload{
				Tool:       t.Name,
				Attempt:    attempt,
				MaxRetries: t.MaxRetries,
				Error:      err.Error(),
			}); perr != nil {
				slog.Warn("Failed to publish tool_retry", "tool", t.Name, "error", perr)
			}
		}

		if attempt < attempts && t.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.RetryDelay):
			}
		}
	}

	execErr := &ExecutionError{Tool: t.Name, Attempts: attempts, Err: lastErr}
	e.learn(call, params, "", execErr)
	return nil, execErr
}

// mergeImplicitParams clones the action params and injects the implicit
// fields specific tools receive. The caller's map is never mutated.
func (e *Executor) mergeImplicitParams(call Call) map[string]any {
	params := make(map[string]any, len(call.Params)+4)
	for k, v := range call.Params {
		params[k] = v
	}

	switch call.Tool.Name {
	case NameUserInput:
		params["chat_id"] = call.ChatID
		params["node_id"] = uuid.New().String()
		params["agent_id"] = call.AgentID
	case NameHandoff:
		params["sender_id"] = call.AgentID
		params["sender_role"] = string(call.Role)
		params["chat_id"] = call.ChatID
	}

	if call.Tool.NeedHistory {
		params["history"] = call.History
	}
	return params
}

// learn dispatches the post-execution learning pass without blocking the
// loop. Failures are the manager's to log; memory is advisory.
func (e *Executor) learn(call Call, params map[string]any, observation string, execErr error) {
	if !call.MemoryEnabled || e.learner == nil {
		return
	}
	in := LearnInput{
		Tool:        call.Tool.Name,
		Params:      params,
		Observation: observation,
		UserQuery:   call.UserQuery,
		ConvID:      call.ConvID,
		UserName:    call.UserName,
	}
	if execErr != nil {
		in.IsError = true
		in.ErrorMsg = execErr.Error()
	}
	go e.learner.Learn(context.Background(), in)
}
