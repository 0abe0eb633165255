// Package agent implements the reasoning loop: prompt construction from
// persisted history, response parsing, tool execution, termination
// evaluation, and the listener that feeds the loop from role and agent
// queues.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/tool"
	"github.com/troupehq/troupe/pkg/trace"
)

// StoppedAnswer is the answer surfaced when a run ends on the stop flag.
const StoppedAnswer = "已停止"

// RunStatus classifies how a run ended. Only fatal conditions are errors;
// every cooperative exit is a status.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusHandedOff RunStatus = "handed_off"
	StatusStopped   RunStatus = "stopped"
)

// RunInput is one engagement request.
type RunInput struct {
	Query  string
	ChatID string
	// Stream enables progress events on the chat stream.
	Stream bool
	// IsResult marks a resumed run triggered by a returned delegation
	// result. Resumed runs keep their origin query and scratchpad.
	IsResult bool
	// Context is caller-supplied background injected into the prompt.
	Context string
}

// RunResult is the outcome of a run that did not fail.
type RunResult struct {
	Answer string
	Status RunStatus
}

// Config holds the static configuration of one agent.
type Config struct {
	Role         models.Role
	Description  string
	Instructions string
	// PromptTemplate selects a registered template symbol; empty means
	// "react".
	PromptTemplate string
	Model          string
	// ReasonerModel, when set, answers the first iteration of each fresh
	// engagement; later iterations use Model.
	ReasonerModel string

	MaxIterations       int
	LLMTimeout          time.Duration
	IterationRetryDelay time.Duration
	// MemorySize bounds how many persisted steps the prompt replays.
	MemorySize int
	ToolMemory bool
	UserName   string
	// IncludeFields filters scratchpad block fields; nil means all.
	IncludeFields []string

	Termination []config.TerminationSpec
}

// Deps are the collaborators an agent needs. LLM and Registry are
// required; everything else degrades gracefully when nil.
type Deps struct {
	LLM          llm.Client
	Parser       *Parser
	Registry     *tool.Registry
	Executor     *tool.Executor
	Publisher    *events.Publisher
	Steps        *store.StepStore
	Conversation *store.ConversationStore
	Playbook     *PlaybookGenerator
	Memory       *tool.MemoryManager
	KV           kvs.Store
	Tracer       *trace.Tracer
}

// Agent is one loop-running worker addressable through its role queue and
// its private agent queue.
type Agent struct {
	id         string
	cfg        Config
	deps       Deps
	conditions []Condition
	pad        *Scratchpad
	listener   *Listener
	stopped    atomic.Bool
}

// New builds an agent. The role must already be registered.
func New(cfg Config, deps Deps) (*Agent, error) {
	if !models.KnownRole(cfg.Role) {
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("agent %s: model client is required", cfg.Role)
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("agent %s: tool registry is required", cfg.Role)
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = "react"
	}
	if !HasTemplate(cfg.PromptTemplate) {
		return nil, fmt.Errorf("agent %s: unknown prompt template %q", cfg.Role, cfg.PromptTemplate)
	}
	d := config.DefaultAgentDefaults()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = d.LLMTimeout
	}
	if cfg.IterationRetryDelay <= 0 {
		cfg.IterationRetryDelay = d.IterationRetryDelay
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = d.ScratchpadMemorySize
	}

	conds, err := FromSpecs(cfg.Termination)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.Role, err)
	}

	return &Agent{
		id:         fmt.Sprintf("%s-%s", cfg.Role, uuid.NewString()[:8]),
		cfg:        cfg,
		deps:       deps,
		conditions: conds,
		pad:        NewScratchpad(),
	}, nil
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// Role returns the agent's role.
func (a *Agent) Role() models.Role { return a.cfg.Role }

// Scratchpad exposes the in-memory pad, mainly for the listener and tests.
func (a *Agent) Scratchpad() *Scratchpad { return a.pad }

// Stop flags the agent. A running loop notices at the next iteration
// boundary; the listener drains and the agent leaves its role list.
func (a *Agent) Stop() {
	if a.stopped.Swap(true) {
		return
	}
	if a.listener != nil {
		a.listener.Stop()
	}
	if a.deps.KV != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.deps.KV.LRem(ctx, kvs.RoleAgentsKey(string(a.cfg.Role)), 0, a.id); err != nil {
			slog.Warn("Failed to deregister agent from role list", "agent_id", a.id, "error", err)
		}
	}
}

// Stopped reports whether Stop has been called.
func (a *Agent) Stopped() bool { return a.stopped.Load() }

// Run drives the reasoning loop for one engagement. It returns ErrNotRunnable
// after Stop, a *NoAnswerError when the iteration budget runs out, and a
// RunResult for every cooperative ending.
func (a *Agent) Run(ctx context.Context, in RunInput) (RunResult, error) {
	if a.stopped.Load() {
		return RunResult{}, ErrNotRunnable
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = a.pad.OriginQuery()
	}
	if query == "" {
		return RunResult{}, fmt.Errorf("agent %s: empty query", a.id)
	}

	ctx, span := a.deps.Tracer.Start(ctx, "agent.${context.role}.run",
		map[string]string{"role": string(a.cfg.Role)},
		attribute.String("agent.id", a.id),
		attribute.String("chat.id", in.ChatID))
	defer span.End()

	if !in.IsResult {
		a.pad.SetOrigin(query, a.cfg.Role)
		if a.deps.Conversation != nil {
			if err := a.deps.Conversation.SaveUserTurn(ctx, in.ChatID, query); err != nil {
				slog.Warn("Failed to save user turn", "chat_id", in.ChatID, "error", err)
			}
		}
	}

	if in.Stream && a.deps.Publisher != nil {
		if err := a.deps.Publisher.PublishAgentStart(ctx, in.ChatID, events.AgentStartPayload{
			AgentID: a.id,
			Role:    string(a.cfg.Role),
			Query:   query,
		}); err != nil {
			slog.Warn("Failed to publish agent_start", "agent_id", a.id, "error", err)
		}
	}

	a.loadToolMemory(ctx)
	a.seedPlaybook(ctx, in, query)

	lastErr := false
	for iter := 0; ; iter++ {
		if a.stopped.Load() || ctx.Err() != nil {
			return a.finishStopped(in), nil
		}

		if cond := a.firedCondition(iter, lastErr); cond != nil {
			answer := a.terminationAnswer()
			slog.Info("Termination condition fired",
				"agent_id", a.id, "condition", cond.String(), "iteration", iter)
			return a.finish(ctx, in, answer), nil
		}

		if iter >= a.cfg.MaxIterations {
			err := &NoAnswerError{Iterations: a.cfg.MaxIterations}
			a.publishError(ctx, in, err)
			return RunResult{}, err
		}

		prompt, err := a.buildPrompt(ctx, in, query, iter)
		if err != nil {
			return RunResult{}, err
		}

		text, err := a.complete(ctx, prompt, iter, in.IsResult)
		if err != nil {
			var term *llm.TerminalError
			switch {
			case errors.As(err, &term):
				return a.finish(ctx, in, term.Message), nil
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				// A model-call timeout is transient; retry the iteration.
				slog.Warn("Model call timed out",
					"agent_id", a.id, "iteration", iter+1, "timeout", a.cfg.LLMTimeout)
				lastErr = true
				a.pause(ctx)
				continue
			case ctx.Err() != nil:
				return a.finishStopped(in), nil
			default:
				slog.Warn("Model call failed", "agent_id", a.id, "iteration", iter+1, "error", err)
				a.recordError(ctx, in, "", "", err)
				lastErr = true
				a.pause(ctx)
				continue
			}
		}

		parsed := a.deps.Parser.Parse(ctx, text)

		if in.Stream && a.deps.Publisher != nil && parsed.Thinking != "" {
			if perr := a.deps.Publisher.PublishAgentThinking(ctx, in.ChatID, events.AgentThinkingPayload{
				AgentID:   a.id,
				Role:      string(a.cfg.Role),
				Thought:   parsed.Thinking,
				Iteration: iter + 1,
			}); perr != nil {
				slog.Warn("Failed to publish agent_thinking", "agent_id", a.id, "error", perr)
			}
		}

		if parsed.Tool.Name == tool.NameFinalAnswer {
			answer := finalAnswerText(parsed.Tool.Params)
			step := a.executeFinalAnswer(ctx, in, parsed, answer)
			a.persistStep(ctx, in.ChatID, step)
			if a.deps.Playbook != nil {
				a.deps.Playbook.Update(ctx, in.ChatID, query, step, in.Stream)
			}
			return a.finish(ctx, in, answer), nil
		}

		if !a.deps.Registry.Has(parsed.Tool.Name) {
			err := fmt.Errorf("%w: %s (available: %s)",
				tool.ErrToolNotFound, parsed.Tool.Name, a.deps.Registry.NamesCSV())
			a.recordError(ctx, in, parsed.Thinking, parsed.Tool.Name, err)
			lastErr = true
			a.pause(ctx)
			continue
		}

		step, err := a.executeTool(ctx, in, query, parsed)
		if err != nil {
			if errors.Is(err, tool.ErrStopped) || ctx.Err() != nil {
				return a.finishStopped(in), nil
			}
			a.recordError(ctx, in, parsed.Thinking, parsed.Tool.Name, err)
			lastErr = true
			a.pause(ctx)
			continue
		}

		a.persistStep(ctx, in.ChatID, step)

		if parsed.Tool.Name == tool.NameHandoff {
			return RunResult{Answer: step.Observation, Status: StatusHandedOff}, nil
		}

		if a.deps.Playbook != nil {
			a.deps.Playbook.Update(ctx, in.ChatID, query, step, in.Stream)
		}
		lastErr = false
	}
}

// complete issues one model call under the per-call timeout. Fresh
// engagements send their first iteration to the reasoner model when one is
// configured.
func (a *Agent) complete(ctx context.Context, prompt string, iter int, isResult bool) (string, error) {
	model := a.cfg.Model
	if a.cfg.ReasonerModel != "" && iter == 0 && !isResult {
		model = a.cfg.ReasonerModel
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()
	text, _, err := a.deps.LLM.Complete(callCtx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, model)
	return text, err
}

func (a *Agent) buildPrompt(ctx context.Context, in RunInput, query string, iter int) (string, error) {
	steps := a.recentSteps(ctx, in.ChatID)
	vars := PromptVars{
		CurrentTime:      time.Now().Format("2006-01-02 15:04:05"),
		Instructions:     a.cfg.Instructions,
		Tools:            a.deps.Registry.Describe(),
		ToolNames:        a.deps.Registry.NamesCSV(),
		Query:            query,
		Context:          in.Context,
		Planner:          a.pad.FindObservation(tool.NamePlanner),
		AgentScratchpad:  FormatSteps(steps, a.cfg.IncludeFields),
		MaxIterations:    a.cfg.MaxIterations,
		CurrentIteration: iter + 1,
	}
	if a.deps.Playbook != nil {
		vars.Playbook = a.deps.Playbook.Current(ctx, in.ChatID)
	}
	return RenderPrompt(a.cfg.PromptTemplate, vars)
}

// recentSteps loads the prompt's scratchpad window from persistent storage,
// filtered to this agent's role. The in-memory pad is the fallback when the
// store is unavailable.
func (a *Agent) recentSteps(ctx context.Context, chatID string) []models.Step {
	if a.deps.Steps == nil {
		return a.pad.Steps()
	}
	steps, err := a.deps.Steps.Recent(ctx, chatID, a.cfg.Role, a.cfg.MemorySize)
	if err != nil {
		slog.Warn("Failed to load persisted steps", "chat_id", chatID, "error", err)
		return a.pad.Steps()
	}
	return steps
}

func (a *Agent) executeTool(ctx context.Context, in RunInput, query string, parsed ParsedResponse) (models.Step, error) {
	t, err := a.deps.Registry.Get(parsed.Tool.Name)
	if err != nil {
		return models.Step{}, err
	}
	ctx, span := a.deps.Tracer.Start(ctx, "tool.${context.tool}",
		map[string]string{"tool": parsed.Tool.Name},
		attribute.String("agent.id", a.id))
	defer span.End()
	call := tool.Call{
		ChatID:        in.ChatID,
		ConvID:        in.ChatID,
		AgentID:       a.id,
		Role:          a.cfg.Role,
		Tool:          t,
		Params:        asParams(parsed.Tool.Params),
		Stream:        in.Stream,
		Stopped:       a.stopped.Load,
		MemoryEnabled: a.cfg.ToolMemory,
		UserQuery:     query,
		UserName:      a.cfg.UserName,
	}
	if t.NeedHistory {
		call.History = a.pad.Transcript()
	}
	res, err := a.deps.Executor.Execute(ctx, call)
	if err != nil {
		a.deps.Tracer.RecordError(span, err)
		return models.Step{}, err
	}
	return models.Step{
		Thought:         parsed.Thinking,
		Action:          parsed.Tool.Name,
		ActionInput:     models.StringifyActionInput(parsed.Tool.Params),
		Observation:     res.Observation,
		ToolExecutionID: res.ToolExecutionID,
		Role:            a.cfg.Role,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// executeFinalAnswer runs the final_answer tool when registered so its
// events and memory learning happen like any other tool; the parsed answer
// stands regardless of the execution outcome.
func (a *Agent) executeFinalAnswer(ctx context.Context, in RunInput, parsed ParsedResponse, answer string) models.Step {
	step := models.Step{
		Thought:     parsed.Thinking,
		Action:      tool.NameFinalAnswer,
		ActionInput: models.StringifyActionInput(parsed.Tool.Params),
		Observation: answer,
		Role:        a.cfg.Role,
		Timestamp:   time.Now().UTC(),
	}
	if a.deps.Executor == nil || !a.deps.Registry.Has(tool.NameFinalAnswer) {
		return step
	}
	t, _ := a.deps.Registry.Get(tool.NameFinalAnswer)
	res, err := a.deps.Executor.Execute(ctx, tool.Call{
		ChatID:  in.ChatID,
		ConvID:  in.ChatID,
		AgentID: a.id,
		Role:    a.cfg.Role,
		Tool:    t,
		Params:  map[string]any{"answer": answer},
		Stream:  in.Stream,
		Stopped: a.stopped.Load,
	})
	if err != nil {
		slog.Warn("final_answer tool execution failed", "agent_id", a.id, "error", err)
		return step
	}
	step.ToolExecutionID = res.ToolExecutionID
	return step
}

// recordError turns a failed iteration into an error observation so the
// model sees what went wrong on the next pass.
func (a *Agent) recordError(ctx context.Context, in RunInput, thought, action string, err error) {
	step := models.Step{
		Thought:     thought,
		Action:      action,
		Observation: "Error: " + err.Error(),
		Role:        a.cfg.Role,
		Timestamp:   time.Now().UTC(),
	}
	a.persistStep(ctx, in.ChatID, step)
}

func (a *Agent) persistStep(ctx context.Context, chatID string, step models.Step) {
	a.pad.Append(step)
	if a.deps.Steps == nil {
		return
	}
	if err := a.deps.Steps.Append(ctx, chatID, step); err != nil {
		slog.Warn("Failed to persist step", "chat_id", chatID, "error", err)
	}
}

func (a *Agent) firedCondition(iter int, lastErr bool) Condition {
	ec := EvalContext{Step: iter, ErrorOccurred: lastErr}
	if last, ok := a.pad.Last(); ok {
		ec.Action = last.Action
		ec.Thought = last.Thought
		ec.Observation = last.Observation
		if last.Action == tool.NameFinalAnswer {
			ec.FinalAnswer = last.Observation
		}
	}
	for _, cond := range a.conditions {
		if cond.ShouldTerminate(ec) {
			return cond
		}
	}
	return nil
}

// terminationAnswer is what a condition-terminated run reports: the latest
// observation, falling back to the latest thought.
func (a *Agent) terminationAnswer() string {
	last, ok := a.pad.Last()
	if !ok {
		return ""
	}
	if last.Observation != "" {
		return last.Observation
	}
	return last.Thought
}

func (a *Agent) finish(ctx context.Context, in RunInput, answer string) RunResult {
	if a.deps.Conversation != nil && answer != "" {
		if err := a.deps.Conversation.SaveAssistantTurn(ctx, in.ChatID, answer); err != nil {
			slog.Warn("Failed to save assistant turn", "chat_id", in.ChatID, "error", err)
		}
	}
	if in.Stream && a.deps.Publisher != nil {
		if err := a.deps.Publisher.PublishAgentComplete(ctx, in.ChatID, events.AgentCompletePayload{
			AgentID: a.id,
			Role:    string(a.cfg.Role),
			Answer:  answer,
		}); err != nil {
			slog.Warn("Failed to publish agent_complete", "agent_id", a.id, "error", err)
		}
	}
	return RunResult{Answer: answer, Status: StatusCompleted}
}

// finishStopped reports a cooperative stop. Events are published on a
// fresh context because the run context is usually the thing that ended.
func (a *Agent) finishStopped(in RunInput) RunResult {
	if in.Stream && a.deps.Publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.deps.Publisher.PublishAgentComplete(ctx, in.ChatID, events.AgentCompletePayload{
			AgentID: a.id,
			Role:    string(a.cfg.Role),
			Answer:  StoppedAnswer,
		}); err != nil {
			slog.Warn("Failed to publish agent_complete", "agent_id", a.id, "error", err)
		}
	}
	return RunResult{Answer: StoppedAnswer, Status: StatusStopped}
}

func (a *Agent) publishError(ctx context.Context, in RunInput, runErr error) {
	if !in.Stream || a.deps.Publisher == nil {
		return
	}
	if err := a.deps.Publisher.PublishAgentError(ctx, in.ChatID, events.AgentErrorPayload{
		AgentID: a.id,
		Role:    string(a.cfg.Role),
		Error:   runErr.Error(),
	}); err != nil {
		slog.Warn("Failed to publish agent_error", "agent_id", a.id, "error", err)
	}
}

// loadToolMemory attaches learned usage guidance to every tool before the
// loop starts, so prompts carry it from the first iteration.
func (a *Agent) loadToolMemory(ctx context.Context) {
	if !a.cfg.ToolMemory || a.deps.Memory == nil {
		return
	}
	for _, name := range a.deps.Registry.Names() {
		guidance := a.deps.Memory.Read(ctx, a.cfg.UserName, name)
		if guidance == "" {
			continue
		}
		if err := a.deps.Registry.SetMemory(name, guidance); err != nil {
			slog.Warn("Failed to attach tool memory", "tool", name, "error", err)
		}
	}
}

// seedPlaybook creates the first playbook entry for a chat that has none,
// so the first prompt already carries one.
func (a *Agent) seedPlaybook(ctx context.Context, in RunInput, query string) {
	if a.deps.Playbook == nil {
		return
	}
	if a.deps.Playbook.Current(ctx, in.ChatID) != "" {
		return
	}
	a.deps.Playbook.Update(ctx, in.ChatID, query, models.Step{
		Thought:       query,
		IsOriginQuery: true,
		Role:          a.cfg.Role,
	}, in.Stream)
}

// pause sleeps the iteration retry delay, ending early on ctx.
func (a *Agent) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(a.cfg.IterationRetryDelay):
	}
}

// finalAnswerText extracts the answer text from final_answer params: a bare
// string is the answer, a map uses its "answer" field.
func finalAnswerText(params any) string {
	switch v := params.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["answer"].(string); ok {
			return s
		}
		return models.StringifyActionInput(v)
	default:
		return models.StringifyActionInput(v)
	}
}

// asParams normalizes parsed params into the executor's map form. A bare
// string becomes {"input": s}.
func asParams(v any) map[string]any {
	switch p := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return p
	case string:
		return map[string]any{"input": p}
	default:
		return map[string]any{"input": p}
	}
}
