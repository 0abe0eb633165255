package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

const (
	// popTimeout bounds each blocking pop so the listener can notice its
	// stop signal.
	popTimeout = 1 * time.Second
	// stopWait bounds how long Stop waits for an in-flight engagement.
	stopWait = 2 * time.Second
)

// Listener feeds an agent from its two queues: the shared role queue and
// the agent's private queue. Task events start fresh engagements; result
// events resume the delegating engagement.
type Listener struct {
	agent   *Agent
	kv      kvs.Store
	stopCh  chan struct{}
	done    chan struct{}
	dropped atomic.Int64

	// inHook is set while the completion hook runs. The hook may tear the
	// whole team down, which calls Stop back on this listener from its own
	// goroutine; Stop skips the drain wait in that window.
	inHook atomic.Bool

	// onResult, when set, observes the answer of every completed resumed
	// run. The orchestrator uses it on the start agent to detect team
	// completion.
	onResult func(answer string)
}

// NewListener wires a listener to an agent. Start must be called before
// events flow.
func NewListener(a *Agent, kv kvs.Store) *Listener {
	l := &Listener{
		agent:  a,
		kv:     kv,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.listener = l
	return l
}

// OnResult registers the resumed-run completion hook.
func (l *Listener) OnResult(fn func(answer string)) { l.onResult = fn }

// Dropped returns how many misrouted events were discarded.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// Start launches the pop loop.
func (l *Listener) Start() {
	go l.loop()
}

// Stop signals the loop and waits up to stopWait for it to drain. When
// called from inside the completion hook the wait is skipped, since the
// loop cannot drain until the hook returns.
func (l *Listener) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	if l.inHook.Load() {
		return
	}
	select {
	case <-l.done:
	case <-time.After(stopWait):
		slog.Warn("Listener did not drain in time", "agent_id", l.agent.ID())
	}
}

func (l *Listener) loop() {
	defer close(l.done)

	roleKey := kvs.RoleQueueKey(string(l.agent.Role()))
	agentKey := kvs.AgentQueueKey(l.agent.ID())

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*popTimeout)
		_, raw, err := l.kv.BLPop(ctx, popTimeout, roleKey, agentKey)
		cancel()
		if err != nil {
			if errors.Is(err, kvs.ErrNotFound) {
				continue
			}
			if errors.Is(err, kvs.ErrClosed) {
				return
			}
			slog.Warn("Queue pop failed", "agent_id", l.agent.ID(), "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		ev, err := models.DecodeTeamEvent(raw)
		if err != nil {
			slog.Warn("Discarding undecodable queue event", "agent_id", l.agent.ID(), "error", err)
			continue
		}
		if !models.SameRole(ev.Role, l.agent.Role()) {
			l.dropped.Add(1)
			slog.Warn("Discarding event addressed to another role",
				"agent_id", l.agent.ID(), "agent_role", l.agent.Role(), "event_role", ev.Role)
			continue
		}

		l.handle(ev)
	}
}

func (l *Listener) handle(ev models.TeamEvent) {
	ctx := context.Background()
	if ev.IsResult {
		l.handleResult(ctx, ev)
		return
	}
	l.handleTask(ctx, ev)
}

// handleTask starts a fresh engagement. On success with a known sender, the
// answer travels back to the sender's role queue as a result event.
func (l *Listener) handleTask(ctx context.Context, ev models.TeamEvent) {
	task, err := ev.Task()
	if err != nil {
		slog.Warn("Discarding task event with bad payload", "agent_id", l.agent.ID(), "error", err)
		return
	}

	query := strings.TrimSpace(task.Task)
	if task.Description != "" {
		query += ": " + task.Description
	}

	// A new task means a new engagement; delegated work never inherits the
	// previous pad.
	l.agent.Scratchpad().Clear()

	res, err := l.agent.Run(ctx, RunInput{
		Query:   query,
		ChatID:  ev.ChatID,
		Stream:  true,
		Context: task.Context,
	})
	if err != nil {
		l.reportFailure(ctx, ev, err)
		return
	}
	if res.Status != StatusCompleted || ev.SenderID == "" {
		return
	}

	reply, err := models.NewResultEvent(ev.ChatID, ev.SenderRole, l.agent.ID(), l.agent.Role(), models.ResultPayload{
		Context: models.ResultContext{
			Result:      res.Answer,
			Task:        task.Task,
			Description: task.Description,
		},
		Metadata: models.ResultMetadata{
			OriginQuery:     l.agent.Scratchpad().OriginQuery(),
			OriginalEventID: ev.EventID,
			AgentID:         l.agent.ID(),
			Timestamp:       time.Now().UTC(),
		},
	})
	if err != nil {
		slog.Error("Failed to build result event", "agent_id", l.agent.ID(), "error", err)
		return
	}
	l.push(ctx, kvs.RoleQueueKey(string(ev.SenderRole)), reply)
}

// handleResult resumes the engagement that delegated the work. The result
// lands in the scratchpad as a synthetic receive_result step so the next
// prompt shows it. Result events never generate replies.
func (l *Listener) handleResult(ctx context.Context, ev models.TeamEvent) {
	result, err := ev.Result()
	if err != nil {
		slog.Warn("Discarding result event with bad payload", "agent_id", l.agent.ID(), "error", err)
		return
	}

	step := models.Step{
		Action:          "receive_result",
		ActionInput:     models.StringifyActionInput(map[string]any{"task": result.Context.Task}),
		Observation:     result.Context.Result,
		ToolExecutionID: ev.EventID,
		Role:            l.agent.Role(),
		Timestamp:       time.Now().UTC(),
	}
	l.agent.persistStep(ctx, ev.ChatID, step)

	res, err := l.agent.Run(ctx, RunInput{
		Query:    result.Context.Task,
		ChatID:   ev.ChatID,
		Stream:   true,
		IsResult: true,
	})
	if err != nil {
		l.reportFailure(ctx, ev, err)
		return
	}
	if res.Status == StatusCompleted && l.onResult != nil {
		l.inHook.Store(true)
		l.onResult(res.Answer)
		l.inHook.Store(false)
	}
}

// reportFailure publishes the error on the chat stream and escalates it to
// the coordinator cohort's queue.
func (l *Listener) reportFailure(ctx context.Context, ev models.TeamEvent, runErr error) {
	slog.Error("Engagement failed", "agent_id", l.agent.ID(), "chat_id", ev.ChatID, "error", runErr)
	l.agent.publishError(ctx, RunInput{ChatID: ev.ChatID, Stream: true}, runErr)

	escalation, err := models.NewTaskEvent(ev.ChatID, models.RoleCoordinator, l.agent.ID(), l.agent.Role(), models.TaskPayload{
		Task:        "handle_agent_error",
		Description: runErr.Error(),
		Context:     l.agent.Scratchpad().OriginQuery(),
	})
	if err != nil {
		slog.Error("Failed to build escalation event", "agent_id", l.agent.ID(), "error", err)
		return
	}
	l.push(ctx, kvs.RoleQueueKey(string(models.RoleCoordinator)), escalation)
}

func (l *Listener) push(ctx context.Context, key string, ev models.TeamEvent) {
	raw, err := ev.Encode()
	if err != nil {
		slog.Error("Failed to encode queue event", "agent_id", l.agent.ID(), "error", err)
		return
	}
	if err := l.kv.RPush(ctx, key, raw); err != nil {
		slog.Error("Failed to push queue event", "agent_id", l.agent.ID(), "key", key, "error", err)
	}
}
