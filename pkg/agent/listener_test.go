package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
)

func pushEvent(t *testing.T, kv kvs.Store, key string, ev models.TeamEvent) {
	t.Helper()
	raw, err := ev.Encode()
	require.NoError(t, err)
	require.NoError(t, kv.RPush(context.Background(), key, raw))
}

func popEvent(t *testing.T, kv kvs.Store, key string) models.TeamEvent {
	t.Helper()
	_, raw, err := kv.BLPop(context.Background(), 3*time.Second, key)
	require.NoError(t, err)
	ev, err := models.DecodeTeamEvent(raw)
	require.NoError(t, err)
	return ev
}

func TestListenerTaskRoundTrip(t *testing.T) {
	rig := newTestAgent(t, llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: easy\nAnswer: delegated work done"},
	), Config{})
	l := NewListener(rig.agent, rig.kv)
	l.Start()
	t.Cleanup(rig.agent.Stop)

	task, err := models.NewTaskEvent("chat-1", models.RoleGeneral, "boss-1", models.RoleCoordinator, models.TaskPayload{
		Task:        "research topic",
		Description: "find recent facts",
		Context:     "the user asked about topic X",
	})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.RoleQueueKey(string(models.RoleGeneral)), task)

	reply := popEvent(t, rig.kv, kvs.RoleQueueKey(string(models.RoleCoordinator)))
	assert.True(t, reply.IsResult)
	assert.Equal(t, rig.agent.ID(), reply.SenderID)
	assert.Equal(t, models.RoleGeneral, reply.SenderRole)

	result, err := reply.Result()
	require.NoError(t, err)
	assert.Equal(t, "delegated work done", result.Context.Result)
	assert.Equal(t, "research topic", result.Context.Task)
	assert.Equal(t, task.EventID, result.Metadata.OriginalEventID)
}

func TestListenerTaskWithoutSenderStaysSilent(t *testing.T) {
	rig := newTestAgent(t, llm.NewScripted(
		llm.ScriptedResponse{Text: "Answer: done"},
	), Config{})
	l := NewListener(rig.agent, rig.kv)
	l.Start()
	t.Cleanup(rig.agent.Stop)

	task, err := models.NewTaskEvent("chat-2", models.RoleGeneral, "", "", models.TaskPayload{Task: "do it"})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.RoleQueueKey(string(models.RoleGeneral)), task)

	require.Eventually(t, func() bool {
		return rig.client.CallCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// No reply anywhere: the sender is unknown.
	n, err := rig.kv.LLen(context.Background(), kvs.RoleQueueKey(string(models.RoleCoordinator)))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListenerDropsMisroutedEvent(t *testing.T) {
	rig := newTestAgent(t, llm.NewScripted(), Config{})
	l := NewListener(rig.agent, rig.kv)
	l.Start()
	t.Cleanup(rig.agent.Stop)

	misrouted, err := models.NewTaskEvent("chat-3", models.RoleReporter, "boss-1", models.RoleCoordinator, models.TaskPayload{Task: "wrong mailbox"})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.AgentQueueKey(rig.agent.ID()), misrouted)

	require.Eventually(t, func() bool {
		return l.Dropped() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, rig.client.CallCount())
}

func TestListenerResultResumes(t *testing.T) {
	rig := newTestAgent(t, llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: delegation came back\nAnswer: combined answer"},
	), Config{})
	l := NewListener(rig.agent, rig.kv)
	var got string
	done := make(chan struct{})
	l.OnResult(func(answer string) {
		got = answer
		close(done)
	})
	l.Start()
	t.Cleanup(rig.agent.Stop)

	result, err := models.NewResultEvent("chat-4", models.RoleGeneral, "worker-1", models.RoleResearcher, models.ResultPayload{
		Context:  models.ResultContext{Result: "facts found", Task: "research topic"},
		Metadata: models.ResultMetadata{OriginalEventID: "orig-1", AgentID: "worker-1"},
	})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.AgentQueueKey(rig.agent.ID()), result)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("resumed run did not complete")
	}
	assert.Equal(t, "combined answer", got)

	// The returned result landed as a synthetic step visible to prompts.
	steps, err := rig.steps.Recent(context.Background(), "chat-4", models.RoleGeneral, 10)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, "receive_result", steps[0].Action)
	assert.Equal(t, "facts found", steps[0].Observation)
	assert.Equal(t, result.EventID, steps[0].ToolExecutionID)
}

func TestListenerStopFromCompletionHookReturnsFast(t *testing.T) {
	rig := newTestAgent(t, llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: back\nAnswer: wrapped up"},
	), Config{})
	l := NewListener(rig.agent, rig.kv)
	done := make(chan time.Duration, 1)
	l.OnResult(func(string) {
		start := time.Now()
		l.Stop()
		done <- time.Since(start)
	})
	l.Start()
	t.Cleanup(rig.agent.Stop)

	result, err := models.NewResultEvent("chat-6", models.RoleGeneral, "worker-1", models.RoleResearcher, models.ResultPayload{
		Context: models.ResultContext{Result: "facts", Task: "research"},
	})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.AgentQueueKey(rig.agent.ID()), result)

	select {
	case elapsed := <-done:
		assert.Less(t, elapsed, stopWait, "stop from inside the hook must not wait on the listener's own drain")
	case <-time.After(3 * time.Second):
		t.Fatal("completion hook never ran")
	}
}

func TestListenerEscalatesRunFailure(t *testing.T) {
	client := llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: loop\nAction: lookup\nAction Input: {\"query\": \"x\"}"},
	)
	client.RepeatLast = true
	rig := newTestAgent(t, client, Config{MaxIterations: 1}, lookupTool("nothing"))
	l := NewListener(rig.agent, rig.kv)
	l.Start()
	t.Cleanup(rig.agent.Stop)

	task, err := models.NewTaskEvent("chat-5", models.RoleGeneral, "boss-1", models.RoleCoordinator, models.TaskPayload{Task: "impossible"})
	require.NoError(t, err)
	pushEvent(t, rig.kv, kvs.RoleQueueKey(string(models.RoleGeneral)), task)

	escalation := popEvent(t, rig.kv, kvs.RoleQueueKey(string(models.RoleCoordinator)))
	assert.False(t, escalation.IsResult)
	assert.Equal(t, models.RoleCoordinator, escalation.Role)

	payload, err := escalation.Task()
	require.NoError(t, err)
	assert.Equal(t, "handle_agent_error", payload.Task)
	assert.Contains(t, payload.Description, "Failed to get final answer after 1 iterations")
}
