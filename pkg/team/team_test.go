package team

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/agent"
	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
	"github.com/troupehq/troupe/pkg/store"
	"github.com/troupehq/troupe/pkg/tool"
)

func newTeamDeps(t *testing.T, client llm.Client) (Deps, kvs.Store) {
	t.Helper()
	kv := kvs.NewMemory()
	t.Cleanup(func() { kv.Close() })
	pub := events.NewPublisher(kv, 0)
	return Deps{
		KV:            kv,
		LLM:           client,
		Publisher:     pub,
		Executor:      tool.NewExecutor(pub, nil),
		Steps:         store.NewStepStore(kv),
		Conversation:  store.NewConversationStore(kv),
		Web:           tool.NewWebTools(tool.WebConfig{}),
		DefaultModel:  "test-model",
		AnalysisModel: "analysis-model",
	}, kv
}

func twoRoleTeam() config.TeamConfig {
	return config.TeamConfig{
		Name:      "duo",
		Rules:     "Delegate research, then summarize.",
		StartRole: "coordinator",
		Roles: map[string]config.RoleConfig{
			"coordinator": {
				Description:  "Splits work and assembles the final answer",
				Instructions: "Delegate research before answering.",
				Tools:        []string{"final_answer", "handoff"},
			},
			"researcher": {
				Description:  "Finds facts",
				Instructions: "Research the delegated task.",
				Tools:        []string{"final_answer"},
			},
		},
	}
}

func streamEventTypes(t *testing.T, kv kvs.Store, chatID string) map[string]int {
	t.Helper()
	raws, err := kv.LRange(context.Background(), kvs.ChatStreamKey(chatID), 0, -1)
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, raw := range raws {
		ev, err := events.DecodeStreamEvent(raw)
		require.NoError(t, err)
		counts[ev.Event]++
	}
	return counts
}

func TestTeamHandoffRoundTrip(t *testing.T) {
	// One shared script serves all agents because engagements run strictly
	// one after another: delegate, research, resume.
	client := llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: delegate first\nAction: handoff\nAction Input: {\"target_role\": \"researcher\", \"task\": \"find facts\"}"},
		llm.ScriptedResponse{Text: "Thought: researching\nAnswer: the facts"},
		llm.ScriptedResponse{Text: "Thought: result came back\nAnswer: summary of the facts"},
	)
	deps, kv := newTeamDeps(t, client)

	tm, err := New(twoRoleTeam(), "chat-1", "alice", deps)
	require.NoError(t, err)
	require.NoError(t, tm.Start(context.Background(), true))
	t.Cleanup(tm.Stop)

	done := make(chan string, 1)
	tm.OnComplete(func(answer string) { done <- answer })

	res, err := tm.Run(context.Background(), "tell me about X", true)
	require.NoError(t, err)
	assert.Equal(t, "handed_off", string(res.Status))

	select {
	case answer := <-done:
		assert.Equal(t, "summary of the facts", answer)
	case <-time.After(5 * time.Second):
		t.Fatal("handoff round trip did not complete")
	}

	counts := streamEventTypes(t, kv, "chat-1")
	assert.Equal(t, 1, counts[events.EventTypeWorkflow])
	assert.GreaterOrEqual(t, counts[events.EventTypeAgentStart], 2, "coordinator and researcher both start")
	assert.GreaterOrEqual(t, counts[events.EventTypeAgentComplete], 2)
}

func TestTeamRegistersAndDeregistersRoster(t *testing.T) {
	deps, kv := newTeamDeps(t, llm.NewScripted())
	tm, err := New(twoRoleTeam(), "chat-2", "", deps)
	require.NoError(t, err)
	require.NoError(t, tm.Start(context.Background(), false))

	roster, err := kv.LRange(context.Background(), kvs.TeamAgentsKey("chat-2"), 0, -1)
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	coordIDs, err := kv.LRange(context.Background(), kvs.RoleAgentsKey("coordinator"), 0, -1)
	require.NoError(t, err)
	assert.Len(t, coordIDs, 1)

	tm.Stop()

	coordIDs, err = kv.LRange(context.Background(), kvs.RoleAgentsKey("coordinator"), 0, -1)
	require.NoError(t, err)
	assert.Empty(t, coordIDs)
	_, err = kv.LRange(context.Background(), kvs.TeamAgentsKey("chat-2"), 0, -1)
	if err == nil {
		roster, _ := kv.LRange(context.Background(), kvs.TeamAgentsKey("chat-2"), 0, -1)
		assert.Empty(t, roster)
	}
}

func TestTeamSingleRoleGetsNoHandoff(t *testing.T) {
	deps, _ := newTeamDeps(t, llm.NewScripted())
	cfg := config.GetBuiltinConfig().Teams["default"]

	tm, err := New(cfg, "chat-3", "", deps)
	require.NoError(t, err)

	// The solo agent has no one to hand off to.
	assert.Len(t, tm.Members(), 1)
	assert.Equal(t, []models.Role{models.RoleGeneral}, tm.Roles())
}

func TestTeamMultiRoleAlwaysHasHandoff(t *testing.T) {
	cfg := twoRoleTeam()
	rc := cfg.Roles["researcher"]
	rc.Tools = []string{"final_answer"}
	cfg.Roles["researcher"] = rc

	deps, kv := newTeamDeps(t, llm.NewScripted(
		llm.ScriptedResponse{Text: "Thought: pass it on\nAction: handoff\nAction Input: {\"target_role\": \"coordinator\", \"task\": \"review\"}"},
	))
	tm, err := New(cfg, "chat-4", "", deps)
	require.NoError(t, err)

	// The researcher can still delegate even though its tool list omits
	// handoff: run it directly without listeners.
	researcher := tm.byRole[models.RoleResearcher]
	res, err := researcher.Run(context.Background(), agent.RunInput{Query: "q", ChatID: "chat-4"})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusHandedOff, res.Status)

	n, err := kv.LLen(context.Background(), kvs.RoleQueueKey("coordinator"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTeamValidation(t *testing.T) {
	deps, _ := newTeamDeps(t, llm.NewScripted())

	_, err := New(config.TeamConfig{Name: "empty"}, "c", "", deps)
	assert.Error(t, err)

	cfg := twoRoleTeam()
	cfg.StartRole = "nobody"
	_, err = New(cfg, "c", "", deps)
	assert.ErrorContains(t, err, "start role")

	cfg = twoRoleTeam()
	rc := cfg.Roles["researcher"]
	rc.Tools = []string{"no_such_tool"}
	cfg.Roles["researcher"] = rc
	_, err = New(cfg, "c", "", deps)
	assert.ErrorContains(t, err, "tool not found")
}
