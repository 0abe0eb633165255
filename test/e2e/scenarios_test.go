package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/config"
	"github.com/troupehq/troupe/pkg/llm"
	"github.com/troupehq/troupe/pkg/models"
)

func TestChatAnswersDirectly(t *testing.T) {
	h := newHarness(t, soloTeam(),
		llm.ScriptedResponse{Text: "Thought: easy one.\nAnswer: Paris is the capital of France."},
	)

	chatID := h.submit(t, "solo", "What is the capital of France?")
	h.waitStatus(t, chatID, models.ChatStatusCompleted)

	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "Paris is the capital of France.", complete["answer"])
	assert.Equal(t, "completed", complete["status"])

	types := h.eventTypes(t, chatID)
	assert.Contains(t, types, "workflow")
	assert.Contains(t, types, "agent_start")
	assert.Contains(t, types, "agent_thinking")
	assert.Contains(t, types, "agent_complete")
	// The terminal event is last.
	assert.Equal(t, "complete", types[len(types)-1])
}

func TestUserInputSuspendAndResume(t *testing.T) {
	teams := soloTeam()
	role := teams["solo"].Roles["general"]
	role.Tools = []string{"user_input", "final_answer"}
	teams["solo"].Roles["general"] = role

	h := newHarness(t, teams,
		llm.ScriptedResponse{Text: "Thought: I need a preference.\nAction: user_input\nAction Input: {\"prompt\": \"Which color?\"}"},
		llm.ScriptedResponse{Text: "Thought: got it.\nAnswer: The user chose blue."},
	)

	chatID := h.submit(t, "solo", "Pick a color for me")

	prompt := h.waitEvent(t, chatID, "user_input_required")
	assert.Equal(t, "Which color?", prompt["prompt"])
	nodeID, _ := prompt["node_id"].(string)
	require.NotEmpty(t, nodeID)

	reply := h.post(t, "/api/v1/chats/"+chatID+"/input", map[string]string{
		"node_id": nodeID,
		"value":   "blue",
	})
	assert.Equal(t, true, reply["delivered"])

	h.waitStatus(t, chatID, models.ChatStatusCompleted)
	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "The user chose blue.", complete["answer"])
}

func TestHandoffBetweenRoles(t *testing.T) {
	teams := map[string]config.TeamConfig{
		"pair": {
			Name:      "pair",
			Rules:     "Delegate research, then summarize.",
			StartRole: "coordinator",
			Roles: map[string]config.RoleConfig{
				"coordinator": {
					Description:         "Routes work and assembles the final answer.",
					IterationRetryDelay: time.Millisecond,
				},
				"researcher": {
					Description:         "Digs up facts.",
					IterationRetryDelay: time.Millisecond,
				},
			},
		},
	}

	h := newHarness(t, teams,
		llm.ScriptedResponse{Text: "Thought: this needs research.\nAction: handoff\nAction Input: {\"target_role\": \"researcher\", \"task\": \"find the facts\", \"description\": \"look things up\"}"},
		llm.ScriptedResponse{Text: "Thought: researching.\nAnswer: Fact: the sky is blue."},
		llm.ScriptedResponse{Text: "Thought: wrapping up.\nAnswer: Summary: the sky is blue."},
	)

	chatID := h.submit(t, "pair", "Why is the sky blue?")
	h.waitStatus(t, chatID, models.ChatStatusCompleted)

	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "Summary: the sky is blue.", complete["answer"])

	// Both the coordinator's engagements and the researcher's appear on the
	// same stream.
	starts := 0
	for _, typ := range h.eventTypes(t, chatID) {
		if typ == "agent_start" {
			starts++
		}
	}
	assert.GreaterOrEqual(t, starts, 2)
	assert.Equal(t, 3, h.client.CallCount())
}

func TestUnparseableResponseDegradesToAnswer(t *testing.T) {
	h := newHarness(t, soloTeam(),
		llm.ScriptedResponse{Text: "completely unstructured rambling"},
		// The repair pass fails too, so the raw text becomes the answer.
		llm.ScriptedResponse{Text: "still not structured"},
	)

	chatID := h.submit(t, "solo", "hello")
	h.waitStatus(t, chatID, models.ChatStatusCompleted)

	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "completely unstructured rambling", complete["answer"])
}

func TestToolNameTermination(t *testing.T) {
	teams := soloTeam()
	role := teams["solo"].Roles["general"]
	role.Tools = []string{"user_input", "final_answer"}
	role.Termination = []config.TerminationSpec{
		{Type: config.TermToolName, Tools: []string{"user_input"}},
	}
	teams["solo"].Roles["general"] = role

	h := newHarness(t, teams,
		llm.ScriptedResponse{Text: "Thought: ask first.\nAction: user_input\nAction Input: {\"prompt\": \"Which color?\"}"},
	)

	chatID := h.submit(t, "solo", "Pick a color")
	prompt := h.waitEvent(t, chatID, "user_input_required")
	nodeID, _ := prompt["node_id"].(string)
	require.NotEmpty(t, nodeID)
	h.post(t, "/api/v1/chats/"+chatID+"/input", map[string]string{"node_id": nodeID, "value": "blue"})

	// The condition ends the run with the tool's observation as the answer,
	// without another model call.
	h.waitStatus(t, chatID, models.ChatStatusCompleted)
	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "blue", complete["answer"])
	assert.Equal(t, 1, h.client.CallCount())
}

func TestIterationBudgetExhaustionFailsChat(t *testing.T) {
	teams := soloTeam()
	role := teams["solo"].Roles["general"]
	role.MaxIterations = 1
	teams["solo"].Roles["general"] = role

	h := newHarness(t, teams,
		llm.ScriptedResponse{Text: "Thought: hm.\nAction: bogus_tool\nAction Input: {}"},
	)

	chatID := h.submit(t, "solo", "do something")
	h.waitStatus(t, chatID, models.ChatStatusFailed)

	errEvent := h.waitEvent(t, chatID, "error")
	assert.Contains(t, errEvent["message"], "Failed to get final answer after 1 iterations")

	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "failed", complete["status"])

	types := h.eventTypes(t, chatID)
	assert.Contains(t, types, "agent_error")
}

func TestStopWhileAwaitingInput(t *testing.T) {
	teams := soloTeam()
	role := teams["solo"].Roles["general"]
	role.Tools = []string{"user_input", "final_answer"}
	teams["solo"].Roles["general"] = role

	h := newHarness(t, teams,
		llm.ScriptedResponse{Text: "Thought: ask.\nAction: user_input\nAction Input: {\"prompt\": \"Proceed?\"}"},
	)

	chatID := h.submit(t, "solo", "long running task")
	h.waitEvent(t, chatID, "user_input_required")

	reply := h.post(t, "/api/v1/chats/"+chatID+"/stop", map[string]string{})
	assert.Equal(t, "stopped", reply["status"])

	h.waitStatus(t, chatID, models.ChatStatusStopped)
	complete := h.waitEvent(t, chatID, "complete")
	assert.Equal(t, "已停止", complete["answer"])
	assert.Equal(t, "stopped", complete["status"])
}
