package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/models"
)

func TestRenderPromptReact(t *testing.T) {
	out, err := RenderPrompt("react", PromptVars{
		CurrentTime:      "2026-01-02 15:04:05",
		Instructions:     "You answer weather questions.",
		Tools:            "**search**: look things up",
		ToolNames:        "final_answer, search",
		Query:            "weather in Berlin",
		MaxIterations:    10,
		CurrentIteration: 1,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Question: weather in Berlin")
	assert.Contains(t, out, "one of [final_answer, search]")
	assert.Contains(t, out, "Context: "+DefaultContext)
	assert.Contains(t, out, "iteration 1 of at most 10")
	assert.NotContains(t, out, "Playbook of progress")
}

func TestRenderPromptOptionalSections(t *testing.T) {
	out, err := RenderPrompt("react", PromptVars{
		Query:    "q",
		Context:  "prior findings",
		Planner:  "1. search\n2. report",
		Playbook: "did the search",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Context: prior findings")
	assert.Contains(t, out, "Plan to follow:\n1. search")
	assert.Contains(t, out, "Playbook of progress so far:\ndid the search")
}

func TestRegisterTemplateCustom(t *testing.T) {
	require.NoError(t, RegisterTemplate("terse-test", "Q: {{.Query}}\n{{.AgentScratchpad}}"))

	out, err := RenderPrompt("terse-test", PromptVars{Query: "hi", AgentScratchpad: "pad"})
	require.NoError(t, err)
	assert.Equal(t, "Q: hi\npad", out)
}

func TestRegisterTemplateRejectsBad(t *testing.T) {
	assert.Error(t, RegisterTemplate("", "x"))
	assert.Error(t, RegisterTemplate("bad-test", "{{.Unclosed"))
}

func TestRenderPromptUnknownSymbol(t *testing.T) {
	_, err := RenderPrompt("no-such-template", PromptVars{})
	assert.Error(t, err)
}

func TestFormatStepsBlocks(t *testing.T) {
	steps := []models.Step{
		{Thought: "the origin query", IsOriginQuery: true},
		{Thought: "look it up", Action: "search", ActionInput: `{"query":"go"}`, Observation: "Go is a language"},
		{Thought: "done", Action: "final_answer", Observation: "Go is a language"},
	}

	out := FormatSteps(steps, nil)

	assert.NotContains(t, out, "the origin query")
	assert.Contains(t, out, "Thought: look it up\nAction: search\nAction Input: {\"query\":\"go\"}\nObservation: Go is a language")
	assert.Equal(t, 2, strings.Count(out, "Thought:"))
}

func TestFormatStepsIncludeFilter(t *testing.T) {
	steps := []models.Step{
		{Thought: "t", Action: "search", ActionInput: "in", Observation: "obs"},
	}

	out := FormatSteps(steps, []string{FieldAction, FieldObservation})

	assert.Contains(t, out, "Action: search")
	assert.Contains(t, out, "Observation: obs")
	assert.NotContains(t, out, "Thought:")
	assert.NotContains(t, out, "Action Input:")
}

func TestFormatObservation(t *testing.T) {
	in := "# Heading\n  - item one\nplain text   \n```go\n1. ordered\n> quote\n| a | b |"
	out := FormatObservation(in)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "    # Heading", lines[0])
	assert.Equal(t, "    - item one", lines[1])
	assert.Equal(t, "plain text", lines[2])
	assert.Equal(t, "    ```go", lines[3])
	assert.Equal(t, "    1. ordered", lines[4])
	assert.Equal(t, "    > quote", lines[5])
	assert.Equal(t, "    | a | b |", lines[6])
}
