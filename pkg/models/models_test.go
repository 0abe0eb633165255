package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRole(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		want    Role
		wantErr bool
	}{
		{name: "simple", label: "auditor", want: Role("auditor")},
		{name: "uppercase canonicalized", label: "  Reviewer ", want: Role("reviewer")},
		{name: "empty rejected", label: "   ", wantErr: true},
		{name: "whitespace rejected", label: "two words", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RegisterRole(tt.label)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, KnownRole(got))
		})
	}
}

func TestSameRole(t *testing.T) {
	assert.True(t, SameRole(RolePlanner, Role("Planner")))
	assert.True(t, SameRole(Role("CODER"), RoleCoder))
	assert.False(t, SameRole(RolePlanner, RoleCoder))
}

func TestStringifyActionInput(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, "", StringifyActionInput(nil))
	})

	t.Run("string passthrough", func(t *testing.T) {
		assert.Equal(t, "hello", StringifyActionInput("hello"))
	})

	t.Run("map serialized as JSON", func(t *testing.T) {
		got := StringifyActionInput(map[string]any{"query": "weather"})
		assert.Equal(t, `{"query":"weather"}`, got)
	})

	t.Run("long input truncated", func(t *testing.T) {
		got := StringifyActionInput(strings.Repeat("x", MaxActionInputLen+50))
		assert.Len(t, got, MaxActionInputLen)
	})
}

func TestTeamEventRoundTrip(t *testing.T) {
	ev, err := NewTaskEvent("chat-1", RoleResearcher, "planner-1", RolePlanner, TaskPayload{
		Task:        "find recent papers",
		Description: "survey the last year",
		Context:     "user wants a summary",
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.EventID)
	assert.False(t, ev.IsResult)

	raw, err := ev.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTeamEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, RoleResearcher, decoded.Role)

	task, err := decoded.Task()
	require.NoError(t, err)
	assert.Equal(t, "find recent papers", task.Task)
}

func TestResultEvent(t *testing.T) {
	ev, err := NewResultEvent("chat-1", RolePlanner, "researcher-1", RoleResearcher, ResultPayload{
		Context: ResultContext{Result: "three papers found", Task: "find recent papers"},
		Metadata: ResultMetadata{
			OriginalEventID: "ev-123",
			AgentID:         "researcher-1",
		},
	})
	require.NoError(t, err)
	assert.True(t, ev.IsResult)

	res, err := ev.Result()
	require.NoError(t, err)
	assert.Equal(t, "three papers found", res.Context.Result)
	assert.Equal(t, "ev-123", res.Metadata.OriginalEventID)
}
