package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/events"
	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

func TestFinalAnswerEchoes(t *testing.T) {
	fa := NewFinalAnswer()
	out, err := fa.Invoke(context.Background(), map[string]any{"answer": "42"})
	require.NoError(t, err)
	assert.Equal(t, "42", out["result"])
}

type fakeWaiter struct {
	value string
	err   error
	seen  string
}

func (f *fakeWaiter) Wait(_ context.Context, nodeID string) (string, error) {
	f.seen = nodeID
	return f.value, f.err
}

func TestUserInputFlow(t *testing.T) {
	store := kvs.NewMemory()
	defer store.Close()
	pub := events.NewPublisher(store, 0)
	waiter := &fakeWaiter{value: "blue"}

	exec := NewExecutor(pub, nil)
	res, err := exec.Execute(context.Background(), Call{
		ChatID: "c1", AgentID: "a1", Role: models.RoleGeneral,
		Tool:   NewUserInput(waiter, pub),
		Params: map[string]any{"prompt": "favourite colour?"},
		Stream: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "blue", res.Observation)
	assert.Equal(t, res.NodeID, waiter.seen, "waiter keyed by the injected node_id")

	// The prompt was surfaced before waiting.
	raws, err := store.LRange(context.Background(), kvs.ChatStreamKey("c1"), 0, -1)
	require.NoError(t, err)
	var found bool
	for _, raw := range raws {
		ev, err := events.DecodeStreamEvent(raw)
		require.NoError(t, err)
		if ev.Event != events.EventTypeUserInputRequired {
			continue
		}
		found = true
		var payload events.UserInputRequiredPayload
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
		assert.Equal(t, "favourite colour?", payload.Prompt)
		assert.Equal(t, res.NodeID, payload.NodeID)
	}
	assert.True(t, found, "user_input_required event published")
}

func TestUserInputRequiresNodeID(t *testing.T) {
	ui := NewUserInput(&fakeWaiter{}, nil)
	_, err := ui.Invoke(context.Background(), map[string]any{"prompt": "?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_id")
}

func TestUserInputWaiterError(t *testing.T) {
	waitErr := errors.New("cancelled")
	ui := NewUserInput(&fakeWaiter{err: waitErr}, nil)
	_, err := ui.Invoke(context.Background(), map[string]any{"prompt": "?", "node_id": "n1"})
	assert.ErrorIs(t, err, waitErr)
}
