package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/kvs"
	"github.com/troupehq/troupe/pkg/models"
)

func TestStepsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStepStore(kvs.NewMemory())

	step := models.Step{
		Thought:         "need data",
		Action:          "search",
		ActionInput:     `{"q":"go"}`,
		Observation:     "found it",
		ToolExecutionID: "te-1",
		Role:            models.RoleResearcher,
	}
	require.NoError(t, s.Append(ctx, "conv1", step))

	steps, err := s.Recent(ctx, "conv1", models.RoleResearcher, 10)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "search", steps[0].Action)
	assert.Equal(t, "found it", steps[0].Observation)
	assert.False(t, steps[0].Timestamp.IsZero(), "timestamp stamped on append")
}

func TestStepsFilterByRole(t *testing.T) {
	ctx := context.Background()
	s := NewStepStore(kvs.NewMemory())

	require.NoError(t, s.Append(ctx, "conv1", models.Step{Action: "a1", Role: models.RolePlanner}))
	require.NoError(t, s.Append(ctx, "conv1", models.Step{Action: "a2", Role: models.RoleCoder}))
	require.NoError(t, s.Append(ctx, "conv1", models.Step{Action: "a3", Role: models.RolePlanner}))

	steps, err := s.Recent(ctx, "conv1", models.RolePlanner, 10)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "a1", steps[0].Action)
	assert.Equal(t, "a3", steps[1].Action)

	// Role comparison is case-insensitive at the read boundary.
	steps, err = s.Recent(ctx, "conv1", models.Role("PLANNER"), 10)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestStepsRecentKeepsNewestInCausalOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStepStore(kvs.NewMemory())

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, "conv1", models.Step{
			Action: fmt.Sprintf("a%d", i),
			Role:   models.RoleGeneral,
		}))
	}

	steps, err := s.Recent(ctx, "conv1", models.RoleGeneral, 3)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "a3", steps[0].Action)
	assert.Equal(t, "a4", steps[1].Action)
	assert.Equal(t, "a5", steps[2].Action)
}

func TestStepsSkipStaleEntries(t *testing.T) {
	ctx := context.Background()
	kv := kvs.NewMemory()
	s := NewStepStore(kv)

	// A write 13 hours ago would normally have expired, but the list TTL is
	// refreshed on every append, so the stale entry can still be present.
	stale := models.Step{Action: "old", Role: models.RoleGeneral, Timestamp: time.Now().Add(-13 * time.Hour)}
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, kv.RPush(ctx, kvs.StepsKey("conv1"), string(raw)))

	require.NoError(t, s.Append(ctx, "conv1", models.Step{Action: "fresh", Role: models.RoleGeneral}))

	steps, err := s.Recent(ctx, "conv1", models.RoleGeneral, 10)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "fresh", steps[0].Action)
}

func TestStepsSkipCorruptEntries(t *testing.T) {
	ctx := context.Background()
	kv := kvs.NewMemory()
	s := NewStepStore(kv)

	require.NoError(t, kv.RPush(ctx, kvs.StepsKey("conv1"), "{broken"))
	require.NoError(t, s.Append(ctx, "conv1", models.Step{Action: "ok", Role: models.RoleGeneral}))

	steps, err := s.Recent(ctx, "conv1", models.RoleGeneral, 10)
	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestStepsValidation(t *testing.T) {
	ctx := context.Background()
	s := NewStepStore(kvs.NewMemory())

	err := s.Append(ctx, "", models.Step{Role: models.RoleGeneral})
	assert.True(t, IsValidationError(err))

	err = s.Append(ctx, "conv1", models.Step{Action: "x"})
	assert.True(t, IsValidationError(err), "steps must carry an owning role")

	steps, err := s.Recent(ctx, "conv1", models.RoleGeneral, 0)
	require.NoError(t, err)
	assert.Nil(t, steps)
}
