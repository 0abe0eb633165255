package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/models"
)

func TestScratchpadOriginIsUnique(t *testing.T) {
	pad := NewScratchpad()
	pad.SetOrigin("first question", models.RoleGeneral)
	pad.SetOrigin("second question", models.RoleGeneral)

	assert.Equal(t, "first question", pad.OriginQuery())

	origins := 0
	for _, step := range pad.Steps() {
		if step.IsOriginQuery {
			origins++
		}
	}
	assert.Equal(t, 1, origins)
}

func TestScratchpadOriginLivesInThought(t *testing.T) {
	pad := NewScratchpad()
	pad.SetOrigin("what is the capital", models.RoleGeneral)

	steps := pad.Steps()
	require.Len(t, steps, 1)
	assert.True(t, steps[0].IsOriginQuery)
	assert.Equal(t, "what is the capital", steps[0].Thought)
	assert.Empty(t, steps[0].Observation)
	assert.Equal(t, "what is the capital", pad.OriginQuery())
}

func TestScratchpadLastSkipsOrigin(t *testing.T) {
	pad := NewScratchpad()
	pad.SetOrigin("q", models.RoleGeneral)

	_, ok := pad.Last()
	assert.False(t, ok)

	pad.Append(models.Step{Action: "search", Observation: "found it"})
	last, ok := pad.Last()
	require.True(t, ok)
	assert.Equal(t, "search", last.Action)
	assert.Equal(t, 1, pad.Len())
}

func TestScratchpadClear(t *testing.T) {
	pad := NewScratchpad()
	pad.SetOrigin("q", models.RoleGeneral)
	pad.Append(models.Step{Action: "search"})

	pad.Clear()

	assert.Empty(t, pad.OriginQuery())
	assert.Equal(t, 0, pad.Len())

	pad.SetOrigin("new task", models.RoleGeneral)
	assert.Equal(t, "new task", pad.OriginQuery())
}

func TestScratchpadFindObservation(t *testing.T) {
	pad := NewScratchpad()
	pad.Append(models.Step{Action: "planner", Observation: "old plan"})
	pad.Append(models.Step{Action: "search", Observation: "result"})
	pad.Append(models.Step{Action: "planner", Observation: "new plan"})

	assert.Equal(t, "new plan", pad.FindObservation("planner"))
	assert.Empty(t, pad.FindObservation("missing"))
}

func TestScratchpadTranscript(t *testing.T) {
	pad := NewScratchpad()
	pad.SetOrigin("q", models.RoleGeneral)
	assert.Empty(t, pad.Transcript())

	pad.Append(models.Step{Action: "search", Observation: "first"})
	pad.Append(models.Step{Observation: "second"})

	assert.Equal(t, "search: first\nsecond", pad.Transcript())
}
