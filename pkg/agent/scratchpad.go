package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/troupehq/troupe/pkg/models"
)

// Scratchpad is an agent's in-memory working record for the current
// engagement: the origin query that started it plus every step taken since.
// Persisted history lives in the step store; the scratchpad additionally
// holds the origin step and synthetic steps that have not gone through a
// tool execution.
type Scratchpad struct {
	mu    sync.Mutex
	steps []models.Step
}

// NewScratchpad returns an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{}
}

// SetOrigin records the query that started the current engagement. At most
// one origin step exists; a second call while one is present is ignored, so
// resumed runs keep the query they were started with.
func (s *Scratchpad) SetOrigin(query string, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if step.IsOriginQuery {
			return
		}
	}
	origin := models.Step{
		Thought:       query,
		IsOriginQuery: true,
		Role:          role,
		Timestamp:     time.Now().UTC(),
	}
	s.steps = append([]models.Step{origin}, s.steps...)
}

// OriginQuery returns the recorded origin query, or "".
func (s *Scratchpad) OriginQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if step.IsOriginQuery {
			return step.Thought
		}
	}
	return ""
}

// Append adds a step. Zero timestamps are stamped on entry.
func (s *Scratchpad) Append(step models.Step) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()
}

// Steps returns a copy of all steps in append order, origin included.
func (s *Scratchpad) Steps() []models.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Last returns the most recent non-origin step.
func (s *Scratchpad) Last() (models.Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.steps) - 1; i >= 0; i-- {
		if !s.steps[i].IsOriginQuery {
			return s.steps[i], true
		}
	}
	return models.Step{}, false
}

// Len returns the number of non-origin steps.
func (s *Scratchpad) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, step := range s.steps {
		if !step.IsOriginQuery {
			n++
		}
	}
	return n
}

// FindObservation returns the most recent observation produced by the named
// action, or "".
func (s *Scratchpad) FindObservation(action string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.steps) - 1; i >= 0; i-- {
		if s.steps[i].Action == action {
			return s.steps[i].Observation
		}
	}
	return ""
}

// Clear drops everything, origin included. Called when a fresh task event
// arrives so delegated work starts from a clean pad.
func (s *Scratchpad) Clear() {
	s.mu.Lock()
	s.steps = nil
	s.mu.Unlock()
}

// Transcript serializes the non-origin steps for tools that declare
// NeedHistory. The format is one block per step, newest last.
func (s *Scratchpad) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	n := 0
	for _, step := range s.steps {
		if step.IsOriginQuery {
			continue
		}
		n++
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if step.Action != "" {
			sb.WriteString(step.Action)
			sb.WriteString(": ")
		}
		sb.WriteString(strings.TrimSpace(step.Observation))
	}
	if n == 0 {
		return ""
	}
	return sb.String()
}
